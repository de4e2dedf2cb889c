package handlers

import (
	"context"
	"net/http"

	"bundle-sync-service/internal/bundle"
	"bundle-sync-service/internal/clients"
	"bundle-sync-service/internal/models"
	"bundle-sync-service/internal/services"
	"github.com/gin-gonic/gin"
)

// CatalogQuery answers read-only catalog queries
type CatalogQuery interface {
	GetProduct(ctx context.Context, productID string) (*services.ProductView, error)
	ListProducts(ctx context.Context, productType string) ([]models.Product, error)
	ListBundles(ctx context.Context, productTypes []string) ([]services.ProductView, error)
}

// CatalogHandler handles catalog read requests
type CatalogHandler struct {
	query CatalogQuery
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(query CatalogQuery) *CatalogHandler {
	return &CatalogHandler{query: query}
}

// GetProduct retrieves a product with its custom fields and bundle definition
func (h *CatalogHandler) GetProduct(c *gin.Context) {
	id := bundle.ExtractID(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product ID"})
		return
	}

	view, err := h.query.GetProduct(c.Request.Context(), id)
	if err != nil {
		if clients.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, view)
}

// ListProducts lists the products of one product type
func (h *CatalogHandler) ListProducts(c *gin.Context) {
	productType := c.Query("type")
	if productType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type query parameter required"})
		return
	}

	products, err := h.query.ListProducts(c.Request.Context(), productType)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"products": products,
		"total":    len(products),
	})
}

// ListBundles lists bundle products with their decoded definitions. Repeat type to scan several product types.
func (h *CatalogHandler) ListBundles(c *gin.Context) {
	bundles, err := h.query.ListBundles(c.Request.Context(), c.QueryArray("type"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bundles": bundles,
		"total":   len(bundles),
	})
}
