package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"bundle-sync-service/internal/clients/shopify"
	"bundle-sync-service/internal/models"
	"bundle-sync-service/internal/services"
	"github.com/gin-gonic/gin"
)

// WebhookProcessor accepts verified webhook deliveries
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, topic string, payload []byte, headers map[string]string) (services.WebhookResult, error)
}

// WebhookHandler handles catalog webhook endpoints
type WebhookHandler struct {
	service WebhookProcessor
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(service WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{service: service}
}

// HandleProductUpdate handles products/* deliveries. The topic header wins over the route
// so create and delete subscriptions can share the endpoint.
func (h *WebhookHandler) HandleProductUpdate(c *gin.Context) {
	topic := c.GetHeader(shopify.HeaderTopic)
	if !strings.HasPrefix(topic, "products/") {
		topic = models.TopicProductsUpdate
	}
	h.handleWebhook(c, topic)
}

// HandleOrderCreate handles orders/create deliveries
func (h *WebhookHandler) HandleOrderCreate(c *gin.Context) {
	h.handleWebhook(c, models.TopicOrdersCreate)
}

// HandleShopifyWebhook handles any delivery, routed by its topic header
func (h *WebhookHandler) HandleShopifyWebhook(c *gin.Context) {
	h.handleWebhook(c, "")
}

// handleWebhook is the common webhook handler
func (h *WebhookHandler) handleWebhook(c *gin.Context, topic string) {
	// Read raw body
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	// Header names are stored lower-case
	headers := make(map[string]string)
	for key, values := range c.Request.Header {
		if len(values) > 0 {
			headers[strings.ToLower(key)] = values[0]
		}
	}

	result, err := h.service.ProcessWebhook(c.Request.Context(), topic, payload, headers)
	if err != nil {
		if errors.Is(err, services.ErrInvalidWebhook) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// Non-2xx makes Shopify redeliver
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process webhook"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "result": result})
}
