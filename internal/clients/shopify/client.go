package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"bundle-sync-service/internal/clients"
	"bundle-sync-service/internal/models"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	defaultAPIVersion = "2024-01"
	pageLimit         = 250
	levelsBatch       = 50 // inventory_item_ids accepted per inventory_levels request
)

// Config holds the Admin API connection settings
type Config struct {
	Shop        string // store name or full myshopify domain
	AccessToken string
	APIVersion  string
	LocationID  string  // inventory location, resolved from the shop when empty
	RateLimit   float64 // requests per second
	BaseURL     string  // overrides the https://{shop} origin, used by tests
}

// ShopifyClient implements clients.CatalogClient against the Shopify Admin REST API
type ShopifyClient struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	apiVersion  string
	rateLimiter *rate.Limiter

	locationMu sync.Mutex
	locationID string
}

var _ clients.CatalogClient = (*ShopifyClient)(nil)

// NewShopifyClient creates a new Shopify Admin API client
func NewShopifyClient(cfg Config) *ShopifyClient {
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 2 // REST leaky bucket refill rate
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://" + shopDomain(cfg.Shop)
	}
	return &ShopifyClient{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: cfg.AccessToken,
		apiVersion:  apiVersion,
		rateLimiter: rate.NewLimiter(rate.Limit(limit), 1),
		locationID:  cfg.LocationID,
	}
}

// GetProduct fetches a single product by ID
func (c *ShopifyClient) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	body, _, err := c.doRequestWithHeaders(ctx, http.MethodGet, fmt.Sprintf("/products/%s.json", productID), nil, nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		Product shopifyProduct `json:"product"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse product response: %w", err)
	}

	product := convertShopifyProduct(response.Product)
	if err := c.applyLocationLevels(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

// ListProductsByType fetches every product with the given product_type, following page_info cursors
func (c *ShopifyClient) ListProductsByType(ctx context.Context, productType string) ([]models.Product, error) {
	params := url.Values{}
	params.Set("product_type", productType)
	params.Set("limit", strconv.Itoa(pageLimit))

	var products []models.Product
	for {
		body, headers, err := c.doRequestWithHeaders(ctx, http.MethodGet, "/products.json", params, nil)
		if err != nil {
			return nil, err
		}

		var response struct {
			Products []shopifyProduct `json:"products"`
		}
		if err := json.Unmarshal(body, &response); err != nil {
			return nil, fmt.Errorf("failed to parse products response: %w", err)
		}
		page := make([]*models.Product, 0, len(response.Products))
		for _, p := range response.Products {
			page = append(page, convertShopifyProduct(p))
		}
		if err := c.applyLocationLevels(ctx, page...); err != nil {
			return nil, err
		}
		for _, p := range page {
			products = append(products, *p)
		}

		nextCursor, hasMore := parseShopifyPagination(headers.Get("Link"))
		if !hasMore || nextCursor == "" {
			return products, nil
		}

		// Cursor pages reject every filter except limit
		params = url.Values{}
		params.Set("limit", strconv.Itoa(pageLimit))
		params.Set("page_info", nextCursor)
	}
}

// GetCustomFields fetches the metafields of a product
func (c *ShopifyClient) GetCustomFields(ctx context.Context, productID string) ([]models.CustomField, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(pageLimit))
	body, _, err := c.doRequestWithHeaders(ctx, http.MethodGet, fmt.Sprintf("/products/%s/metafields.json", productID), params, nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		Metafields []shopifyMetafield `json:"metafields"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse metafields response: %w", err)
	}

	fields := make([]models.CustomField, 0, len(response.Metafields))
	for _, m := range response.Metafields {
		fields = append(fields, models.CustomField{
			Namespace: m.Namespace,
			Key:       m.Key,
			Value:     metafieldValue(m.Value),
			Type:      m.Type,
		})
	}
	return fields, nil
}

// UpdateVariantPrice sets the price of one variant
func (c *ShopifyClient) UpdateVariantPrice(ctx context.Context, variantID string, price decimal.Decimal) error {
	id, err := strconv.ParseInt(variantID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid variant id %q: %w", variantID, err)
	}
	payload := map[string]interface{}{
		"variant": map[string]interface{}{
			"id":    id,
			"price": price.StringFixed(2),
		},
	}
	_, _, err = c.doRequestWithHeaders(ctx, http.MethodPut, fmt.Sprintf("/variants/%s.json", variantID), nil, payload)
	return err
}

// UpdateProductOptionsAndVariants replaces a product's options and variants in one call
func (c *ShopifyClient) UpdateProductOptionsAndVariants(ctx context.Context, productID string, options []models.Option, variants []models.Variant) (*models.Product, error) {
	id, err := strconv.ParseInt(productID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid product id %q: %w", productID, err)
	}

	update := productUpdate{ID: id}
	for _, opt := range options {
		update.Options = append(update.Options, optionUpdate{Name: opt.Name, Values: opt.Values})
	}
	for _, v := range variants {
		vu := variantUpdate{
			Option1: nullable(v.Option1),
			Option2: nullable(v.Option2),
			Option3: nullable(v.Option3),
			Price:   v.Price.StringFixed(2),
		}
		if v.InventoryManaged {
			managed := "shopify"
			vu.InventoryManagement = &managed
		}
		update.Variants = append(update.Variants, vu)
	}

	body, _, err := c.doRequestWithHeaders(ctx, http.MethodPut, fmt.Sprintf("/products/%s.json", productID),
		nil, map[string]interface{}{"product": update})
	if err != nil {
		return nil, err
	}

	var response struct {
		Product shopifyProduct `json:"product"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse product response: %w", err)
	}
	product := convertShopifyProduct(response.Product)
	if err := c.applyLocationLevels(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

// SetVariantInventory sets the available quantity of a variant at the configured location
func (c *ShopifyClient) SetVariantInventory(ctx context.Context, variant models.Variant, quantity int) error {
	itemID, locationID, err := c.inventoryTarget(ctx, variant)
	if err != nil {
		return err
	}
	payload := map[string]interface{}{
		"location_id":       locationID,
		"inventory_item_id": itemID,
		"available":         quantity,
	}
	_, _, err = c.doRequestWithHeaders(ctx, http.MethodPost, "/inventory_levels/set.json", nil, payload)
	return err
}

// AdjustVariantInventory changes the available quantity of a variant by delta
func (c *ShopifyClient) AdjustVariantInventory(ctx context.Context, variant models.Variant, delta int) error {
	itemID, locationID, err := c.inventoryTarget(ctx, variant)
	if err != nil {
		return err
	}
	payload := map[string]interface{}{
		"location_id":          locationID,
		"inventory_item_id":    itemID,
		"available_adjustment": delta,
	}
	_, _, err = c.doRequestWithHeaders(ctx, http.MethodPost, "/inventory_levels/adjust.json", nil, payload)
	return err
}

// applyLocationLevels replaces the shop-wide inventory_quantity of tracked variants with the
// level at the inventory location, the only location written to. No level there means 0.
func (c *ShopifyClient) applyLocationLevels(ctx context.Context, products ...*models.Product) error {
	var itemIDs []string
	for _, p := range products {
		for _, v := range p.Variants {
			if v.InventoryManaged && v.InventoryItemID != "" {
				itemIDs = append(itemIDs, v.InventoryItemID)
			}
		}
	}
	if len(itemIDs) == 0 {
		return nil
	}

	location, err := c.resolveLocation(ctx)
	if err != nil {
		return err
	}

	levels := make(map[string]int, len(itemIDs))
	for start := 0; start < len(itemIDs); start += levelsBatch {
		end := min(start+levelsBatch, len(itemIDs))
		params := url.Values{}
		params.Set("inventory_item_ids", strings.Join(itemIDs[start:end], ","))
		params.Set("location_ids", location)
		params.Set("limit", strconv.Itoa(pageLimit))

		body, _, err := c.doRequestWithHeaders(ctx, http.MethodGet, "/inventory_levels.json", params, nil)
		if err != nil {
			return fmt.Errorf("failed to read inventory levels: %w", err)
		}
		var response struct {
			InventoryLevels []struct {
				InventoryItemID int64 `json:"inventory_item_id"`
				Available       *int  `json:"available"`
			} `json:"inventory_levels"`
		}
		if err := json.Unmarshal(body, &response); err != nil {
			return fmt.Errorf("failed to parse inventory levels response: %w", err)
		}
		for _, level := range response.InventoryLevels {
			if level.Available != nil {
				levels[strconv.FormatInt(level.InventoryItemID, 10)] = *level.Available
			}
		}
	}

	for _, p := range products {
		for i := range p.Variants {
			v := &p.Variants[i]
			if v.InventoryManaged && v.InventoryItemID != "" {
				v.Available = levels[v.InventoryItemID]
			}
		}
	}
	return nil
}

func (c *ShopifyClient) inventoryTarget(ctx context.Context, variant models.Variant) (int64, int64, error) {
	if variant.InventoryItemID == "" {
		return 0, 0, fmt.Errorf("variant %s has no inventory item", variant.ID)
	}
	itemID, err := strconv.ParseInt(variant.InventoryItemID, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid inventory item id %q: %w", variant.InventoryItemID, err)
	}
	location, err := c.resolveLocation(ctx)
	if err != nil {
		return 0, 0, err
	}
	locationID, err := strconv.ParseInt(location, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid location id %q: %w", location, err)
	}
	return itemID, locationID, nil
}

// resolveLocation returns the configured location, or the shop's first active one
func (c *ShopifyClient) resolveLocation(ctx context.Context) (string, error) {
	c.locationMu.Lock()
	defer c.locationMu.Unlock()

	if c.locationID != "" {
		return c.locationID, nil
	}

	body, _, err := c.doRequestWithHeaders(ctx, http.MethodGet, "/locations.json", nil, nil)
	if err != nil {
		return "", fmt.Errorf("failed to list locations: %w", err)
	}
	var response struct {
		Locations []struct {
			ID     int64 `json:"id"`
			Active bool  `json:"active"`
		} `json:"locations"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to parse locations response: %w", err)
	}
	for _, loc := range response.Locations {
		if loc.Active {
			c.locationID = strconv.FormatInt(loc.ID, 10)
			return c.locationID, nil
		}
	}
	return "", fmt.Errorf("shop has no active location")
}

// doRequestWithHeaders performs an authenticated HTTP request and returns headers
func (c *ShopifyClient) doRequestWithHeaders(ctx context.Context, method, path string, params url.Values, body interface{}) ([]byte, http.Header, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	fullURL := fmt.Sprintf("%s/admin/api/%s%s", c.baseURL, c.apiVersion, path)
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, nil, err
	}

	req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil, fmt.Errorf("%s %s: %w", method, path, clients.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, nil, &clients.RateLimitError{RetryAfter: clients.ParseRetryAfter(resp)}
	case resp.StatusCode >= 400:
		return nil, nil, &clients.APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, resp.Header, nil
}

// Shopify data structures
type shopifyProduct struct {
	ID          int64            `json:"id"`
	Title       string           `json:"title"`
	ProductType string           `json:"product_type"`
	Variants    []shopifyVariant `json:"variants"`
	Options     []shopifyOption  `json:"options"`
}

type shopifyVariant struct {
	ID                  int64   `json:"id"`
	Price               string  `json:"price"`
	InventoryQuantity   int     `json:"inventory_quantity"`
	InventoryManagement *string `json:"inventory_management"`
	InventoryItemID     int64   `json:"inventory_item_id"`
	Option1             *string `json:"option1"`
	Option2             *string `json:"option2"`
	Option3             *string `json:"option3"`
}

type shopifyOption struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Position int      `json:"position"`
	Values   []string `json:"values"`
}

type shopifyMetafield struct {
	Namespace string          `json:"namespace"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Type      string          `json:"type"`
}

type productUpdate struct {
	ID       int64           `json:"id"`
	Options  []optionUpdate  `json:"options"`
	Variants []variantUpdate `json:"variants"`
}

type optionUpdate struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

type variantUpdate struct {
	Option1             *string `json:"option1"`
	Option2             *string `json:"option2"`
	Option3             *string `json:"option3"`
	Price               string  `json:"price"`
	InventoryManagement *string `json:"inventory_management"`
}

// Helper functions
func convertShopifyProduct(p shopifyProduct) *models.Product {
	product := &models.Product{
		ID:          strconv.FormatInt(p.ID, 10),
		Title:       p.Title,
		ProductType: p.ProductType,
	}

	for _, v := range p.Variants {
		variant := models.Variant{
			ID:               strconv.FormatInt(v.ID, 10),
			InventoryManaged: v.InventoryManagement != nil && *v.InventoryManagement != "",
			Available:        v.InventoryQuantity,
			Option1:          deref(v.Option1),
			Option2:          deref(v.Option2),
			Option3:          deref(v.Option3),
		}
		if v.InventoryItemID != 0 {
			variant.InventoryItemID = strconv.FormatInt(v.InventoryItemID, 10)
		}
		if price, err := decimal.NewFromString(v.Price); err == nil {
			variant.Price = price
		}
		product.Variants = append(product.Variants, variant)
	}

	for _, opt := range p.Options {
		product.Options = append(product.Options, models.Option{
			Name:     opt.Name,
			Position: opt.Position,
			Values:   opt.Values,
		})
	}

	return product
}

// metafieldValue returns a metafield value as text; integer and JSON typed values arrive unquoted
func metafieldValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func parseShopifyPagination(linkHeader string) (string, bool) {
	// Format: <url>; rel="next", <url>; rel="previous"
	if linkHeader == "" {
		return "", false
	}
	parts := strings.Split(linkHeader, ",")
	for _, part := range parts {
		if strings.Contains(part, `rel="next"`) {
			urlPart := strings.TrimSpace(strings.Split(part, ";")[0])
			urlPart = strings.Trim(urlPart, "<>")
			if parsedURL, err := url.Parse(urlPart); err == nil {
				return parsedURL.Query().Get("page_info"), true
			}
		}
	}
	return "", false
}

func shopDomain(shop string) string {
	shop = strings.TrimPrefix(strings.TrimPrefix(shop, "https://"), "http://")
	shop = strings.TrimRight(shop, "/")
	if strings.Contains(shop, ".") {
		return shop
	}
	return shop + ".myshopify.com"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
