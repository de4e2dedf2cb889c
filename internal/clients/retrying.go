package clients

import (
	"context"
	"fmt"

	"bundle-sync-service/internal/metrics"
	"bundle-sync-service/internal/models"
	"github.com/shopspring/decimal"
)

// RetryingClient wraps a CatalogClient so that every call goes through a Retrier
type RetryingClient struct {
	next    CatalogClient
	retrier *Retrier
}

var _ CatalogClient = (*RetryingClient)(nil)

// NewRetryingClient creates a catalog client that retries transient failures of next
func NewRetryingClient(next CatalogClient, retrier *Retrier) *RetryingClient {
	retrier.OnRetry(func(operation string) {
		metrics.CatalogRetries.WithLabelValues(operation).Inc()
	})
	return &RetryingClient{next: next, retrier: retrier}
}

func (c *RetryingClient) do(ctx context.Context, operation string, fn RetryableFunc) error {
	res := c.retrier.Do(ctx, operation, fn)
	metrics.CatalogRequestDuration.WithLabelValues(operation).Observe(res.TotalDuration.Seconds())
	return res.LastError
}

func (c *RetryingClient) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	var product *models.Product
	err := c.do(ctx, "get_product", func(ctx context.Context) error {
		var err error
		product, err = c.next.GetProduct(ctx, productID)
		return err
	})
	return product, err
}

func (c *RetryingClient) ListProductsByType(ctx context.Context, productType string) ([]models.Product, error) {
	var products []models.Product
	err := c.do(ctx, "list_products_by_type", func(ctx context.Context) error {
		var err error
		products, err = c.next.ListProductsByType(ctx, productType)
		return err
	})
	return products, err
}

func (c *RetryingClient) GetCustomFields(ctx context.Context, productID string) ([]models.CustomField, error) {
	var fields []models.CustomField
	err := c.do(ctx, "get_custom_fields", func(ctx context.Context) error {
		var err error
		fields, err = c.next.GetCustomFields(ctx, productID)
		return err
	})
	return fields, err
}

func (c *RetryingClient) UpdateVariantPrice(ctx context.Context, variantID string, price decimal.Decimal) error {
	return c.do(ctx, "update_variant_price", func(ctx context.Context) error {
		return c.next.UpdateVariantPrice(ctx, variantID, price)
	})
}

func (c *RetryingClient) UpdateProductOptionsAndVariants(ctx context.Context, productID string, options []models.Option, variants []models.Variant) (*models.Product, error) {
	var product *models.Product
	err := c.do(ctx, "update_product_options_and_variants", func(ctx context.Context) error {
		var err error
		product, err = c.next.UpdateProductOptionsAndVariants(ctx, productID, options, variants)
		return err
	})
	return product, err
}

func (c *RetryingClient) SetVariantInventory(ctx context.Context, variant models.Variant, quantity int) error {
	return c.do(ctx, "set_variant_inventory", func(ctx context.Context) error {
		return c.next.SetVariantInventory(ctx, variant, quantity)
	})
}

// AdjustVariantInventory is relative, so only throttled attempts are repeated. A timed out
// adjustment may already have been applied and is reported instead of retried.
func (c *RetryingClient) AdjustVariantInventory(ctx context.Context, variant models.Variant, delta int) error {
	res := c.retrier.DoIf(ctx, "adjust_variant_inventory", IsRateLimited, func(ctx context.Context) error {
		return c.next.AdjustVariantInventory(ctx, variant, delta)
	})
	metrics.CatalogRequestDuration.WithLabelValues("adjust_variant_inventory").Observe(res.TotalDuration.Seconds())
	if res.LastError != nil && IsRetryable(res.LastError) && !IsRateLimited(res.LastError) {
		return fmt.Errorf("adjustment of variant %s by %d has unknown outcome: %w", variant.ID, delta, res.LastError)
	}
	return res.LastError
}
