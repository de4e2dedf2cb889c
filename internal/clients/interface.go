package clients

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"bundle-sync-service/internal/models"
	"github.com/shopspring/decimal"
)

// CatalogClient is the read/write surface of the storefront catalog
type CatalogClient interface {
	// Products
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	ListProductsByType(ctx context.Context, productType string) ([]models.Product, error)
	GetCustomFields(ctx context.Context, productID string) ([]models.CustomField, error)

	// Derived state writes
	UpdateVariantPrice(ctx context.Context, variantID string, price decimal.Decimal) error
	UpdateProductOptionsAndVariants(ctx context.Context, productID string, options []models.Option, variants []models.Variant) (*models.Product, error)

	// Inventory
	SetVariantInventory(ctx context.Context, variant models.Variant, quantity int) error
	AdjustVariantInventory(ctx context.Context, variant models.Variant, delta int) error
}

// ErrNotFound is returned when the catalog has no such entity
var ErrNotFound = errors.New("catalog entity not found")

// RateLimitError is returned when the catalog throttles a call
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("catalog rate limited (retry after %s)", e.RetryAfter)
	}
	return "catalog rate limited"
}

// APIError is any other non-success catalog response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catalog API error (status %d): %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err means the entity does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRateLimited reports whether err is a throttling response
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsRetryable reports whether err belongs to the transient class: throttling or timeouts
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimited(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// retryAfterOf extracts a server backoff hint from err
func retryAfterOf(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
