package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"bundle-sync-service/internal/models"
)

// Webhook headers sent by Shopify
const (
	HeaderHMAC       = "X-Shopify-Hmac-Sha256"
	HeaderTopic      = "X-Shopify-Topic"
	HeaderWebhookID  = "X-Shopify-Webhook-Id"
	HeaderShopDomain = "X-Shopify-Shop-Domain"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// VerifyWebhook verifies a Shopify webhook signature
func VerifyWebhook(payload []byte, signature string, secret string) error {
	if secret == "" {
		return fmt.Errorf("no webhook secret configured")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expectedSignature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expectedSignature)) {
		return ErrInvalidSignature
	}

	return nil
}

// SignWebhook computes the signature Shopify would send for payload
func SignWebhook(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ParseProductWebhook extracts the product id of a products/* webhook
func ParseProductWebhook(payload []byte) (string, error) {
	var event struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", fmt.Errorf("failed to parse product webhook: %w", err)
	}
	if event.ID == 0 {
		return "", fmt.Errorf("product webhook has no id")
	}
	return strconv.FormatInt(event.ID, 10), nil
}

// ParseOrderWebhook extracts the purchased line items of an orders/create webhook.
// Custom line items without a product are dropped.
func ParseOrderWebhook(payload []byte) ([]models.LineItem, error) {
	var order struct {
		LineItems []struct {
			ProductID *int64 `json:"product_id"`
			VariantID *int64 `json:"variant_id"`
			Quantity  int    `json:"quantity"`
		} `json:"line_items"`
	}
	if err := json.Unmarshal(payload, &order); err != nil {
		return nil, fmt.Errorf("failed to parse order webhook: %w", err)
	}

	items := make([]models.LineItem, 0, len(order.LineItems))
	for _, li := range order.LineItems {
		if li.ProductID == nil || li.Quantity <= 0 {
			continue
		}
		item := models.LineItem{
			ProductID: strconv.FormatInt(*li.ProductID, 10),
			Quantity:  li.Quantity,
		}
		if li.VariantID != nil {
			item.VariantID = strconv.FormatInt(*li.VariantID, 10)
		}
		items = append(items, item)
	}
	return items, nil
}
