package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Webhook topics the service acts on
const (
	TopicProductsCreate = "products/create"
	TopicProductsUpdate = "products/update"
	TopicProductsDelete = "products/delete"
	TopicOrdersCreate   = "orders/create"
)

// JSONB custom type for PostgreSQL JSONB
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// BundleWebhookEvent stores an inbound catalog webhook delivery
type BundleWebhookEvent struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ShopDomain string    `gorm:"type:varchar(255);index:idx_bundle_webhook_shop" json:"shopDomain,omitempty"`

	// Event details
	WebhookID string `gorm:"type:varchar(255)" json:"webhookId"`
	Topic     string `gorm:"type:varchar(100);not null;index:idx_bundle_webhook_topic" json:"topic"`
	ProductID string `gorm:"type:varchar(64)" json:"productId,omitempty"`

	// Payload
	Payload JSONB `gorm:"type:jsonb;not null" json:"payload"`
	Headers JSONB `gorm:"type:jsonb" json:"headers,omitempty"`

	// Processing
	QueueItemID     *uuid.UUID `gorm:"type:uuid" json:"queueItemId,omitempty"`
	Processed       bool       `gorm:"default:false;index:idx_bundle_webhook_processed" json:"processed"`
	ProcessedAt     *time.Time `json:"processedAt,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processingError,omitempty"`
	RetryCount      int        `gorm:"default:0" json:"retryCount"`

	// Idempotency
	IdempotencyKey string `gorm:"type:varchar(255);uniqueIndex:idx_bundle_webhook_idempotency" json:"idempotencyKey"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_bundle_webhook_created" json:"createdAt"`
}

// TableName specifies the table name for BundleWebhookEvent
func (BundleWebhookEvent) TableName() string {
	return "bundle_webhook_events"
}
