package repository

import (
	"context"

	"bundle-sync-service/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookRepository handles database operations for webhook events
type WebhookRepository struct {
	db *gorm.DB
}

var _ WebhookStore = (*WebhookRepository)(nil)

// NewWebhookRepository creates a new webhook repository
func NewWebhookRepository(db *gorm.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

// Create creates a new webhook event
func (r *WebhookRepository) Create(ctx context.Context, event *models.BundleWebhookEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// GetByID retrieves a webhook event by ID
func (r *WebhookRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.BundleWebhookEvent, error) {
	var event models.BundleWebhookEvent
	err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// SetQueueItem links a webhook event to the queue item processing it
func (r *WebhookRepository) SetQueueItem(ctx context.Context, id, queueItemID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.BundleWebhookEvent{}).
		Where("id = ?", id).
		Update("queue_item_id", queueItemID).Error
}

// MarkProcessed marks a webhook event as processed
func (r *WebhookRepository) MarkProcessed(ctx context.Context, id uuid.UUID, err error) error {
	updates := map[string]interface{}{
		"processed":    true,
		"processed_at": gorm.Expr("CURRENT_TIMESTAMP"),
	}
	if err != nil {
		updates["processing_error"] = err.Error()
		updates["retry_count"] = gorm.Expr("retry_count + 1")
	}
	return r.db.WithContext(ctx).
		Model(&models.BundleWebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// GetUnprocessedEvents retrieves webhook events that were stored but never finished
func (r *WebhookRepository) GetUnprocessedEvents(ctx context.Context, limit int) ([]models.BundleWebhookEvent, error) {
	var events []models.BundleWebhookEvent
	err := r.db.WithContext(ctx).
		Where("processed = ? AND retry_count < ?", false, 3).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// ExistsWithIdempotencyKey checks if an event with the given idempotency key exists
func (r *WebhookRepository) ExistsWithIdempotencyKey(ctx context.Context, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.BundleWebhookEvent{}).
		Where("idempotency_key = ?", key).
		Count(&count).Error
	return count > 0, err
}
