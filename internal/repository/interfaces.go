package repository

import (
	"context"

	"bundle-sync-service/internal/models"
	"github.com/google/uuid"
)

// RelationshipStore is the reverse index of bundle definitions: which bundles contain a product
type RelationshipStore interface {
	// FindContainersOf returns the ids of bundles that list componentID as a direct component
	FindContainersOf(ctx context.Context, componentID string) ([]string, error)
	// GetRecord returns the stored record of a bundle, or nil when there is none
	GetRecord(ctx context.Context, bundleID string) (*models.RelationshipRecord, error)
	// UpsertRecord replaces the stored record of a bundle and its edges
	UpsertRecord(ctx context.Context, record *models.RelationshipRecord) error
}

// WebhookStore persists inbound webhook deliveries
type WebhookStore interface {
	Create(ctx context.Context, event *models.BundleWebhookEvent) error
	SetQueueItem(ctx context.Context, id, queueItemID uuid.UUID) error
	MarkProcessed(ctx context.Context, id uuid.UUID, err error) error
	GetUnprocessedEvents(ctx context.Context, limit int) ([]models.BundleWebhookEvent, error)
	ExistsWithIdempotencyKey(ctx context.Context, key string) (bool, error)
}
