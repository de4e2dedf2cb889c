package repository

import (
	"context"
	"errors"
	"time"

	"bundle-sync-service/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RelationshipRepository stores bundle definitions as one row per bundle plus one edge row per component
type RelationshipRepository struct {
	db *gorm.DB
}

var _ RelationshipStore = (*RelationshipRepository)(nil)

// NewRelationshipRepository creates a new relationship repository
func NewRelationshipRepository(db *gorm.DB) *RelationshipRepository {
	return &RelationshipRepository{db: db}
}

// FindContainersOf returns the bundles that list componentID as a direct component
func (r *RelationshipRepository) FindContainersOf(ctx context.Context, componentID string) ([]string, error) {
	var bundleIDs []string
	err := r.db.WithContext(ctx).
		Model(&models.BundleEdge{}).
		Where("component_id = ?", componentID).
		Distinct("bundle_id").
		Order("bundle_id").
		Pluck("bundle_id", &bundleIDs).Error
	return bundleIDs, err
}

// GetRecord retrieves a bundle's record with its edges in position order
func (r *RelationshipRepository) GetRecord(ctx context.Context, bundleID string) (*models.RelationshipRecord, error) {
	var row models.BundleRelationship
	err := r.db.WithContext(ctx).
		Preload("Edges", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&row, "bundle_id = ?", bundleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	record := &models.RelationshipRecord{
		BundleID:     row.BundleID,
		Title:        row.Title,
		ComponentIDs: make([]string, 0, len(row.Edges)),
		Quantities:   make([]decimal.Decimal, 0, len(row.Edges)),
		UpdatedAt:    row.UpdatedAt,
	}
	for _, e := range row.Edges {
		record.ComponentIDs = append(record.ComponentIDs, e.ComponentID)
		record.Quantities = append(record.Quantities, e.Quantity)
	}
	return record, nil
}

// UpsertRecord replaces a bundle's row and edges in one transaction
func (r *RelationshipRepository) UpsertRecord(ctx context.Context, record *models.RelationshipRecord) error {
	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := &models.BundleRelationship{
			BundleID:  record.BundleID,
			Title:     record.Title,
			UpdatedAt: now,
		}
		if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bundle_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "updated_at"}),
		}).Create(row).Error; err != nil {
			return err
		}

		if err := tx.Where("bundle_id = ?", record.BundleID).Delete(&models.BundleEdge{}).Error; err != nil {
			return err
		}

		if len(record.ComponentIDs) == 0 {
			return nil
		}
		edges := make([]models.BundleEdge, len(record.ComponentIDs))
		for i, id := range record.ComponentIDs {
			q := decimal.NewFromInt(1)
			if i < len(record.Quantities) {
				q = record.Quantities[i]
			}
			edges[i] = models.BundleEdge{
				BundleID:    record.BundleID,
				ComponentID: id,
				Position:    i,
				Quantity:    q,
			}
		}
		return tx.Create(&edges).Error
	})
}

// AutoMigrate creates the relationship tables
func (r *RelationshipRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&models.BundleRelationship{}, &models.BundleEdge{})
}
