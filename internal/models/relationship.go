package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RelationshipRecord is the stored component list of one bundle, indexed for reverse lookups
type RelationshipRecord struct {
	BundleID     string            `json:"bundleId"`
	Title        string            `json:"title"`
	ComponentIDs []string          `json:"componentIds"`
	Quantities   []decimal.Decimal `json:"quantities"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// NewRelationshipRecord builds the record for a bundle from its definition
func NewRelationshipRecord(bundleID, title string, def BundleDefinition) *RelationshipRecord {
	return &RelationshipRecord{
		BundleID:     bundleID,
		Title:        title,
		ComponentIDs: def.ComponentIDs(),
		Quantities:   def.Quantities(),
	}
}

// Matches reports whether the record already describes def
func (r *RelationshipRecord) Matches(def BundleDefinition) bool {
	if r == nil {
		return def.IsEmpty()
	}
	if len(r.ComponentIDs) != len(def.Components) || len(r.Quantities) != len(def.Components) {
		return false
	}
	for i, c := range def.Components {
		if r.ComponentIDs[i] != c.ProductID || !r.Quantities[i].Equal(c.Quantity) {
			return false
		}
	}
	return true
}

// BundleRelationship is the relational row for a bundle's record
type BundleRelationship struct {
	BundleID  string       `gorm:"type:varchar(64);primaryKey" json:"bundleId"`
	Title     string       `gorm:"type:varchar(255)" json:"title"`
	Edges     []BundleEdge `gorm:"foreignKey:BundleID;references:BundleID;constraint:OnDelete:CASCADE" json:"edges,omitempty"`
	CreatedAt time.Time    `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time    `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for BundleRelationship
func (BundleRelationship) TableName() string {
	return "bundle_relationships"
}

// BundleEdge is one component -> bundle dependency edge
type BundleEdge struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	BundleID    string          `gorm:"type:varchar(64);not null;index:idx_bundle_edges_bundle" json:"bundleId"`
	ComponentID string          `gorm:"type:varchar(64);not null;index:idx_bundle_edges_component" json:"componentId"`
	Position    int             `gorm:"not null" json:"position"`
	Quantity    decimal.Decimal `gorm:"type:decimal(12,4);not null" json:"quantity"`
}

// TableName specifies the table name for BundleEdge
func (BundleEdge) TableName() string {
	return "bundle_edges"
}
