package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"bundle-sync-service/internal/models"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const bundlesCollection = "bundles"

// bundleDocument is the stored shape of one bundle record
type bundleDocument struct {
	BundleID     string    `bson:"_id"`
	Title        string    `bson:"title"`
	ComponentIDs []string  `bson:"componentIds"`
	Quantities   []string  `bson:"quantities"` // decimal strings, exact
	UpdatedAt    time.Time `bson:"updatedAt"`
}

// MongoRelationshipRepository stores bundle records as documents indexed by component id
type MongoRelationshipRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

var _ RelationshipStore = (*MongoRelationshipRepository)(nil)

// NewMongoRelationshipRepository connects to MongoDB and ensures the component index exists
func NewMongoRelationshipRepository(ctx context.Context, uri, database string) (*MongoRelationshipRepository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	repo := &MongoRelationshipRepository{
		client:     client,
		collection: client.Database(database).Collection(bundlesCollection),
	}
	if err := repo.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return repo, nil
}

// EnsureIndexes creates the multikey index used by reverse lookups
func (r *MongoRelationshipRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "componentIds", Value: 1}},
		Options: options.Index().SetName("idx_bundles_component"),
	})
	if err != nil {
		return fmt.Errorf("failed to create component index: %w", err)
	}
	return nil
}

// Close disconnects the client
func (r *MongoRelationshipRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

// Ping checks the connection
func (r *MongoRelationshipRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

// FindContainersOf returns the bundles that list componentID as a direct component
func (r *MongoRelationshipRepository) FindContainersOf(ctx context.Context, componentID string) ([]string, error) {
	values, err := r.collection.Distinct(ctx, "_id", bson.M{"componentIds": componentID})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetRecord retrieves a bundle's record, nil when absent
func (r *MongoRelationshipRepository) GetRecord(ctx context.Context, bundleID string) (*models.RelationshipRecord, error) {
	var doc bundleDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": bundleID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.toRecord()
}

// UpsertRecord replaces a bundle's document
func (r *MongoRelationshipRepository) UpsertRecord(ctx context.Context, record *models.RelationshipRecord) error {
	doc := newBundleDocument(record)
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": doc.BundleID}, doc, options.Replace().SetUpsert(true))
	return err
}

func newBundleDocument(record *models.RelationshipRecord) bundleDocument {
	doc := bundleDocument{
		BundleID:     record.BundleID,
		Title:        record.Title,
		ComponentIDs: append([]string{}, record.ComponentIDs...),
		Quantities:   make([]string, len(record.Quantities)),
		UpdatedAt:    time.Now().UTC(),
	}
	for i, q := range record.Quantities {
		doc.Quantities[i] = q.String()
	}
	return doc
}

func (d bundleDocument) toRecord() (*models.RelationshipRecord, error) {
	record := &models.RelationshipRecord{
		BundleID:     d.BundleID,
		Title:        d.Title,
		ComponentIDs: d.ComponentIDs,
		Quantities:   make([]decimal.Decimal, len(d.Quantities)),
		UpdatedAt:    d.UpdatedAt,
	}
	for i, q := range d.Quantities {
		v, err := decimal.NewFromString(q)
		if err != nil {
			return nil, fmt.Errorf("bundle %s: quantity %q: %w", d.BundleID, q, err)
		}
		record.Quantities[i] = v
	}
	return record, nil
}
