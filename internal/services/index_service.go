package services

import (
	"context"
	"fmt"
	"sync/atomic"

	"bundle-sync-service/internal/bundle"
	"bundle-sync-service/internal/clients"
	"bundle-sync-service/internal/models"
	"bundle-sync-service/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RebuildReport summarizes a full relationship index rebuild
type RebuildReport struct {
	Scanned   int
	Bundles   int
	Updated   int
	Malformed int
}

// IndexService keeps the relationship store in step with the bundle definitions in the catalog
type IndexService struct {
	catalog     clients.CatalogClient
	store       repository.RelationshipStore
	keys        bundle.DefinitionKeys
	concurrency int
	logger      *logrus.Entry
}

// NewIndexService creates an index service
func NewIndexService(catalog clients.CatalogClient, store repository.RelationshipStore, keys bundle.DefinitionKeys, concurrency int, logger *logrus.Entry) *IndexService {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &IndexService{
		catalog:     catalog,
		store:       store,
		keys:        keys,
		concurrency: concurrency,
		logger:      logger.WithField("component", "index"),
	}
}

// SyncProduct stores the definition of a loaded product when it differs from the stored record.
// A product that stopped being a bundle gets an empty record, which drops its edges.
func (s *IndexService) SyncProduct(ctx context.Context, lp *models.LoadedProduct) (bool, error) {
	return s.sync(ctx, lp.Product.ID, lp.Product.Title, lp.Definition)
}

// RemoveProduct drops the edges of a product that no longer exists
func (s *IndexService) RemoveProduct(ctx context.Context, productID string) (bool, error) {
	return s.sync(ctx, productID, "", models.BundleDefinition{})
}

func (s *IndexService) sync(ctx context.Context, productID, title string, def models.BundleDefinition) (bool, error) {
	record, err := s.store.GetRecord(ctx, productID)
	if err != nil {
		return false, fmt.Errorf("get relationship record %s: %w", productID, err)
	}
	if record.Matches(def) {
		return false, nil
	}

	if err := s.store.UpsertRecord(ctx, models.NewRelationshipRecord(productID, title, def)); err != nil {
		return false, fmt.Errorf("upsert relationship record %s: %w", productID, err)
	}
	s.logger.WithFields(logrus.Fields{
		"bundle_id":  productID,
		"components": def.ComponentIDs(),
	}).Info("Relationship record updated")
	return true, nil
}

// RebuildIndex reads the definition of every product of the given types and stores it
func (s *IndexService) RebuildIndex(ctx context.Context, productTypes []string) (*RebuildReport, error) {
	report := &RebuildReport{}
	var bundles, updated, malformed int64

	for _, productType := range productTypes {
		products, err := s.catalog.ListProductsByType(ctx, productType)
		if err != nil {
			return report, fmt.Errorf("list products of type %q: %w", productType, err)
		}
		report.Scanned += len(products)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for i := range products {
			product := products[i]
			g.Go(func() error {
				fields, err := s.catalog.GetCustomFields(gctx, product.ID)
				if err != nil && !clients.IsNotFound(err) {
					return fmt.Errorf("custom fields of %s: %w", product.ID, err)
				}
				def, err := bundle.ReadDefinition(fields, s.keys)
				if err != nil {
					atomic.AddInt64(&malformed, 1)
					s.logger.WithField("product_id", product.ID).WithError(err).Warn("Malformed bundle definition")
				}
				if !def.IsEmpty() {
					atomic.AddInt64(&bundles, 1)
				}
				changed, err := s.sync(gctx, product.ID, product.Title, def)
				if err != nil {
					return err
				}
				if changed {
					atomic.AddInt64(&updated, 1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return report, err
		}
	}

	report.Bundles = int(bundles)
	report.Updated = int(updated)
	report.Malformed = int(malformed)
	s.logger.WithFields(logrus.Fields{
		"scanned":   report.Scanned,
		"bundles":   report.Bundles,
		"updated":   report.Updated,
		"malformed": report.Malformed,
	}).Info("Relationship index rebuilt")
	return report, nil
}
