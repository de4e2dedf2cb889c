package services

import (
	"context"
	"fmt"
	"sync"

	"bundle-sync-service/internal/bundle"
	"bundle-sync-service/internal/clients"
	"bundle-sync-service/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RunCache memoizes product reads for a single queue item. A product is classified
// once when loaded; writes to it must be followed by Invalidate.
type RunCache struct {
	catalog     clients.CatalogClient
	keys        bundle.DefinitionKeys
	concurrency int
	logger      *logrus.Entry

	mu       sync.Mutex
	products map[string]*models.LoadedProduct // nil entry: not found
}

// NewRunCache creates an empty cache reading through catalog
func NewRunCache(catalog clients.CatalogClient, keys bundle.DefinitionKeys, concurrency int, logger *logrus.Entry) *RunCache {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &RunCache{
		catalog:     catalog,
		keys:        keys,
		concurrency: concurrency,
		logger:      logger,
		products:    make(map[string]*models.LoadedProduct),
	}
}

// Load returns the product with its definition and kind. A product the catalog does
// not know is returned as nil with no error.
func (c *RunCache) Load(ctx context.Context, productID string) (*models.LoadedProduct, error) {
	c.mu.Lock()
	lp, ok := c.products[productID]
	c.mu.Unlock()
	if ok {
		return lp, nil
	}

	lp, err := c.fetch(ctx, productID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.products[productID] = lp
	c.mu.Unlock()
	return lp, nil
}

// LoadAll loads ids with bounded parallelism. The result is aligned with ids; missing products are nil.
func (c *RunCache) LoadAll(ctx context.Context, ids []string) ([]*models.LoadedProduct, error) {
	out := make([]*models.LoadedProduct, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			lp, err := c.Load(gctx, id)
			if err != nil {
				return fmt.Errorf("load product %s: %w", id, err)
			}
			out[i] = lp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Invalidate drops a product so the next Load reads it again
func (c *RunCache) Invalidate(productID string) {
	c.mu.Lock()
	delete(c.products, productID)
	c.mu.Unlock()
}

func (c *RunCache) fetch(ctx context.Context, productID string) (*models.LoadedProduct, error) {
	product, err := c.catalog.GetProduct(ctx, productID)
	if clients.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fields, err := c.catalog.GetCustomFields(ctx, productID)
	if err != nil && !clients.IsNotFound(err) {
		return nil, err
	}

	def, err := bundle.ReadDefinition(fields, c.keys)
	if err != nil {
		c.logger.WithField("product_id", productID).WithError(err).Warn("Malformed bundle definition, treating product as normal")
	}

	return &models.LoadedProduct{
		Product:    product,
		Kind:       models.Classify(product, def),
		Definition: def,
	}, nil
}
