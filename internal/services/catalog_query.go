package services

import (
	"context"
	"sort"

	"bundle-sync-service/internal/bundle"
	"bundle-sync-service/internal/clients"
	"bundle-sync-service/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ProductView is a catalog product with its decoded bundle definition
type ProductView struct {
	*models.Product
	Kind            string                   `json:"kind"`
	Definition      *models.BundleDefinition `json:"definition,omitempty"`
	DefinitionError string                   `json:"definitionError,omitempty"`
	CustomFields    []models.CustomField     `json:"customFields,omitempty"`
}

// CatalogQueryService answers read-only catalog queries. Nothing here writes.
type CatalogQueryService struct {
	catalog     clients.CatalogClient
	keys        bundle.DefinitionKeys
	bundleTypes []string
	concurrency int
	logger      *logrus.Entry
}

// NewCatalogQueryService creates a query service. bundleTypes are listed when a bundle query names none.
func NewCatalogQueryService(catalog clients.CatalogClient, keys bundle.DefinitionKeys, bundleTypes []string, concurrency int, logger *logrus.Entry) *CatalogQueryService {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &CatalogQueryService{
		catalog:     catalog,
		keys:        keys,
		bundleTypes: bundleTypes,
		concurrency: concurrency,
		logger:      logger.WithField("component", "catalog-query"),
	}
}

// GetProduct returns a product with its custom fields and decoded definition.
// A missing product yields clients.ErrNotFound.
func (s *CatalogQueryService) GetProduct(ctx context.Context, productID string) (*ProductView, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	fields, err := s.catalog.GetCustomFields(ctx, productID)
	if err != nil && !clients.IsNotFound(err) {
		return nil, err
	}
	view := s.view(product, fields)
	view.CustomFields = fields
	return view, nil
}

// ListProducts returns the products of one product type
func (s *CatalogQueryService) ListProducts(ctx context.Context, productType string) ([]models.Product, error) {
	return s.catalog.ListProductsByType(ctx, productType)
}

// ListBundles returns every product of the given types that declares components, ordered by id
func (s *CatalogQueryService) ListBundles(ctx context.Context, productTypes []string) ([]ProductView, error) {
	if len(productTypes) == 0 {
		productTypes = s.bundleTypes
	}

	seen := make(map[string]bool)
	var products []models.Product
	for _, productType := range productTypes {
		list, err := s.catalog.ListProductsByType(ctx, productType)
		if err != nil {
			return nil, err
		}
		for _, p := range list {
			if !seen[p.ID] {
				seen[p.ID] = true
				products = append(products, p)
			}
		}
	}

	views := make([]*ProductView, len(products))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range products {
		p := &products[i]
		g.Go(func() error {
			fields, err := s.catalog.GetCustomFields(gctx, p.ID)
			if clients.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			views[i] = s.view(p, fields)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bundles := make([]ProductView, 0, len(views))
	for _, v := range views {
		if v != nil && v.Definition != nil {
			bundles = append(bundles, *v)
		}
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].ID < bundles[j].ID })
	return bundles, nil
}

func (s *CatalogQueryService) view(product *models.Product, fields []models.CustomField) *ProductView {
	def, err := bundle.ReadDefinition(fields, s.keys)
	view := &ProductView{
		Product: product,
		Kind:    models.Classify(product, def).String(),
	}
	if err != nil {
		view.DefinitionError = err.Error()
	}
	if !def.IsEmpty() {
		view.Definition = &def
	}
	return view
}
