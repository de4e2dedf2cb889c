package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"

	"bundle-sync-service/internal/bundle"
	"bundle-sync-service/internal/clients"
	"bundle-sync-service/internal/models"
	"bundle-sync-service/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// fakeCatalog is an in-memory storefront. Writes change the stored products the way
// the real catalog would and are recorded in order.
type fakeCatalog struct {
	mu       sync.Mutex
	products map[string]*models.Product
	fields   map[string][]models.CustomField
	readErr  map[string]error
	writeErr map[string]error // keyed by product id
	writes   []string
	nextID   int
}

var _ clients.CatalogClient = (*fakeCatalog)(nil)

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products: make(map[string]*models.Product),
		fields:   make(map[string][]models.CustomField),
		readErr:  make(map[string]error),
		writeErr: make(map[string]error),
	}
}

func (f *fakeCatalog) add(p *models.Product) *models.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[p.ID] = p
	return p
}

// defineBundle stores the component fields of bundleID
func (f *fakeCatalog) defineBundle(bundleID string, componentIDs []string, quantities []string) {
	refs := make([]string, len(componentIDs))
	for i, id := range componentIDs {
		refs[i] = "gid://shopify/Product/" + id
	}
	rawRefs, _ := json.Marshal(refs)
	fields := []models.CustomField{{Namespace: "custom", Key: "productos", Value: string(rawRefs)}}
	if quantities != nil {
		rawQty, _ := json.Marshal(quantities)
		fields = append(fields, models.CustomField{Namespace: "custom", Key: "cantidades", Value: string(rawQty)})
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fields[bundleID] = fields
}

// product returns a snapshot of a stored product
func (f *fakeCatalog) product(id string) *models.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneProduct(f.products[id])
}

func (f *fakeCatalog) writeLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeCatalog) resetWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
}

func (f *fakeCatalog) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr[productID]; err != nil {
		return nil, err
	}
	p, ok := f.products[productID]
	if !ok {
		return nil, clients.ErrNotFound
	}
	return cloneProduct(p), nil
}

func (f *fakeCatalog) ListProductsByType(ctx context.Context, productType string) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Product
	for _, p := range f.products {
		if p.ProductType == productType {
			out = append(out, *cloneProduct(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeCatalog) GetCustomFields(ctx context.Context, productID string) ([]models.CustomField, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CustomField(nil), f.fields[productID]...), nil
}

func (f *fakeCatalog) UpdateVariantPrice(ctx context.Context, variantID string, price decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, v := f.findVariant(variantID)
	if v == nil {
		return clients.ErrNotFound
	}
	if err := f.writeErr[p.ID]; err != nil {
		return err
	}
	v.Price = price
	f.writes = append(f.writes, fmt.Sprintf("price %s %s", variantID, price.StringFixed(2)))
	return nil
}

func (f *fakeCatalog) UpdateProductOptionsAndVariants(ctx context.Context, productID string, options []models.Option, variants []models.Variant) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok {
		return nil, clients.ErrNotFound
	}
	if err := f.writeErr[productID]; err != nil {
		return nil, err
	}
	p.Options = append([]models.Option(nil), options...)
	p.Variants = make([]models.Variant, len(variants))
	for i, v := range variants {
		f.nextID++
		v.ID = fmt.Sprintf("%s%03d", productID, f.nextID)
		v.Available = 0
		p.Variants[i] = v
	}
	f.writes = append(f.writes, fmt.Sprintf("variants %s %d", productID, len(variants)))
	return cloneProduct(p), nil
}

func (f *fakeCatalog) SetVariantInventory(ctx context.Context, variant models.Variant, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, v := f.findVariant(variant.ID)
	if v == nil {
		return clients.ErrNotFound
	}
	if err := f.writeErr[p.ID]; err != nil {
		return err
	}
	v.InventoryManaged = true
	v.Available = quantity
	f.writes = append(f.writes, fmt.Sprintf("set %s %d", variant.ID, quantity))
	return nil
}

func (f *fakeCatalog) AdjustVariantInventory(ctx context.Context, variant models.Variant, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, v := f.findVariant(variant.ID)
	if v == nil {
		return clients.ErrNotFound
	}
	if err := f.writeErr[p.ID]; err != nil {
		return err
	}
	v.Available += delta
	f.writes = append(f.writes, fmt.Sprintf("adjust %s %d", variant.ID, delta))
	return nil
}

func (f *fakeCatalog) findVariant(variantID string) (*models.Product, *models.Variant) {
	for _, p := range f.products {
		for i := range p.Variants {
			if p.Variants[i].ID == variantID {
				return p, &p.Variants[i]
			}
		}
	}
	return nil, nil
}

func cloneProduct(p *models.Product) *models.Product {
	if p == nil {
		return nil
	}
	c := *p
	c.Options = make([]models.Option, len(p.Options))
	for i, o := range p.Options {
		o.Values = append([]string(nil), o.Values...)
		c.Options[i] = o
	}
	c.Variants = append([]models.Variant(nil), p.Variants...)
	return &c
}

// memStore is an in-memory relationship store
type memStore struct {
	mu      sync.Mutex
	records map[string]*models.RelationshipRecord
	findErr error
}

var _ repository.RelationshipStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*models.RelationshipRecord)}
}

func (s *memStore) FindContainersOf(ctx context.Context, componentID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []string
	for id, r := range s.records {
		for _, c := range r.ComponentIDs {
			if c == componentID {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *memStore) GetRecord(ctx context.Context, bundleID string) (*models.RelationshipRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[bundleID]
	if !ok {
		return nil, nil
	}
	c := *r
	return &c, nil
}

func (s *memStore) UpsertRecord(ctx context.Context, record *models.RelationshipRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *record
	s.records[record.BundleID] = &c
	return nil
}

// link records bundleID as containing componentIDs with quantity 1 each
func (s *memStore) link(bundleID string, componentIDs ...string) {
	def := models.BundleDefinition{}
	for _, id := range componentIDs {
		def.Components = append(def.Components, models.Component{ProductID: id, Quantity: decimal.NewFromInt(1)})
	}
	_ = s.UpsertRecord(context.Background(), models.NewRelationshipRecord(bundleID, "", def))
}

// Products

func simple(id, price string, available int, managed bool) *models.Product {
	return &models.Product{
		ID:      id,
		Title:   "Simple " + id,
		Options: []models.Option{{Name: models.DefaultOptionName, Position: 1, Values: []string{models.DefaultOptionValue}}},
		Variants: []models.Variant{{
			ID:               id + "1",
			Option1:          models.DefaultOptionValue,
			Price:            decimal.RequireFromString(price),
			InventoryManaged: managed,
			Available:        available,
		}},
	}
}

func withOption(id, option string, values []string, price string, available int) *models.Product {
	p := &models.Product{
		ID:      id,
		Title:   "Product " + id,
		Options: []models.Option{{Name: option, Position: 1, Values: values}},
	}
	for i, v := range values {
		p.Variants = append(p.Variants, models.Variant{
			ID:               fmt.Sprintf("%s%d", id, i+1),
			Option1:          v,
			Price:            decimal.RequireFromString(price),
			InventoryManaged: true,
			Available:        available,
		})
	}
	return p
}

// emptyBundle is a freshly created bundle product with the default shape, zero price and no tracking
func emptyBundle(id string) *models.Product {
	p := simple(id, "0", 0, false)
	p.Title = "Bundle " + id
	p.ProductType = "Ramo"
	return p
}

func testLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

func newTestCache(catalog clients.CatalogClient) *RunCache {
	return NewRunCache(catalog, bundle.DefaultDefinitionKeys(), 4, testLogger())
}

func requireVariant(t *testing.T, p *models.Product, selectors ...string) models.Variant {
	t.Helper()
	v, ok := p.VariantBySelectors(selectors)
	require.True(t, ok, "variant %v of %s", selectors, p.ID)
	return *v
}
