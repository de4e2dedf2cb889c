package services

import (
	"context"
	"fmt"
	"sort"

	"bundle-sync-service/internal/bundle"
	"bundle-sync-service/internal/clients"
	"bundle-sync-service/internal/metrics"
	"bundle-sync-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Gap is a part of a sale whose component stock could not be identified
type Gap struct {
	BundleID   string
	VariantID  string
	Dimensions []int
	Reason     string
}

// Adjustment is one inventory decrement applied to a component variant
type Adjustment struct {
	ProductID string
	VariantID string
	Units     int
}

// DecrementReport describes the inventory consumed by one line item
type DecrementReport struct {
	Item        models.LineItem
	Bundle      bool // the sold product is a bundle
	Adjustments []Adjustment
	Gaps        []Gap
	Failures    int
}

// TouchedProducts returns the ids of products whose inventory was adjusted
func (r *DecrementReport) TouchedProducts() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, a := range r.Adjustments {
		if !seen[a.ProductID] {
			seen[a.ProductID] = true
			ids = append(ids, a.ProductID)
		}
	}
	return ids
}

type pendingAdjustment struct {
	productID string
	variant   models.Variant
	amount    decimal.Decimal
}

// Decrementer consumes the component stock of sold bundles, recursing through nested bundles
type Decrementer struct {
	catalog clients.CatalogClient
	logger  *logrus.Entry
}

// NewDecrementer creates a decrementer writing through catalog
func NewDecrementer(catalog clients.CatalogClient, logger *logrus.Entry) *Decrementer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Decrementer{
		catalog: catalog,
		logger:  logger.WithField("component", "decrementer"),
	}
}

// Decrement resolves the component variants a sold bundle variant consumed and lowers their
// inventory. Products that are not bundles are left alone. Unresolvable dimensions are
// reported as gaps and skipped. Only a failure to read the sold product itself is returned.
func (d *Decrementer) Decrement(ctx context.Context, cache *RunCache, item models.LineItem) (*DecrementReport, error) {
	report := &DecrementReport{Item: item}
	if item.Quantity <= 0 {
		return report, nil
	}

	lp, err := cache.Load(ctx, item.ProductID)
	if err != nil {
		return report, fmt.Errorf("load sold product %s: %w", item.ProductID, err)
	}
	if !lp.IsBundle() {
		return report, nil
	}
	report.Bundle = true

	w := &decrementWalk{
		cache:   cache,
		logger:  d.logger,
		report:  report,
		pending: make(map[string]*pendingAdjustment),
	}
	w.walk(ctx, lp, item.VariantID, decimal.NewFromInt(int64(item.Quantity)), map[string]bool{})

	d.apply(ctx, cache, w.pending, report)

	for _, gap := range report.Gaps {
		metrics.InventoryGaps.Inc()
		d.logger.WithFields(logrus.Fields{
			"product_id": item.ProductID,
			"bundle_id":  gap.BundleID,
			"variant_id": gap.VariantID,
			"dimensions": gap.Dimensions,
			"reason":     gap.Reason,
		}).Warn("Skipped inventory decrement")
	}
	return report, nil
}

// apply issues one relative adjustment per variant, rounding fractional consumption up
func (d *Decrementer) apply(ctx context.Context, cache *RunCache, pending map[string]*pendingAdjustment, report *DecrementReport) {
	keys := make([]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		p := pending[k]
		units := int(p.amount.Ceil().IntPart())
		if units <= 0 {
			continue
		}
		err := d.catalog.AdjustVariantInventory(ctx, p.variant, -units)
		metrics.Decrements.WithLabelValues(metrics.Status(err)).Inc()
		metrics.CatalogWrites.WithLabelValues("adjust", metrics.Status(err)).Inc()
		cache.Invalidate(p.productID)
		if err != nil {
			report.Failures++
			d.logger.WithFields(logrus.Fields{
				"product_id": p.productID,
				"variant_id": p.variant.ID,
				"units":      units,
			}).WithError(err).Warn("Inventory decrement abandoned")
			continue
		}
		report.Adjustments = append(report.Adjustments, Adjustment{
			ProductID: p.productID,
			VariantID: p.variant.ID,
			Units:     units,
		})
	}
}

type decrementWalk struct {
	cache   *RunCache
	logger  *logrus.Entry
	report  *DecrementReport
	pending map[string]*pendingAdjustment
}

// walk consumes units of one variant of a bundle. path holds the bundles above this one.
func (w *decrementWalk) walk(ctx context.Context, lp *models.LoadedProduct, variantID string, units decimal.Decimal, path map[string]bool) {
	bundleID := lp.Product.ID
	if path[bundleID] {
		w.gap(bundleID, variantID, nil, "containment cycle")
		return
	}
	path[bundleID] = true
	defer delete(path, bundleID)

	loaded, err := w.cache.LoadAll(ctx, lp.Definition.ComponentIDs())
	if err != nil {
		w.gap(bundleID, variantID, nil, fmt.Sprintf("component read failed: %v", err))
		return
	}

	var (
		components []bundle.ResolvedComponent
		owners     []*models.LoadedProduct
	)
	for i, c := range loaded {
		if c == nil {
			w.gap(bundleID, variantID, nil, "component "+lp.Definition.Components[i].ProductID+" not found")
			continue
		}
		components = append(components, bundle.ResolvedComponent{Product: c.Product, Quantity: lp.Definition.Components[i].Quantity})
		owners = append(owners, c)
	}

	m, err := bundle.BuildMatrix(components)
	if err != nil {
		w.gap(bundleID, variantID, nil, err.Error())
		return
	}

	if m.Simple {
		for i, c := range components {
			w.consume(ctx, owners[i], c.Product.Variants[0], c.Quantity.Mul(units), path)
		}
		return
	}

	sold, ok := lp.Product.VariantByID(variantID)
	if !ok {
		w.gap(bundleID, variantID, nil, "sold variant not found")
		return
	}

	ownership := m.ResolveOwnership(sold.Selectors())
	for _, res := range ownership.Resolved {
		w.consume(ctx, owners[res.ComponentIndex], res.Variant, units, path)
	}
	if len(ownership.Unresolved) > 0 {
		w.gap(bundleID, variantID, ownership.Unresolved, "no owning component variant")
	}

	for i, c := range components {
		if c.IsSimple() {
			w.consume(ctx, owners[i], c.Product.Variants[0], c.Quantity.Mul(units), path)
		}
	}
}

// consume records amount units of variant, descending into nested bundles
func (w *decrementWalk) consume(ctx context.Context, owner *models.LoadedProduct, variant models.Variant, amount decimal.Decimal, path map[string]bool) {
	if owner.IsBundle() {
		w.walk(ctx, owner, variant.ID, amount, path)
		return
	}
	if !variant.InventoryManaged {
		return
	}
	key := variant.ID
	if key == "" {
		key = owner.Product.ID + "/" + fmt.Sprint(variant.Selectors())
	}
	p, ok := w.pending[key]
	if !ok {
		p = &pendingAdjustment{productID: owner.Product.ID, variant: variant, amount: decimal.Zero}
		w.pending[key] = p
	}
	p.amount = p.amount.Add(amount)
}

func (w *decrementWalk) gap(bundleID, variantID string, dims []int, reason string) {
	w.report.Gaps = append(w.report.Gaps, Gap{
		BundleID:   bundleID,
		VariantID:  variantID,
		Dimensions: dims,
		Reason:     reason,
	})
}
