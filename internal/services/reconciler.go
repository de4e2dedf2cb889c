package services

import (
	"context"
	"fmt"

	"bundle-sync-service/internal/bundle"
	"bundle-sync-service/internal/clients"
	"bundle-sync-service/internal/metrics"
	"bundle-sync-service/internal/models"
	"github.com/sirupsen/logrus"
)

// Outcome is the result class of one reconciliation
type Outcome string

const (
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeUpdated   Outcome = "updated"
	OutcomeReset     Outcome = "reset"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeNotBundle Outcome = "not_bundle"
)

// ReconcileResult summarizes one reconciliation
type ReconcileResult struct {
	BundleID string
	Outcome  Outcome
	Writes   int
	Failures int
	Err      error
}

// Reconciler brings a bundle's published options, variants, prices and inventory in line
// with the state computed from its components, issuing only the writes that differ
type Reconciler struct {
	catalog       clients.CatalogClient
	zeroUnbounded bool
	logger        *logrus.Entry
}

// NewReconciler creates a reconciler. With zeroUnbounded, variants no managed component
// constrains are published with inventory 0 instead of being left untracked.
func NewReconciler(catalog clients.CatalogClient, zeroUnbounded bool, logger *logrus.Entry) *Reconciler {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reconciler{
		catalog:       catalog,
		zeroUnbounded: zeroUnbounded,
		logger:        logger.WithField("component", "reconciler"),
	}
}

// Reconcile recomputes bundleID from its components and applies the difference
func (r *Reconciler) Reconcile(ctx context.Context, cache *RunCache, bundleID string) ReconcileResult {
	res := r.reconcile(ctx, cache, bundleID)
	metrics.ReconcileTotal.WithLabelValues(string(res.Outcome)).Inc()

	logger := r.logger.WithFields(logrus.Fields{
		"bundle_id": bundleID,
		"outcome":   res.Outcome,
		"writes":    res.Writes,
	})
	switch res.Outcome {
	case OutcomeFailed:
		logger.WithField("failures", res.Failures).WithError(res.Err).Warn("Bundle reconciliation failed")
	case OutcomeUpdated, OutcomeReset:
		logger.Info("Bundle reconciled")
	default:
		logger.Debug("Bundle reconciled")
	}
	return res
}

func (r *Reconciler) reconcile(ctx context.Context, cache *RunCache, bundleID string) ReconcileResult {
	res := ReconcileResult{BundleID: bundleID}

	lp, err := cache.Load(ctx, bundleID)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("load bundle: %w", err)
		return res
	}
	if lp == nil {
		res.Outcome = OutcomeSkipped
		return res
	}
	if !lp.IsBundle() {
		res.Outcome = OutcomeNotBundle
		return res
	}

	components, err := r.resolveComponents(ctx, cache, lp)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}

	target := bundle.ComputeState(components)
	reset := !target.Valid
	if reset {
		r.logger.WithField("bundle_id", bundleID).WithError(target.Err).Warn("Invalid bundle, publishing the default shape")
		target = bundle.DefaultState()
	}
	for i, v := range target.Variants {
		if len(v.Gaps) > 0 {
			r.logger.WithFields(logrus.Fields{
				"bundle_id":  bundleID,
				"variant":    i,
				"dimensions": v.Gaps,
			}).Warn("No component variant owns these dimensions")
		}
	}

	r.apply(ctx, cache, lp.Product, target, reset, &res)

	switch {
	case res.Failures > 0:
		res.Outcome = OutcomeFailed
	case res.Writes == 0:
		res.Outcome = OutcomeUnchanged
	case reset:
		res.Outcome = OutcomeReset
	default:
		res.Outcome = OutcomeUpdated
	}
	return res
}

// resolveComponents loads the components of a bundle. Components the catalog no longer
// knows are left out; any other read failure aborts this bundle.
func (r *Reconciler) resolveComponents(ctx context.Context, cache *RunCache, lp *models.LoadedProduct) ([]bundle.ResolvedComponent, error) {
	loaded, err := cache.LoadAll(ctx, lp.Definition.ComponentIDs())
	if err != nil {
		return nil, err
	}
	components := make([]bundle.ResolvedComponent, 0, len(loaded))
	for i, c := range loaded {
		comp := lp.Definition.Components[i]
		if c == nil {
			r.logger.WithFields(logrus.Fields{
				"bundle_id":    lp.Product.ID,
				"component_id": comp.ProductID,
			}).Warn("Component not found, it contributes nothing")
			continue
		}
		components = append(components, bundle.ResolvedComponent{Product: c.Product, Quantity: comp.Quantity})
	}
	return components, nil
}

// apply writes the difference between current and target. Option or selector changes
// replace the whole option/variant set; a price-only change updates variants in place.
func (r *Reconciler) apply(ctx context.Context, cache *RunCache, current *models.Product, target bundle.State, skipInventory bool, res *ReconcileResult) {
	logger := r.logger.WithField("bundle_id", current.ID)

	if !r.sameShape(current, target, skipInventory) {
		logger.WithFields(logrus.Fields{
			"options":  len(target.Options),
			"variants": len(target.Variants),
		}).Debug("Replacing options and variants")

		updated, err := r.catalog.UpdateProductOptionsAndVariants(ctx, current.ID, target.Options, r.targetVariants(target, skipInventory))
		r.countWrite("variants", err, res)
		cache.Invalidate(current.ID)
		if err != nil {
			logger.WithError(err).Warn("Replacing options and variants failed")
			return
		}
		if updated == nil {
			if updated, err = r.reload(ctx, current.ID); err != nil {
				res.Failures++
				res.Err = err
				return
			}
		}
		current = updated
	} else {
		for i, tv := range target.Variants {
			cv := current.Variants[i]
			if cv.Price.StringFixed(2) == tv.Price.StringFixed(2) {
				continue
			}
			logger.WithFields(logrus.Fields{
				"variant_id": cv.ID,
				"from":       cv.Price.StringFixed(2),
				"to":         tv.Price.StringFixed(2),
			}).Debug("Updating variant price")
			err := r.catalog.UpdateVariantPrice(ctx, cv.ID, tv.Price.Round(2))
			r.countWrite("price", err, res)
			if err != nil {
				logger.WithField("variant_id", cv.ID).WithError(err).Warn("Price update abandoned")
			}
		}
	}

	if skipInventory {
		return
	}
	for _, tv := range target.Variants {
		want, ok := r.inventoryTarget(tv.Inventory)
		if !ok {
			continue
		}
		cv, found := current.VariantBySelectors(tv.Selectors)
		if !found {
			continue
		}
		if cv.InventoryManaged && cv.Available == want {
			continue
		}
		err := r.catalog.SetVariantInventory(ctx, *cv, want)
		r.countWrite("inventory", err, res)
		if err != nil {
			logger.WithField("variant_id", cv.ID).WithError(err).Warn("Inventory update abandoned")
		}
	}
	cache.Invalidate(current.ID)
}

// sameShape reports whether current already has the target's options, selectors and tracking
func (r *Reconciler) sameShape(current *models.Product, target bundle.State, skipInventory bool) bool {
	if len(current.Options) != len(target.Options) || len(current.Variants) != len(target.Variants) {
		return false
	}
	for i, o := range target.Options {
		co := current.Options[i]
		if co.Name != o.Name || !sameStrings(co.Values, o.Values) {
			return false
		}
	}
	for i, tv := range target.Variants {
		cv := current.Variants[i]
		if !sameStrings(cv.Selectors(), tv.Selectors) {
			return false
		}
		if cv.InventoryManaged != r.managed(tv, skipInventory) {
			return false
		}
	}
	return true
}

func (r *Reconciler) targetVariants(target bundle.State, skipInventory bool) []models.Variant {
	variants := make([]models.Variant, len(target.Variants))
	for i, tv := range target.Variants {
		v := models.Variant{
			Price:            tv.Price.Round(2),
			InventoryManaged: r.managed(tv, skipInventory),
		}
		v.SetSelectors(tv.Selectors)
		variants[i] = v
	}
	return variants
}

func (r *Reconciler) managed(tv bundle.VariantState, skipInventory bool) bool {
	if skipInventory {
		return false
	}
	_, ok := r.inventoryTarget(tv.Inventory)
	return ok
}

// inventoryTarget returns the quantity to publish, false when the variant is left untracked
func (r *Reconciler) inventoryTarget(inv models.Inventory) (int, bool) {
	if inv.Bounded {
		return inv.Quantity, true
	}
	if r.zeroUnbounded {
		return 0, true
	}
	return 0, false
}

func (r *Reconciler) reload(ctx context.Context, productID string) (*models.Product, error) {
	p, err := r.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("reload bundle after update: %w", err)
	}
	return p, nil
}

func (r *Reconciler) countWrite(kind string, err error, res *ReconcileResult) {
	metrics.CatalogWrites.WithLabelValues(kind, metrics.Status(err)).Inc()
	if err != nil {
		res.Failures++
		res.Err = err
		return
	}
	res.Writes++
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
