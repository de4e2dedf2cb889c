package services

import (
	"context"
	"fmt"
	"strings"

	"bundle-sync-service/internal/bundle"
	"bundle-sync-service/internal/clients"
	"bundle-sync-service/internal/models"
	"bundle-sync-service/internal/queue"
	"bundle-sync-service/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EngineConfig tunes the engine
type EngineConfig struct {
	Keys            bundle.DefinitionKeys
	ReadConcurrency int
	ZeroUnbounded   bool
}

// ProductChangeReport describes the work done for one changed product
type ProductChangeReport struct {
	ProductID    string
	IndexUpdated bool
	Root         ReconcileResult
	Propagation  *PropagationReport
}

// OrderReport describes the work done for one order
type OrderReport struct {
	Decrements  []*DecrementReport
	Propagation *PropagationReport
}

// Engine runs the bundle pipeline for change notifications. Work submitted through
// OnProductChanged and OnOrderPlaced runs on the queue, one item at a time.
type Engine struct {
	catalog     clients.CatalogClient
	queue       *queue.Queue
	index       *IndexService
	reconciler  *Reconciler
	propagator  *Propagator
	decrementer *Decrementer
	config      EngineConfig
	logger      *logrus.Entry
}

// NewEngine wires the pipeline
func NewEngine(catalog clients.CatalogClient, store repository.RelationshipStore, q *queue.Queue, cfg EngineConfig, logger *logrus.Entry) *Engine {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.ReadConcurrency < 1 {
		cfg.ReadConcurrency = 1
	}
	reconciler := NewReconciler(catalog, cfg.ZeroUnbounded, logger)
	return &Engine{
		catalog:     catalog,
		queue:       q,
		index:       NewIndexService(catalog, store, cfg.Keys, cfg.ReadConcurrency, logger),
		reconciler:  reconciler,
		propagator:  NewPropagator(store, reconciler, logger),
		decrementer: NewDecrementer(catalog, logger),
		config:      cfg,
		logger:      logger.WithField("component", "engine"),
	}
}

// Index returns the relationship index service
func (e *Engine) Index() *IndexService {
	return e.index
}

// Keys returns the custom fields the engine reads bundle definitions from
func (e *Engine) Keys() bundle.DefinitionKeys {
	return e.config.Keys
}

// NewRunCache returns an empty cache for one unit of work
func (e *Engine) NewRunCache() *RunCache {
	return NewRunCache(e.catalog, e.config.Keys, e.config.ReadConcurrency, e.logger)
}

// OnProductChanged enqueues the pipeline for a changed product and returns at once
func (e *Engine) OnProductChanged(productID string, done queue.Completion) uuid.UUID {
	return e.queue.Enqueue(queue.KindProductChange, productID, func(ctx context.Context) error {
		_, err := e.ProcessProductChange(ctx, productID)
		return err
	}, done)
}

// OnOrderPlaced enqueues the inventory decrement of an order and returns at once
func (e *Engine) OnOrderPlaced(items []models.LineItem, done queue.Completion) uuid.UUID {
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = fmt.Sprintf("%s:%s x%d", it.ProductID, it.VariantID, it.Quantity)
	}
	return e.queue.Enqueue(queue.KindOrder, strings.Join(keys, ","), func(ctx context.Context) error {
		_, err := e.ProcessOrder(ctx, items)
		return err
	}, done)
}

// OnRebuildIndex enqueues a full relationship index rebuild
func (e *Engine) OnRebuildIndex(productTypes []string, done queue.Completion) uuid.UUID {
	return e.queue.Enqueue(queue.KindRebuild, strings.Join(productTypes, ","), func(ctx context.Context) error {
		_, err := e.index.RebuildIndex(ctx, productTypes)
		return err
	}, done)
}

// ProcessProductChange refreshes the product's relationship record, reconciles it when it is
// a bundle and then reconciles every bundle containing it
func (e *Engine) ProcessProductChange(ctx context.Context, productID string) (*ProductChangeReport, error) {
	report := &ProductChangeReport{ProductID: productID}
	cache := e.NewRunCache()
	logger := e.logger.WithField("product_id", productID)

	lp, err := cache.Load(ctx, productID)
	if err != nil {
		return report, fmt.Errorf("load product %s: %w", productID, err)
	}

	if lp == nil {
		logger.Info("Product no longer exists, dropping its relationship record")
		report.IndexUpdated, err = e.index.RemoveProduct(ctx, productID)
	} else {
		report.IndexUpdated, err = e.index.SyncProduct(ctx, lp)
	}
	if err != nil {
		logger.WithError(err).Warn("Relationship index update failed")
	}

	report.Root = e.reconciler.Reconcile(ctx, cache, productID)

	report.Propagation, err = e.propagator.Propagate(ctx, cache, productID)
	if err != nil {
		return report, fmt.Errorf("propagate from %s: %w", productID, err)
	}
	logger.WithFields(logrus.Fields{
		"root":       report.Root.Outcome,
		"propagated": len(report.Propagation.Results),
	}).Info("Product change processed")
	return report, nil
}

// ProcessOrder decrements component stock for every sold bundle, then reconciles the bundles
// containing anything whose stock moved. A failing line item does not stop the others.
func (e *Engine) ProcessOrder(ctx context.Context, items []models.LineItem) (*OrderReport, error) {
	report := &OrderReport{}
	cache := e.NewRunCache()

	var (
		roots       []string
		soldBundles []string
		seen        = make(map[string]bool)
		firstErr    error
	)
	addRoot := func(id string) {
		if !seen[id] {
			seen[id] = true
			roots = append(roots, id)
		}
	}

	for _, item := range items {
		dr, err := e.decrementer.Decrement(ctx, cache, item)
		report.Decrements = append(report.Decrements, dr)
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"product_id": item.ProductID,
				"variant_id": item.VariantID,
			}).WithError(err).Warn("Line item skipped")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if dr.Bundle {
			soldBundles = append(soldBundles, item.ProductID)
		} else {
			// The sold product's own stock moved
			addRoot(item.ProductID)
		}
		for _, id := range dr.TouchedProducts() {
			addRoot(id)
		}
	}

	cache = e.NewRunCache()
	report.Propagation = &PropagationReport{Roots: roots}
	if len(roots) > 0 {
		prop, err := e.propagator.Propagate(ctx, cache, roots...)
		if err != nil {
			return report, fmt.Errorf("propagate order: %w", err)
		}
		report.Propagation = prop
	}

	// A sold bundle none of whose stock is tracked was not reached above
	reconciled := make(map[string]bool)
	for _, id := range report.Propagation.Reconciled() {
		reconciled[id] = true
	}
	for _, id := range soldBundles {
		if reconciled[id] {
			continue
		}
		reconciled[id] = true
		report.Propagation.Results = append(report.Propagation.Results, e.reconciler.Reconcile(ctx, cache, id))
		prop, err := e.propagator.Propagate(ctx, cache, id)
		if err != nil {
			return report, fmt.Errorf("propagate from sold bundle %s: %w", id, err)
		}
		report.Propagation.Results = append(report.Propagation.Results, prop.Results...)
		report.Propagation.Cycles = append(report.Propagation.Cycles, prop.Cycles...)
	}
	return report, firstErr
}
