// Package metrics holds the Prometheus collectors of the bundle sync service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bundle_sync"

var (
	// ReconcileTotal counts bundle reconciliations.
	// Labels: outcome (unchanged, updated, reset, failed, skipped, not_bundle)
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "runs_total",
		Help:      "Bundle reconciliations by outcome",
	}, []string{"outcome"})

	// CatalogWrites counts write calls issued to the catalog.
	// Labels: kind (price, variants, inventory, adjust), status (success, error)
	CatalogWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "writes_total",
		Help:      "Catalog write calls by kind and status",
	}, []string{"kind", "status"})

	// CatalogRequestDuration measures catalog API latency.
	// Labels: operation
	CatalogRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "request_duration_seconds",
		Help:      "Catalog API call latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"operation"})

	// CatalogRetries counts retried catalog calls.
	// Labels: operation
	CatalogRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "retries_total",
		Help:      "Catalog calls retried after a transient failure",
	}, []string{"operation"})

	// PropagationBundles observes how many bundles one propagation run reconciled.
	PropagationBundles = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "propagator",
		Name:      "bundles_per_run",
		Help:      "Bundles reconciled per propagation run",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
	})

	// CyclesDetected counts containment cycles met during propagation.
	CyclesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "propagator",
		Name:      "cycles_total",
		Help:      "Containment cycles detected during propagation",
	})

	// InventoryGaps counts purchased dimensions that no component variant could absorb.
	InventoryGaps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decrementer",
		Name:      "gaps_total",
		Help:      "Order dimensions left unresolved during inventory decrement",
	})

	// Decrements counts inventory decrements issued for sold bundles.
	// Labels: status (success, error)
	Decrements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decrementer",
		Name:      "adjustments_total",
		Help:      "Component inventory adjustments issued for sold bundles",
	}, []string{"status"})

	// QueueDepth tracks pending work items.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Work items waiting in the queue",
	})

	// QueueItemDuration measures work item processing time.
	// Labels: kind (product_change, order), status (success, error, panic)
	QueueItemDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "item_duration_seconds",
		Help:      "Work item processing time in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"kind", "status"})

	// WebhooksReceived counts inbound webhook deliveries.
	// Labels: topic, result (accepted, duplicate, rejected, error)
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "received_total",
		Help:      "Inbound webhook deliveries by topic and result",
	}, []string{"topic", "result"})
)

// Status maps an error to the status label used across collectors
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
