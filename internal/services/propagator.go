package services

import (
	"context"
	"fmt"

	"bundle-sync-service/internal/metrics"
	"bundle-sync-service/internal/repository"
	"github.com/sirupsen/logrus"
)

// PropagationReport describes one propagation run
type PropagationReport struct {
	Roots   []string
	Results []ReconcileResult
	Cycles  []string // bundles reconciled outside topological order
}

// Reconciled returns the ids of the bundles reconciled, in order
func (r *PropagationReport) Reconciled() []string {
	ids := make([]string, len(r.Results))
	for i, res := range r.Results {
		ids[i] = res.BundleID
	}
	return ids
}

// Propagator re-reconciles every bundle that transitively contains a changed product
type Propagator struct {
	store      repository.RelationshipStore
	reconciler *Reconciler
	logger     *logrus.Entry
}

// NewPropagator creates a propagator over the relationship store
func NewPropagator(store repository.RelationshipStore, reconciler *Reconciler, logger *logrus.Entry) *Propagator {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Propagator{
		store:      store,
		reconciler: reconciler,
		logger:     logger.WithField("component", "propagator"),
	}
}

// Propagate reconciles every ancestor of roots exactly once, components before their
// containers. The roots themselves are not reconciled. Bundles on a containment cycle
// cannot be ordered; they are logged and reconciled once after everything else.
func (p *Propagator) Propagate(ctx context.Context, cache *RunCache, roots ...string) (*PropagationReport, error) {
	report := &PropagationReport{Roots: roots}

	graph, err := p.discover(ctx, roots)
	if err != nil {
		return report, err
	}

	isRoot := make(map[string]bool, len(roots))
	for _, id := range roots {
		isRoot[id] = true
	}

	ordered, unordered := graph.topoSort()
	for _, id := range ordered {
		if isRoot[id] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Results = append(report.Results, p.reconciler.Reconcile(ctx, cache, id))
	}

	if len(unordered) > 0 {
		metrics.CyclesDetected.Inc()
		p.logger.WithFields(logrus.Fields{
			"roots":   roots,
			"bundles": unordered,
		}).Warn("Containment cycle detected, reconciling the cycle once")
		for _, id := range unordered {
			if isRoot[id] {
				continue
			}
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Cycles = append(report.Cycles, id)
			report.Results = append(report.Results, p.reconciler.Reconcile(ctx, cache, id))
		}
	}

	metrics.PropagationBundles.Observe(float64(len(report.Results)))
	return report, nil
}

// discover walks container edges breadth first from roots, visiting each product once
func (p *Propagator) discover(ctx context.Context, roots []string) (*containmentGraph, error) {
	g := newContainmentGraph()
	queue := make([]string, 0, len(roots))
	for _, id := range roots {
		if g.add(id) {
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		containers, err := p.store.FindContainersOf(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("find containers of %s: %w", id, err)
		}
		for _, parent := range containers {
			g.link(id, parent)
			if g.add(parent) {
				queue = append(queue, parent)
			}
		}
	}
	return g, nil
}

// containmentGraph is the discovered component -> container subgraph
type containmentGraph struct {
	nodes    []string // discovery order
	seen     map[string]bool
	edges    map[string][]string
	inDegree map[string]int
}

func newContainmentGraph() *containmentGraph {
	return &containmentGraph{
		seen:     make(map[string]bool),
		edges:    make(map[string][]string),
		inDegree: make(map[string]int),
	}
}

func (g *containmentGraph) add(id string) bool {
	if g.seen[id] {
		return false
	}
	g.seen[id] = true
	g.nodes = append(g.nodes, id)
	return true
}

func (g *containmentGraph) link(component, container string) {
	for _, existing := range g.edges[component] {
		if existing == container {
			return
		}
	}
	g.edges[component] = append(g.edges[component], container)
	g.inDegree[container]++
}

// topoSort orders nodes so each comes after all of its components (Kahn). Nodes left over
// sit on a cycle or downstream of one and are returned in discovery order.
func (g *containmentGraph) topoSort() (ordered, unordered []string) {
	remaining := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		remaining[id] = d
	}

	var ready []string
	for _, id := range g.nodes {
		if remaining[id] == 0 {
			ready = append(ready, id)
		}
	}

	done := make(map[string]bool, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, id)
		done[id] = true
		for _, parent := range g.edges[id] {
			remaining[parent]--
			if remaining[parent] == 0 {
				ready = append(ready, parent)
			}
		}
	}

	for _, id := range g.nodes {
		if !done[id] {
			unordered = append(unordered, id)
		}
	}
	return ordered, unordered
}
