// Package queue serializes change notifications for the catalog. A single worker drains a FIFO
// list, so at most one reconciliation pipeline runs at any time.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"bundle-sync-service/internal/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Kind labels what a work item does
type Kind string

const (
	KindProductChange Kind = "product_change"
	KindOrder         Kind = "order"
	KindRebuild       Kind = "rebuild_index"
)

// Handler performs the work of one item
type Handler func(ctx context.Context) error

// Completion is called once the item has finished, with the handler's error
type Completion func(err error)

// Item is one unit of queued work
type Item struct {
	ID         uuid.UUID
	Kind       Kind
	Key        string
	Handler    Handler
	Done       Completion
	EnqueuedAt time.Time
}

// Queue is a FIFO work queue drained by a single worker
type Queue struct {
	mu      sync.Mutex
	items   []*Item
	notify  chan struct{}
	running bool

	itemTimeout time.Duration
	logger      *logrus.Entry
}

// New creates a queue. itemTimeout bounds each handler; zero disables it.
func New(itemTimeout time.Duration, logger *logrus.Entry) *Queue {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Queue{
		notify:      make(chan struct{}, 1),
		itemTimeout: itemTimeout,
		logger:      logger.WithField("component", "queue"),
	}
}

// Enqueue appends work and returns immediately with the item id
func (q *Queue) Enqueue(kind Kind, key string, handler Handler, done Completion) uuid.UUID {
	item := &Item{
		ID:         uuid.New(),
		Kind:       kind,
		Key:        key,
		Handler:    handler,
		Done:       done,
		EnqueuedAt: time.Now(),
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	depth := len(q.items)
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return item.ID
}

// Len returns the number of items waiting
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Run drains the queue until ctx is cancelled. Only one Run may be active.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return fmt.Errorf("queue worker already running")
	}
	q.running = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}()

	q.logger.Info("Queue worker started")
	for {
		// Check for more work before idling
		if item := q.pop(); item != nil {
			q.process(ctx, item)
			continue
		}

		select {
		case <-ctx.Done():
			q.logger.WithField("pending", q.Len()).Info("Queue worker stopped")
			return ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *Queue) pop() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	metrics.QueueDepth.Set(float64(len(q.items)))
	return item
}

func (q *Queue) process(ctx context.Context, item *Item) {
	start := time.Now()
	logger := q.logger.WithFields(logrus.Fields{
		"item_id": item.ID.String(),
		"kind":    string(item.Kind),
		"key":     item.Key,
	})

	status := "success"
	err := q.invoke(ctx, item)
	if err != nil {
		status = "error"
		var p *PanicError
		if errors.As(err, &p) {
			status = "panic"
			logger.WithField("stack", p.Stack).Error("Queue item panicked")
		} else {
			logger.WithError(err).Warn("Queue item failed")
		}
	} else {
		logger.WithFields(logrus.Fields{
			"waited":   start.Sub(item.EnqueuedAt).String(),
			"duration": time.Since(start).String(),
		}).Debug("Queue item processed")
	}
	metrics.QueueItemDuration.WithLabelValues(string(item.Kind), status).Observe(time.Since(start).Seconds())

	if item.Done != nil {
		item.Done(err)
	}
}

func (q *Queue) invoke(ctx context.Context, item *Item) (err error) {
	if q.itemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.itemTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return item.Handler(ctx)
}

// PanicError reports a handler that panicked; the worker keeps running
type PanicError struct {
	Value interface{}
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("queue handler panicked: %v", e.Value)
}
