// Package pipeline connects the reconciler's publish/delete notifications
// to the dataset content engine and the subscription matcher.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	atonmodels "atonsvc/internal/aton/models"
	atonservice "atonsvc/internal/aton/service"
	subservice "atonsvc/internal/subscription/service"
	"atonsvc/pkg/platform/sentinel"
)

// ContentUpdater triggers a dataset content regeneration.
type ContentUpdater interface {
	RequestContentUpdate(ctx context.Context, id uuid.UUID) error
}

// Subscribers fans a record change out to matching subscriptions.
type Subscribers interface {
	HandleRecordEvent(ctx context.Context, record *atonmodels.Record, removed bool) []*subservice.Delivery
}

// Dispatcher consumes reconciler notifications from a bounded queue so the
// ingestion path never blocks on content regeneration or subscriber
// matching. A full queue sheds the notification; the content log converges
// on the next change for the affected dataset.
type Dispatcher struct {
	engine      ContentUpdater
	subscribers Subscribers
	queue       chan atonservice.Notification
	workers     int
	logger      *slog.Logger
}

type Option func(d *Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// New constructs a dispatcher. Run starts the workers.
func New(engine ContentUpdater, subscribers Subscribers, queueSize int, opts ...Option) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	d := &Dispatcher{
		engine:      engine,
		subscribers: subscribers,
		queue:       make(chan atonservice.Notification, queueSize),
		workers:     2,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish queues a reconciler notification. Never blocks; satisfies the
// reconciler's publisher contract.
func (d *Dispatcher) Publish(n atonservice.Notification) {
	select {
	case d.queue <- n:
	default:
		d.logger.Warn("notification queue full, shedding",
			"id_code", n.Record.IDCode, "operation", string(n.Op))
	}
}

// Run processes notifications until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case n := <-d.queue:
					d.dispatch(ctx, n)
				}
			}
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, n atonservice.Notification) {
	for _, id := range n.Datasets {
		err := d.engine.RequestContentUpdate(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, sentinel.ErrCancelled):
			d.logger.DebugContext(ctx, "skipped cancelled dataset", "dataset", id)
		case errors.Is(err, sentinel.ErrNotFound):
			d.logger.WarnContext(ctx, "matched dataset no longer exists", "dataset", id)
		default:
			d.logger.ErrorContext(ctx, "content update failed",
				"dataset", id, "id_code", n.Record.IDCode, "error", err)
		}
	}

	if d.subscribers != nil {
		d.subscribers.HandleRecordEvent(ctx, n.Record, n.Op == atonservice.OpDeleted)
	}
}
