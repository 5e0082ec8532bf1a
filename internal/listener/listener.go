// Package listener consumes change events from the external spatial store,
// filters them against the service's area of interest, decodes feature
// payloads into AtoN records, and forwards them to the reconciler.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/paulmach/orb"

	"atonsvc/internal/aton/models"
	"atonsvc/internal/geo"
	"atonsvc/internal/platform/metrics"
	"atonsvc/pkg/platform/sentinel"
)

// EventKind discriminates inbound change events.
type EventKind string

const (
	EventChanged EventKind = "changed"
	EventRemoved EventKind = "removed"
)

// Event is one inbound change notification. Changed events carry a feature
// payload; removed events carry the business identifiers extracted from the
// source's feature-id filter.
type Event struct {
	Kind    EventKind
	Payload []byte
	IDs     []string
}

// Handler processes one inbound event. The source may invoke it from many
// delivery goroutines concurrently.
type Handler func(ctx context.Context, event Event)

// Source is the external event stream the listener registers with.
type Source interface {
	Register(ctx context.Context, handler Handler) error
	Deregister() error
}

// Reconciler is the downstream the listener feeds decoded records into.
type Reconciler interface {
	Upsert(ctx context.Context, record *models.Record) (*models.Record, error)
	Delete(ctx context.Context, idCode string) error
}

// Listener scopes an event source to an area of interest. An empty area
// matches nothing; removal events bypass the filter because the record may
// have left the area between versions.
type Listener struct {
	reconciler Reconciler
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu     sync.Mutex
	aoi    orb.Geometry
	source Source
}

type Option func(l *Listener)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) { l.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Listener) { l.metrics = m }
}

// New constructs a listener feeding the given reconciler.
func New(reconciler Reconciler, opts ...Option) *Listener {
	l := &Listener{
		reconciler: reconciler,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Init registers the listener with the event source, scoped to the area of
// interest. Calling Init on an already initialized listener replaces the
// previous registration.
func (l *Listener) Init(ctx context.Context, areaOfInterest orb.Geometry, source Source) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.source != nil {
		if err := l.source.Deregister(); err != nil {
			l.logger.Warn("deregister previous event source failed", "error", err)
		}
		l.source = nil
	}

	if err := source.Register(ctx, l.HandleEvent); err != nil {
		return err
	}
	l.aoi = areaOfInterest
	l.source = source
	l.logger.InfoContext(ctx, "listener registered",
		"area_of_interest", geo.MarshalWKT(areaOfInterest))
	return nil
}

// Destroy deregisters from the event source. Safe to call repeatedly and
// without a prior Init.
func (l *Listener) Destroy() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.source == nil {
		return
	}
	if err := l.source.Deregister(); err != nil {
		l.logger.Warn("deregister event source failed", "error", err)
	}
	l.source = nil
	l.logger.Info("listener deregistered")
}

// HandleEvent processes one inbound event. Malformed payloads are logged
// and dropped; they never fail the listener.
func (l *Listener) HandleEvent(ctx context.Context, event Event) {
	switch event.Kind {
	case EventChanged:
		l.countReceived("changed")
		l.handleChanged(ctx, event)
	case EventRemoved:
		l.countReceived("removed")
		l.handleRemoved(ctx, event)
	default:
		l.drop(ctx, "malformed", "unknown event kind", "kind", string(event.Kind))
	}
}

func (l *Listener) handleChanged(ctx context.Context, event Event) {
	records, err := DecodeRecords(event.Payload)
	if err != nil {
		l.drop(ctx, "malformed", "undecodable change payload", "error", err)
		return
	}

	aoi := l.areaOfInterest()
	for _, record := range records {
		if aoi == nil || geo.IsEmpty(aoi) || !geo.Intersects(record.Geometry, aoi) {
			l.drop(ctx, "outside_area", "record outside area of interest",
				"id_code", record.IDCode)
			continue
		}
		if _, err := l.reconciler.Upsert(ctx, record); err != nil {
			if errors.Is(err, sentinel.ErrMalformed) {
				l.drop(ctx, "malformed", "record rejected by reconciler",
					"id_code", record.IDCode, "error", err)
				continue
			}
			l.logger.ErrorContext(ctx, "upsert failed",
				"id_code", record.IDCode, "error", err)
		}
	}
}

func (l *Listener) handleRemoved(ctx context.Context, event Event) {
	for _, idCode := range event.IDs {
		if err := l.reconciler.Delete(ctx, idCode); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				l.logger.WarnContext(ctx, "removal for unknown record",
					"id_code", idCode)
				continue
			}
			l.logger.ErrorContext(ctx, "delete failed",
				"id_code", idCode, "error", err)
		}
	}
}

func (l *Listener) areaOfInterest() orb.Geometry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.aoi
}

func (l *Listener) drop(ctx context.Context, reason, msg string, args ...any) {
	if l.metrics != nil {
		l.metrics.EventsDropped.WithLabelValues(reason).Inc()
	}
	l.logger.DebugContext(ctx, msg, args...)
}

func (l *Listener) countReceived(kind string) {
	if l.metrics != nil {
		l.metrics.EventsReceived.WithLabelValues(kind).Inc()
	}
}
