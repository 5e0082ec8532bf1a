// Package service implements the AtoN reconciler: the single writer that
// applies inbound change events to the record store and fans the resulting
// publish/delete notifications out to the rest of the pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"atonsvc/internal/aton/models"
	"atonsvc/internal/aton/store"
	"atonsvc/internal/platform/keyedmutex"
	"atonsvc/internal/platform/metrics"
	"atonsvc/pkg/platform/sentinel"
)

// Operation is the hint attached to a reconciler notification.
type Operation string

const (
	OpCreated Operation = "created"
	OpUpdated Operation = "updated"
	OpDeleted Operation = "deleted"
)

// Notification is the internal publish/delete event emitted after a record
// store write succeeds. Datasets lists the UUIDs whose bounding geometry and
// time window match the record.
type Notification struct {
	Record   *models.Record
	Op       Operation
	Datasets []uuid.UUID
}

// DatasetFinder resolves the datasets affected by a record change.
type DatasetFinder interface {
	MatchingDatasets(ctx context.Context, g orb.Geometry) ([]uuid.UUID, error)
}

// Publisher receives reconciler notifications. Publication must not fail
// the triggering write; implementations absorb their own errors.
type Publisher interface {
	Publish(n Notification)
}

// Service reconciles AtoN records under per-identifier mutual exclusion:
// concurrent events for the same identifier code serialize in lock-grant
// order while unrelated identifiers proceed in parallel.
type Service struct {
	store     store.Store
	datasets  DatasetFinder
	publisher Publisher
	locks     *keyedmutex.KeyedMutex
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the wall clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New constructs the reconciler.
func New(recordStore store.Store, datasets DatasetFinder, publisher Publisher, opts ...Option) *Service {
	s := &Service{
		store:     recordStore,
		datasets:  datasets,
		publisher: publisher,
		locks:     keyedmutex.New(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert inserts or replaces the record identified by its identifier code
// and emits a publish notification to the matched datasets. Re-delivering
// the same event is idempotent: the last serialized write wins.
func (s *Service) Upsert(ctx context.Context, record *models.Record) (*models.Record, error) {
	if record == nil || record.IDCode == "" {
		return nil, fmt.Errorf("record identifier code is required: %w", sentinel.ErrMalformed)
	}
	if record.Geometry == nil {
		return nil, fmt.Errorf("record %q has no geometry: %w", record.IDCode, sentinel.ErrMalformed)
	}

	unlock := s.locks.Lock(record.IDCode)
	defer unlock()

	op := OpCreated
	if _, err := s.store.FindByIDCode(ctx, record.IDCode); err == nil {
		op = OpUpdated
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		s.countReconcileError("store")
		return nil, err
	}

	saved, err := s.store.Save(ctx, record)
	if err != nil {
		s.countReconcileError("store")
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordsUpserted.Inc()
	}
	s.logger.DebugContext(ctx, "reconciled aton record",
		"id_code", saved.IDCode, "operation", string(op))

	s.publish(ctx, Notification{
		Record:   saved,
		Op:       op,
		Datasets: s.matchDatasets(ctx, saved),
	})
	return saved, nil
}

// Delete removes the record identified by idCode and emits a deletion
// notification with withdrawal semantics. Returns sentinel.ErrNotFound when
// the identifier is unknown; the caller decides whether to retry or skip.
func (s *Service) Delete(ctx context.Context, idCode string) error {
	if idCode == "" {
		return fmt.Errorf("identifier code is required: %w", sentinel.ErrMalformed)
	}

	unlock := s.locks.Lock(idCode)
	defer unlock()

	record, err := s.store.FindByIDCode(ctx, idCode)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.countReconcileError("not_found")
		} else {
			s.countReconcileError("store")
		}
		return err
	}

	if err := s.store.Delete(ctx, idCode); err != nil {
		s.countReconcileError("store")
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordsDeleted.Inc()
	}
	s.logger.DebugContext(ctx, "deleted aton record", "id_code", idCode)

	s.publish(ctx, Notification{
		Record:   record,
		Op:       OpDeleted,
		Datasets: s.matchDatasets(ctx, record),
	})
	return nil
}

// matchDatasets applies the dataset matching rule: the record geometry must
// intersect the dataset bounding geometry and the record validity period
// must contain the dataset's as-of time, which is the reconciliation
// instant. Matching failures are logged, not propagated; the record write
// already succeeded.
func (s *Service) matchDatasets(ctx context.Context, record *models.Record) []uuid.UUID {
	if s.datasets == nil || !record.ValidAt(s.now()) {
		return nil
	}

	matched, err := s.datasets.MatchingDatasets(ctx, record.Geometry)
	if err != nil {
		s.logger.ErrorContext(ctx, "dataset matching failed",
			"id_code", record.IDCode, "error", err)
		return nil
	}
	return matched
}

func (s *Service) publish(ctx context.Context, n Notification) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(n)
}

func (s *Service) countReconcileError(class string) {
	if s.metrics != nil {
		s.metrics.ReconcileErrors.WithLabelValues(class).Inc()
	}
}
