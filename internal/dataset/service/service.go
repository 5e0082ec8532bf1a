// Package service implements the dataset content engine: the owner of the
// per-dataset monotonic version sequences. All content writes funnel through
// a per-UUID lock, and concurrent update requests for the same dataset
// collapse to a single regeneration pass.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/sync/singleflight"

	atonmodels "atonsvc/internal/aton/models"
	"atonsvc/internal/dataset/models"
	"atonsvc/internal/dataset/store"
	"atonsvc/internal/platform/keyedmutex"
	"atonsvc/internal/platform/metrics"
	"atonsvc/pkg/platform/sentinel"
)

// RecordSource enumerates the current AtoN records inside a geometry. The
// reconciler's store satisfies it.
type RecordSource interface {
	FindIntersecting(ctx context.Context, g orb.Geometry) ([]*atonmodels.Record, error)
}

// Serializer turns a dataset and its records into the published content
// blob. The engine treats the encoding as opaque; it only requires that the
// same inputs serialize to byte-identical output.
type Serializer interface {
	Serialize(dataset *models.Dataset, records []*atonmodels.Record) (string, error)
}

// Engine owns dataset lifecycle and content versioning.
type Engine struct {
	store      store.Store
	records    RecordSource
	serializer Serializer
	flight     singleflight.Group
	locks      *keyedmutex.KeyedMutex
	differ     *diffmatchpatch.DiffMatchPatch
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

type Option func(e *Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the wall clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New constructs the content engine.
func New(datasetStore store.Store, records RecordSource, serializer Serializer, opts ...Option) *Engine {
	e := &Engine{
		store:      datasetStore,
		records:    records,
		serializer: serializer,
		locks:      keyedmutex.New(),
		differ:     diffmatchpatch.New(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateDataset persists a new dataset and generates its sequence-0 content.
func (e *Engine) CreateDataset(ctx context.Context, dataset *models.Dataset) (*models.Dataset, error) {
	if dataset == nil || dataset.Geometry == nil {
		return nil, fmt.Errorf("dataset bounding geometry is required: %w", sentinel.ErrMalformed)
	}

	created, err := e.store.Create(ctx, dataset)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(created.UUID.String())
	defer unlock()
	if err := e.regenerateLocked(ctx, created.UUID, models.OpAuto); err != nil {
		return nil, err
	}
	return created, nil
}

// FindDataset returns one dataset by UUID.
func (e *Engine) FindDataset(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	return e.store.FindOne(ctx, id)
}

// FindDatasets returns the datasets intersecting g; nil matches all.
func (e *Engine) FindDatasets(ctx context.Context, g orb.Geometry) ([]*models.Dataset, error) {
	return e.store.FindIntersecting(ctx, g)
}

// MatchingDatasets implements the reconciler's dataset matching: the UUIDs
// of non-cancelled datasets whose bounding geometry intersects g.
func (e *Engine) MatchingDatasets(ctx context.Context, g orb.Geometry) ([]uuid.UUID, error) {
	datasets, err := e.store.FindIntersecting(ctx, g)
	if err != nil {
		return nil, err
	}
	var out []uuid.UUID
	for _, dataset := range datasets {
		if !dataset.Cancelled {
			out = append(out, dataset.UUID)
		}
	}
	return out, nil
}

// RequestContentUpdate regenerates the dataset's content and appends the
// next content log entry. Requests are single-flighted per dataset UUID:
// callers that arrive while a pass is running share its result. Returns
// sentinel.ErrCancelled for cancelled datasets.
func (e *Engine) RequestContentUpdate(ctx context.Context, id uuid.UUID) error {
	_, err, _ := e.flight.Do(id.String(), func() (any, error) {
		unlock := e.locks.Lock(id.String())
		defer unlock()
		return nil, e.regenerateLocked(ctx, id, models.OpAuto)
	})
	return err
}

// CancelDataset marks the dataset cancelled, then appends the terminal
// CANCELLED content log entry. The flag is set first: if the log append
// fails the dataset is still terminal and cannot grow further UPDATED rows.
// A second call reports sentinel.ErrCancelled.
func (e *Engine) CancelDataset(ctx context.Context, id uuid.UUID) error {
	unlock := e.locks.Lock(id.String())
	defer unlock()

	dataset, err := e.store.FindOne(ctx, id)
	if err != nil {
		return err
	}
	if dataset.Cancelled {
		return fmt.Errorf("dataset %s: %w", id, sentinel.ErrCancelled)
	}

	if err := e.store.SetCancelled(ctx, id); err != nil {
		return err
	}
	return e.regenerateLocked(ctx, id, models.OpCancelled)
}

// DeleteDataset appends a terminal DELETED content log entry and removes the
// dataset. The content log survives as the historical record.
func (e *Engine) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	unlock := e.locks.Lock(id.String())
	defer unlock()

	if err := e.regenerateLocked(ctx, id, models.OpDeleted); err != nil {
		return err
	}
	return e.store.Delete(ctx, id)
}

// LatestContent returns the dataset's current content row.
func (e *Engine) LatestContent(ctx context.Context, id uuid.UUID) (*models.Content, error) {
	return e.store.LatestContent(ctx, id)
}

// LogsFor returns log entries generated at or before the given time, most
// recent first.
func (e *Engine) LogsFor(ctx context.Context, id uuid.UUID, atOrBefore time.Time) ([]*models.ContentLog, error) {
	return e.store.LogsFor(ctx, id, atOrBefore)
}

// LogsDuring returns log entries generated in [from, to], oldest first.
func (e *Engine) LogsDuring(ctx context.Context, id uuid.UUID, from, to time.Time) ([]*models.ContentLog, error) {
	return e.store.LogsDuring(ctx, id, from, to)
}

// InitialFor returns the sequence-0 log entry.
func (e *Engine) InitialFor(ctx context.Context, id uuid.UUID) (*models.ContentLog, error) {
	return e.store.InitialFor(ctx, id)
}

// regenerateLocked runs one full regeneration pass. The caller must hold the
// per-UUID lock. The content write and log append happen in one store
// transaction, so a failure at any step leaves the previous version intact.
func (e *Engine) regenerateLocked(ctx context.Context, id uuid.UUID, op models.Operation) error {
	start := e.now()

	dataset, err := e.store.FindOne(ctx, id)
	if err != nil {
		return err
	}
	if dataset.Cancelled && op != models.OpCancelled && op != models.OpDeleted {
		return fmt.Errorf("dataset %s: %w", id, sentinel.ErrCancelled)
	}

	records, err := e.records.FindIntersecting(ctx, dataset.Geometry)
	if err != nil {
		return fmt.Errorf("enumerate dataset records: %w", err)
	}

	content, err := e.serializer.Serialize(dataset, records)
	if err != nil {
		return fmt.Errorf("serialize dataset content: %w", err)
	}

	sequenceNo := int64(0)
	previous := ""
	switch prev, err := e.store.LatestContent(ctx, id); {
	case err == nil:
		sequenceNo = prev.SequenceNo + 1
		previous = prev.Content
	case errors.Is(err, sentinel.ErrNotFound):
	default:
		return err
	}

	delta := ""
	if sequenceNo > 0 {
		patches := e.differ.PatchMake(previous, content)
		delta = e.differ.PatchToText(patches)
	}

	if op == models.OpAuto {
		if sequenceNo == 0 {
			op = models.OpCreated
		} else {
			op = models.OpUpdated
		}
	}

	generatedAt := e.now()
	newContent := &models.Content{
		DatasetUUID:   id,
		SequenceNo:    sequenceNo,
		GeneratedAt:   generatedAt,
		Content:       content,
		ContentLength: int64(len(content)),
		Delta:         delta,
		DeltaLength:   int64(len(delta)),
	}
	logEntry := &models.ContentLog{
		DatasetUUID:   id,
		SequenceNo:    sequenceNo,
		Operation:     op,
		GeneratedAt:   generatedAt,
		Content:       content,
		ContentLength: int64(len(content)),
		Delta:         delta,
		DeltaLength:   int64(len(delta)),
		Geometry:      dataset.Geometry,
	}

	if err := e.store.WriteVersion(ctx, newContent, logEntry); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Single-flight should make this impossible; surface loudly.
			e.logger.ErrorContext(ctx, "content log sequence conflict",
				"dataset", id, "sequence_no", sequenceNo, "error", err)
		}
		return err
	}

	e.metrics.ObserveRegeneration(string(op), e.now().Sub(start))
	e.logger.DebugContext(ctx, "regenerated dataset content",
		"dataset", id, "sequence_no", sequenceNo,
		"operation", string(op), "content_length", newContent.ContentLength)
	return nil
}
