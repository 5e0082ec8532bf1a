// Package service implements the subscription matcher: it registers
// standing client interests, derives the concrete geometry each one is
// matched against, and fans record change events out to the subscribers
// whose geometry and validity window cover them.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	atonmodels "atonsvc/internal/aton/models"
	dsmodels "atonsvc/internal/dataset/models"
	"atonsvc/internal/geo"
	"atonsvc/internal/platform/metrics"
	"atonsvc/internal/secom"
	"atonsvc/internal/subscription/models"
	"atonsvc/internal/subscription/store"
	"atonsvc/pkg/platform/sentinel"
)

// DatasetResolver looks up the dataset a subscription references.
type DatasetResolver interface {
	FindDataset(ctx context.Context, id uuid.UUID) (*dsmodels.Dataset, error)
}

// LocodeResolver maps a UN/LOCODE to the port's approximate coverage
// geometry.
type LocodeResolver interface {
	Resolve(code string) (orb.Geometry, error)
}

// Directory resolves a client MRN to its delivery endpoint URI.
type Directory interface {
	ResolveEndpoint(ctx context.Context, mrn string) (string, error)
}

// DeliveryClient pushes a signed payload to a subscriber endpoint.
type DeliveryClient interface {
	Deliver(ctx context.Context, endpoint string, envelope secom.SignedEnvelope) error
}

// Signer wraps outbound content in a signed envelope.
type Signer interface {
	Sign(content string) (secom.SignedEnvelope, error)
}

// Serializer encodes the record set pushed to a subscriber.
type Serializer interface {
	SerializeRecords(records []*atonmodels.Record) (string, error)
}

// Service manages subscription registration and record-change fan-out.
// Notification delivery is asynchronous and never fails the operation that
// triggered it.
type Service struct {
	store      store.Store
	datasets   DatasetResolver
	locodes    LocodeResolver
	serializer Serializer
	notifier   *Notifier
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
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

// New constructs the subscription service. The notifier owns the delivery
// workers; callers run it via Notifier().Run.
func New(subscriptionStore store.Store, datasets DatasetResolver, locodes LocodeResolver,
	serializer Serializer, notifier *Notifier, opts ...Option) *Service {
	s := &Service{
		store:      subscriptionStore,
		datasets:   datasets,
		locodes:    locodes,
		serializer: serializer,
		notifier:   notifier,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier != nil {
		s.notifier.logger = s.logger
		s.notifier.metrics = s.metrics
	}
	return s
}

// Notifier exposes the delivery worker pool for lifecycle management.
func (s *Service) Notifier() *Notifier {
	return s.notifier
}

// Register stores a new subscription for the client. A client holds at most
// one subscription; registering again supersedes the previous one. The
// search geometry is derived once here: an explicit geometry wins, then the
// referenced dataset's bounding geometry, then the UN/LOCODE port area, and
// with no spatial filter at all the subscription covers the whole world.
func (s *Service) Register(ctx context.Context, request *models.Request) (*models.Request, error) {
	if request == nil || request.ClientID == "" {
		return nil, fmt.Errorf("subscriber identity is required: %w", sentinel.ErrMalformed)
	}

	searchGeometry, err := s.deriveSearchGeometry(ctx, request)
	if err != nil {
		return nil, err
	}

	r := request.Clone()
	r.UUID = uuid.Nil
	r.SearchGeometry = searchGeometry

	// Supersede the client's previous subscription, if any. The superseded
	// subscriber is told its old subscription is gone, same as an explicit
	// unsubscribe.
	if previous, err := s.store.FindByClientID(ctx, r.ClientID); err == nil {
		if err := s.store.Delete(ctx, previous.UUID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, err
		}
		s.logger.InfoContext(ctx, "superseded subscription",
			"client_id", r.ClientID, "previous_uuid", previous.UUID)
		s.enqueueEvent(previous, models.EventRemoved)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}

	saved, err := s.store.Save(ctx, r)
	if err != nil {
		return nil, err
	}

	s.updateSubscriptionGauge(ctx)
	s.logger.InfoContext(ctx, "registered subscription",
		"uuid", saved.UUID, "client_id", saved.ClientID)

	s.enqueueEvent(saved, models.EventCreated)
	return saved, nil
}

// Unregister removes a subscription. Unknown UUIDs surface
// sentinel.ErrNotFound.
func (s *Service) Unregister(ctx context.Context, id uuid.UUID) error {
	request, err := s.store.FindOne(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.updateSubscriptionGauge(ctx)
	s.logger.InfoContext(ctx, "removed subscription",
		"uuid", id, "client_id", request.ClientID)

	s.enqueueEvent(request, models.EventRemoved)
	return nil
}

// FindSubscription returns a subscription by UUID.
func (s *Service) FindSubscription(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	return s.store.FindOne(ctx, id)
}

// FindMatching returns the subscriptions whose search geometry intersects g
// and whose window overlaps [from, to]. Nil arguments are unconstrained.
func (s *Service) FindMatching(ctx context.Context, g orb.Geometry, from, to *time.Time) ([]*models.Request, error) {
	return s.store.FindMatching(ctx, g, from, to)
}

// HandleRecordEvent fans one record change out to the matching subscribers.
// Matching intersects the record geometry with each subscription's search
// geometry and the record validity period with the subscription window.
// Failures are absorbed here: the triggering ingestion already succeeded.
func (s *Service) HandleRecordEvent(ctx context.Context, record *atonmodels.Record, removed bool) []*Delivery {
	if record == nil || record.Geometry == nil || s.notifier == nil {
		return nil
	}

	matched, err := s.store.FindMatching(ctx, record.Geometry, record.ValidFrom, record.ValidTo)
	if err != nil {
		s.logger.ErrorContext(ctx, "subscription matching failed",
			"id_code", record.IDCode, "error", err)
		return nil
	}
	if len(matched) == 0 {
		return nil
	}

	content, err := s.serializer.SerializeRecords([]*atonmodels.Record{record})
	if err != nil {
		s.logger.ErrorContext(ctx, "serialize record for push failed",
			"id_code", record.IDCode, "error", err)
		return nil
	}

	deliveries := make([]*Delivery, 0, len(matched))
	for _, subscriber := range matched {
		deliveries = append(deliveries, s.notifier.EnqueuePush(subscriber, content, removed))
	}
	s.logger.DebugContext(ctx, "queued record notifications",
		"id_code", record.IDCode, "subscribers", len(matched), "removed", removed)
	return deliveries
}

func (s *Service) deriveSearchGeometry(ctx context.Context, request *models.Request) (orb.Geometry, error) {
	if request.Geometry != nil && !geo.IsEmpty(request.Geometry) {
		return orb.Clone(request.Geometry), nil
	}

	if request.DataReference != nil {
		dataset, err := s.datasets.FindDataset(ctx, *request.DataReference)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, fmt.Errorf("referenced dataset %s: %w", *request.DataReference, sentinel.ErrMalformed)
			}
			return nil, err
		}
		return orb.Clone(dataset.Geometry), nil
	}

	if request.UNLOCODE != "" {
		g, err := s.locodes.Resolve(request.UNLOCODE)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, fmt.Errorf("unknown UN/LOCODE %q: %w", request.UNLOCODE, sentinel.ErrMalformed)
			}
			return nil, err
		}
		return g, nil
	}

	return geo.WholeWorld(), nil
}

// enqueueEvent hands a lifecycle notification to the delivery pool. The
// notifier is optional; without one the event is simply not sent.
func (s *Service) enqueueEvent(request *models.Request, event models.Event) {
	if s.notifier == nil {
		return
	}
	s.notifier.EnqueueEvent(request, event)
}

func (s *Service) updateSubscriptionGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	count, err := s.store.Count(ctx)
	if err != nil {
		return
	}
	s.metrics.ActiveSubscriptions.Set(float64(count))
}
