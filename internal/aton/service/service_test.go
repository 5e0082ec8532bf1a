package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/suite"

	"atonsvc/internal/aton/models"
	"atonsvc/internal/aton/store"
	"atonsvc/internal/geo"
	"atonsvc/pkg/platform/sentinel"
)

type capturePublisher struct {
	mu            sync.Mutex
	notifications []Notification
}

func (p *capturePublisher) Publish(n Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, n)
}

func (p *capturePublisher) all() []Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Notification(nil), p.notifications...)
}

type staticDatasets struct {
	uuid     uuid.UUID
	geometry orb.Geometry
}

func (d *staticDatasets) MatchingDatasets(ctx context.Context, g orb.Geometry) ([]uuid.UUID, error) {
	if geo.Intersects(d.geometry, g) {
		return []uuid.UUID{d.uuid}, nil
	}
	return nil, nil
}

type ReconcilerSuite struct {
	suite.Suite
	store     *store.MemoryStore
	publisher *capturePublisher
	datasets  *staticDatasets
	svc       *Service
	ctx       context.Context
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerSuite))
}

func (s *ReconcilerSuite) SetupTest() {
	s.store = store.NewMemoryStore()
	s.publisher = &capturePublisher{}
	s.datasets = &staticDatasets{
		uuid: uuid.New(),
		geometry: orb.Polygon{orb.Ring{
			{0, 50}, {5, 50}, {5, 55}, {0, 55}, {0, 50},
		}},
	}
	s.svc = New(s.store, s.datasets, s.publisher)
	s.ctx = context.Background()
}

func (s *ReconcilerSuite) record(idCode string, point orb.Point) *models.Record {
	return &models.Record{
		IDCode:     idCode,
		AtonNumber: idCode,
		Geometry:   point,
		Payload:    models.VirtualAISPayload{MMSI: "992351000"},
	}
}

func (s *ReconcilerSuite) TestUpsertEmitsCreatedThenUpdated() {
	record := s.record("urn:mrn:grad:aton:test:b1", orb.Point{1.594, 53.61})

	_, err := s.svc.Upsert(s.ctx, record)
	s.Require().NoError(err)
	_, err = s.svc.Upsert(s.ctx, record)
	s.Require().NoError(err)

	count, err := s.store.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, count)

	notifications := s.publisher.all()
	s.Require().Len(notifications, 2)
	s.Equal(OpCreated, notifications[0].Op)
	s.Equal(OpUpdated, notifications[1].Op)
	s.Equal([]uuid.UUID{s.datasets.uuid}, notifications[0].Datasets)
}

func (s *ReconcilerSuite) TestUpsertOutsideDatasetMatchesNothing() {
	record := s.record("urn:mrn:grad:aton:test:far", orb.Point{30, 10})

	_, err := s.svc.Upsert(s.ctx, record)
	s.Require().NoError(err)

	notifications := s.publisher.all()
	s.Require().Len(notifications, 1)
	s.Empty(notifications[0].Datasets)
}

func (s *ReconcilerSuite) TestExpiredRecordMatchesNoDatasets() {
	expired := time.Now().Add(-24 * time.Hour)
	record := s.record("urn:mrn:grad:aton:test:old", orb.Point{1.594, 53.61})
	record.ValidTo = &expired

	_, err := s.svc.Upsert(s.ctx, record)
	s.Require().NoError(err)

	notifications := s.publisher.all()
	s.Require().Len(notifications, 1)
	s.Empty(notifications[0].Datasets)
}

func (s *ReconcilerSuite) TestUpsertRejectsMalformedRecords() {
	_, err := s.svc.Upsert(s.ctx, nil)
	s.ErrorIs(err, sentinel.ErrMalformed)

	_, err = s.svc.Upsert(s.ctx, &models.Record{IDCode: "urn:mrn:grad:aton:test:x"})
	s.ErrorIs(err, sentinel.ErrMalformed)

	s.Empty(s.publisher.all())
}

func (s *ReconcilerSuite) TestDeleteUnknownIdentifier() {
	err := s.svc.Delete(s.ctx, "urn:mrn:grad:aton:test:missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.Empty(s.publisher.all())
}

func (s *ReconcilerSuite) TestDeleteEmitsWithdrawal() {
	record := s.record("urn:mrn:grad:aton:test:b2", orb.Point{1.0, 53.0})
	_, err := s.svc.Upsert(s.ctx, record)
	s.Require().NoError(err)

	s.Require().NoError(s.svc.Delete(s.ctx, record.IDCode))

	_, err = s.store.FindByIDCode(s.ctx, record.IDCode)
	s.ErrorIs(err, sentinel.ErrNotFound)

	notifications := s.publisher.all()
	s.Require().Len(notifications, 2)
	s.Equal(OpDeleted, notifications[1].Op)
	s.Equal(record.IDCode, notifications[1].Record.IDCode)
	s.Equal([]uuid.UUID{s.datasets.uuid}, notifications[1].Datasets)
}

func (s *ReconcilerSuite) TestConcurrentUpsertsOfDistinctKeys() {
	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record := s.record(uuid.NewString(), orb.Point{1.0 + float64(i)*0.01, 53.0})
			_, err := s.svc.Upsert(s.ctx, record)
			s.NoError(err)
		}(i)
	}
	wg.Wait()

	count, err := s.store.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(n, count)
	s.Len(s.publisher.all(), n)
}

func (s *ReconcilerSuite) TestConcurrentUpsertsOfSameKeySerialize() {
	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record := s.record("urn:mrn:grad:aton:test:same", orb.Point{1.0, 53.0})
			_, err := s.svc.Upsert(s.ctx, record)
			s.NoError(err)
		}()
	}
	wg.Wait()

	count, err := s.store.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, count)

	// Exactly one writer saw an empty store; everyone after it updated.
	created := 0
	for _, n := range s.publisher.all() {
		if n.Op == OpCreated {
			created++
		}
	}
	s.Equal(1, created)
}
