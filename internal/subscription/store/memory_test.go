package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/suite"

	"atonsvc/internal/subscription/models"
	"atonsvc/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *MemoryStore
	ctx   context.Context
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewMemoryStore()
	s.ctx = context.Background()
}

func (s *MemoryStoreSuite) save(clientID string, search orb.Geometry, start, end *time.Time) *models.Request {
	saved, err := s.store.Save(s.ctx, &models.Request{
		ClientID:       clientID,
		PeriodStart:    start,
		PeriodEnd:      end,
		SearchGeometry: search,
	})
	s.Require().NoError(err)
	return saved
}

func (s *MemoryStoreSuite) TestSaveAssignsIdentity() {
	saved := s.save("urn:mrn:grad:org:client-a", orb.Point{1, 53}, nil, nil)
	s.NotEqual(uuid.Nil, saved.UUID)
	s.False(saved.CreatedAt.IsZero())

	found, err := s.store.FindOne(s.ctx, saved.UUID)
	s.Require().NoError(err)
	s.Equal(saved.ClientID, found.ClientID)
}

func (s *MemoryStoreSuite) TestFindByClientID() {
	saved := s.save("urn:mrn:grad:org:client-a", orb.Point{1, 53}, nil, nil)

	found, err := s.store.FindByClientID(s.ctx, "urn:mrn:grad:org:client-a")
	s.Require().NoError(err)
	s.Equal(saved.UUID, found.UUID)

	_, err = s.store.FindByClientID(s.ctx, "urn:mrn:grad:org:nobody")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestDeleteUnknown() {
	s.ErrorIs(s.store.Delete(s.ctx, uuid.New()), sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestFindMatchingFiltersByGeometryAndWindow() {
	area := orb.Polygon{orb.Ring{{0, 50}, {5, 50}, {5, 55}, {0, 55}, {0, 50}}}
	start := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(30 * 24 * time.Hour)

	inside := s.save("urn:mrn:grad:org:client-a", area, &start, &end)
	s.save("urn:mrn:grad:org:client-b", orb.Polygon{orb.Ring{{10, 10}, {11, 10}, {11, 11}, {10, 11}, {10, 10}}}, nil, nil)

	matched, err := s.store.FindMatching(s.ctx, orb.Point{1.594, 53.61}, &start, &end)
	s.Require().NoError(err)
	s.Require().Len(matched, 1)
	s.Equal(inside.UUID, matched[0].UUID)

	// Window entirely after the subscription period.
	late := end.Add(24 * time.Hour)
	matched, err = s.store.FindMatching(s.ctx, orb.Point{1.594, 53.61}, &late, nil)
	s.Require().NoError(err)
	s.Empty(matched)
}

func (s *MemoryStoreSuite) TestFindMatchingNilArgumentsUnconstrained() {
	s.save("urn:mrn:grad:org:client-a", orb.Point{1, 53}, nil, nil)
	s.save("urn:mrn:grad:org:client-b", orb.Point{2, 54}, nil, nil)

	matched, err := s.store.FindMatching(s.ctx, nil, nil, nil)
	s.Require().NoError(err)
	s.Len(matched, 2)
	s.Less(matched[0].UUID.String(), matched[1].UUID.String())
}

func (s *MemoryStoreSuite) TestCloneIsolation() {
	saved := s.save("urn:mrn:grad:org:client-a", orb.Point{1, 53}, nil, nil)
	saved.ClientID = "mutated"

	found, err := s.store.FindOne(s.ctx, saved.UUID)
	s.Require().NoError(err)
	s.Equal("urn:mrn:grad:org:client-a", found.ClientID)
}
