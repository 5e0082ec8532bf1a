//go:build integration

package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/suite"

	"atonsvc/internal/aton/models"
	"atonsvc/pkg/platform/sentinel"
)

// Runs against the database named by ATON_TEST_DATABASE_URL; skipped when
// unset.
type PostgresStoreSuite struct {
	suite.Suite
	db    *sql.DB
	store *PostgresStore
	ctx   context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	dsn := os.Getenv("ATON_TEST_DATABASE_URL")
	if dsn == "" {
		s.T().Skip("ATON_TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("postgres", dsn)
	s.Require().NoError(err)
	s.Require().NoError(db.Ping())
	s.db = db
	s.ctx = context.Background()

	schema, err := os.ReadFile(filepath.Join("..", "..", "..", "migrations", "001_init.sql"))
	s.Require().NoError(err)
	_, err = db.ExecContext(s.ctx, string(schema))
	s.Require().NoError(err)

	s.store = NewPostgresStore(db)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.db.ExecContext(s.ctx,
		`TRUNCATE aton_aggregation, aton_association, aton_record`)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) testRecord(idCode string) *models.Record {
	from := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	return &models.Record{
		IDCode:      idCode,
		AtonNumber:  "b1",
		Geometry:    orb.Point{1.594, 53.61},
		ValidFrom:   &from,
		Description: "port lateral mark",
		Payload:     models.BuoyPayload{Variant: models.KindBuoyLateral, Colour: "red"},
		Aggregations: []models.Grouping{
			models.NewGrouping(models.CategoryLeadingLine, "peer-b", "peer-a"),
		},
		Associations: []models.Grouping{
			models.NewGrouping(models.CategoryDangerMarking, "peer-c"),
		},
	}
}

func (s *PostgresStoreSuite) TestSaveAndFindRoundTrip() {
	_, err := s.store.Save(s.ctx, s.testRecord("urn:mrn:grad:aton:test:b1"))
	s.Require().NoError(err)

	found, err := s.store.FindByIDCode(s.ctx, "urn:mrn:grad:aton:test:b1")
	s.Require().NoError(err)
	s.Equal("b1", found.AtonNumber)
	s.Equal(orb.Point{1.594, 53.61}, found.Geometry)
	s.Equal(models.KindBuoyLateral, found.Kind())
	s.Require().Len(found.Aggregations, 1)
	s.Equal([]string{"peer-a", "peer-b"}, found.Aggregations[0].Peers)
	s.Require().Len(found.Associations, 1)
	s.Equal(models.CategoryDangerMarking, found.Associations[0].Category)
}

func (s *PostgresStoreSuite) TestUpsertIsIdempotent() {
	record := s.testRecord("urn:mrn:grad:aton:test:b1")
	_, err := s.store.Save(s.ctx, record)
	s.Require().NoError(err)

	record.Description = "relocated"
	record.Aggregations = nil
	_, err = s.store.Save(s.ctx, record)
	s.Require().NoError(err)

	count, err := s.store.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, count)

	found, err := s.store.FindByIDCode(s.ctx, record.IDCode)
	s.Require().NoError(err)
	s.Equal("relocated", found.Description)
	s.Empty(found.Aggregations)
}

func (s *PostgresStoreSuite) TestDeleteCascadesGroupings() {
	_, err := s.store.Save(s.ctx, s.testRecord("urn:mrn:grad:aton:test:b1"))
	s.Require().NoError(err)

	s.Require().NoError(s.store.Delete(s.ctx, "urn:mrn:grad:aton:test:b1"))

	var groupings int
	s.Require().NoError(s.db.QueryRowContext(s.ctx,
		`SELECT count(*) FROM aton_aggregation`).Scan(&groupings))
	s.Zero(groupings)

	s.ErrorIs(s.store.Delete(s.ctx, "urn:mrn:grad:aton:test:b1"), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestFindIntersecting() {
	_, err := s.store.Save(s.ctx, s.testRecord("urn:mrn:grad:aton:test:inside"))
	s.Require().NoError(err)

	far := s.testRecord("urn:mrn:grad:aton:test:far")
	far.Geometry = orb.Point{10, 10}
	_, err = s.store.Save(s.ctx, far)
	s.Require().NoError(err)

	area := orb.Polygon{orb.Ring{{0, 50}, {5, 50}, {5, 55}, {0, 55}, {0, 50}}}
	records, err := s.store.FindIntersecting(s.ctx, area)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal("urn:mrn:grad:aton:test:inside", records[0].IDCode)
}
