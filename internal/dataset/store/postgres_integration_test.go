//go:build integration

package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/suite"

	"atonsvc/internal/dataset/models"
	"atonsvc/pkg/platform/sentinel"
)

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
		`TRUNCATE dataset_content_log, dataset_content, dataset`)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) createDataset() *models.Dataset {
	dataset, err := s.store.Create(s.ctx, &models.Dataset{
		Title:    "north sea test cell",
		Geometry: orb.Polygon{orb.Ring{{0, 50}, {5, 50}, {5, 55}, {0, 55}, {0, 50}}},
	})
	s.Require().NoError(err)
	return dataset
}

func (s *PostgresStoreSuite) version(id uuid.UUID, seq int64, op models.Operation, content string) error {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return s.store.WriteVersion(s.ctx,
		&models.Content{
			DatasetUUID: id, SequenceNo: seq, GeneratedAt: now,
			Content: content, ContentLength: int64(len(content)),
		},
		&models.ContentLog{
			DatasetUUID: id, SequenceNo: seq, Operation: op, GeneratedAt: now,
			Content: content, ContentLength: int64(len(content)),
		})
}

func (s *PostgresStoreSuite) TestWriteVersionReplacesCurrentContent() {
	dataset := s.createDataset()

	s.Require().NoError(s.version(dataset.UUID, 0, models.OpCreated, "v0"))
	s.Require().NoError(s.version(dataset.UUID, 1, models.OpUpdated, "v1"))

	latest, err := s.store.LatestContent(s.ctx, dataset.UUID)
	s.Require().NoError(err)
	s.Equal(int64(1), latest.SequenceNo)
	s.Equal("v1", latest.Content)

	initial, err := s.store.InitialFor(s.ctx, dataset.UUID)
	s.Require().NoError(err)
	s.Equal("v0", initial.Content)
}

func (s *PostgresStoreSuite) TestDuplicateSequenceIsConflict() {
	dataset := s.createDataset()

	s.Require().NoError(s.version(dataset.UUID, 0, models.OpCreated, "v0"))
	err := s.version(dataset.UUID, 0, models.OpUpdated, "again")
	s.ErrorIs(err, sentinel.ErrConflict)

	// The failed transaction left nothing behind.
	latest, err := s.store.LatestContent(s.ctx, dataset.UUID)
	s.Require().NoError(err)
	s.Equal("v0", latest.Content)
}

func (s *PostgresStoreSuite) TestDeleteKeepsContentLog() {
	dataset := s.createDataset()
	s.Require().NoError(s.version(dataset.UUID, 0, models.OpCreated, "v0"))

	s.Require().NoError(s.store.Delete(s.ctx, dataset.UUID))

	_, err := s.store.FindOne(s.ctx, dataset.UUID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.LatestContent(s.ctx, dataset.UUID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	entries, err := s.store.LogsFor(s.ctx, dataset.UUID, time.Now().Add(time.Hour))
	s.Require().NoError(err)
	s.Len(entries, 1)
}

func (s *PostgresStoreSuite) TestSetCancelled() {
	dataset := s.createDataset()
	s.Require().NoError(s.store.SetCancelled(s.ctx, dataset.UUID))

	found, err := s.store.FindOne(s.ctx, dataset.UUID)
	s.Require().NoError(err)
	s.True(found.Cancelled)

	s.ErrorIs(s.store.SetCancelled(s.ctx, uuid.New()), sentinel.ErrNotFound)
}
