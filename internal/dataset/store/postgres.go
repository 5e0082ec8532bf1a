package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/paulmach/orb"

	"atonsvc/internal/dataset/models"
	"atonsvc/internal/geo"
	"atonsvc/pkg/platform/sentinel"
	"atonsvc/pkg/platform/tx"
)

// PostgresStore persists datasets and their content log in PostgreSQL. The
// unique (dataset_uuid, sequence_no) index backs the no-gaps invariant: a
// collision surfaces as sentinel.ErrConflict, which the engine treats as a
// bug in the single-flight discipline.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed dataset store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) q(ctx context.Context) querier {
	if dbtx, ok := tx.From(ctx); ok {
		return dbtx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, dataset *models.Dataset) (*models.Dataset, error) {
	d := dataset.Clone()
	if d.UUID == uuid.Nil {
		d.UUID = uuid.New()
	}
	bound := d.Geometry.Bound()

	err := s.q(ctx).QueryRowContext(ctx, `
		INSERT INTO dataset (uuid, title, geometry_wkt, min_lon, min_lat, max_lon, max_lat, cancelled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, now(), now())
		RETURNING created_at, updated_at`,
		d.UUID, d.Title, geo.MarshalWKT(d.Geometry),
		bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1],
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert dataset: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) FindOne(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	dataset, err := scanDataset(s.q(ctx).QueryRowContext(ctx, `
		SELECT uuid, title, geometry_wkt, cancelled, created_at, updated_at
		FROM dataset WHERE uuid = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("dataset %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find dataset: %w", err)
	}
	return dataset, nil
}

func (s *PostgresStore) FindIntersecting(ctx context.Context, g orb.Geometry) ([]*models.Dataset, error) {
	query := `
		SELECT uuid, title, geometry_wkt, cancelled, created_at, updated_at
		FROM dataset`
	var args []any
	if g != nil {
		bound := g.Bound()
		query += ` WHERE max_lon >= $1 AND min_lon <= $2 AND max_lat >= $3 AND min_lat <= $4`
		args = append(args, bound.Min[0], bound.Max[0], bound.Min[1], bound.Max[1])
	}
	query += ` ORDER BY uuid`

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query datasets: %w", err)
	}
	defer rows.Close()

	var out []*models.Dataset
	for rows.Next() {
		dataset, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		if g != nil && !geo.Intersects(dataset.Geometry, g) {
			continue
		}
		out = append(out, dataset)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetCancelled(ctx context.Context, id uuid.UUID) error {
	result, err := s.q(ctx).ExecContext(ctx,
		`UPDATE dataset SET cancelled = true, updated_at = now() WHERE uuid = $1`, id)
	if err != nil {
		return fmt.Errorf("cancel dataset: %w", err)
	}
	return requireAffected(result, id)
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		if _, err := s.q(ctx).ExecContext(ctx,
			`DELETE FROM dataset_content WHERE dataset_uuid = $1`, id); err != nil {
			return fmt.Errorf("delete dataset content: %w", err)
		}
		// dataset_content_log rows stay: they are the historical truth.
		result, err := s.q(ctx).ExecContext(ctx,
			`DELETE FROM dataset WHERE uuid = $1`, id)
		if err != nil {
			return fmt.Errorf("delete dataset: %w", err)
		}
		return requireAffected(result, id)
	})
}

func (s *PostgresStore) LatestContent(ctx context.Context, id uuid.UUID) (*models.Content, error) {
	var content models.Content
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT dataset_uuid, sequence_no, generated_at, content, content_length, delta, delta_length
		FROM dataset_content WHERE dataset_uuid = $1`, id,
	).Scan(&content.DatasetUUID, &content.SequenceNo, &content.GeneratedAt,
		&content.Content, &content.ContentLength, &content.Delta, &content.DeltaLength)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("dataset content %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find dataset content: %w", err)
	}
	return &content, nil
}

func (s *PostgresStore) WriteVersion(ctx context.Context, content *models.Content, logEntry *models.ContentLog) error {
	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		_, err := s.q(ctx).ExecContext(ctx, `
			INSERT INTO dataset_content (dataset_uuid, sequence_no, generated_at, content, content_length, delta, delta_length)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (dataset_uuid) DO UPDATE SET
				sequence_no = EXCLUDED.sequence_no,
				generated_at = EXCLUDED.generated_at,
				content = EXCLUDED.content,
				content_length = EXCLUDED.content_length,
				delta = EXCLUDED.delta,
				delta_length = EXCLUDED.delta_length`,
			content.DatasetUUID, content.SequenceNo, content.GeneratedAt,
			content.Content, content.ContentLength, content.Delta, content.DeltaLength)
		if err != nil {
			return fmt.Errorf("write dataset content: %w", err)
		}

		_, err = s.q(ctx).ExecContext(ctx, `
			INSERT INTO dataset_content_log (dataset_uuid, sequence_no, operation, generated_at, content, content_length, delta, delta_length, geometry_wkt)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			logEntry.DatasetUUID, logEntry.SequenceNo, string(logEntry.Operation),
			logEntry.GeneratedAt, logEntry.Content, logEntry.ContentLength,
			logEntry.Delta, logEntry.DeltaLength, geo.MarshalWKT(logEntry.Geometry))
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
				return fmt.Errorf("content log %s sequence %d already written: %w",
					logEntry.DatasetUUID, logEntry.SequenceNo, sentinel.ErrConflict)
			}
			return fmt.Errorf("append content log: %w", err)
		}

		_, err = s.q(ctx).ExecContext(ctx,
			`UPDATE dataset SET updated_at = $2 WHERE uuid = $1`,
			content.DatasetUUID, content.GeneratedAt)
		if err != nil {
			return fmt.Errorf("touch dataset: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) LogsFor(ctx context.Context, id uuid.UUID, atOrBefore time.Time) ([]*models.ContentLog, error) {
	return s.queryLogs(ctx, `
		SELECT id, dataset_uuid, sequence_no, operation, generated_at, content, content_length, delta, delta_length, geometry_wkt
		FROM dataset_content_log
		WHERE dataset_uuid = $1 AND generated_at <= $2
		ORDER BY sequence_no DESC`, id, atOrBefore)
}

func (s *PostgresStore) LogsDuring(ctx context.Context, id uuid.UUID, from, to time.Time) ([]*models.ContentLog, error) {
	return s.queryLogs(ctx, `
		SELECT id, dataset_uuid, sequence_no, operation, generated_at, content, content_length, delta, delta_length, geometry_wkt
		FROM dataset_content_log
		WHERE dataset_uuid = $1 AND generated_at >= $2 AND generated_at <= $3
		ORDER BY sequence_no ASC`, id, from, to)
}

func (s *PostgresStore) InitialFor(ctx context.Context, id uuid.UUID) (*models.ContentLog, error) {
	entries, err := s.queryLogs(ctx, `
		SELECT id, dataset_uuid, sequence_no, operation, generated_at, content, content_length, delta, delta_length, geometry_wkt
		FROM dataset_content_log
		WHERE dataset_uuid = $1 AND sequence_no = 0`, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("initial content log %s: %w", id, sentinel.ErrNotFound)
	}
	return entries[0], nil
}

func (s *PostgresStore) queryLogs(ctx context.Context, query string, args ...any) ([]*models.ContentLog, error) {
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query content log: %w", err)
	}
	defer rows.Close()

	var out []*models.ContentLog
	for rows.Next() {
		var entry models.ContentLog
		var operation, geometryWKT string
		if err := rows.Scan(&entry.ID, &entry.DatasetUUID, &entry.SequenceNo,
			&operation, &entry.GeneratedAt, &entry.Content, &entry.ContentLength,
			&entry.Delta, &entry.DeltaLength, &geometryWKT); err != nil {
			return nil, fmt.Errorf("scan content log: %w", err)
		}
		entry.Operation = models.Operation(operation)
		if geometryWKT != "" {
			if entry.Geometry, err = geo.ParseWKT(geometryWKT); err != nil {
				return nil, fmt.Errorf("parse content log geometry: %w", err)
			}
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}

func requireAffected(result sql.Result, id uuid.UUID) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("dataset %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(row rowScanner) (*models.Dataset, error) {
	var dataset models.Dataset
	var geometryWKT string
	if err := row.Scan(&dataset.UUID, &dataset.Title, &geometryWKT,
		&dataset.Cancelled, &dataset.CreatedAt, &dataset.UpdatedAt); err != nil {
		return nil, err
	}
	geometry, err := geo.ParseWKT(geometryWKT)
	if err != nil {
		return nil, fmt.Errorf("parse stored geometry: %w", err)
	}
	dataset.Geometry = geometry
	return &dataset, nil
}
