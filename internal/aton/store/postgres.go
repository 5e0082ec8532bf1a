package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/paulmach/orb"

	"atonsvc/internal/aton/models"
	"atonsvc/internal/geo"
	"atonsvc/pkg/platform/sentinel"
	"atonsvc/pkg/platform/tx"
)

// PostgresStore persists AtoN records in PostgreSQL. Geometries are stored
// as WKT with a denormalized bounding box for the intersection prefilter;
// the exact inclusive intersection test runs in Go so the store works
// without PostGIS. The peer graph lives in two join tables keyed by the
// business identifier.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed record store.
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

func (s *PostgresStore) FindByIDCode(ctx context.Context, idCode string) (*models.Record, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id_code, aton_number, geometry_wkt, valid_from, valid_to, description, payload
		FROM aton_record
		WHERE id_code = $1`, idCode)

	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("record %q: %w", idCode, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find record: %w", err)
	}

	if err := s.loadGroupings(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *PostgresStore) Save(ctx context.Context, record *models.Record) (*models.Record, error) {
	if record == nil || record.IDCode == "" {
		return nil, fmt.Errorf("record identifier code is required: %w", sentinel.ErrMalformed)
	}

	payload, err := marshalPayload(record.Payload)
	if err != nil {
		return nil, err
	}
	bound := record.Geometry.Bound()

	err = tx.Run(ctx, s.db, func(ctx context.Context) error {
		_, err := s.q(ctx).ExecContext(ctx, `
			INSERT INTO aton_record (
				id_code, aton_number, geometry_wkt, valid_from, valid_to,
				description, payload, min_lon, min_lat, max_lon, max_lat, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
			ON CONFLICT (id_code) DO UPDATE SET
				aton_number = EXCLUDED.aton_number,
				geometry_wkt = EXCLUDED.geometry_wkt,
				valid_from = EXCLUDED.valid_from,
				valid_to = EXCLUDED.valid_to,
				description = EXCLUDED.description,
				payload = EXCLUDED.payload,
				min_lon = EXCLUDED.min_lon,
				min_lat = EXCLUDED.min_lat,
				max_lon = EXCLUDED.max_lon,
				max_lat = EXCLUDED.max_lat,
				updated_at = now()`,
			record.IDCode, record.AtonNumber, geo.MarshalWKT(record.Geometry),
			nullTime(record.ValidFrom), nullTime(record.ValidTo),
			record.Description, payload,
			bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1],
		)
		if err != nil {
			return fmt.Errorf("upsert record: %w", err)
		}

		if err := s.replaceGroupings(ctx, "aton_aggregation", record.IDCode, record.Aggregations); err != nil {
			return err
		}
		return s.replaceGroupings(ctx, "aton_association", record.IDCode, record.Associations)
	})
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

func (s *PostgresStore) Delete(ctx context.Context, idCode string) error {
	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		result, err := s.q(ctx).ExecContext(ctx,
			`DELETE FROM aton_record WHERE id_code = $1`, idCode)
		if err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("record %q: %w", idCode, sentinel.ErrNotFound)
		}

		// The join tables cascade on delete; nothing else to clean up.
		return nil
	})
}

func (s *PostgresStore) FindIntersecting(ctx context.Context, g orb.Geometry) ([]*models.Record, error) {
	if g == nil {
		return nil, nil
	}
	bound := g.Bound()

	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id_code, aton_number, geometry_wkt, valid_from, valid_to, description, payload
		FROM aton_record
		WHERE max_lon >= $1 AND min_lon <= $2 AND max_lat >= $3 AND min_lat <= $4
		ORDER BY id_code`,
		bound.Min[0], bound.Max[0], bound.Min[1], bound.Max[1])
	if err != nil {
		return nil, fmt.Errorf("query intersecting records: %w", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if !geo.Intersects(record.Geometry, g) {
			continue
		}
		if err := s.loadGroupings(ctx, record); err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.q(ctx).QueryRowContext(ctx, `SELECT count(*) FROM aton_record`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) replaceGroupings(ctx context.Context, table, idCode string, groupings []models.Grouping) error {
	if _, err := s.q(ctx).ExecContext(ctx,
		`DELETE FROM `+table+` WHERE aton_id_code = $1`, idCode); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	for _, g := range groupings {
		if _, err := s.q(ctx).ExecContext(ctx,
			`INSERT INTO `+table+` (aton_id_code, category, peers) VALUES ($1, $2, $3)`,
			idCode, string(g.Category), pq.Array(g.Peers)); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

func (s *PostgresStore) loadGroupings(ctx context.Context, record *models.Record) error {
	var err error
	if record.Aggregations, err = s.queryGroupings(ctx, "aton_aggregation", record.IDCode); err != nil {
		return err
	}
	record.Associations, err = s.queryGroupings(ctx, "aton_association", record.IDCode)
	return err
}

func (s *PostgresStore) queryGroupings(ctx context.Context, table, idCode string) ([]models.Grouping, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT category, peers FROM `+table+` WHERE aton_id_code = $1 ORDER BY category`, idCode)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []models.Grouping
	for rows.Next() {
		var category string
		var peers pq.StringArray
		if err := rows.Scan(&category, &peers); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, models.NewGrouping(models.GroupingCategory(category), peers...))
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var record models.Record
	var geometryWKT string
	var validFrom, validTo sql.NullTime
	var payload []byte

	if err := row.Scan(&record.IDCode, &record.AtonNumber, &geometryWKT,
		&validFrom, &validTo, &record.Description, &payload); err != nil {
		return nil, err
	}

	geometry, err := geo.ParseWKT(geometryWKT)
	if err != nil {
		return nil, fmt.Errorf("parse stored geometry: %w", err)
	}
	record.Geometry = geometry

	if record.Payload, err = unmarshalPayload(payload); err != nil {
		return nil, err
	}
	if validFrom.Valid {
		record.ValidFrom = &validFrom.Time
	}
	if validTo.Valid {
		record.ValidTo = &validTo.Time
	}
	return &record, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
