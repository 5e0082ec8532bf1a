package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"atonsvc/internal/geo"
	"atonsvc/internal/subscription/models"
	"atonsvc/pkg/platform/sentinel"
	"atonsvc/pkg/platform/tx"
)

// PostgresStore persists subscriptions in PostgreSQL. The search geometry
// bounding box is denormalized for the matching prefilter; the exact
// intersection test runs in Go.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed subscription store.
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

func (s *PostgresStore) Save(ctx context.Context, request *models.Request) (*models.Request, error) {
	r := request.Clone()
	if r.UUID == uuid.Nil {
		r.UUID = uuid.New()
	}
	bound := r.SearchGeometry.Bound()

	err := s.q(ctx).QueryRowContext(ctx, `
		INSERT INTO subscription_request (
			uuid, client_id, container_type, data_product_type, data_reference,
			geometry_wkt, unlocode, period_start, period_end,
			search_geometry_wkt, min_lon, min_lat, max_lon, max_lat, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now())
		RETURNING created_at`,
		r.UUID, r.ClientID, r.ContainerType, r.DataProductType, nullUUID(r.DataReference),
		geo.MarshalWKT(r.Geometry), r.UNLOCODE, nullTime(r.PeriodStart), nullTime(r.PeriodEnd),
		geo.MarshalWKT(r.SearchGeometry),
		bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1],
	).Scan(&r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) FindOne(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	request, err := scanRequest(s.q(ctx).QueryRowContext(ctx, selectColumns+` WHERE uuid = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("subscription %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return request, nil
}

func (s *PostgresStore) FindByClientID(ctx context.Context, clientID string) (*models.Request, error) {
	request, err := scanRequest(s.q(ctx).QueryRowContext(ctx, selectColumns+` WHERE client_id = $1`, clientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("subscription for client %q: %w", clientID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find subscription by client: %w", err)
	}
	return request, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.q(ctx).ExecContext(ctx,
		`DELETE FROM subscription_request WHERE uuid = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("subscription %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) FindMatching(ctx context.Context, g orb.Geometry, from, to *time.Time) ([]*models.Request, error) {
	query := selectColumns + ` WHERE ($1::timestamptz IS NULL OR period_end IS NULL OR period_end >= $1)
		AND ($2::timestamptz IS NULL OR period_start IS NULL OR period_start <= $2)`
	args := []any{nullTime(from), nullTime(to)}
	if g != nil {
		bound := g.Bound()
		query += ` AND max_lon >= $3 AND min_lon <= $4 AND max_lat >= $5 AND min_lat <= $6`
		args = append(args, bound.Min[0], bound.Max[0], bound.Min[1], bound.Max[1])
	}
	query += ` ORDER BY uuid ASC`

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query matching subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*models.Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		if g != nil && !geo.Intersects(request.SearchGeometry, g) {
			continue
		}
		out = append(out, request)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.q(ctx).QueryRowContext(ctx, `SELECT count(*) FROM subscription_request`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return count, nil
}

const selectColumns = `
	SELECT uuid, client_id, container_type, data_product_type, data_reference,
		geometry_wkt, unlocode, period_start, period_end, search_geometry_wkt, created_at
	FROM subscription_request`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.Request, error) {
	var r models.Request
	var dataReference uuid.NullUUID
	var geometryWKT, searchWKT string
	var periodStart, periodEnd sql.NullTime

	if err := row.Scan(&r.UUID, &r.ClientID, &r.ContainerType, &r.DataProductType,
		&dataReference, &geometryWKT, &r.UNLOCODE, &periodStart, &periodEnd,
		&searchWKT, &r.CreatedAt); err != nil {
		return nil, err
	}

	if dataReference.Valid {
		r.DataReference = &dataReference.UUID
	}
	if periodStart.Valid {
		r.PeriodStart = &periodStart.Time
	}
	if periodEnd.Valid {
		r.PeriodEnd = &periodEnd.Time
	}

	var err error
	if geometryWKT != "" {
		if r.Geometry, err = geo.ParseWKT(geometryWKT); err != nil {
			return nil, fmt.Errorf("parse stored geometry: %w", err)
		}
	}
	if r.SearchGeometry, err = geo.ParseWKT(searchWKT); err != nil {
		return nil, fmt.Errorf("parse stored search geometry: %w", err)
	}
	return &r, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
