package store

import (
	"context"

	"github.com/paulmach/orb"

	"atonsvc/internal/aton/models"
)

// Store persists AtoN records keyed by their business identifier code.
// Implementations return sentinel.ErrNotFound for missing identifiers and
// must treat Save as an idempotent upsert: saving an existing identifier
// replaces all mutable fields and the peer-graph membership.
type Store interface {
	FindByIDCode(ctx context.Context, idCode string) (*models.Record, error)
	Save(ctx context.Context, record *models.Record) (*models.Record, error)
	Delete(ctx context.Context, idCode string) error

	// FindIntersecting returns all current records whose geometry
	// intersects g, ordered by identifier code for deterministic content
	// generation.
	FindIntersecting(ctx context.Context, g orb.Geometry) ([]*models.Record, error)

	Count(ctx context.Context) (int, error)
}
