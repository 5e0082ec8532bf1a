package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"atonsvc/internal/subscription/models"
)

// Store persists subscription requests. Implementations return
// sentinel.ErrNotFound for unknown UUIDs and client identifiers.
type Store interface {
	Save(ctx context.Context, request *models.Request) (*models.Request, error)
	FindOne(ctx context.Context, id uuid.UUID) (*models.Request, error)
	FindByClientID(ctx context.Context, clientID string) (*models.Request, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// FindMatching returns the active subscriptions whose search geometry
	// intersects g and whose window overlaps [from, to]. Nil arguments are
	// unconstrained. Results are ordered by UUID ascending for
	// deterministic pagination.
	FindMatching(ctx context.Context, g orb.Geometry, from, to *time.Time) ([]*models.Request, error)

	Count(ctx context.Context) (int, error)
}
