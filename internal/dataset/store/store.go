package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"atonsvc/internal/dataset/models"
)

// Store persists datasets, their current content and the append-only content
// log. Implementations return sentinel.ErrNotFound for unknown UUIDs and
// sentinel.ErrConflict when a log append collides on (uuid, sequence no).
// The single-flight discipline in the engine should make that impossible, so
// an observed conflict is a bug, not an expected state.
type Store interface {
	Create(ctx context.Context, dataset *models.Dataset) (*models.Dataset, error)
	FindOne(ctx context.Context, id uuid.UUID) (*models.Dataset, error)

	// FindIntersecting returns datasets whose bounding geometry intersects
	// g, ordered by UUID. A nil geometry matches every dataset.
	FindIntersecting(ctx context.Context, g orb.Geometry) ([]*models.Dataset, error)

	SetCancelled(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error

	// LatestContent returns the current content row for the dataset or
	// sentinel.ErrNotFound when no content has been generated yet.
	LatestContent(ctx context.Context, id uuid.UUID) (*models.Content, error)

	// WriteVersion atomically replaces the current content and appends the
	// matching log entry. Either both become visible or neither does.
	WriteVersion(ctx context.Context, content *models.Content, logEntry *models.ContentLog) error

	// LogsFor returns entries with generatedAt <= atOrBefore, most recent
	// first.
	LogsFor(ctx context.Context, id uuid.UUID, atOrBefore time.Time) ([]*models.ContentLog, error)

	// LogsDuring returns entries with generatedAt in [from, to], oldest
	// first.
	LogsDuring(ctx context.Context, id uuid.UUID, from, to time.Time) ([]*models.ContentLog, error)

	// InitialFor returns the sequence-0 entry or sentinel.ErrNotFound.
	InitialFor(ctx context.Context, id uuid.UUID) (*models.ContentLog, error)
}
