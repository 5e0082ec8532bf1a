package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"atonsvc/internal/geo"
	"atonsvc/internal/subscription/models"
	"atonsvc/pkg/platform/sentinel"
)

// MemoryStore implements Store in memory for unit tests and development.
type MemoryStore struct {
	mu            sync.RWMutex
	subscriptions map[uuid.UUID]*models.Request
}

// NewMemoryStore creates an empty in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subscriptions: make(map[uuid.UUID]*models.Request)}
}

func (s *MemoryStore) Save(ctx context.Context, request *models.Request) (*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := request.Clone()
	if r.UUID == uuid.Nil {
		r.UUID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.subscriptions[r.UUID] = r
	return r.Clone(), nil
}

func (s *MemoryStore) FindOne(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	request, ok := s.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", id, sentinel.ErrNotFound)
	}
	return request.Clone(), nil
}

func (s *MemoryStore) FindByClientID(ctx context.Context, clientID string) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, request := range s.subscriptions {
		if request.ClientID == clientID {
			return request.Clone(), nil
		}
	}
	return nil, fmt.Errorf("subscription for client %q: %w", clientID, sentinel.ErrNotFound)
}

func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[id]; !ok {
		return fmt.Errorf("subscription %s: %w", id, sentinel.ErrNotFound)
	}
	delete(s.subscriptions, id)
	return nil
}

func (s *MemoryStore) FindMatching(ctx context.Context, g orb.Geometry, from, to *time.Time) ([]*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Request
	for _, request := range s.subscriptions {
		if g != nil && !geo.Intersects(request.SearchGeometry, g) {
			continue
		}
		if !request.OverlapsWindow(from, to) {
			continue
		}
		out = append(out, request.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UUID.String() < out[j].UUID.String()
	})
	return out, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscriptions), nil
}
