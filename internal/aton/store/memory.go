package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/paulmach/orb"

	"atonsvc/internal/aton/models"
	"atonsvc/internal/geo"
	"atonsvc/pkg/platform/sentinel"
)

// MemoryStore implements Store with an in-memory map. It backs unit tests
// and single-node development deployments; production uses PostgresStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.Record
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.Record)}
}

func (s *MemoryStore) FindByIDCode(ctx context.Context, idCode string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[idCode]
	if !ok {
		return nil, fmt.Errorf("record %q: %w", idCode, sentinel.ErrNotFound)
	}
	return record.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, record *models.Record) (*models.Record, error) {
	if record == nil || record.IDCode == "" {
		return nil, fmt.Errorf("record identifier code is required: %w", sentinel.ErrMalformed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.IDCode] = record.Clone()
	return record.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, idCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[idCode]; !ok {
		return fmt.Errorf("record %q: %w", idCode, sentinel.ErrNotFound)
	}
	delete(s.records, idCode)
	return nil
}

func (s *MemoryStore) FindIntersecting(ctx context.Context, g orb.Geometry) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Record
	for _, record := range s.records {
		if geo.Intersects(record.Geometry, g) {
			out = append(out, record.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IDCode < out[j].IDCode })
	return out, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}
