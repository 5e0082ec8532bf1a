package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"atonsvc/internal/dataset/models"
	"atonsvc/internal/geo"
	"atonsvc/pkg/platform/sentinel"
)

// MemoryStore implements Store in memory for unit tests and development.
type MemoryStore struct {
	mu       sync.RWMutex
	datasets map[uuid.UUID]*models.Dataset
	contents map[uuid.UUID]*models.Content
	logs     map[uuid.UUID][]*models.ContentLog
	nextID   int64
}

// NewMemoryStore creates an empty in-memory dataset store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		datasets: make(map[uuid.UUID]*models.Dataset),
		contents: make(map[uuid.UUID]*models.Content),
		logs:     make(map[uuid.UUID][]*models.ContentLog),
	}
}

func (s *MemoryStore) Create(ctx context.Context, dataset *models.Dataset) (*models.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := dataset.Clone()
	if d.UUID == uuid.Nil {
		d.UUID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.UpdatedAt = d.CreatedAt
	s.datasets[d.UUID] = d
	return d.Clone(), nil
}

func (s *MemoryStore) FindOne(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dataset, ok := s.datasets[id]
	if !ok {
		return nil, fmt.Errorf("dataset %s: %w", id, sentinel.ErrNotFound)
	}
	return dataset.Clone(), nil
}

func (s *MemoryStore) FindIntersecting(ctx context.Context, g orb.Geometry) ([]*models.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Dataset
	for _, dataset := range s.datasets {
		if g == nil || geo.Intersects(dataset.Geometry, g) {
			out = append(out, dataset.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UUID.String() < out[j].UUID.String()
	})
	return out, nil
}

func (s *MemoryStore) SetCancelled(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dataset, ok := s.datasets[id]
	if !ok {
		return fmt.Errorf("dataset %s: %w", id, sentinel.ErrNotFound)
	}
	dataset.Cancelled = true
	dataset.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.datasets[id]; !ok {
		return fmt.Errorf("dataset %s: %w", id, sentinel.ErrNotFound)
	}
	delete(s.datasets, id)
	delete(s.contents, id)
	// Content log entries survive dataset deletion; they are the system's
	// historical truth.
	return nil
}

func (s *MemoryStore) LatestContent(ctx context.Context, id uuid.UUID) (*models.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, ok := s.contents[id]
	if !ok {
		return nil, fmt.Errorf("dataset content %s: %w", id, sentinel.ErrNotFound)
	}
	c := *content
	return &c, nil
}

func (s *MemoryStore) WriteVersion(ctx context.Context, content *models.Content, logEntry *models.ContentLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.logs[logEntry.DatasetUUID] {
		if existing.SequenceNo == logEntry.SequenceNo {
			return fmt.Errorf("content log %s sequence %d already written: %w",
				logEntry.DatasetUUID, logEntry.SequenceNo, sentinel.ErrConflict)
		}
	}

	c := *content
	s.contents[content.DatasetUUID] = &c

	s.nextID++
	entry := *logEntry
	entry.ID = s.nextID
	s.logs[logEntry.DatasetUUID] = append(s.logs[logEntry.DatasetUUID], &entry)

	if dataset, ok := s.datasets[content.DatasetUUID]; ok {
		dataset.UpdatedAt = content.GeneratedAt
	}
	return nil
}

func (s *MemoryStore) LogsFor(ctx context.Context, id uuid.UUID, atOrBefore time.Time) ([]*models.ContentLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ContentLog
	for _, entry := range s.logs[id] {
		if !entry.GeneratedAt.After(atOrBefore) {
			e := *entry
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNo > out[j].SequenceNo })
	return out, nil
}

func (s *MemoryStore) LogsDuring(ctx context.Context, id uuid.UUID, from, to time.Time) ([]*models.ContentLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ContentLog
	for _, entry := range s.logs[id] {
		if entry.GeneratedAt.Before(from) || entry.GeneratedAt.After(to) {
			continue
		}
		e := *entry
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNo < out[j].SequenceNo })
	return out, nil
}

func (s *MemoryStore) InitialFor(ctx context.Context, id uuid.UUID) (*models.ContentLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.logs[id] {
		if entry.SequenceNo == 0 {
			e := *entry
			return &e, nil
		}
	}
	return nil, fmt.Errorf("initial content log %s: %w", id, sentinel.ErrNotFound)
}
