// Package memory provides in-memory implementations for testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/artpar/mcplaunch/domain/launch"
	"github.com/artpar/mcplaunch/ports"
)

// ErrNotFound is returned when an entity is not found.
var ErrNotFound = errors.New("not found")

// LaunchStore is an in-memory implementation of ports.LaunchStore.
type LaunchStore struct {
	mu      sync.RWMutex
	records map[string]launch.Record // by ID
}

// NewLaunchStore creates a new in-memory launch store.
func NewLaunchStore() *LaunchStore {
	return &LaunchStore{
		records: make(map[string]launch.Record),
	}
}

// Create stores a new launch record.
func (s *LaunchStore) Create(ctx context.Context, r launch.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[r.ID] = r
	return nil
}

// Finish records the exit of a loaded module.
func (s *LaunchStore) Finish(ctx context.Context, id string, exitCode int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	r.ExitCode = &exitCode
	r.EndedAt = &at
	s.records[id] = r
	return nil
}

// Get retrieves a launch record by ID.
func (s *LaunchStore) Get(ctx context.Context, id string) (launch.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return launch.Record{}, ErrNotFound
	}
	return r, nil
}

// List returns up to limit records, newest first.
func (s *LaunchStore) List(ctx context.Context, limit int) ([]launch.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]launch.Record, 0, len(s.records))
	for _, r := range s.records {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	if limit <= 0 {
		limit = 20
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ ports.LaunchStore = (*LaunchStore)(nil)
