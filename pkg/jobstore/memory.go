package jobstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryRepository keeps job records in-process. Suitable for tests and
// single-process development only: records do not survive the process, so a
// deployment where start and poll may land on different instances needs the
// Redis or Postgres repository.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryRepository creates an in-process repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

func (m *MemoryRepository) Create(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.JobID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.JobID)
	}
	m.records[rec.JobID] = *rec
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, jobID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, exists := m.records[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	copy := rec
	return &copy, nil
}

func (m *MemoryRepository) Save(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.JobID]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.JobID)
	}
	m.records[rec.JobID] = *rec
	return nil
}

func (m *MemoryRepository) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for id, rec := range m.records {
		if rec.Status.Terminal() && rec.EndTime != nil && rec.EndTime.Before(cutoff) {
			delete(m.records, id)
			deleted++
		}
	}
	return deleted, nil
}
