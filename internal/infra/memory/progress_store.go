package memory

import (
	"context"
	"sync"
)

// ProgressStore keeps learner progress in process memory. Nothing survives a restart.
type ProgressStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewProgressStore() *ProgressStore {
	return &ProgressStore{
		values: make(map[string]string),
	}
}

func (s *ProgressStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *ProgressStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
