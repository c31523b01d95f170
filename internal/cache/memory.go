package cache

import (
	"context"
	"sync"
)

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string][]byte
	requests map[string][]string // requestID -> fingerprints written under it
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string][]byte),
		requests: make(map[string][]string),
	}
}

func (s *MemoryStore) Get(_ context.Context, fingerprint string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[fingerprint]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *MemoryStore) Set(_ context.Context, fingerprint, requestID string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[fingerprint] = stored
	if requestID != "" {
		s.requests[requestID] = append(s.requests[requestID], fingerprint)
	}
	return nil
}

func (s *MemoryStore) PurgeRequest(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fp := range s.requests[requestID] {
		delete(s.entries, fp)
	}
	delete(s.requests, requestID)
	return nil
}

// Len reports the number of cached entries. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
