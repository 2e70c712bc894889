package handles

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a store holds nothing under the requested key.
var ErrNotFound = errors.New("handle not found")

// Blob is the payload behind a handle.
type Blob struct {
	ContentType string
	Data        []byte
}

// Store abstracts where blob bytes live so the table can run against memory or Redis.
type Store interface {
	Put(ctx context.Context, key string, blob Blob, ttl time.Duration) error
	Get(ctx context.Context, key string) (Blob, error)
	Delete(ctx context.Context, key string) error
}

// MemoryStore keeps blobs in process memory. TTLs are ignored; the table releases
// entries explicitly.
type MemoryStore struct {
	blobs map[string]Blob
	mu    sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]Blob)}
}

func (s *MemoryStore) Put(_ context.Context, key string, blob Blob, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = blob
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[key]
	if !ok {
		return Blob{}, ErrNotFound
	}
	return blob, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

// Len reports how many blobs are held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
