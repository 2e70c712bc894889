// Package handles hands out opaque references to in-memory bytes so they can be
// rendered or downloaded without further I/O. Every handle must be released by its
// owner; Live reports how many are outstanding.
package handles

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrReleased is returned when opening a handle that is not (or no longer) live.
var ErrReleased = errors.New("handle released")

// Handle identifies a blob held by a Table.
type Handle string

func (h Handle) String() string { return string(h) }

type Table struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger

	mu   sync.Mutex
	live map[Handle]struct{}
}

// NewTable creates a table over store. ttl is passed to the store on every Put; zero
// means no expiry.
func NewTable(store Store, ttl time.Duration, logger *zap.Logger) *Table {
	return &Table{
		store:  store,
		ttl:    ttl,
		logger: logger.Named("handles"),
		live:   make(map[Handle]struct{}),
	}
}

// Acquire stores blob under a fresh handle.
func (t *Table) Acquire(ctx context.Context, blob Blob) (Handle, error) {
	h := Handle(uuid.NewString())
	if err := t.store.Put(ctx, string(h), blob, t.ttl); err != nil {
		return "", err
	}

	t.mu.Lock()
	t.live[h] = struct{}{}
	t.mu.Unlock()

	t.logger.Debug("handle acquired", zap.String("handle", h.String()), zap.Int("bytes", len(blob.Data)))
	return h, nil
}

// Open returns the blob behind a live handle.
func (t *Table) Open(ctx context.Context, h Handle) (Blob, error) {
	if !t.IsLive(h) {
		return Blob{}, ErrReleased
	}
	return t.store.Get(ctx, string(h))
}

// Release frees h. Releasing an empty or already released handle is a no-op. The handle
// stops being live even if the store delete fails.
func (t *Table) Release(ctx context.Context, h Handle) error {
	if h == "" {
		return nil
	}

	t.mu.Lock()
	_, ok := t.live[h]
	delete(t.live, h)
	t.mu.Unlock()
	if !ok {
		return nil
	}

	if err := t.store.Delete(ctx, string(h)); err != nil {
		t.logger.Warn("failed to delete released handle", zap.String("handle", h.String()), zap.Error(err))
		return err
	}
	t.logger.Debug("handle released", zap.String("handle", h.String()))
	return nil
}

func (t *Table) IsLive(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.live[h]
	return ok
}

// Live reports the number of outstanding handles.
func (t *Table) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}
