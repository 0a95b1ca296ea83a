// Package locking serializes mutations per entity id and retries
// read-modify-write cycles that lose an optimistic version race.
package locking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/dining-coordinator/internal/persistence"
)

// Registry hands out one mutex per entity id. Entries are created lazily and
// removed again once no caller holds or awaits them, so the map stays bounded
// by the number of in-flight operations.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry constructs an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func (r *Registry) acquire(id string) *entry {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		e = &entry{}
		r.entries[id] = e
	}
	e.refs++
	r.mu.Unlock()
	return e
}

func (r *Registry) release(id string, e *entry) {
	r.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(r.entries, id)
	}
	r.mu.Unlock()
}

// WithLock runs fn while holding the mutex for id. Operations on the same id
// are fully serialized; a failed fn releases the lock normally and never
// blocks later callers. Distinct ids do not contend.
func (r *Registry) WithLock(id string, fn func() error) error {
	e := r.acquire(id)
	defer r.release(id, e)

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn()
}

// TryWithLock runs fn only when the mutex for id is immediately available.
// It reports false without running fn when another operation is in flight;
// background sweeps use this to skip busy entities instead of queueing.
func (r *Registry) TryWithLock(id string, fn func() error) (bool, error) {
	e := r.acquire(id)
	defer r.release(id, e)

	if !e.mu.TryLock() {
		return false, nil
	}
	defer e.mu.Unlock()
	return true, fn()
}

// Len reports the number of ids currently tracked. Exposed for tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// DefaultAttempts bounds the optimistic retry loop.
const DefaultAttempts = 3

// DefaultBackoff is the base delay doubled on each retry attempt.
const DefaultBackoff = 50 * time.Millisecond

// Retry invokes fn up to attempts times. When fn fails with
// persistence.ErrVersionConflict the closure is invoked again after
// backoff × 2^attempt; fn is expected to re-fetch entity state on each
// invocation. Any other error aborts immediately.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if backoff <= 0 {
		backoff = DefaultBackoff
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, persistence.ErrVersionConflict) {
			return err
		}
	}
	return err
}
