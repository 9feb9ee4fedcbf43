/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package memstore provides the in-process store for fixed window counters.
// Data is lost on restart and is not shared between instances.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/complianceguardian/guardian/internal/keytable"
	"github.com/complianceguardian/guardian/ratelimit"
)

type counter struct {
	mu      sync.Mutex
	count   int64
	resetAt time.Time
	purged  bool
}

// Store keeps counters in a bounded LRU table of maxKeys entries.
//
// When the table is full, adding a key evicts the least recently used one even if its window is still open.
// The evicted key starts a fresh window with count 1 on its next request, so a client may get more than
// MaxRequests admissions in one window. The "at most MaxRequests per window" guarantee holds only while
// the number of distinct live keys stays below maxKeys: size maxKeys for the expected number of clients
// and watch the evictions counter of the key table.
type Store struct {
	keys *keytable.Table[*counter]
	now  func() time.Time
}

var _ ratelimit.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new Store holding up to maxKeys keys. metrics may be nil.
func New(maxKeys int, metrics keytable.MetricsCollector, options ...Option) (*Store, error) {
	keys, err := keytable.New[*counter](maxKeys, metrics)
	if err != nil {
		return nil, fmt.Errorf("new key table: %w", err)
	}
	s := &Store{keys: keys, now: time.Now}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Increment implements ratelimit.Store.
func (s *Store) Increment(ctx context.Context, key string, window time.Duration, maxCount int64) (ratelimit.Entry, error) {
	if err := ctx.Err(); err != nil {
		return ratelimit.Entry{}, err
	}
	for {
		c, _ := s.keys.GetOrCreate(key, func() *counter { return &counter{} })
		if entry, ok := s.incrementCounter(c, key, window, maxCount); ok {
			return entry, nil
		}
	}
}

func (s *Store) incrementCounter(c *counter, key string, window time.Duration, maxCount int64) (ratelimit.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.purged {
		return ratelimit.Entry{}, false
	}
	now := s.now()
	if !now.Before(c.resetAt) {
		c.count = 0
		c.resetAt = now.Add(window)
	}
	if maxCount <= 0 || c.count < maxCount {
		c.count++
	}
	return ratelimit.Entry{Key: key, Count: c.count, ResetAt: c.resetAt}, true
}

// Get implements ratelimit.Store.
func (s *Store) Get(ctx context.Context, key string) (ratelimit.Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return ratelimit.Entry{}, false, err
	}
	c, ok := s.keys.Get(key)
	if !ok {
		return ratelimit.Entry{}, false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := ratelimit.Entry{Key: key, Count: c.count, ResetAt: c.resetAt}
	if c.count == 0 || entry.Expired(s.now()) {
		return ratelimit.Entry{}, false, nil
	}
	return entry, true, nil
}

// Reset implements ratelimit.Store.
// The counter is zeroed under its own lock, so an increment racing with the reset
// never lands on a counter that was already removed from the table.
func (s *Store) Reset(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, ok := s.keys.Get(key)
	if !ok {
		return nil
	}
	c.mu.Lock()
	c.count = 0
	c.resetAt = time.Time{}
	c.mu.Unlock()
	return nil
}

// PurgeExpired removes keys whose window is over and returns their number.
func (s *Store) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	deleted := s.keys.DeleteFunc(func(_ string, c *counter) bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.purged = !now.Before(c.resetAt)
		return c.purged
	})
	return int64(deleted), nil
}

// Len returns the number of tracked keys.
func (s *Store) Len() int {
	return s.keys.Len()
}
