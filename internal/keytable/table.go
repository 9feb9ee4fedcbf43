/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package keytable provides a bounded table of per-key state with LRU eviction.
// Rate limiters keep their in-process counters here so that memory stays bounded
// when many distinct clients are seen.
package keytable

import (
	"container/list"
	"fmt"
	"sync"
)

type tableEntry[V any] struct {
	key   string
	value V
}

// Table maps keys to values and evicts the least recently used key when full.
// It is safe for concurrent use. Values are usually pointers guarded by their own mutex.
type Table[V any] struct {
	maxKeys int

	mu      sync.Mutex
	lruList *list.List
	entries map[string]*list.Element

	metrics MetricsCollector
}

// New creates a Table that holds up to maxKeys keys. metrics may be nil.
func New[V any](maxKeys int, metrics MetricsCollector) (*Table[V], error) {
	if maxKeys <= 0 {
		return nil, fmt.Errorf("maxKeys must be greater than 0, got %d", maxKeys)
	}
	if metrics == nil {
		metrics = disabledMetrics{}
	}
	return &Table[V]{
		maxKeys: maxKeys,
		lruList: list.New(),
		entries: make(map[string]*list.Element),
		metrics: metrics,
	}, nil
}

// Get returns the value for the key and marks it as recently used.
func (t *Table[V]) Get(key string) (value V, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	elem, ok := t.entries[key]
	if !ok {
		return value, false
	}
	t.lruList.MoveToFront(elem)
	return elem.Value.(*tableEntry[V]).value, true
}

// GetOrCreate returns the value for the key. If there is none, create is called
// under the table lock and its result is stored.
func (t *Table[V]) GetOrCreate(key string, create func() V) (value V, existed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if elem, ok := t.entries[key]; ok {
		t.lruList.MoveToFront(elem)
		return elem.Value.(*tableEntry[V]).value, true
	}
	value = create()
	t.entries[key] = t.lruList.PushFront(&tableEntry[V]{key: key, value: value})
	if len(t.entries) > t.maxKeys {
		oldest := t.lruList.Back()
		t.lruList.Remove(oldest)
		delete(t.entries, oldest.Value.(*tableEntry[V]).key)
		t.metrics.AddEvictions(1)
	}
	t.metrics.SetKeys(len(t.entries))
	return value, false
}

// Delete removes the key. It reports whether the key was present.
func (t *Table[V]) Delete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	elem, ok := t.entries[key]
	if !ok {
		return false
	}
	t.lruList.Remove(elem)
	delete(t.entries, key)
	t.metrics.SetKeys(len(t.entries))
	return true
}

// DeleteFunc removes all keys for which fn returns true and returns their number.
func (t *Table[V]) DeleteFunc(fn func(key string, value V) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	deleted := 0
	for key, elem := range t.entries {
		if fn(key, elem.Value.(*tableEntry[V]).value) {
			t.lruList.Remove(elem)
			delete(t.entries, key)
			deleted++
		}
	}
	t.metrics.SetKeys(len(t.entries))
	return deleted
}

// Len returns the number of keys.
func (t *Table[V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
