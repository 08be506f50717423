package cache

import (
	"sync"
	"time"
)

// TTLMap is a process-wide expiring key-value cache: entries evict on
// read once stale and a background sweep reclaims the rest. Stop must be
// called to tear the sweeper down.
type TTLMap[V any] struct {
	mu      sync.RWMutex
	entries map[string]ttlEntry[V]
	ttl     time.Duration
	done    chan struct{}
	once    sync.Once
}

type ttlEntry[V any] struct {
	val V
	exp time.Time
}

func NewTTLMap[V any](ttl, sweepEvery time.Duration) *TTLMap[V] {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if sweepEvery <= 0 {
		sweepEvery = ttl
	}
	m := &TTLMap[V]{
		entries: make(map[string]ttlEntry[V]),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go m.sweep(sweepEvery)
	return m
}

func (m *TTLMap[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(e.exp) {
		m.mu.Lock()
		// Re-check under the write lock; a Set may have refreshed it.
		if cur, ok := m.entries[key]; ok && time.Now().After(cur.exp) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		var zero V
		return zero, false
	}
	return e.val, true
}

func (m *TTLMap[V]) Set(key string, val V) {
	m.mu.Lock()
	m.entries[key] = ttlEntry[V]{val: val, exp: time.Now().Add(m.ttl)}
	m.mu.Unlock()
}

func (m *TTLMap[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *TTLMap[V]) Stop() {
	m.once.Do(func() { close(m.done) })
}

func (m *TTLMap[V]) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for k, e := range m.entries {
				if now.After(e.exp) {
					delete(m.entries, k)
				}
			}
			m.mu.Unlock()
		case <-m.done:
			return
		}
	}
}
