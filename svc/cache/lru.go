package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"pastelock/pkg/domain"
)

// LRU is a small in-process front for hot pastes. Burn-after-read pastes
// must never be stored here; the service enforces that.
type LRU struct {
	c  *lru.Cache[string, item]
	mu sync.Mutex
}

type item struct {
	paste *domain.Paste
	exp   time.Time
}

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 100000 {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, item](size)
	if err != nil {
		return nil, err
	}
	return &LRU{c: c}, nil
}

func (l *LRU) Get(ctx context.Context, id string) *domain.Paste {
	select {
	case <-ctx.Done():
		return nil
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.c.Get(id)
	if !ok {
		return nil
	}
	if !it.exp.IsZero() && time.Now().After(it.exp) {
		l.c.Remove(id)
		return nil
	}
	return it.paste
}

// Set caches a paste until ttl elapses; ttl <= 0 means no cache-side
// expiry (the paste itself never expires).
func (l *LRU) Set(ctx context.Context, p *domain.Paste, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	l.c.Add(p.ID, item{paste: p, exp: exp})
}

func (l *LRU) Delete(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Remove(id)
}
