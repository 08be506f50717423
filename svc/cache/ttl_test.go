package cache

import (
	"context"
	"testing"
	"time"

	"pastelock/pkg/domain"
)

func TestTTLMapBasicRoundTrip(t *testing.T) {
	m := NewTTLMap[int](time.Minute, time.Minute)
	defer m.Stop()

	if _, ok := m.Get("missing"); ok {
		t.Error("empty map should miss")
	}
	m.Set("a", 1)
	m.Set("b", 2)
	if v, ok := m.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v", v, ok)
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
}

func TestTTLMapExpiresOnRead(t *testing.T) {
	// Sweep interval is long so expiry is exercised on the read path.
	m := NewTTLMap[string](30*time.Millisecond, time.Hour)
	defer m.Stop()

	m.Set("k", "v")
	time.Sleep(60 * time.Millisecond)
	if _, ok := m.Get("k"); ok {
		t.Error("entry should have expired")
	}
	if m.Len() != 0 {
		t.Errorf("expired read should evict, Len = %d", m.Len())
	}
}

func TestTTLMapSetRefreshesDeadline(t *testing.T) {
	m := NewTTLMap[string](80*time.Millisecond, time.Hour)
	defer m.Stop()

	m.Set("k", "v1")
	time.Sleep(50 * time.Millisecond)
	m.Set("k", "v2")
	time.Sleep(50 * time.Millisecond)
	if v, ok := m.Get("k"); !ok || v != "v2" {
		t.Errorf("rewrite should refresh the deadline, got %q, %v", v, ok)
	}
}

func TestTTLMapSweeper(t *testing.T) {
	m := NewTTLMap[int](20*time.Millisecond, 20*time.Millisecond)
	defer m.Stop()

	for i := 0; i < 10; i++ {
		m.Set(string(rune('a'+i)), i)
	}
	deadline := time.Now().Add(time.Second)
	for m.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if m.Len() != 0 {
		t.Errorf("sweeper left %d entries behind", m.Len())
	}
}

func TestTTLMapStopIsIdempotent(t *testing.T) {
	m := NewTTLMap[int](time.Minute, time.Minute)
	m.Stop()
	m.Stop()
}

func TestLRUHonorsTTL(t *testing.T) {
	l, err := NewLRU(10)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	forever := &domain.Paste{ID: "keep1234", Content: "x"}
	l.Set(ctx, forever, 0)
	if got := l.Get(ctx, "keep1234"); got == nil {
		t.Error("zero ttl means no expiry")
	}

	brief := &domain.Paste{ID: "gone1234", Content: "y"}
	l.Set(ctx, brief, 30*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	if got := l.Get(ctx, "gone1234"); got != nil {
		t.Error("expired entry served from lru")
	}

	l.Delete("keep1234")
	if got := l.Get(ctx, "keep1234"); got != nil {
		t.Error("deleted entry served from lru")
	}
}

func TestLRUEvictsOldest(t *testing.T) {
	l, err := NewLRU(2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, id := range []string{"aaaa0001", "aaaa0002", "aaaa0003"} {
		l.Set(ctx, &domain.Paste{ID: id}, 0)
	}
	if got := l.Get(ctx, "aaaa0001"); got != nil {
		t.Error("oldest entry should have been evicted")
	}
	if got := l.Get(ctx, "aaaa0003"); got == nil {
		t.Error("newest entry missing")
	}
}
