package svc

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pastelock/cfg"
	"pastelock/pkg/domain"
	"pastelock/svc/auth"
	"pastelock/svc/cache"
	"pastelock/svc/db"
	"pastelock/svc/gate"
	"pastelock/svc/keys"
	"pastelock/svc/views"
)

type noopLookup struct{}

func (noopLookup) Lookup(_ context.Context, _ string) (*domain.GeoInfo, error) {
	return nil, nil
}

func testConfig() *cfg.Cfg {
	return &cfg.Cfg{MaxPasteSize: 64 * 1024}
}

func newTestPaste(t *testing.T) (*Paste, *db.SQLite) {
	t.Helper()
	sqlDB, err := db.NewSQLite(filepath.Join(t.TempDir(), "paste_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	lru, err := cache.NewLRU(100)
	if err != nil {
		t.Fatal(err)
	}
	pepper := make([]byte, 32)
	for i := range pepper {
		pepper[i] = byte(i)
	}
	hasher, err := auth.NewHasher(1, 1024, 1, pepper)
	if err != nil {
		t.Fatal(err)
	}
	keysSvc := keys.NewService(sqlDB)
	g := gate.New(keysSvc, hasher)
	recorder := views.NewRecorder(sqlDB, noopLookup{}, 1, 16, time.Second)
	p := NewPaste(sqlDB, lru, nil, hasher, g, recorder, testConfig())
	t.Cleanup(func() {
		p.Shutdown()
		hasher.Close()
		sqlDB.Close()
	})
	return p, sqlDB
}

func TestCreateAndGet(t *testing.T) {
	p, _ := newTestPaste(t)
	ctx := context.Background()

	created, err := p.Create(ctx, domain.CreateParams{Title: "notes", Content: "hello world", Language: "text", IsPublic: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(created.ID) != 8 {
		t.Errorf("paste IDs are 8 chars, got %q", created.ID)
	}
	if created.Views != 0 {
		t.Errorf("new pastes start at zero views, got %d", created.Views)
	}

	got, err := p.Get(ctx, created.ID, domain.Credentials{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "hello world" || got.Title != "notes" {
		t.Errorf("round trip lost data: %+v", got)
	}
	if got.Views != 1 {
		t.Errorf("first read should report one view, got %d", got.Views)
	}
}

func TestCreateRejectsEmptyAndOversized(t *testing.T) {
	p, _ := newTestPaste(t)
	ctx := context.Background()

	if _, err := p.Create(ctx, domain.CreateParams{Content: "   "}); !errors.Is(err, domain.ErrContentRequired) {
		t.Errorf("expected ErrContentRequired, got %v", err)
	}
	big := make([]byte, 64*1024+1)
	for i := range big {
		big[i] = 'a'
	}
	if _, err := p.Create(ctx, domain.CreateParams{Content: string(big)}); !errors.Is(err, domain.ErrPasteTooLarge) {
		t.Errorf("expected ErrPasteTooLarge, got %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if _, err := p.Create(ctx, domain.CreateParams{Content: "x", ExpiresAt: &past}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for past expiry, got %v", err)
	}
}

func TestGetUnknownPaste(t *testing.T) {
	p, _ := newTestPaste(t)
	if _, err := p.Get(context.Background(), "nothere1", domain.Credentials{}, false); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("expected ErrPasteNotFound, got %v", err)
	}
}

func TestConcurrentViewsAllCounted(t *testing.T) {
	p, sqlDB := newTestPaste(t)
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Content: "counted", IsPublic: true})
	if err != nil {
		t.Fatal(err)
	}

	const readers = 50
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Get(ctx, created.ID, domain.Credentials{}, false); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	stored, err := sqlDB.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Views != readers {
		t.Errorf("lost increments: want %d, got %d", readers, stored.Views)
	}
}

func TestCachedReadsReportAdvancingViews(t *testing.T) {
	p, _ := newTestPaste(t)
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Content: "hot path", IsPublic: true})
	if err != nil {
		t.Fatal(err)
	}

	// Every read after the first is a cache hit; the served counter
	// must still advance instead of replaying the cached value.
	for want := 1; want <= 3; want++ {
		got, err := p.Get(ctx, created.ID, domain.Credentials{}, false)
		if err != nil {
			t.Fatal(err)
		}
		if got.Views != int64(want) {
			t.Fatalf("read %d served %d views", want, got.Views)
		}
	}
}

func TestPasswordGate(t *testing.T) {
	p, _ := newTestPaste(t)
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Content: "secret", IsPublic: true, Password: "hunter2"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.Get(ctx, created.ID, domain.Credentials{}, false); !errors.Is(err, domain.ErrPasswordRequired) {
		t.Errorf("expected ErrPasswordRequired, got %v", err)
	}
	if _, err := p.Get(ctx, created.ID, domain.Credentials{Password: "wrong"}, false); !errors.Is(err, domain.ErrPasswordRequired) {
		t.Errorf("wrong password should be indistinguishable from missing, got %v", err)
	}
	got, err := p.Get(ctx, created.ID, domain.Credentials{Password: "hunter2"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "secret" {
		t.Errorf("unexpected content %q", got.Content)
	}

	// Admin editing skips the prompt; admin merely viewing does not.
	if _, err := p.Get(ctx, created.ID, domain.Credentials{IsAdmin: true, EditIntent: true}, false); err != nil {
		t.Errorf("admin edit should bypass password: %v", err)
	}
	if _, err := p.Get(ctx, created.ID, domain.Credentials{IsAdmin: true}, false); !errors.Is(err, domain.ErrPasswordRequired) {
		t.Errorf("admin view still needs the password, got %v", err)
	}
}

func TestPrivatePasteAccess(t *testing.T) {
	p, _ := newTestPaste(t)
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Content: "internal", IsPublic: false})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.Get(ctx, created.ID, domain.Credentials{}, false); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := p.Get(ctx, created.ID, domain.Credentials{AccessKey: "sk-bogus"}, false); !errors.Is(err, domain.ErrKeyInvalid) {
		t.Errorf("expected ErrKeyInvalid, got %v", err)
	}
	if _, err := p.Get(ctx, created.ID, domain.Credentials{IsAdmin: true}, false); err != nil {
		t.Errorf("admin should read private pastes: %v", err)
	}
}

func TestBurnAfterRead(t *testing.T) {
	p, sqlDB := newTestPaste(t)
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Content: "once", IsPublic: true, BurnAfterRead: true})
	if err != nil {
		t.Fatal(err)
	}

	// Admin reads never burn.
	if _, err := p.Get(ctx, created.ID, domain.Credentials{IsAdmin: true}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := sqlDB.Get(ctx, created.ID); err != nil {
		t.Fatalf("admin read must not burn: %v", err)
	}

	got, err := p.Get(ctx, created.ID, domain.Credentials{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "once" {
		t.Errorf("burned paste must still be served to the burning reader, got %q", got.Content)
	}
	if _, err := p.Get(ctx, created.ID, domain.Credentials{}, false); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("second read after burn should be NotFound, got %v", err)
	}
	if _, err := sqlDB.Get(ctx, created.ID); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("burned paste should be gone from the store, got %v", err)
	}
}

func TestLazyExpiryDeletesOnRead(t *testing.T) {
	p, sqlDB := newTestPaste(t)
	ctx := context.Background()
	soon := time.Now().Add(50 * time.Millisecond)
	created, err := p.Create(ctx, domain.CreateParams{Content: "fleeting", IsPublic: true, ExpiresAt: &soon})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(80 * time.Millisecond)

	if _, err := p.Get(ctx, created.ID, domain.Credentials{}, false); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Fatalf("expired paste reads as NotFound, got %v", err)
	}
	if _, err := sqlDB.Get(ctx, created.ID); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("expired paste should be deleted on access, got %v", err)
	}
}

func TestResetAndClearAreSeparate(t *testing.T) {
	p, sqlDB := newTestPaste(t)
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Content: "tracked", IsPublic: true})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := p.Get(ctx, created.ID, domain.Credentials{}, false); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		ev := &domain.ViewEvent{PasteID: created.ID, IP: "9.9.9.9", ViewedAt: time.Now()}
		if err := sqlDB.AppendView(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	// Reset zeroes the counter but keeps the ledger.
	if err := p.ResetViews(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	stored, err := sqlDB.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Views != 0 {
		t.Errorf("counter should be zero after reset, got %d", stored.Views)
	}
	events, err := sqlDB.ListViews(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Errorf("reset must not touch the ledger, got %d events", len(events))
	}

	// Clear drops the ledger but keeps the counter.
	if _, err := p.Get(ctx, created.ID, domain.Credentials{}, false); err != nil {
		t.Fatal(err)
	}
	removed, err := p.ClearViews(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 3 {
		t.Errorf("expected 3 ledger rows removed, got %d", removed)
	}
	stored, err = sqlDB.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Views != 1 {
		t.Errorf("clear must not touch the counter, got %d", stored.Views)
	}
}

func TestUpdateInvalidatesCaches(t *testing.T) {
	p, _ := newTestPaste(t)
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Content: "v1", IsPublic: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Get(ctx, created.ID, domain.Credentials{}, false); err != nil {
		t.Fatal(err)
	}

	newContent := "v2"
	updated, err := p.Update(ctx, created.ID, domain.UpdateParams{Content: &newContent})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Content != "v2" {
		t.Errorf("update not applied: %q", updated.Content)
	}
	got, err := p.Get(ctx, created.ID, domain.Credentials{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "v2" {
		t.Errorf("stale cache served after update: %q", got.Content)
	}
}

func TestDeletePaste(t *testing.T) {
	p, _ := newTestPaste(t)
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Content: "bye", IsPublic: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Delete(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Get(ctx, created.ID, domain.Credentials{}, false); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("deleted paste should be NotFound, got %v", err)
	}
	if err := p.Delete(ctx, created.ID); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("double delete should be NotFound, got %v", err)
	}
}

func TestAdminEditReadDoesNotCount(t *testing.T) {
	p, sqlDB := newTestPaste(t)
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Content: "quiet", IsPublic: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Get(ctx, created.ID, domain.Credentials{IsAdmin: true, EditIntent: true}, false); err != nil {
		t.Fatal(err)
	}
	stored, err := sqlDB.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Views != 0 {
		t.Errorf("admin edit reads must not count, got %d", stored.Views)
	}
}

func TestStatsSummary(t *testing.T) {
	p, _ := newTestPaste(t)
	ctx := context.Background()
	for _, lang := range []string{"go", "go", "python"} {
		if _, err := p.Create(ctx, domain.CreateParams{Content: "x", Language: lang, IsPublic: true}); err != nil {
			t.Fatal(err)
		}
	}
	stats, err := p.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalPastes != 3 {
		t.Errorf("expected 3 pastes, got %d", stats.TotalPastes)
	}
	if stats.Languages["go"] != 2 || stats.Languages["python"] != 1 {
		t.Errorf("language breakdown wrong: %+v", stats.Languages)
	}
}
