package keys

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"pastelock/pkg/domain"
	"pastelock/svc/db"
)

func newTestService(t *testing.T) (*Service, *db.SQLite) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "keys_test.db")
	sqlDB, err := db.NewSQLite(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		sqlDB.Close()
		os.Remove(dbPath)
	})
	return NewService(sqlDB), sqlDB
}

func TestGenerateKeyFormat(t *testing.T) {
	svc, _ := newTestService(t)
	key, err := svc.Generate(context.Background(), "ci-pipeline")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(key.Key, "sk-") {
		t.Errorf("key should carry the sk- prefix, got %q", key.Key)
	}
	if len(key.Key) != len("sk-")+32 {
		t.Errorf("key token should be 32 chars after the prefix, got %d", len(key.Key))
	}
	if key.Status != domain.KeyActive {
		t.Errorf("new keys start active, got %q", key.Status)
	}
	if key.BoundIdentity != "ci-pipeline" {
		t.Errorf("identity not persisted: %q", key.BoundIdentity)
	}
	if key.ClaimedOrigin != "" {
		t.Error("new keys must be unclaimed")
	}
}

func TestVerifyUnknownKey(t *testing.T) {
	svc, _ := newTestService(t)
	res, err := svc.Verify(context.Background(), "sk-doesnotexist", "1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	if res != domain.KeyInvalid {
		t.Errorf("expected invalid, got %v", res)
	}
}

func TestVerifyBindsFirstOrigin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	key, err := svc.Generate(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.Verify(ctx, key.Key, "1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	if res != domain.KeyValid {
		t.Fatalf("first use should bind and validate, got %v", res)
	}

	// Same origin keeps working.
	res, err = svc.Verify(ctx, key.Key, "1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	if res != domain.KeyValid {
		t.Errorf("bound origin should stay valid, got %v", res)
	}

	// A different origin is locked out permanently.
	res, err = svc.Verify(ctx, key.Key, "5.6.7.8")
	if err != nil {
		t.Fatal(err)
	}
	if res != domain.KeyOriginMismatch {
		t.Errorf("expected origin mismatch, got %v", res)
	}
}

func TestVerifyConcurrentBindSingleWinner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	key, err := svc.Generate(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	origins := []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4"}
	results := make([]domain.VerifyResult, len(origins))
	var wg sync.WaitGroup
	for i, origin := range origins {
		wg.Add(1)
		go func(i int, origin string) {
			defer wg.Done()
			res, err := svc.Verify(ctx, key.Key, origin)
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = res
		}(i, origin)
	}
	wg.Wait()

	valid := 0
	for _, res := range results {
		if res == domain.KeyValid {
			valid++
		} else if res != domain.KeyOriginMismatch {
			t.Errorf("unexpected result %v", res)
		}
	}
	if valid != 1 {
		t.Errorf("exactly one origin may win the bind, got %d", valid)
	}
}

func TestVerifyRevokedKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	key, err := svc.Generate(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Verify(ctx, key.Key, "1.2.3.4"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Revoke(ctx, key.ID); err != nil {
		t.Fatal(err)
	}
	res, err := svc.Verify(ctx, key.Key, "1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	if res != domain.KeyIsRevoked {
		t.Errorf("revoked beats bound origin, got %v", res)
	}
}

func TestRevokeUnknownKey(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.Revoke(context.Background(), 9999); err == nil {
		t.Fatal("revoking a missing key must fail")
	}
}

func TestAccessRequestLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	req, err := svc.SubmitRequest(ctx, "", "need the deploy logs")
	if err != nil {
		t.Fatal(err)
	}
	if req.Identity != "Anonymous" {
		t.Errorf("blank identity should default to Anonymous, got %q", req.Identity)
	}
	if req.Status != domain.RequestPending {
		t.Errorf("new requests are pending, got %q", req.Status)
	}

	key, err := svc.Approve(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if key.BoundIdentity != "Anonymous" {
		t.Errorf("approved key inherits the requester identity, got %q", key.BoundIdentity)
	}
	res, err := svc.Verify(ctx, key.Key, "8.8.8.8")
	if err != nil {
		t.Fatal(err)
	}
	if res != domain.KeyValid {
		t.Errorf("approved key should verify, got %v", res)
	}

	reqs, err := svc.ListRequests(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 || reqs[0].Status != domain.RequestApproved {
		t.Errorf("request should be marked approved, got %+v", reqs)
	}
	if reqs[0].GrantedAt == nil {
		t.Error("approved request should record the grant time")
	}
}

func TestDenyRequest(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	req, err := svc.SubmitRequest(ctx, "someone", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Deny(ctx, req.ID); err != nil {
		t.Fatal(err)
	}
	reqs, err := svc.ListRequests(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 || reqs[0].Status != domain.RequestDenied {
		t.Errorf("request should be denied, got %+v", reqs)
	}

	// A settled request can't be approved afterwards.
	if _, err := svc.Approve(ctx, req.ID); err == nil {
		t.Error("approving a denied request must fail")
	}
}
