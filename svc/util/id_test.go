package util

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func validIDChar(c byte) bool {
	return strings.IndexByte(idChars, c) >= 0
}

func TestGenPasteIDFormat(t *testing.T) {
	never := func(string) (bool, error) { return false, nil }
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenPasteID(never)
		if err != nil {
			t.Fatal(err)
		}
		if len(id) != idLen {
			t.Fatalf("id %q has wrong length", id)
		}
		for j := 0; j < len(id); j++ {
			if !validIDChar(id[j]) {
				t.Fatalf("id %q contains invalid char %q", id, id[j])
			}
		}
		if seen[id] {
			t.Fatalf("duplicate id %q in 100 draws", id)
		}
		seen[id] = true
	}
}

func TestGenPasteIDRetriesOnCollision(t *testing.T) {
	calls := 0
	exists := func(string) (bool, error) {
		calls++
		return calls < 3, nil
	}
	id, err := GenPasteID(exists)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" || calls != 3 {
		t.Errorf("expected third draw to win, calls=%d id=%q", calls, id)
	}
}

func TestGenPasteIDGivesUp(t *testing.T) {
	always := func(string) (bool, error) { return true, nil }
	if _, err := GenPasteID(always); err == nil {
		t.Fatal("expected error when every id collides")
	}
}

func TestGenPasteIDPropagatesLookupError(t *testing.T) {
	boom := errors.New("db down")
	failing := func(string) (bool, error) { return false, boom }
	if _, err := GenPasteID(failing); !errors.Is(err, boom) {
		t.Errorf("expected lookup error, got %v", err)
	}
}

func TestGenAccessKeyFormat(t *testing.T) {
	key, err := GenAccessKey()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(key, keyPrefix) {
		t.Errorf("key %q missing prefix", key)
	}
	if len(key) != len(keyPrefix)+keyTokenLen {
		t.Errorf("key %q has wrong length", key)
	}
	other, err := GenAccessKey()
	if err != nil {
		t.Fatal(err)
	}
	if key == other {
		t.Error("two generated keys collided")
	}
}

func TestRedactKey(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"short", "[KEY-REDACTED]"},
		{"sk-abcdefghijklmnop", "sk-abc...mnop"},
	}
	for _, c := range cases {
		if got := RedactKey(c.in); got != c.want {
			t.Errorf("RedactKey(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRedactIP(t *testing.T) {
	cases := []struct{ in, want string }{
		{"203.0.113.77", "203.0.113.0"},
		{"203.0.113.77:8080", "203.0.113.0"},
		{"2001:db8:1:2:3:4:5:6", "2001:db8::"},
	}
	for _, c := range cases {
		if got := RedactIP(c.in); got != c.want {
			t.Errorf("RedactIP(%q) = %q, want %q", c.in, got, c.want)
		}
	}
	if got := RedactIP("not-an-ip"); !strings.HasPrefix(got, "hash:") {
		t.Errorf("unparseable input should hash, got %q", got)
	}
}
