package auth

import (
	"strings"
	"testing"
)

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	pepper := []byte("0123456789abcdef0123456789abcdef")
	h, err := NewHasher(1, 1024, 1, pepper)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.Close)
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher(t)
	encoded, err := h.Hash("correct horse")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Errorf("unexpected encoding %q", encoded)
	}

	ok, err := h.Verify("correct horse", encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("correct password rejected")
	}
	ok, err = h.Verify("battery staple", encoded)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("wrong password accepted")
	}
}

func TestHashIsSalted(t *testing.T) {
	h := newTestHasher(t)
	a, err := h.Hash("same")
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.Hash("same")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two hashes of the same password must differ")
	}
}

func TestPepperChangesHash(t *testing.T) {
	h := newTestHasher(t)
	other, err := NewHasher(1, 1024, 1, []byte("ffffffffffffffffffffffffffffffff"))
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()

	encoded, err := h.Hash("pw")
	if err != nil {
		t.Fatal(err)
	}
	ok, err := other.Verify("pw", encoded)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("hash verified under a different pepper")
	}
}

func TestHashInputLimits(t *testing.T) {
	h := newTestHasher(t)
	if _, err := h.Hash(""); err == nil {
		t.Error("empty password should be rejected")
	}
	if _, err := h.Hash(strings.Repeat("a", maxPasswordLength+1)); err == nil {
		t.Error("oversized password should be rejected")
	}
}

func TestVerifyRejectsMangledEncoding(t *testing.T) {
	h := newTestHasher(t)
	for _, encoded := range []string{"", "plainhash", "$argon2id$v=19$garbage"} {
		if _, err := h.Verify("pw", encoded); err == nil {
			t.Errorf("mangled encoding %q accepted", encoded)
		}
	}
}

func TestNewHasherValidation(t *testing.T) {
	pepper := []byte("0123456789abcdef0123456789abcdef")
	if _, err := NewHasher(1, 1024, 1, []byte("short")); err == nil {
		t.Error("short pepper accepted")
	}
	if _, err := NewHasher(0, 1024, 1, pepper); err == nil {
		t.Error("zero iterations accepted")
	}
	if _, err := NewHasher(1, 512, 1, pepper); err == nil {
		t.Error("tiny memory accepted")
	}
	if _, err := NewHasher(1, 1024, 0, pepper); err == nil {
		t.Error("zero parallelism accepted")
	}
}
