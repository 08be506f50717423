package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
)

const maxPasswordLength = 1024

// Hasher derives argon2id hashes for paste passwords. The pepper is an
// HMAC key applied before the KDF so leaked rows alone are not crackable.
type Hasher struct {
	iterations  uint32
	memory      uint32
	parallelism uint8
	keyLength   uint32
	pepper      []byte
	mu          sync.RWMutex
}

func NewHasher(time, memory uint32, parallelism uint8, pepper []byte) (*Hasher, error) {
	if len(pepper) < 32 {
		return nil, errors.New("pepper must be at least 32 bytes")
	}
	if time == 0 || time > 100 {
		return nil, errors.New("iterations must be between 1 and 100")
	}
	if memory < 1*1024 || memory > 2*1024*1024 {
		return nil, errors.New("memory must be between 1024 and 2097152 KiB")
	}
	if parallelism == 0 || parallelism > 128 {
		return nil, errors.New("parallelism must be between 1 and 128")
	}
	pepperCopy := make([]byte, len(pepper))
	copy(pepperCopy, pepper)
	return &Hasher{
		iterations:  time,
		memory:      memory,
		parallelism: parallelism,
		keyLength:   32,
		pepper:      pepperCopy,
	}, nil
}

func (h *Hasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password must not be empty")
	}
	if len(password) > maxPasswordLength {
		return "", errors.New("password too long")
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "generate salt")
	}
	key := h.derive(password, salt)
	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memory, h.iterations, h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return encoded, nil
}

// Verify compares in constant time. Unknown or malformed encodings fail
// closed.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	if len(password) > maxPasswordLength {
		return false, nil
	}
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errors.New("malformed password hash")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, errors.Wrap(err, "parse hash version")
	}
	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, errors.Wrap(err, "parse hash params")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errors.Wrap(err, "decode salt")
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, errors.Wrap(err, "decode hash")
	}

	h.mu.RLock()
	peppered := hmac.New(sha256.New, h.pepper)
	h.mu.RUnlock()
	peppered.Write([]byte(password))
	got := argon2.IDKey(peppered.Sum(nil), salt, iterations, memory, parallelism, uint32(len(want)))

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func (h *Hasher) derive(password string, salt []byte) []byte {
	h.mu.RLock()
	peppered := hmac.New(sha256.New, h.pepper)
	h.mu.RUnlock()
	peppered.Write([]byte(password))
	return argon2.IDKey(peppered.Sum(nil), salt, h.iterations, h.memory, h.parallelism, h.keyLength)
}

// Close wipes the pepper. The hasher must not be used afterwards.
func (h *Hasher) Close() {
	h.mu.Lock()
	for i := range h.pepper {
		h.pepper[i] = 0
	}
	h.mu.Unlock()
}
