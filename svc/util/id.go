package util

import (
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"
)

const (
	idChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	idLen   = 8

	keyPrefix    = "sk-"
	keyTokenLen  = 32
	maxIDRetries = 5
)

// GenPasteID draws a short random identifier and retries until it does
// not collide with an existing record.
func GenPasteID(exists func(string) (bool, error)) (string, error) {
	for retry := 0; retry < maxIDRetries; retry++ {
		id, err := randString(idLen)
		if err != nil {
			return "", err
		}
		exist, err := exists(id)
		if err != nil {
			return "", err
		}
		if !exist {
			return id, nil
		}
	}
	return "", errors.Errorf("id collision after %d retries", maxIDRetries)
}

// GenAccessKey produces a high-entropy bearer token with a recognizable
// prefix so keys are easy to spot in logs and admin tooling.
func GenAccessKey() (string, error) {
	s, err := randString(keyTokenLen)
	if err != nil {
		return "", err
	}
	return keyPrefix + s, nil
}

func randString(n int) (string, error) {
	max := big.NewInt(int64(len(idChars)))
	buf := make([]byte, n)
	for i := range buf {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "rand fail")
		}
		buf[i] = idChars[v.Int64()]
	}
	return string(buf), nil
}
