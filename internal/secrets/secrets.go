// Package secrets provides one-way hashing for client secrets and user
// passwords, plus generation of opaque random values used as raw API keys.
package secrets

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrMismatch indicates the secret does not match the stored digest.
var ErrMismatch = errors.New("secrets: mismatch")

// Hash returns a bcrypt digest of the secret. The digest embeds the algorithm
// identifier and cost factor, so verification needs no external metadata.
func Hash(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secrets: secret is empty")
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("secrets: hash: %w", err)
	}
	return string(digest), nil
}

// Verify compares a plaintext secret with a stored digest. The comparison is
// constant-time with respect to the digest contents. An empty digest never
// verifies; records without a secret reject all candidates.
func Verify(secret, digest string) error {
	if digest == "" {
		return ErrMismatch
	}
	if err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)); err != nil {
		return ErrMismatch
	}
	return nil
}

// Generate returns n cryptographically random bytes in URL-safe base64.
// Failure means the entropy source is exhausted and is not retried.
func Generate(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("secrets: length must be positive")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("secrets: generate: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Equal reports whether a and b are equal without leaking how many leading
// bytes matched.
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
