// Package apikey manages opaque long-lived keys scoped to a service and/or
// user. Only a hash of the key secret is stored; the raw value is returned
// exactly once at creation and can never be recovered again.
package apikey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mojzu/sso-sub004/internal/ids"
	"github.com/mojzu/sso-sub004/internal/secrets"
)

var (
	// ErrRejected covers every verification failure: unknown key, disabled,
	// revoked, expired or bad secret. A single kind on purpose, so callers
	// cannot enumerate which keys exist.
	ErrRejected = errors.New("apikey: rejected")
	ErrNotFound = errors.New("apikey: not found")
	ErrUnscoped = errors.New("apikey: key must be service or user scoped")
)

const secretBytes = 32

// dummyDigest is compared against when no record matches, so a failed lookup
// costs the same as a failed hash comparison.
var dummyDigest = digest("apikey-dummy-comparison-target")

// Key is a stored API key record. SecretHash is a hex sha256 digest of the
// secret half of the raw key.
type Key struct {
	ID         string
	ServiceID  string
	UserID     string
	Name       string
	SecretHash string
	Enabled    bool
	Revoked    bool
	ExpiresAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Scope is the principal proven by a verified key.
type Scope struct {
	KeyID     string
	ServiceID string
	UserID    string
}

// Store persists key records.
type Store interface {
	Create(ctx context.Context, k *Key) error
	Find(ctx context.Context, id string) (*Key, error)
	List(ctx context.Context, serviceID string, limit int) ([]*Key, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	SetRevoked(ctx context.Context, id string) error
}

// Service generates and verifies API keys.
type Service struct {
	store Store
	now   func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create generates a key scoped to a service and/or user and returns the
// record together with the raw value. The raw value is `<id>.<secret>` and
// is not stored anywhere; losing it means issuing a new key.
func (s *Service) Create(ctx context.Context, serviceID, userID, name string, expiresAt *time.Time) (*Key, string, error) {
	if serviceID == "" && userID == "" {
		return nil, "", ErrUnscoped
	}
	secret, err := secrets.Generate(secretBytes)
	if err != nil {
		return nil, "", err
	}
	now := s.now().UTC()
	key := &Key{
		ID:         ids.New(),
		ServiceID:  serviceID,
		UserID:     userID,
		Name:       name,
		SecretHash: digest(secret),
		Enabled:    true,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, key); err != nil {
		return nil, "", fmt.Errorf("apikey: create: %w", err)
	}
	return key, key.ID + "." + secret, nil
}

// Verify checks a raw key value and returns its scope. All failure modes
// collapse to ErrRejected; a hash comparison runs on every path so a miss
// and a mismatch are indistinguishable by latency.
func (s *Service) Verify(ctx context.Context, raw string) (Scope, error) {
	id, secret, ok := splitRaw(raw)
	if !ok {
		secrets.Equal(dummyDigest, digest(secret))
		return Scope{}, ErrRejected
	}
	key, err := s.store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			secrets.Equal(dummyDigest, digest(secret))
			return Scope{}, ErrRejected
		}
		return Scope{}, fmt.Errorf("apikey: verify: %w", err)
	}

	match := secrets.Equal(key.SecretHash, digest(secret))
	if !match || !key.Enabled || key.Revoked || s.expired(key) {
		return Scope{}, ErrRejected
	}
	return Scope{KeyID: key.ID, ServiceID: key.ServiceID, UserID: key.UserID}, nil
}

// Find returns a key record by id.
func (s *Service) Find(ctx context.Context, id string) (*Key, error) {
	return s.store.Find(ctx, id)
}

// List returns a service's key records.
func (s *Service) List(ctx context.Context, serviceID string, limit int) ([]*Key, error) {
	return s.store.List(ctx, serviceID, limit)
}

// Disable marks a key disabled. Records are never purged while audit history
// references them.
func (s *Service) Disable(ctx context.Context, id string) error {
	return s.store.SetEnabled(ctx, id, false)
}

// Enable re-enables a disabled key. Revoked keys stay dead.
func (s *Service) Enable(ctx context.Context, id string) error {
	return s.store.SetEnabled(ctx, id, true)
}

// Revoke disables a key permanently.
func (s *Service) Revoke(ctx context.Context, id string) error {
	return s.store.SetRevoked(ctx, id)
}

func (s *Service) expired(key *Key) bool {
	return key.ExpiresAt != nil && !s.now().Before(*key.ExpiresAt)
}

func splitRaw(raw string) (id, secret string, ok bool) {
	id, secret, found := strings.Cut(raw, ".")
	if !found || id == "" || secret == "" {
		return "", secret, false
	}
	return id, secret, true
}

func digest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
