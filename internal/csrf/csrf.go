// Package csrf is the one-time token ledger. It issues single-use
// anti-forgery tokens and enforces exactly-once consumption for every token
// kind that must not replay: csrf, refresh rotation, password reset,
// email/password update and oauth2 state.
package csrf

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mojzu/sso-sub004/internal/obs"
	"github.com/mojzu/sso-sub004/internal/token"
)

var (
	ErrNotFound        = errors.New("csrf: not found")
	ErrExpired         = errors.New("csrf: expired")
	ErrAlreadyConsumed = errors.New("csrf: already consumed")
)

// Entry is one outstanding single-use key. An entry is Issued until its
// consumed-at timestamp is set (terminal) or its expiry passes (terminal,
// time-triggered).
type Entry struct {
	Key        string
	Value      string
	ClientID   string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// ConsumeState is the prior state observed by an atomic consume attempt.
type ConsumeState int

const (
	// StateConsumed: the entry was outstanding and this call consumed it.
	StateConsumed ConsumeState = iota
	// StateMissing: no entry exists for the key.
	StateMissing
	// StateExpired: the entry exists but its TTL has passed.
	StateExpired
	// StateSpent: the entry was already consumed by an earlier call.
	StateSpent
)

// Store persists ledger entries. Consume must be a single conditional update
// at the persistence boundary: two concurrent calls for the same key may
// race, but only one ever observes StateConsumed.
type Store interface {
	Create(ctx context.Context, e *Entry) error
	Consume(ctx context.Context, key string, now time.Time) (ConsumeState, *Entry, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Ledger issues and consumes single-use tokens on behalf of clients.
type Ledger struct {
	store Store
	codec *token.Codec
	now   func() time.Time
}

// Option configures Ledger behavior.
type Option func(*Ledger)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLedger constructs a Ledger.
func NewLedger(store Store, codec *token.Codec, opts ...Option) *Ledger {
	l := &Ledger{store: store, codec: codec, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Issue mints a signed single-use csrf token for the client and records its
// key as outstanding. Expired entries are swept opportunistically first.
func (l *Ledger) Issue(ctx context.Context, clientID string, key []byte, ttl time.Duration) (string, error) {
	entry, err := l.CreateEntry(ctx, clientID, ttl)
	if err != nil {
		return "", err
	}
	signed, _, err := l.codec.Issue(clientID, "", token.KindCSRF, entry.Key, ttl, key)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// VerifyAndConsume checks a csrf token's signature, expiry and kind, then
// atomically consumes its ledger key. Validation and consumption are a
// single step: success means this call transitioned the entry to consumed.
func (l *Ledger) VerifyAndConsume(ctx context.Context, clientID string, key []byte, tok string) error {
	claims, err := l.codec.Decode(tok, key, token.KindCSRF)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return ErrExpired
		}
		return err
	}
	if claims.ClientID != clientID || claims.CSRFKey == "" {
		return ErrNotFound
	}
	return l.ConsumeKey(ctx, claims.CSRFKey)
}

// CreateEntry records a raw single-use key without minting a token. Refresh,
// reset, update and oauth2 state tokens embed these keys in their own signed
// payloads.
func (l *Ledger) CreateEntry(ctx context.Context, clientID string, ttl time.Duration) (*Entry, error) {
	if ttl <= 0 {
		return nil, errors.New("csrf: ttl must be greater than zero")
	}
	l.sweep(ctx)

	now := l.now().UTC()
	key := strings.ReplaceAll(uuid.NewString(), "-", "")
	entry := &Entry{
		Key:       key,
		Value:     key,
		ClientID:  clientID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := l.store.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("csrf: create: %w", err)
	}
	return entry, nil
}

// ConsumeKey atomically consumes an outstanding key and reports why it could
// not be consumed otherwise.
func (l *Ledger) ConsumeKey(ctx context.Context, key string) error {
	if key == "" {
		return ErrNotFound
	}
	state, _, err := l.store.Consume(ctx, key, l.now().UTC())
	if err != nil {
		return fmt.Errorf("csrf: consume: %w", err)
	}
	switch state {
	case StateConsumed:
		obs.IncCSRFConsumed("ok")
		return nil
	case StateMissing:
		obs.IncCSRFConsumed("not_found")
		return ErrNotFound
	case StateExpired:
		obs.IncCSRFConsumed("expired")
		return ErrExpired
	default:
		obs.IncCSRFConsumed("replayed")
		return ErrAlreadyConsumed
	}
}

// sweep deletes expired entries. Failures are logged and never surface: a
// sweep problem must not block the operation that triggered it.
func (l *Ledger) sweep(ctx context.Context) {
	if _, err := l.store.DeleteExpired(ctx, l.now().UTC()); err != nil {
		obs.LogRequest(map[string]any{
			"level": "warn",
			"msg":   "csrf sweep failed",
			"error": err.Error(),
		})
	}
}
