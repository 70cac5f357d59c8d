// Package audit is the append-only security event trail. Every
// authentication attempt, token operation and key operation produces exactly
// one record. Recording is best-effort-durable: a failed insert is logged
// and never aborts the operation being audited.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/mojzu/sso-sub004/internal/ids"
	"github.com/mojzu/sso-sub004/internal/obs"
)

// Event names, one per auditable operation and its failure twin.
const (
	EventAuthenticate         = "sso_authenticate"
	EventAuthenticateError    = "sso_authenticate_error"
	EventLogin                = "sso_login"
	EventLoginError           = "sso_login_error"
	EventTokenVerify          = "sso_token_verify"
	EventTokenVerifyError     = "sso_token_verify_error"
	EventTokenRefresh         = "sso_token_refresh"
	EventTokenRefreshError    = "sso_token_refresh_error"
	EventTokenRevoke          = "sso_token_revoke"
	EventTokenRevokeError     = "sso_token_revoke_error"
	EventKeyVerify            = "sso_key_verify"
	EventKeyVerifyError       = "sso_key_verify_error"
	EventKeyRevoke            = "sso_key_revoke"
	EventKeyRevokeError       = "sso_key_revoke_error"
	EventResetPassword        = "sso_reset_password"
	EventResetPasswordError   = "sso_reset_password_error"
	EventResetConfirm         = "sso_reset_password_confirm"
	EventResetConfirmError    = "sso_reset_password_confirm_error"
	EventUpdateEmail          = "sso_update_email"
	EventUpdateEmailError     = "sso_update_email_error"
	EventUpdatePassword       = "sso_update_password"
	EventUpdatePasswordError  = "sso_update_password_error"
	EventUpdateRevoke         = "sso_update_revoke"
	EventUpdateRevokeError    = "sso_update_revoke_error"
	EventOAuth2Login          = "sso_oauth2_login"
	EventOAuth2LoginError     = "sso_oauth2_login_error"
)

// Record is one immutable audit entry.
type Record struct {
	ID        string
	CreatedAt time.Time
	Event     string
	ClientID  string
	UserID    string
	KeyID     string
	Detail    map[string]any
}

// Query filters audit listings.
type Query struct {
	ClientID   string
	Event      string
	CreatedGTE time.Time
	CreatedLTE time.Time
	Limit      int
}

// Store persists records. Append-only: there is no update, and the only
// delete is the age-based retention sweep.
type Store interface {
	Append(ctx context.Context, rec *Record) error
	List(ctx context.Context, q Query) ([]*Record, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Recorder writes audit records.
type Recorder struct {
	store Store
	now   func() time.Time
}

// Option configures Recorder behavior.
type Option func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends an entry and returns its id. Storage failures are reported
// through the service log and an empty id; they never propagate, because
// blocking an authentication on audit-store availability is worse than a
// gap in the trail.
func (r *Recorder) Record(ctx context.Context, event, clientID, userID, keyID string, detail map[string]any) string {
	now := r.now().UTC()
	rec := &Record{
		ID:        ids.NewAt(now),
		CreatedAt: now,
		Event:     event,
		ClientID:  clientID,
		UserID:    userID,
		KeyID:     keyID,
		Detail:    detail,
	}
	if err := r.store.Append(ctx, rec); err != nil {
		obs.LogRequest(map[string]any{
			"level": "error",
			"msg":   "audit append failed",
			"event": event,
			"error": err.Error(),
		})
		return ""
	}
	return rec.ID
}

// List returns records matching the query, oldest first.
func (r *Recorder) List(ctx context.Context, q Query) ([]*Record, error) {
	return r.store.List(ctx, q)
}

// RetentionSweep deletes records older than maxAge and returns the count
// removed. Idempotent; running it twice in a row deletes nothing the second
// time.
func (r *Recorder) RetentionSweep(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, errors.New("audit: retention age must be positive")
	}
	cutoff := r.now().UTC().Add(-maxAge)
	n, err := r.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	obs.SetAuditSweepDeleted(n)
	return n, nil
}
