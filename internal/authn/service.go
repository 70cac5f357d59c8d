// Package authn authenticates callers and drives the credential flows:
// password login, token refresh and revocation, password reset, email and
// password update, and OAuth2 sign-in resolution. Every attempt, allowed or
// denied, produces exactly one audit record; callers only ever see
// ErrUnauthorized for a denial, with the cause recorded in the trail.
package authn

import (
	"context"
	"errors"
	"time"

	"github.com/mojzu/sso-sub004/internal/apikey"
	"github.com/mojzu/sso-sub004/internal/audit"
	"github.com/mojzu/sso-sub004/internal/csrf"
	"github.com/mojzu/sso-sub004/internal/ids"
	"github.com/mojzu/sso-sub004/internal/obs"
	"github.com/mojzu/sso-sub004/internal/secrets"
	"github.com/mojzu/sso-sub004/internal/token"
)

const (
	clientSecretBytes = 32
	tokenKeyBytes     = 32
	minPasswordLen    = 8
)

// Authenticator is the façade over stores, codec, ledger and audit trail.
// It holds no per-principal state: client and user rows are re-read on every
// call so disablement takes effect immediately.
type Authenticator struct {
	store  Store
	codec  *token.Codec
	ledger *csrf.Ledger
	keys   *apikey.Service
	rec    *audit.Recorder
	now    func() time.Time
}

// Option configures Authenticator behavior.
type Option func(*Authenticator)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(a *Authenticator) {
		if fn != nil {
			a.now = fn
		}
	}
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(store Store, codec *token.Codec, ledger *csrf.Ledger, keys *apikey.Service, rec *audit.Recorder, opts ...Option) *Authenticator {
	a := &Authenticator{
		store:  store,
		codec:  codec,
		ledger: ledger,
		keys:   keys,
		rec:    rec,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// deny records the audited failure and returns the opaque denial.
func (a *Authenticator) deny(ctx context.Context, event, method, clientID, userID string, cause error) error {
	obs.IncAuthAttempt(method, "unauthorized")
	a.rec.Record(ctx, event, clientID, userID, "", map[string]any{"reason": cause.Error()})
	return unauthorized(cause)
}

// allow records the audited success.
func (a *Authenticator) allow(ctx context.Context, event, method, clientID, userID, keyID string) {
	obs.IncAuthAttempt(method, "ok")
	a.rec.Record(ctx, event, clientID, userID, keyID, nil)
}

// loadClient re-reads a client row and applies the enablement gate.
func (a *Authenticator) loadClient(ctx context.Context, id string) (*Client, error) {
	c, err := a.store.Clients().Find(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storage(err)
	}
	if !c.Enabled {
		return nil, ErrDisabled
	}
	return c, nil
}

// loadUser re-reads a user row, checks client scope and the enablement gate.
func (a *Authenticator) loadUser(ctx context.Context, clientID, id string) (*User, error) {
	u, err := a.store.Users().Find(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storage(err)
	}
	if u.ClientID != clientID {
		return nil, ErrNotFound
	}
	if !u.Enabled {
		return nil, ErrDisabled
	}
	return u, nil
}

// AuthenticateBasic verifies a client id and secret pair.
func (a *Authenticator) AuthenticateBasic(ctx context.Context, clientID, secret string) (*Client, error) {
	client, err := a.loadClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return nil, err
		}
		return nil, a.deny(ctx, audit.EventAuthenticateError, "basic", clientID, "", err)
	}
	if secrets.Verify(secret, client.SecretHash) != nil {
		return nil, a.deny(ctx, audit.EventAuthenticateError, "basic", clientID, "", ErrBadSecret)
	}
	a.allow(ctx, audit.EventAuthenticate, "basic", clientID, "", "")
	return client, nil
}

// AuthenticateBearer verifies an access token. The unverified claims locate
// the issuing client's key material; nothing from them is trusted until the
// verified decode with that key succeeds.
func (a *Authenticator) AuthenticateBearer(ctx context.Context, tok string) (*Client, *User, error) {
	unsafe, err := a.codec.DecodeUnverified(tok)
	if err != nil {
		return nil, nil, a.deny(ctx, audit.EventTokenVerifyError, "bearer", "", "", err)
	}
	client, err := a.loadClient(ctx, unsafe.ClientID)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return nil, nil, err
		}
		return nil, nil, a.deny(ctx, audit.EventTokenVerifyError, "bearer", unsafe.ClientID, "", err)
	}
	claims, err := a.codec.Decode(tok, client.TokenKey, token.KindAccess)
	if err != nil {
		return nil, nil, a.deny(ctx, audit.EventTokenVerifyError, "bearer", client.ID, unsafe.UserID, err)
	}
	var user *User
	if claims.UserID != "" {
		user, err = a.loadUser(ctx, client.ID, claims.UserID)
		if err != nil {
			if errors.Is(err, ErrStorageUnavailable) {
				return nil, nil, err
			}
			return nil, nil, a.deny(ctx, audit.EventTokenVerifyError, "bearer", client.ID, claims.UserID, err)
		}
	}
	a.allow(ctx, audit.EventTokenVerify, "bearer", client.ID, claims.UserID, "")
	return client, user, nil
}

// AuthenticateKey verifies a raw API key and resolves its principal.
func (a *Authenticator) AuthenticateKey(ctx context.Context, raw string) (Principal, error) {
	scope, err := a.keys.Verify(ctx, raw)
	if err != nil {
		if errors.Is(err, apikey.ErrRejected) {
			return Principal{}, a.deny(ctx, audit.EventKeyVerifyError, "key", "", "", err)
		}
		return Principal{}, storage(err)
	}
	p := Principal{KeyID: scope.KeyID}
	if scope.ServiceID != "" {
		client, err := a.loadClient(ctx, scope.ServiceID)
		if err != nil {
			if errors.Is(err, ErrStorageUnavailable) {
				return Principal{}, err
			}
			return Principal{}, a.deny(ctx, audit.EventKeyVerifyError, "key", scope.ServiceID, scope.UserID, err)
		}
		p.Client = client
	}
	if scope.UserID != "" {
		u, err := a.store.Users().Find(ctx, scope.UserID)
		if errors.Is(err, ErrNotFound) || (err == nil && !u.Enabled) {
			return Principal{}, a.deny(ctx, audit.EventKeyVerifyError, "key", scope.ServiceID, scope.UserID, ErrDisabled)
		}
		if err != nil {
			return Principal{}, storage(err)
		}
		p.User = u
	}
	a.allow(ctx, audit.EventKeyVerify, "key", scope.ServiceID, scope.UserID, scope.KeyID)
	return p, nil
}

// Login verifies an email/password pair and issues a token pair. Passwordless
// accounts always deny: an empty stored hash verifies nothing.
func (a *Authenticator) Login(ctx context.Context, clientID, email, password string) (TokenPair, error) {
	client, err := a.loadClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return TokenPair{}, err
		}
		return TokenPair{}, a.deny(ctx, audit.EventLoginError, "password", clientID, "", err)
	}
	user, err := a.findUserByEmail(ctx, client.ID, email)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return TokenPair{}, err
		}
		return TokenPair{}, a.deny(ctx, audit.EventLoginError, "password", client.ID, "", err)
	}
	if secrets.Verify(password, user.PasswordHash) != nil {
		return TokenPair{}, a.deny(ctx, audit.EventLoginError, "password", client.ID, user.ID, ErrBadSecret)
	}
	pair, err := a.issuePair(ctx, client, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	a.allow(ctx, audit.EventLogin, "password", client.ID, user.ID, "")
	return pair, nil
}

// RefreshToken consumes a refresh token's single-use key and issues a fresh
// pair. A replayed refresh token denies with the replay recorded.
func (a *Authenticator) RefreshToken(ctx context.Context, clientID, tok string) (TokenPair, error) {
	client, err := a.loadClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return TokenPair{}, err
		}
		return TokenPair{}, a.deny(ctx, audit.EventTokenRefreshError, "bearer", clientID, "", err)
	}
	claims, err := a.codec.Decode(tok, client.TokenKey, token.KindRefresh)
	if err != nil {
		return TokenPair{}, a.deny(ctx, audit.EventTokenRefreshError, "bearer", client.ID, "", err)
	}
	if err := a.consume(ctx, claims.CSRFKey); err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return TokenPair{}, err
		}
		return TokenPair{}, a.deny(ctx, audit.EventTokenRefreshError, "bearer", client.ID, claims.UserID, err)
	}
	if claims.UserID != "" {
		if _, err := a.loadUser(ctx, client.ID, claims.UserID); err != nil {
			if errors.Is(err, ErrStorageUnavailable) {
				return TokenPair{}, err
			}
			return TokenPair{}, a.deny(ctx, audit.EventTokenRefreshError, "bearer", client.ID, claims.UserID, err)
		}
	}
	pair, err := a.issuePair(ctx, client, claims.UserID)
	if err != nil {
		return TokenPair{}, err
	}
	a.allow(ctx, audit.EventTokenRefresh, "bearer", client.ID, claims.UserID, "")
	return pair, nil
}

// RevokeToken invalidates a refresh token by consuming its single-use key.
// Revoking an already-dead token is a no-op, so revocation is safe to retry.
func (a *Authenticator) RevokeToken(ctx context.Context, clientID, tok string) error {
	client, err := a.loadClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return err
		}
		return a.deny(ctx, audit.EventTokenRevokeError, "bearer", clientID, "", err)
	}
	unsafe, err := a.codec.DecodeUnverified(tok)
	if err != nil {
		return a.deny(ctx, audit.EventTokenRevokeError, "bearer", client.ID, "", err)
	}
	claims, err := a.codec.Decode(tok, client.TokenKey, unsafe.Kind)
	if errors.Is(err, token.ErrExpired) {
		// Expired tokens are already unusable; consuming the leftover key
		// just tidies the ledger.
		claims = unsafe
	} else if err != nil {
		return a.deny(ctx, audit.EventTokenRevokeError, "bearer", client.ID, "", err)
	}
	if claims.CSRFKey != "" {
		if err := a.consume(ctx, claims.CSRFKey); err != nil && errors.Is(err, ErrStorageUnavailable) {
			return err
		}
	}
	a.allow(ctx, audit.EventTokenRevoke, "bearer", client.ID, claims.UserID, "")
	return nil
}

// ResetPassword issues a single-use reset token for the user. The caller is
// responsible for delivering it out of band.
func (a *Authenticator) ResetPassword(ctx context.Context, clientID, email string) (string, error) {
	client, err := a.loadClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return "", err
		}
		return "", a.deny(ctx, audit.EventResetPasswordError, "password", clientID, "", err)
	}
	user, err := a.findUserByEmail(ctx, client.ID, email)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return "", err
		}
		return "", a.deny(ctx, audit.EventResetPasswordError, "password", client.ID, "", err)
	}
	tok, err := a.issueOneTime(ctx, client, user.ID, token.KindReset, client.Policy.ResetTTL)
	if err != nil {
		return "", err
	}
	a.allow(ctx, audit.EventResetPassword, "password", client.ID, user.ID, "")
	return tok, nil
}

// ResetPasswordConfirm consumes a reset token and sets the new password.
func (a *Authenticator) ResetPasswordConfirm(ctx context.Context, clientID, tok, newPassword string) error {
	client, err := a.loadClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return err
		}
		return a.deny(ctx, audit.EventResetConfirmError, "password", clientID, "", err)
	}
	claims, err := a.verifyOneTime(ctx, client, tok, token.KindReset)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return err
		}
		return a.deny(ctx, audit.EventResetConfirmError, "password", client.ID, "", err)
	}
	if err := a.setPassword(ctx, claims.UserID, newPassword); err != nil {
		return err
	}
	a.allow(ctx, audit.EventResetConfirm, "password", client.ID, claims.UserID, "")
	return nil
}

// UpdateEmail changes a user's email after re-verifying their password and
// returns a single-use revoke token that undoes the change by disabling the
// account, for delivery to the old address.
func (a *Authenticator) UpdateEmail(ctx context.Context, clientID, userID, password, newEmail string) (string, error) {
	client, user, err := a.reauthenticate(ctx, audit.EventUpdateEmailError, clientID, userID, password)
	if err != nil {
		return "", err
	}
	if err := a.store.Users().UpdateEmail(ctx, user.ID, newEmail, a.now().UTC()); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return "", a.deny(ctx, audit.EventUpdateEmailError, "password", client.ID, user.ID, ErrAlreadyExists)
		}
		return "", storage(err)
	}
	tok, err := a.issueOneTime(ctx, client, user.ID, token.KindUpdateEmail, client.Policy.UpdateTTL)
	if err != nil {
		return "", err
	}
	a.allow(ctx, audit.EventUpdateEmail, "password", client.ID, user.ID, "")
	return tok, nil
}

// UpdateEmailRevoke consumes an update-email revoke token and disables the
// user so the account owner regains control out of band.
func (a *Authenticator) UpdateEmailRevoke(ctx context.Context, clientID, tok string) error {
	return a.updateRevoke(ctx, clientID, tok, token.KindUpdateEmail)
}

// UpdatePassword changes a user's password after re-verifying the current one
// and returns a single-use revoke token, like UpdateEmail.
func (a *Authenticator) UpdatePassword(ctx context.Context, clientID, userID, password, newPassword string) (string, error) {
	client, user, err := a.reauthenticate(ctx, audit.EventUpdatePasswordError, clientID, userID, password)
	if err != nil {
		return "", err
	}
	if err := a.setPassword(ctx, user.ID, newPassword); err != nil {
		return "", err
	}
	tok, err := a.issueOneTime(ctx, client, user.ID, token.KindUpdatePassword, client.Policy.UpdateTTL)
	if err != nil {
		return "", err
	}
	a.allow(ctx, audit.EventUpdatePassword, "password", client.ID, user.ID, "")
	return tok, nil
}

// UpdatePasswordRevoke consumes an update-password revoke token and disables
// the user.
func (a *Authenticator) UpdatePasswordRevoke(ctx context.Context, clientID, tok string) error {
	return a.updateRevoke(ctx, clientID, tok, token.KindUpdatePassword)
}

// OAuth2Login issues a token pair for a provider-verified email. Unknown
// emails deny unless the client opted into auto-registration, in which case a
// passwordless user is created first.
func (a *Authenticator) OAuth2Login(ctx context.Context, clientID, email string) (TokenPair, error) {
	client, err := a.loadClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return TokenPair{}, err
		}
		return TokenPair{}, a.deny(ctx, audit.EventOAuth2LoginError, "oauth2", clientID, "", err)
	}
	user, err := a.findUserByEmail(ctx, client.ID, email)
	if errors.Is(err, ErrNotFound) && client.AutoRegister {
		user, err = a.createUser(ctx, client.ID, email, "", "")
	}
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return TokenPair{}, err
		}
		return TokenPair{}, a.deny(ctx, audit.EventOAuth2LoginError, "oauth2", client.ID, "", err)
	}
	pair, err := a.issuePair(ctx, client, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	a.allow(ctx, audit.EventOAuth2Login, "oauth2", client.ID, user.ID, "")
	return pair, nil
}

// IssueCSRF mints a single-use anti-forgery token for the client.
func (a *Authenticator) IssueCSRF(ctx context.Context, clientID string) (string, error) {
	client, err := a.loadClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return "", err
		}
		return "", unauthorized(err)
	}
	tok, err := a.ledger.Issue(ctx, client.ID, client.TokenKey, client.Policy.CSRFTTL)
	if err != nil {
		return "", storage(err)
	}
	obs.IncTokenIssued(string(token.KindCSRF))
	return tok, nil
}

// VerifyCSRF consumes a single-use anti-forgery token.
func (a *Authenticator) VerifyCSRF(ctx context.Context, clientID, tok string) error {
	client, err := a.loadClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return err
		}
		return unauthorized(err)
	}
	return a.ledger.VerifyAndConsume(ctx, client.ID, client.TokenKey, tok)
}

// CreateClient registers a client, generating its secret and token signing
// key. The plaintext secret is returned exactly once and never stored.
func (a *Authenticator) CreateClient(ctx context.Context, name string, redirectURIs []string, autoRegister bool, policy TokenPolicy) (*Client, string, error) {
	if name == "" {
		return nil, "", errors.New("authn: client name is required")
	}
	secret, err := secrets.Generate(clientSecretBytes)
	if err != nil {
		return nil, "", err
	}
	hash, err := secrets.Hash(secret)
	if err != nil {
		return nil, "", err
	}
	keyMaterial, err := secrets.Generate(tokenKeyBytes)
	if err != nil {
		return nil, "", err
	}
	now := a.now().UTC()
	client := &Client{
		ID:           ids.New(),
		Name:         name,
		SecretHash:   hash,
		TokenKey:     []byte(keyMaterial),
		Enabled:      true,
		RedirectURIs: redirectURIs,
		AutoRegister: autoRegister,
		Policy:       policy.withDefaults(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.Clients().Create(ctx, client); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, "", ErrAlreadyExists
		}
		return nil, "", storage(err)
	}
	return client, secret, nil
}

// CreateUser registers a user under a client. An empty password creates a
// passwordless account.
func (a *Authenticator) CreateUser(ctx context.Context, clientID, email, name, password string) (*User, error) {
	if _, err := a.loadClient(ctx, clientID); err != nil {
		return nil, err
	}
	return a.createUser(ctx, clientID, email, name, password)
}

// Client returns a client row without the enablement gate, for the admin
// surface.
func (a *Authenticator) Client(ctx context.Context, id string) (*Client, error) {
	c, err := a.store.Clients().Find(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storage(err)
	}
	return c, nil
}

// Clients lists registered clients.
func (a *Authenticator) Clients(ctx context.Context, limit int) ([]*Client, error) {
	cs, err := a.store.Clients().List(ctx, limit)
	if err != nil {
		return nil, storage(err)
	}
	return cs, nil
}

// User returns a user row without the enablement gate, for the admin surface.
func (a *Authenticator) User(ctx context.Context, id string) (*User, error) {
	u, err := a.store.Users().Find(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storage(err)
	}
	return u, nil
}

// Users lists a client's users.
func (a *Authenticator) Users(ctx context.Context, clientID string, limit int) ([]*User, error) {
	us, err := a.store.Users().List(ctx, clientID, limit)
	if err != nil {
		return nil, storage(err)
	}
	return us, nil
}

// SetClientEnabled soft-enables or soft-disables a client.
func (a *Authenticator) SetClientEnabled(ctx context.Context, id string, enabled bool) error {
	err := a.store.Clients().SetEnabled(ctx, id, enabled, a.now().UTC())
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return storage(err)
	}
	return nil
}

// SetUserEnabled soft-enables or soft-disables a user.
func (a *Authenticator) SetUserEnabled(ctx context.Context, id string, enabled bool) error {
	err := a.store.Users().SetEnabled(ctx, id, enabled, a.now().UTC())
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return storage(err)
	}
	return nil
}

func (a *Authenticator) createUser(ctx context.Context, clientID, email, name, password string) (*User, error) {
	if email == "" {
		return nil, errors.New("authn: email is required")
	}
	var hash string
	if password != "" {
		if len(password) < minPasswordLen {
			return nil, errors.New("authn: password too short")
		}
		var err error
		hash, err = secrets.Hash(password)
		if err != nil {
			return nil, err
		}
	}
	now := a.now().UTC()
	user := &User{
		ID:           ids.New(),
		ClientID:     clientID,
		Email:        email,
		Name:         name,
		Enabled:      true,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.Users().Create(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, ErrAlreadyExists
		}
		return nil, storage(err)
	}
	return user, nil
}

func (a *Authenticator) findUserByEmail(ctx context.Context, clientID, email string) (*User, error) {
	u, err := a.store.Users().FindByEmail(ctx, clientID, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storage(err)
	}
	if !u.Enabled {
		return nil, ErrDisabled
	}
	return u, nil
}

// reauthenticate re-verifies a user's password before a sensitive change.
func (a *Authenticator) reauthenticate(ctx context.Context, failEvent, clientID, userID, password string) (*Client, *User, error) {
	client, err := a.loadClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return nil, nil, err
		}
		return nil, nil, a.deny(ctx, failEvent, "password", clientID, userID, err)
	}
	user, err := a.loadUser(ctx, client.ID, userID)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return nil, nil, err
		}
		return nil, nil, a.deny(ctx, failEvent, "password", client.ID, userID, err)
	}
	if secrets.Verify(password, user.PasswordHash) != nil {
		return nil, nil, a.deny(ctx, failEvent, "password", client.ID, user.ID, ErrBadSecret)
	}
	return client, user, nil
}

func (a *Authenticator) updateRevoke(ctx context.Context, clientID, tok string, kind token.Kind) error {
	client, err := a.loadClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return err
		}
		return a.deny(ctx, audit.EventUpdateRevokeError, "password", clientID, "", err)
	}
	claims, err := a.verifyOneTime(ctx, client, tok, kind)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return err
		}
		return a.deny(ctx, audit.EventUpdateRevokeError, "password", client.ID, "", err)
	}
	if err := a.store.Users().SetEnabled(ctx, claims.UserID, false, a.now().UTC()); err != nil && !errors.Is(err, ErrNotFound) {
		return storage(err)
	}
	a.allow(ctx, audit.EventUpdateRevoke, "password", client.ID, claims.UserID, "")
	return nil
}

// issuePair mints an access token plus a refresh token whose single-use key
// is recorded outstanding in the ledger.
func (a *Authenticator) issuePair(ctx context.Context, client *Client, userID string) (TokenPair, error) {
	access, accessClaims, err := a.codec.Issue(client.ID, userID, token.KindAccess, "", client.Policy.AccessTTL, client.TokenKey)
	if err != nil {
		return TokenPair{}, err
	}
	entry, err := a.ledger.CreateEntry(ctx, client.ID, client.Policy.RefreshTTL)
	if err != nil {
		return TokenPair{}, storage(err)
	}
	refresh, refreshClaims, err := a.codec.Issue(client.ID, userID, token.KindRefresh, entry.Key, client.Policy.RefreshTTL, client.TokenKey)
	if err != nil {
		return TokenPair{}, err
	}
	obs.IncTokenIssued(string(token.KindAccess))
	obs.IncTokenIssued(string(token.KindRefresh))
	return TokenPair{
		Access:           access,
		AccessExpiresAt:  accessClaims.ExpiresAt,
		Refresh:          refresh,
		RefreshExpiresAt: refreshClaims.ExpiresAt,
	}, nil
}

// issueOneTime mints a signed token bound to a fresh ledger key, used for
// reset and update flows.
func (a *Authenticator) issueOneTime(ctx context.Context, client *Client, userID string, kind token.Kind, ttl time.Duration) (string, error) {
	entry, err := a.ledger.CreateEntry(ctx, client.ID, ttl)
	if err != nil {
		return "", storage(err)
	}
	tok, _, err := a.codec.Issue(client.ID, userID, kind, entry.Key, ttl, client.TokenKey)
	if err != nil {
		return "", err
	}
	obs.IncTokenIssued(string(kind))
	return tok, nil
}

// verifyOneTime decodes a single-use token and consumes its ledger key.
func (a *Authenticator) verifyOneTime(ctx context.Context, client *Client, tok string, kind token.Kind) (token.Claims, error) {
	claims, err := a.codec.Decode(tok, client.TokenKey, kind)
	if err != nil {
		return token.Claims{}, err
	}
	if claims.ClientID != client.ID {
		return token.Claims{}, csrf.ErrNotFound
	}
	if err := a.consume(ctx, claims.CSRFKey); err != nil {
		return token.Claims{}, err
	}
	return claims, nil
}

// consume maps ledger taxonomy through unchanged and backend failures to
// ErrStorageUnavailable.
func (a *Authenticator) consume(ctx context.Context, key string) error {
	err := a.ledger.ConsumeKey(ctx, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, csrf.ErrNotFound), errors.Is(err, csrf.ErrExpired), errors.Is(err, csrf.ErrAlreadyConsumed):
		return err
	default:
		return storage(err)
	}
}

// setPassword hashes and stores a new password.
func (a *Authenticator) setPassword(ctx context.Context, userID, password string) error {
	if len(password) < minPasswordLen {
		return errors.New("authn: password too short")
	}
	hash, err := secrets.Hash(password)
	if err != nil {
		return err
	}
	if err := a.store.Users().UpdatePassword(ctx, userID, hash, a.now().UTC()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return storage(err)
	}
	return nil
}
