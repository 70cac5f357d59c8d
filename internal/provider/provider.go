// Package provider implements the OAuth2 authorization-code flow against
// external identity providers. The engine never redirects browsers itself;
// it builds authorization URLs, validates single-use state, exchanges codes
// and fetches the provider identity, leaving session issuance to authn.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/mojzu/sso-sub004/internal/authn"
	"github.com/mojzu/sso-sub004/internal/csrf"
	"github.com/mojzu/sso-sub004/internal/token"
)

var (
	// ErrInvalidState covers forged, expired, malformed or cross-client
	// state values.
	ErrInvalidState = errors.New("provider: invalid state")
	// ErrProvider is a failure reported by the provider itself.
	ErrProvider = errors.New("provider: exchange failed")
	// ErrIdentityUnavailable means the provider answered but did not yield
	// a usable identity (most commonly no verified email).
	ErrIdentityUnavailable = errors.New("provider: identity unavailable")
)

// Identity is what a provider proves about the signed-in person.
type Identity struct {
	Provider string
	Subject  string
	Email    string
	Name     string
}

// Provider is one configured upstream identity provider.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Identity(ctx context.Context, tok *oauth2.Token) (Identity, error)
}

// Config is the per-provider wiring. HTTPClient, APIBaseURL and Endpoint
// default to production values and exist so tests can point at local
// servers.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	HTTPClient   *http.Client
	APIBaseURL   string
	Endpoint     *oauth2.Endpoint
}

// Exchange drives the state handshake around any Provider.
type Exchange struct {
	ledger  *csrf.Ledger
	codec   *token.Codec
	timeout time.Duration
}

// NewExchange constructs an Exchange. The timeout bounds each upstream call.
func NewExchange(ledger *csrf.Ledger, codec *token.Codec, timeout time.Duration) *Exchange {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Exchange{ledger: ledger, codec: codec, timeout: timeout}
}

// Begin mints a single-use state token bound to the client and returns the
// provider authorization URL carrying it.
func (e *Exchange) Begin(ctx context.Context, client *authn.Client, p Provider) (string, error) {
	entry, err := e.ledger.CreateEntry(ctx, client.ID, client.Policy.CSRFTTL)
	if err != nil {
		return "", err
	}
	state, _, err := e.codec.Issue(client.ID, "", token.KindState, entry.Key, client.Policy.CSRFTTL, client.TokenKey)
	if err != nil {
		return "", err
	}
	return p.AuthCodeURL(state), nil
}

// Callback validates and consumes the state, exchanges the code and fetches
// the provider identity. A replayed state fails with ErrAlreadyConsumed; all
// other state problems collapse to ErrInvalidState.
func (e *Exchange) Callback(ctx context.Context, client *authn.Client, p Provider, code, state string) (Identity, error) {
	claims, err := e.codec.Decode(state, client.TokenKey, token.KindState)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if claims.ClientID != client.ID || claims.CSRFKey == "" {
		return Identity{}, ErrInvalidState
	}
	if err := e.ledger.ConsumeKey(ctx, claims.CSRFKey); err != nil {
		if errors.Is(err, csrf.ErrAlreadyConsumed) {
			return Identity{}, err
		}
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tok, err := e.exchange(ctx, p, code)
	if err != nil {
		return Identity{}, err
	}
	id, err := p.Identity(ctx, tok)
	if err != nil {
		return Identity{}, err
	}
	if id.Email == "" {
		return Identity{}, ErrIdentityUnavailable
	}
	return id, nil
}

// exchange performs the code exchange with one retry on transient transport
// failure. Errors returned by the provider are never retried: a rejected
// code stays rejected.
func (e *Exchange) exchange(ctx context.Context, p Provider, code string) (*oauth2.Token, error) {
	tok, err := p.Exchange(ctx, code)
	if err == nil {
		return tok, nil
	}
	if !transient(err) {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	tok, err = p.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	return tok, nil
}

func transient(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}
