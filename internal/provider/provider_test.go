package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/mojzu/sso-sub004/internal/authn"
	"github.com/mojzu/sso-sub004/internal/csrf"
	"github.com/mojzu/sso-sub004/internal/token"
)

type memStore struct {
	mu      sync.Mutex
	entries map[string]*csrf.Entry
}

func (s *memStore) Create(_ context.Context, e *csrf.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = map[string]*csrf.Entry{}
	}
	cp := *e
	s.entries[e.Key] = &cp
	return nil
}

func (s *memStore) Consume(_ context.Context, key string, now time.Time) (csrf.ConsumeState, *csrf.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return csrf.StateMissing, nil, nil
	}
	if e.ConsumedAt != nil {
		return csrf.StateSpent, e, nil
	}
	if !now.Before(e.ExpiresAt) {
		return csrf.StateExpired, e, nil
	}
	at := now
	e.ConsumedAt = &at
	return csrf.StateConsumed, e, nil
}

func (s *memStore) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func testClient() *authn.Client {
	return &authn.Client{
		ID:       "client-1",
		Name:     "example-app",
		TokenKey: []byte("0123456789abcdef0123456789abcdef"),
		Enabled:  true,
		Policy:   authn.TokenPolicy{CSRFTTL: time.Hour},
	}
}

func newExchange() *Exchange {
	codec := token.NewCodec()
	ledger := csrf.NewLedger(&memStore{}, codec)
	return NewExchange(ledger, codec, 5*time.Second)
}

// githubStub serves the token endpoint plus the two GitHub API calls the
// provider makes.
func githubStub(t *testing.T, email string, tokenStatus int) (*httptest.Server, *int) {
	t.Helper()
	tokenCalls := new(int)
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		*tokenCalls++
		if tokenStatus != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tokenStatus)
			w.Write([]byte(`{"error":"bad_verification_code"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"gho_test","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gho_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":42,"name":"Jamie","email":""}`))
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if email == "" {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`[{"email":"` + email + `","primary":true,"verified":true}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, tokenCalls
}

func githubFromStub(srv *httptest.Server) *GitHub {
	return NewGitHub(Config{
		ClientID:     "gh-client",
		ClientSecret: "gh-secret",
		RedirectURL:  "https://example.test/cb",
		HTTPClient:   srv.Client(),
		APIBaseURL:   srv.URL,
		Endpoint: &oauth2.Endpoint{
			AuthURL:  srv.URL + "/oauth/authorize",
			TokenURL: srv.URL + "/oauth/token",
		},
	})
}

func stateFromURL(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatalf("no state in auth url %q", raw)
	}
	return state
}

func TestCallbackResolvesIdentity(t *testing.T) {
	srv, _ := githubStub(t, "jamie@example.test", http.StatusOK)
	gh := githubFromStub(srv)
	ex := newExchange()
	client := testClient()
	ctx := context.Background()

	authURL, err := ex.Begin(ctx, client, gh)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	state := stateFromURL(t, authURL)

	id, err := ex.Callback(ctx, client, gh, "good-code", state)
	if err != nil {
		t.Fatalf("Callback: %v", err)
	}
	if id.Provider != "github" || id.Email != "jamie@example.test" || id.Subject != "42" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestCallbackReplayedState(t *testing.T) {
	srv, _ := githubStub(t, "jamie@example.test", http.StatusOK)
	gh := githubFromStub(srv)
	ex := newExchange()
	client := testClient()
	ctx := context.Background()

	authURL, err := ex.Begin(ctx, client, gh)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	state := stateFromURL(t, authURL)

	if _, err := ex.Callback(ctx, client, gh, "good-code", state); err != nil {
		t.Fatalf("first Callback: %v", err)
	}
	_, err = ex.Callback(ctx, client, gh, "good-code", state)
	if !errors.Is(err, csrf.ErrAlreadyConsumed) {
		t.Fatalf("expected ErrAlreadyConsumed, got %v", err)
	}
}

func TestCallbackForgedState(t *testing.T) {
	srv, _ := githubStub(t, "jamie@example.test", http.StatusOK)
	gh := githubFromStub(srv)
	ex := newExchange()
	client := testClient()
	ctx := context.Background()

	// Signed with a different key: the signature check must fail before any
	// provider call happens.
	forged, _, err := token.NewCodec().Issue(client.ID, "", token.KindState, "stolen-key", time.Hour, []byte("attacker-key-material-32-bytes!!"))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	_, err = ex.Callback(ctx, client, gh, "good-code", forged)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	_, err = ex.Callback(ctx, client, gh, "good-code", "not-a-token")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestCallbackProviderRejectionNotRetried(t *testing.T) {
	srv, tokenCalls := githubStub(t, "jamie@example.test", http.StatusBadRequest)
	gh := githubFromStub(srv)
	ex := newExchange()
	client := testClient()
	ctx := context.Background()

	authURL, err := ex.Begin(ctx, client, gh)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_, err = ex.Callback(ctx, client, gh, "bad-code", stateFromURL(t, authURL))
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
	if *tokenCalls != 1 {
		t.Fatalf("provider rejection was retried: %d token calls", *tokenCalls)
	}
}

func TestCallbackMissingEmail(t *testing.T) {
	srv, _ := githubStub(t, "", http.StatusOK)
	gh := githubFromStub(srv)
	ex := newExchange()
	client := testClient()
	ctx := context.Background()

	authURL, err := ex.Begin(ctx, client, gh)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_, err = ex.Callback(ctx, client, gh, "good-code", stateFromURL(t, authURL))
	if !errors.Is(err, ErrIdentityUnavailable) {
		t.Fatalf("expected ErrIdentityUnavailable, got %v", err)
	}
}

// flakyProvider fails the first exchange with a transport error, then
// succeeds.
type flakyProvider struct {
	calls int
}

func (p *flakyProvider) Name() string { return "flaky" }

func (p *flakyProvider) AuthCodeURL(s string) string {
	return "https://flaky.test/authorize?state=" + s
}

func (p *flakyProvider) Exchange(_ context.Context, _ string) (*oauth2.Token, error) {
	p.calls++
	if p.calls == 1 {
		return nil, &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	}
	return &oauth2.Token{AccessToken: "ok"}, nil
}
func (p *flakyProvider) Identity(_ context.Context, _ *oauth2.Token) (Identity, error) {
	return Identity{Provider: "flaky", Subject: "1", Email: "jamie@example.test"}, nil
}

func TestCallbackRetriesTransientOnce(t *testing.T) {
	ex := newExchange()
	client := testClient()
	ctx := context.Background()
	p := &flakyProvider{}

	authURL, err := ex.Begin(ctx, client, p)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	id, err := ex.Callback(ctx, client, p, "code", stateFromURL(t, authURL))
	if err != nil {
		t.Fatalf("Callback: %v", err)
	}
	if id.Email != "jamie@example.test" || p.calls != 2 {
		t.Fatalf("expected one retry then success, got calls=%d id=%+v", p.calls, id)
	}
}

func TestMicrosoftIdentity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ms_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"abc","displayName":"Jamie","mail":"","userPrincipalName":"jamie@example.test"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ms := NewMicrosoft(Config{
		ClientID:   "ms-client",
		HTTPClient: srv.Client(),
		APIBaseURL: srv.URL,
	})
	id, err := ms.Identity(context.Background(), &oauth2.Token{AccessToken: "ms_test", TokenType: "Bearer"})
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if id.Email != "jamie@example.test" || id.Subject != "abc" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}
