// Package httpapi is the HTTP transport layer: routing, middleware and JSON
// shaping around the credential engine. Handlers stay thin; all semantics
// live in authn, apikey, csrf, provider and audit.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mojzu/sso-sub004/internal/apikey"
	"github.com/mojzu/sso-sub004/internal/audit"
	"github.com/mojzu/sso-sub004/internal/authn"
	"github.com/mojzu/sso-sub004/internal/csrf"
	"github.com/mojzu/sso-sub004/internal/obs"
	"github.com/mojzu/sso-sub004/internal/provider"
	"github.com/mojzu/sso-sub004/internal/token"
)

const serviceName = "sso-api"

// ReadyProbe reports whether the service can answer requests.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	auth       *authn.Authenticator
	rec        *audit.Recorder
	keys       *apikey.Service
	exchange   *provider.Exchange
	providers  map[string]provider.Provider
	readyProbe ReadyProbe
	version    string
}

// New wires routes. Providers may be empty; their routes then answer 404.
func New(auth *authn.Authenticator, rec *audit.Recorder, keys *apikey.Service, exchange *provider.Exchange, providers map[string]provider.Provider, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		auth:       auth,
		rec:        rec,
		keys:       keys,
		exchange:   exchange,
		providers:  providers,
		readyProbe: rp,
		version:    version,
	}

	// health/ready/metrics
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	// credential operations, all behind service authentication
	a.mux.Handle("POST /v1/auth/provider/local/login", a.withServiceAuth(a.LocalLogin))
	a.mux.Handle("POST /v1/auth/token/verify", a.withServiceAuth(a.TokenVerify))
	a.mux.Handle("POST /v1/auth/token/refresh", a.withServiceAuth(a.TokenRefresh))
	a.mux.Handle("POST /v1/auth/token/revoke", a.withServiceAuth(a.TokenRevoke))
	a.mux.Handle("POST /v1/auth/key/verify", a.withServiceAuth(a.KeyVerify))
	a.mux.Handle("POST /v1/auth/key/revoke", a.withServiceAuth(a.KeyRevoke))
	a.mux.Handle("POST /v1/auth/csrf", a.withServiceAuth(a.CSRFCreate))
	a.mux.Handle("POST /v1/auth/csrf/verify", a.withServiceAuth(a.CSRFVerify))
	a.mux.Handle("POST /v1/auth/reset/password", a.withServiceAuth(a.ResetPassword))
	a.mux.Handle("POST /v1/auth/reset/password/confirm", a.withServiceAuth(a.ResetPasswordConfirm))
	a.mux.Handle("POST /v1/auth/update/email", a.withServiceAuth(a.UpdateEmail))
	a.mux.Handle("POST /v1/auth/update/email/revoke", a.withServiceAuth(a.UpdateEmailRevoke))
	a.mux.Handle("POST /v1/auth/update/password", a.withServiceAuth(a.UpdatePassword))
	a.mux.Handle("POST /v1/auth/update/password/revoke", a.withServiceAuth(a.UpdatePasswordRevoke))
	a.mux.Handle("GET /v1/auth/provider/{name}/oauth2", a.withServiceAuth(a.OAuth2Begin))
	a.mux.Handle("GET /v1/auth/provider/{name}/oauth2/callback", a.withServiceAuth(a.OAuth2Callback))

	// admin surface
	a.mux.Handle("GET /v1/user", a.withServiceAuth(a.UserList))
	a.mux.Handle("POST /v1/user", a.withServiceAuth(a.UserCreate))
	a.mux.Handle("GET /v1/user/{id}", a.withServiceAuth(a.UserGet))
	a.mux.Handle("PATCH /v1/user/{id}", a.withServiceAuth(a.UserSetEnabled))
	a.mux.Handle("GET /v1/service", a.withServiceAuth(a.ServiceList))
	a.mux.Handle("POST /v1/service", a.withServiceAuth(a.ServiceCreate))
	a.mux.Handle("GET /v1/service/{id}", a.withServiceAuth(a.ServiceGet))
	a.mux.Handle("GET /v1/key", a.withServiceAuth(a.KeyList))
	a.mux.Handle("POST /v1/key", a.withServiceAuth(a.KeyCreate))
	a.mux.Handle("DELETE /v1/key/{id}", a.withServiceAuth(a.KeyDisable))
	a.mux.Handle("GET /v1/audit", a.withServiceAuth(a.AuditList))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the instrumented root handler.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.mux)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// respondAuthErr maps engine errors to statuses. Denials are uniformly 401;
// the audit trail has the cause.
func respondAuthErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authn.ErrStorageUnavailable):
		respondError(w, http.StatusServiceUnavailable, "storage unavailable")
	case errors.Is(err, authn.ErrAlreadyExists):
		respondError(w, http.StatusConflict, "already exists")
	case errors.Is(err, provider.ErrProvider), errors.Is(err, provider.ErrIdentityUnavailable):
		respondError(w, http.StatusBadGateway, "provider error")
	case errors.Is(err, authn.ErrUnauthorized),
		errors.Is(err, apikey.ErrRejected),
		errors.Is(err, provider.ErrInvalidState),
		errors.Is(err, csrf.ErrNotFound),
		errors.Is(err, csrf.ErrExpired),
		errors.Is(err, csrf.ErrAlreadyConsumed),
		errors.Is(err, token.ErrMalformed),
		errors.Is(err, token.ErrInvalidSignature),
		errors.Is(err, token.ErrExpired),
		errors.Is(err, token.ErrWrongKind):
		respondError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, authn.ErrNotFound), errors.Is(err, apikey.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

type tokenPairBody struct {
	AccessToken      string `json:"access_token"`
	AccessExpiresAt  string `json:"access_expires_at"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresAt string `json:"refresh_expires_at"`
}

func pairBody(p authn.TokenPair) tokenPairBody {
	return tokenPairBody{
		AccessToken:      p.Access,
		AccessExpiresAt:  p.AccessExpiresAt.UTC().Format(time.RFC3339),
		RefreshToken:     p.Refresh,
		RefreshExpiresAt: p.RefreshExpiresAt.UTC().Format(time.RFC3339),
	}
}
