package httpapi

import (
	"net/http"

	"github.com/mojzu/sso-sub004/internal/authn"
)

// keyHeader carries a raw service API key as an alternative to Basic client
// credentials.
const keyHeader = "X-Sso-Key"

// callerHandler is a handler that runs on behalf of an authenticated client.
type callerHandler func(w http.ResponseWriter, r *http.Request, caller *authn.Client)

// withServiceAuth authenticates the calling service before any credential
// operation. Callers present either their client id and secret via Basic
// auth, or a service-scoped API key in the X-Sso-Key header.
func (a *API) withServiceAuth(next callerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, secret, ok := r.BasicAuth(); ok {
			client, err := a.auth.AuthenticateBasic(r.Context(), id, secret)
			if err != nil {
				respondAuthErr(w, err)
				return
			}
			next(w, r, client)
			return
		}
		if raw := r.Header.Get(keyHeader); raw != "" {
			p, err := a.auth.AuthenticateKey(r.Context(), raw)
			if err != nil {
				respondAuthErr(w, err)
				return
			}
			if p.Client == nil {
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next(w, r, p.Client)
			return
		}
		respondError(w, http.StatusUnauthorized, "missing credentials")
	})
}
