package httpapi

import (
	"net/http"

	"github.com/mojzu/sso-sub004/internal/audit"
	"github.com/mojzu/sso-sub004/internal/authn"
)

// LocalLogin verifies an email/password pair and issues a token pair.
func (a *API) LocalLogin(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	pair, err := a.auth.Login(r.Context(), caller.ID, req.Email, req.Password)
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairBody(pair))
}

// TokenVerify checks an access token issued for the calling client.
func (a *API) TokenVerify(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	client, user, err := a.auth.AuthenticateBearer(r.Context(), req.Token)
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	// A client can only verify its own tokens.
	if client.ID != caller.ID {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	body := map[string]any{"client_id": client.ID}
	if user != nil {
		body["user_id"] = user.ID
		body["email"] = user.Email
	}
	writeJSON(w, http.StatusOK, body)
}

// TokenRefresh rotates a refresh token.
func (a *API) TokenRefresh(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	pair, err := a.auth.RefreshToken(r.Context(), caller.ID, req.Token)
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairBody(pair))
}

// TokenRevoke invalidates a refresh token.
func (a *API) TokenRevoke(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.auth.RevokeToken(r.Context(), caller.ID, req.Token); err != nil {
		respondAuthErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// KeyVerify checks a raw API key.
func (a *API) KeyVerify(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	var req struct {
		Key string `json:"key"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := a.auth.AuthenticateKey(r.Context(), req.Key)
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	body := map[string]any{"key_id": p.KeyID}
	if p.Client != nil {
		body["service_id"] = p.Client.ID
	}
	if p.User != nil {
		body["user_id"] = p.User.ID
	}
	writeJSON(w, http.StatusOK, body)
}

// KeyRevoke permanently kills a raw API key.
func (a *API) KeyRevoke(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	var req struct {
		Key string `json:"key"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := a.auth.AuthenticateKey(r.Context(), req.Key)
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	if err := a.keys.Revoke(r.Context(), p.KeyID); err != nil {
		respondAuthErr(w, err)
		return
	}
	a.rec.Record(r.Context(), audit.EventKeyRevoke, caller.ID, "", p.KeyID, nil)
	w.WriteHeader(http.StatusNoContent)
}

// CSRFCreate issues a single-use anti-forgery token for the caller.
func (a *API) CSRFCreate(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	tok, err := a.auth.IssueCSRF(r.Context(), caller.ID)
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": tok})
}

// CSRFVerify consumes a single-use anti-forgery token.
func (a *API) CSRFVerify(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.auth.VerifyCSRF(r.Context(), caller.ID, req.Token); err != nil {
		respondAuthErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetPassword issues a single-use reset token; the calling service
// delivers it to the user out of band.
func (a *API) ResetPassword(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	tok, err := a.auth.ResetPassword(r.Context(), caller.ID, req.Email)
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": tok})
}

// ResetPasswordConfirm consumes a reset token and sets the new password.
func (a *API) ResetPasswordConfirm(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.auth.ResetPasswordConfirm(r.Context(), caller.ID, req.Token, req.Password); err != nil {
		respondAuthErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateEmail changes a user's email and returns the revoke token for the
// old address.
func (a *API) UpdateEmail(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	var req struct {
		UserID   string `json:"user_id"`
		Password string `json:"password"`
		NewEmail string `json:"new_email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	tok, err := a.auth.UpdateEmail(r.Context(), caller.ID, req.UserID, req.Password, req.NewEmail)
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoke_token": tok})
}

// UpdateEmailRevoke disables the user named by an update-email revoke token.
func (a *API) UpdateEmailRevoke(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.auth.UpdateEmailRevoke(r.Context(), caller.ID, req.Token); err != nil {
		respondAuthErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdatePassword changes a user's password and returns the revoke token.
func (a *API) UpdatePassword(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	var req struct {
		UserID      string `json:"user_id"`
		Password    string `json:"password"`
		NewPassword string `json:"new_password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	tok, err := a.auth.UpdatePassword(r.Context(), caller.ID, req.UserID, req.Password, req.NewPassword)
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoke_token": tok})
}

// UpdatePasswordRevoke disables the user named by an update-password revoke
// token.
func (a *API) UpdatePasswordRevoke(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.auth.UpdatePasswordRevoke(r.Context(), caller.ID, req.Token); err != nil {
		respondAuthErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OAuth2Begin returns the provider authorization URL with a fresh single-use
// state bound to the caller.
func (a *API) OAuth2Begin(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	p, ok := a.providers[r.PathValue("name")]
	if !ok {
		respondError(w, http.StatusNotFound, "unknown provider")
		return
	}
	url, err := a.exchange.Begin(r.Context(), caller, p)
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

// OAuth2Callback completes the authorization-code flow and issues a token
// pair for the resolved user.
func (a *API) OAuth2Callback(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	p, ok := a.providers[r.PathValue("name")]
	if !ok {
		respondError(w, http.StatusNotFound, "unknown provider")
		return
	}
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		respondError(w, http.StatusBadRequest, "code and state are required")
		return
	}
	id, err := a.exchange.Callback(r.Context(), caller, p, code, state)
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	pair, err := a.auth.OAuth2Login(r.Context(), caller.ID, id.Email)
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairBody(pair))
}
