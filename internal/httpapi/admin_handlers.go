package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mojzu/sso-sub004/internal/apikey"
	"github.com/mojzu/sso-sub004/internal/audit"
	"github.com/mojzu/sso-sub004/internal/authn"
)

func userBody(u *authn.User) map[string]any {
	return map[string]any{
		"id":         u.ID,
		"client_id":  u.ClientID,
		"email":      u.Email,
		"name":       u.Name,
		"enabled":    u.Enabled,
		"created_at": u.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at": u.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// clientBody never includes the secret hash or token key material.
func clientBody(c *authn.Client) map[string]any {
	return map[string]any{
		"id":            c.ID,
		"name":          c.Name,
		"enabled":       c.Enabled,
		"redirect_uris": c.RedirectURIs,
		"auto_register": c.AutoRegister,
		"created_at":    c.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":    c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func keyBody(k *apikey.Key) map[string]any {
	body := map[string]any{
		"id":         k.ID,
		"service_id": k.ServiceID,
		"user_id":    k.UserID,
		"name":       k.Name,
		"enabled":    k.Enabled,
		"revoked":    k.Revoked,
		"created_at": k.CreatedAt.UTC().Format(time.RFC3339),
	}
	if k.ExpiresAt != nil {
		body["expires_at"] = k.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return body
}

func queryLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

// UserList lists the caller's users.
func (a *API) UserList(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	users, err := a.auth.Users(r.Context(), caller.ID, queryLimit(r))
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		out = append(out, userBody(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// UserCreate registers a user under the caller.
func (a *API) UserCreate(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := a.auth.CreateUser(r.Context(), caller.ID, req.Email, req.Name, req.Password)
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userBody(user))
}

// UserGet returns one of the caller's users.
func (a *API) UserGet(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	user, err := a.auth.User(r.Context(), r.PathValue("id"))
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	if user.ClientID != caller.ID {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, userBody(user))
}

// UserSetEnabled soft-enables or soft-disables one of the caller's users.
func (a *API) UserSetEnabled(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		respondError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	user, err := a.auth.User(r.Context(), r.PathValue("id"))
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	if user.ClientID != caller.ID {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	if err := a.auth.SetUserEnabled(r.Context(), user.ID, *req.Enabled); err != nil {
		respondAuthErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServiceList lists registered clients.
func (a *API) ServiceList(w http.ResponseWriter, r *http.Request, _ *authn.Client) {
	clients, err := a.auth.Clients(r.Context(), queryLimit(r))
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	out := make([]map[string]any, 0, len(clients))
	for _, c := range clients {
		out = append(out, clientBody(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// ServiceCreate registers a client. The plaintext secret appears in this
// response and nowhere else, ever.
func (a *API) ServiceCreate(w http.ResponseWriter, r *http.Request, _ *authn.Client) {
	var req struct {
		Name         string   `json:"name"`
		RedirectURIs []string `json:"redirect_uris"`
		AutoRegister bool     `json:"auto_register"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	client, secret, err := a.auth.CreateClient(r.Context(), req.Name, req.RedirectURIs, req.AutoRegister, authn.TokenPolicy{})
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	body := clientBody(client)
	body["secret"] = secret
	writeJSON(w, http.StatusCreated, body)
}

// ServiceGet returns one registered client.
func (a *API) ServiceGet(w http.ResponseWriter, r *http.Request, _ *authn.Client) {
	client, err := a.auth.Client(r.Context(), r.PathValue("id"))
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clientBody(client))
}

// KeyList lists the caller's API keys.
func (a *API) KeyList(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	keys, err := a.keys.List(r.Context(), caller.ID, queryLimit(r))
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyBody(k))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// KeyCreate generates an API key scoped to the caller and optionally one of
// its users. The raw key appears in this response and nowhere else, ever.
func (a *API) KeyCreate(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	var req struct {
		Name      string `json:"name"`
		UserID    string `json:"user_id"`
		ExpiresAt string `json:"expires_at"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	var expires *time.Time
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid expires_at")
			return
		}
		expires = &t
	}
	key, raw, err := a.keys.Create(r.Context(), caller.ID, req.UserID, req.Name, expires)
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	body := keyBody(key)
	body["key"] = raw
	writeJSON(w, http.StatusCreated, body)
}

// KeyDisable soft-disables one of the caller's API keys.
func (a *API) KeyDisable(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	id := r.PathValue("id")
	key, err := a.keys.Find(r.Context(), id)
	if err != nil {
		respondAuthErr(w, err)
		return
	}
	if key.ServiceID != caller.ID {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	if err := a.keys.Disable(r.Context(), id); err != nil {
		respondAuthErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AuditList returns the caller's audit records, oldest first.
func (a *API) AuditList(w http.ResponseWriter, r *http.Request, caller *authn.Client) {
	q := audit.Query{
		ClientID: caller.ID,
		Event:    r.URL.Query().Get("event"),
		Limit:    queryLimit(r),
	}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid from")
			return
		}
		q.CreatedGTE = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid to")
			return
		}
		q.CreatedLTE = t
	}
	recs, err := a.rec.List(r.Context(), q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		out = append(out, map[string]any{
			"id":         rec.ID,
			"created_at": rec.CreatedAt.UTC().Format(time.RFC3339),
			"event":      rec.Event,
			"client_id":  rec.ClientID,
			"user_id":    rec.UserID,
			"key_id":     rec.KeyID,
			"detail":     rec.Detail,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}
