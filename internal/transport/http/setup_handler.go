// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"html"
	"log/slog"
	"net/http"

	"github.com/opentrusty/mcptrading/internal/oauth2"
	"github.com/opentrusty/mcptrading/internal/observability/logger"
)

// SetupForm renders the entry point for linking a brokerage account: an
// email/password form whose submission kicks off the upstream-OAuth bridge.
func (h *Handler) SetupForm(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<html><body>
<h1>Link your brokerage account</h1>
<form method="POST" action="/setup">
<label>Email <input type="email" name="email" required></label>
<label>Password <input type="password" name="password"></label>
<button type="submit">Continue</button>
</form>
</body></html>`))
}

// SetupSubmit begins the upstream-OAuth linking flow for the submitted
// email and redirects the browser to the brokerage's authorization page.
func (h *Handler) SetupSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	email := r.Form.Get("email")
	password := r.Form.Get("password")

	authorizeURL, err := h.upstreamService.Initiate(r.Context(), email, password)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to initiate upstream oauth", logger.Error(err), logger.Email(email))
		respondError(w, http.StatusInternalServerError, "failed to start linking flow")
		return
	}

	http.Redirect(w, r, authorizeURL, http.StatusSeeOther)
}

// SchwabInitiate is an alias entry point for clients that want to start the
// linking flow directly via query parameters rather than the HTML form.
func (h *Handler) SchwabInitiate(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	password := r.URL.Query().Get("password")

	authorizeURL, err := h.upstreamService.Initiate(r.Context(), email, password)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to initiate upstream oauth", logger.Error(err), logger.Email(email))
		respondError(w, http.StatusInternalServerError, "failed to start linking flow")
		return
	}

	http.Redirect(w, r, authorizeURL, http.StatusSeeOther)
}

// SchwabCallback completes the linking flow: it exchanges the code, stores
// the vault-encrypted credential, and reports success to the browser.
func (h *Handler) SchwabCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	user, err := h.upstreamService.Callback(r.Context(), state, code)
	if err != nil {
		slog.WarnContext(r.Context(), "upstream oauth callback failed", logger.Error(err))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`<html><body><h1>Linking failed</h1><p>` + html.EscapeString(err.Error()) + `</p></body></html>`))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<html><body><h1>Account linked</h1><p>Signed in as ` + html.EscapeString(user.Email) + `</p></body></html>`))
}

// sessionView is the JSON shape of one active session in ListSessions.
type sessionView struct {
	ClientID  string `json:"client_id"`
	Scope     string `json:"scope"`
	Resource  string `json:"resource"`
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at"`
	IsExpired bool   `json:"is_expired"`
}

// ListSessions reports the caller's active authorization sessions (one per
// issued token pair).
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	tokens, err := h.sessions.ListActiveForUser(userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list sessions", logger.Error(err), logger.UserID(userID))
		respondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	views := make([]sessionView, 0, len(tokens))
	for _, t := range tokens {
		views = append(views, sessionView{
			ClientID:  t.ClientID,
			Scope:     t.Scope,
			Resource:  t.ResourceParameter,
			CreatedAt: t.CreatedAt.Format(http.TimeFormat),
			ExpiresAt: t.ExpiresAt.Format(http.TimeFormat),
			IsExpired: t.IsExpired(),
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

// RevokeCurrentSession revokes only the token pair that authenticated this
// request.
func (h *Handler) RevokeCurrentSession(w http.ResponseWriter, r *http.Request) {
	presented := GetAccessToken(r.Context())

	token, err := h.oauth2Service.ValidateAccessToken(r.Context(), presented, h.resourceURL)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid or expired access token")
		return
	}

	if err := h.oauth2Service.RevokeToken(r.Context(), &oauth2.Client{ID: token.ClientID}, presented); err != nil {
		slog.ErrorContext(r.Context(), "failed to revoke current session", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to revoke session")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// RevokeAllSessions revokes every session belonging to the caller, optionally
// scoped to a single client_id.
func (h *Handler) RevokeAllSessions(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())
	clientID := r.URL.Query().Get("client_id")

	count, err := h.sessions.RevokeAllForUser(userID, clientID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to revoke all sessions", logger.Error(err), logger.UserID(userID))
		respondError(w, http.StatusInternalServerError, "failed to revoke sessions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"revoked": count})
}
