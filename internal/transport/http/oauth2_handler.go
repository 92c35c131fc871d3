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
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/opentrusty/mcptrading/internal/audit"
	"github.com/opentrusty/mcptrading/internal/identity"
	"github.com/opentrusty/mcptrading/internal/oauth2"
	"github.com/opentrusty/mcptrading/internal/observability/logger"
)

// Authorize renders a minimal consent form for a validated GET /authorize
// request, or a user-facing remediation page if validation fails.
// @Summary Authorization endpoint
// @Description Renders the consent form for an authorization-code+PKCE request
// @Tags OAuth2
// @Produce html
// @Param client_id query string true "Client identifier"
// @Param redirect_uri query string true "Registered redirect URI"
// @Param code_challenge query string true "PKCE code challenge"
// @Param code_challenge_method query string true "Must be S256"
// @Param resource query string true "RFC 8707 target resource"
// @Success 200 {string} string "HTML consent form"
// @Failure 400 {string} string "invalid request"
// @Router /authorize [get]
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := &oauth2.AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Resource:            q.Get("resource"),
		Scope:               q.Get("scope"),
	}

	if _, err := h.oauth2Service.ValidateAuthorizeRequest(r.Context(), req); err != nil {
		slog.WarnContext(r.Context(), "invalid authorize request", logger.Error(err), logger.ClientID(req.ClientID))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `<html><body><h1>Authorization request rejected</h1><p>%s</p></body></html>`, html.EscapeString(err.Error()))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<html><body>
<h1>Sign in</h1>
<form method="POST" action="/authorize/login">
<input type="hidden" name="client_id" value="%s">
<input type="hidden" name="redirect_uri" value="%s">
<input type="hidden" name="state" value="%s">
<input type="hidden" name="code_challenge" value="%s">
<input type="hidden" name="code_challenge_method" value="%s">
<input type="hidden" name="resource" value="%s">
<input type="hidden" name="scope" value="%s">
<label>Email <input type="email" name="email" required></label>
<label>Password <input type="password" name="password" required></label>
<button type="submit">Continue</button>
</form>
</body></html>`,
		html.EscapeString(req.ClientID),
		html.EscapeString(req.RedirectURI),
		html.EscapeString(req.State),
		html.EscapeString(req.CodeChallenge),
		html.EscapeString(req.CodeChallengeMethod),
		html.EscapeString(req.Resource),
		html.EscapeString(req.Scope),
	)
}

// AuthorizeLogin authenticates (or lazily creates) the user, mints a single-
// use authorization code, and redirects with a mandatory 303 so the browser
// switches to GET on the callback.
// @Summary Submit authorization credentials
// @Description Authenticates the resource owner and redirects with an authorization code
// @Tags OAuth2
// @Accept x-www-form-urlencoded
// @Success 303 {string} string "redirect to redirect_uri with code and state"
// @Failure 401 {object} map[string]string
// @Router /authorize/login [post]
func (h *Handler) AuthorizeLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	req := &oauth2.AuthorizeRequest{
		ClientID:            r.Form.Get("client_id"),
		RedirectURI:         r.Form.Get("redirect_uri"),
		State:               r.Form.Get("state"),
		CodeChallenge:       r.Form.Get("code_challenge"),
		CodeChallengeMethod: r.Form.Get("code_challenge_method"),
		Resource:            r.Form.Get("resource"),
		Scope:               r.Form.Get("scope"),
	}

	if _, err := h.oauth2Service.ValidateAuthorizeRequest(r.Context(), req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	email := r.Form.Get("email")
	password := r.Form.Get("password")

	user, err := h.identityService.AuthenticateOrCreate(r.Context(), email, password)
	if err != nil {
		switch err {
		case identity.ErrInvalidEmail, identity.ErrWeakPassword:
			respondError(w, http.StatusBadRequest, "invalid email or password")
		default:
			h.auditLogger.Log(r.Context(), audit.Event{
				Type:      audit.TypeLoginFailed,
				Resource:  audit.ResourceUser,
				IPAddress: getClientIP(r),
				Metadata:  map[string]any{audit.AttrEmail: email},
			})
			respondError(w, http.StatusUnauthorized, "invalid credentials")
		}
		return
	}

	code, err := h.oauth2Service.CreateAuthorizationCode(r.Context(), user.ID, req)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create authorization code", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create authorization code")
		return
	}

	redirectURL := addQueryParams(req.RedirectURI, map[string]string{
		"code":  code.Code,
		"state": req.State,
	})
	http.Redirect(w, r, redirectURL, http.StatusSeeOther)
}

// Token implements the POST /token grant switch. Both supported grant types
// are dispatched internally by oauth2.Service.ExchangeCodeForToken.
// @Summary Token endpoint
// @Description Exchanges an authorization code or refresh token for an access token
// @Tags OAuth2
// @Accept x-www-form-urlencoded
// @Produce json
// @Param grant_type formData string true "authorization_code or refresh_token"
// @Success 200 {object} oauth2.TokenResponse
// @Failure 400 {object} oauth2.Error
// @Failure 401 {object} oauth2.Error
// @Router /token [post]
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "invalid request"))
		return
	}

	clientID := r.Form.Get("client_id")
	clientSecret := r.Form.Get("client_secret")
	if clientID == "" {
		if username, password, ok := r.BasicAuth(); ok {
			clientID = username
			clientSecret = password
		}
	}

	req := &oauth2.TokenRequest{
		GrantType:    r.Form.Get("grant_type"),
		Code:         r.Form.Get("code"),
		RedirectURI:  r.Form.Get("redirect_uri"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		CodeVerifier: r.Form.Get("code_verifier"),
		RefreshToken: r.Form.Get("refresh_token"),
		Resource:     r.Form.Get("resource"),
	}

	resp, err := h.oauth2Service.ExchangeCodeForToken(r.Context(), req)
	if err != nil {
		slog.WarnContext(r.Context(), "token request failed", logger.Error(err), logger.GrantType(req.GrantType))
		h.respondOAuthError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	respondJSON(w, http.StatusOK, resp)
}

// Revoke implements RFC 7009: always 200, even for unknown or foreign
// tokens, to avoid leaking which tokens exist.
// @Summary Revocation endpoint
// @Description Revokes an access or refresh token
// @Tags OAuth2
// @Accept x-www-form-urlencoded
// @Param token formData string true "Token to revoke"
// @Success 200
// @Router /revoke [post]
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}

	clientID := r.Form.Get("client_id")
	if clientID == "" {
		if username, _, ok := r.BasicAuth(); ok {
			clientID = username
		}
	}

	token := r.Form.Get("token")
	if token != "" && clientID != "" {
		if err := h.oauth2Service.RevokeToken(r.Context(), &oauth2.Client{ID: clientID}, token); err != nil {
			slog.ErrorContext(r.Context(), "revoke failed", logger.Error(err))
		}
	}

	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// registerClientRequest is the RFC 7591 dynamic-client-registration body.
type registerClientRequest struct {
	ClientName   string   `json:"client_name"`
	RedirectURIs []string `json:"redirect_uris"`
}

// RegisterClient implements RFC 7591 dynamic client registration. Every
// client this core issues is public (PKCE-only); no client_secret is ever
// returned.
// @Summary Dynamic client registration
// @Description Registers a new public OAuth2 client
// @Tags OAuth2
// @Accept json
// @Produce json
// @Param request body registerClientRequest true "Client metadata"
// @Success 201 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Router /register [post]
func (h *Handler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	var req registerClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ClientName == "" || len(req.RedirectURIs) == 0 {
		respondError(w, http.StatusBadRequest, "client_name and redirect_uris are required")
		return
	}
	for _, uri := range req.RedirectURIs {
		if !isAllowedRedirectURI(uri) {
			respondError(w, http.StatusBadRequest, "redirect_uris must be https or localhost")
			return
		}
	}

	client, _, err := h.oauth2Service.CreateClient(r.Context(), req.ClientName, req.RedirectURIs, false)
	if err != nil {
		slog.ErrorContext(r.Context(), "client registration failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to register client")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"client_id":                  client.ID,
		"client_name":                client.ClientName,
		"redirect_uris":              client.RedirectURIs,
		"token_endpoint_auth_method": "none",
	})
}

func isAllowedRedirectURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme == "https" {
		return true
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}

// addQueryParams appends params to rawURL, percent-encoding both keys and
// values so state/code/error values carrying reserved characters survive
// the redirect intact.
func addQueryParams(rawURL string, params map[string]string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// respondOAuthError serializes a protocol-level error into the RFC 6749
// error body shape.
func (h *Handler) respondOAuthError(w http.ResponseWriter, err error) {
	if oauthErr, ok := err.(*oauth2.Error); ok {
		status := http.StatusBadRequest
		switch oauthErr.Code {
		case oauth2.ErrInvalidClient:
			status = http.StatusUnauthorized
		case oauth2.ErrServerError:
			status = http.StatusInternalServerError
		}
		respondJSON(w, status, oauthErr)
		return
	}
	respondJSON(w, http.StatusInternalServerError, oauth2.NewError(oauth2.ErrServerError, "internal server error"))
}
