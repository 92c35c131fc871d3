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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opentrusty/mcptrading/internal/oauth2"
)

// authenticatedRequest mints a real token for clientID and returns a request
// whose context carries the (user_id, access_token) pair the resource
// gateway middleware would have bound, so handler-level tests can exercise
// session endpoints without going through the middleware itself.
func authenticatedRequest(t *testing.T, h *Handler, method, target, clientID string) *http.Request {
	t.Helper()
	tokenResp := mintTokenForTest(t, h, clientID, h.resourceURL)

	token, err := h.oauth2Service.ValidateAccessToken(context.Background(), tokenResp.AccessToken, h.resourceURL)
	if err != nil {
		t.Fatalf("validate minted token: %v", err)
	}

	req := httptest.NewRequest(method, target, nil)
	ctx := withAuthenticatedRequest(req.Context(), token.UserID, tokenResp.AccessToken)
	return req.WithContext(ctx)
}

// TestPurpose: a user with one active token pair sees exactly one session in the listing.
// Scope: Unit Test
// Security: SPEC_FULL.md section 4.7 session management must not leak other users' sessions
// Expected: 200 OK with a single session entry matching the minted client/resource
// Test Case ID: HTTP-14
func TestListSessions_OneActiveToken_ReturnsOneSession(t *testing.T) {
	h, clientRepo, _, _ := testHandler(t)
	clientRepo.clients["client-1"] = &oauth2.Client{ID: "client-1", RedirectURIs: []string{"https://app.example.com/callback"}}

	req := authenticatedRequest(t, h, http.MethodGet, "/setup/sessions", "client-1")
	rec := httptest.NewRecorder()

	h.ListSessions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Sessions []sessionView `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Sessions) != 1 {
		t.Fatalf("expected exactly 1 session, got %d", len(body.Sessions))
	}
	if body.Sessions[0].ClientID != "client-1" {
		t.Errorf("unexpected client id: %s", body.Sessions[0].ClientID)
	}
}

// TestPurpose: revoking the current session invalidates the very token used to authenticate the call.
// Scope: Unit Test
// Security: SPEC_FULL.md section 4.7, confirms self-revocation takes effect immediately
// Expected: 200 OK from RevokeCurrentSession, and the same access token is rejected afterward
// Test Case ID: HTTP-15
func TestRevokeCurrentSession_RevokesPresentedToken(t *testing.T) {
	h, clientRepo, _, _ := testHandler(t)
	clientRepo.clients["client-1"] = &oauth2.Client{ID: "client-1", RedirectURIs: []string{"https://app.example.com/callback"}}

	req := authenticatedRequest(t, h, http.MethodPost, "/setup/sessions/revoke", "client-1")
	presented := GetAccessToken(req.Context())
	rec := httptest.NewRecorder()

	h.RevokeCurrentSession(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	validated, err := h.oauth2Service.ValidateAccessToken(req.Context(), presented, h.resourceURL)
	if err == nil {
		t.Errorf("expected the revoked token to fail validation, got a valid token for user %s", validated.UserID)
	}
}

// TestPurpose: revoking all sessions for a user clears every active token pair, scoped to the caller.
// Scope: Unit Test
// Security: SPEC_FULL.md section 4.7 bulk revocation must not touch another user's tokens
// Expected: 200 OK with revoked count equal to the number of active sessions for that user
// Test Case ID: HTTP-16
func TestRevokeAllSessions_RevokesEveryActiveTokenForCaller(t *testing.T) {
	h, clientRepo, _, _ := testHandler(t)
	clientRepo.clients["client-1"] = &oauth2.Client{ID: "client-1", RedirectURIs: []string{"https://app.example.com/callback"}}
	clientRepo.clients["client-2"] = &oauth2.Client{ID: "client-2", RedirectURIs: []string{"https://app.example.com/callback"}}

	mintTokenForTest(t, h, "client-1", h.resourceURL)
	req := authenticatedRequest(t, h, http.MethodPost, "/setup/sessions/revoke-all", "client-2")
	rec := httptest.NewRecorder()

	h.RevokeAllSessions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Revoked int64 `json:"revoked"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Revoked != 2 {
		t.Errorf("expected 2 revoked sessions (one per client), got %d", body.Revoked)
	}
}

// TestPurpose: submitting the setup form with a valid email/password redirects into the upstream authorization page.
// Scope: Unit Test
// Security: confirms the brokerage-linking bridge starts correctly from the HTML entry point
// Expected: 303 See Other with a Location header pointing at the upstream authorize URL
// Test Case ID: HTTP-17
func TestSetupSubmit_ValidCredentials_RedirectsToUpstreamAuthorize(t *testing.T) {
	h, _, _, _ := testHandler(t)

	form := strings.NewReader("email=trader3%40example.com&password=correct+horse+battery+staple")
	req := httptest.NewRequest(http.MethodPost, "/setup", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	h.SetupSubmit(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "schwab.example.com/authorize") {
		t.Errorf("expected redirect to the upstream authorize page, got %q", loc)
	}
}

// TestPurpose: a failed upstream callback (unknown state) reports failure instead of linking an account.
// Scope: Unit Test
// Security: confirms a forged or expired state parameter cannot complete the linking flow
// Expected: 400 Bad Request with a failure page, no credential persisted
// Test Case ID: HTTP-18
func TestSchwabCallback_UnknownState_ReportsFailure(t *testing.T) {
	h, _, _, _ := testHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/setup/callback?state=does-not-exist&code=irrelevant", nil)
	rec := httptest.NewRecorder()

	h.SchwabCallback(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Linking failed") {
		t.Errorf("expected a failure page, got %q", rec.Body.String())
	}
}
