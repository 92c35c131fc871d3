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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opentrusty/mcptrading/internal/oauth2"
)

// TestPurpose: the session-management endpoints under /setup/ are not
// accidentally waved through by the "/setup" exemption meant for the
// unauthenticated linking entry points.
// Scope: Integration Test (NewRouter + ResourceGatewayMiddleware)
// Security: SPEC_FULL.md section 4.7 requires these endpoints to be bearer-token
// gated; a broad prefix exemption would silently disable that gate
// Expected: all three reject an unauthenticated request with 401, and accept
// a validly authenticated one
// Test Case ID: HTTP-19
func TestRouter_SetupSessionEndpoints_RequireBearerToken(t *testing.T) {
	h, clientRepo, _, _ := testHandler(t)
	clientRepo.clients["client-1"] = &oauth2.Client{ID: "client-1", RedirectURIs: []string{"https://app.example.com/callback"}}

	rl := NewRateLimiter(RateLimiterConfig{LoginRPM: 1000, AuthorizeRPM: 1000, TokenRPM: 1000})
	router := NewRouter(h, rl)

	for _, target := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/setup/sessions"},
		{http.MethodPost, "/setup/revoke-current"},
		{http.MethodPost, "/setup/revoke-all"},
	} {
		req := httptest.NewRequest(target.method, target.path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401 without a bearer token, got %d", target.method, target.path, rec.Code)
		}
	}

	tokenResp := mintTokenForTest(t, h, "client-1", h.resourceURL)

	req := httptest.NewRequest(http.MethodGet, "/setup/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+tokenResp.AccessToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with a valid bearer token, got %d: %s", rec.Code, rec.Body.String())
	}
}

// TestPurpose: the unauthenticated brokerage-linking entry points under
// /setup remain reachable without a bearer token.
// Scope: Integration Test (NewRouter + ResourceGatewayMiddleware)
// Security: confirms the exact-path exemption still admits the endpoints it
// is meant to, rather than over-correcting into locking everything out
// Expected: 200 OK for the setup form with no Authorization header
// Test Case ID: HTTP-20
func TestRouter_SetupForm_ExemptFromBearerGate(t *testing.T) {
	h, _, _, _ := testHandler(t)

	rl := NewRateLimiter(RateLimiterConfig{LoginRPM: 1000, AuthorizeRPM: 1000, TokenRPM: 1000})
	router := NewRouter(h, rl)

	req := httptest.NewRequest(http.MethodGet, "/setup", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for the unauthenticated setup form, got %d", rec.Code)
	}
}
