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

	"github.com/opentrusty/mcptrading/internal/oauth2"
)

// AuthorizationServerMetadata serves the static RFC 8414 discovery document.
func (h *Handler) AuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"issuer":                                h.publicURL,
		"authorization_endpoint":                h.publicURL + "/authorize",
		"token_endpoint":                        h.publicURL + "/token",
		"revocation_endpoint":                   h.publicURL + "/revoke",
		"registration_endpoint":                 h.publicURL + "/register",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"none", "client_secret_post"},
		"scopes_supported":                      []string{oauth2.DefaultScope},
	})
}

// ProtectedResourceMetadata serves the static RFC 9728 discovery document.
func (h *Handler) ProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"resource":                h.resourceURL,
		"authorization_servers":   []string{h.publicURL},
		"scopes_supported":        []string{oauth2.DefaultScope},
		"bearer_methods_supported": []string{"header"},
	})
}
