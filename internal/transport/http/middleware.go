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
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/opentrusty/mcptrading/internal/identity"
	"github.com/opentrusty/mcptrading/internal/oauth2"
	"github.com/opentrusty/mcptrading/internal/observability/logger"
)

// LoggingMiddleware logs HTTP requests.
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slog.InfoContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// resourceGatewayExemptPrefixes lists path prefixes the bearer-token gate
// never applies to. Only ".well-known/" is a genuine prefix (it covers two
// sibling discovery documents); everything else is matched exactly below so
// that a gated path sharing a prefix with an exempt one — "/setup/sessions"
// starts with "/setup" — is never accidentally waved through.
var resourceGatewayExemptPrefixes = []string{
	"/.well-known/",
}

// resourceGatewayExemptPaths lists exact paths the bearer-token gate never
// applies to: the authorization-server surface itself, the brokerage-linking
// entry points, and the liveness probe. The session-management endpoints
// registered under "/setup/" (sessions, revoke-current, revoke-all) are
// deliberately absent: they require the bearer token this gate binds.
var resourceGatewayExemptPaths = map[string]bool{
	"/authorize":             true,
	"/authorize/login":       true,
	"/token":                 true,
	"/revoke":                true,
	"/register":              true,
	"/setup":                 true,
	"/setup/schwab/initiate": true,
	"/setup/schwab/callback": true,
	"/healthz":               true,
}

func isExemptPath(path string) bool {
	if resourceGatewayExemptPaths[path] {
		return true
	}
	for _, prefix := range resourceGatewayExemptPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// ResourceGatewayMiddleware gates every non-exempt request behind a bearer
// token scoped to resourceURL, per the protected-resource profile: a missing
// or malformed token produces 401 with a WWW-Authenticate challenge naming
// this resource's metadata document; a token that fails verification, or
// whose user no longer exists, produces 401 with error="invalid_token", and
// a token whose user no longer exists is also revoked on the spot.
func (h *Handler) ResourceGatewayMiddleware(resourceURL string) func(http.Handler) http.Handler {
	resourceMetadataURL := h.publicURL + "/.well-known/oauth-protected-resource"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) || len(authHeader) == len(prefix) {
				w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="mcp", resource_metadata=%q`, resourceMetadataURL))
				respondError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			presented := strings.TrimPrefix(authHeader, prefix)

			token, err := h.oauth2Service.ValidateAccessToken(r.Context(), presented, resourceURL)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="mcp", error="invalid_token"`)
				respondError(w, http.StatusUnauthorized, "invalid or expired access token")
				return
			}

			if _, err := h.identityService.GetUser(r.Context(), token.UserID); err != nil {
				if err == identity.ErrUserNotFound {
					_ = h.oauth2Service.RevokeToken(r.Context(), &oauth2.Client{ID: token.ClientID}, presented)
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="mcp", error="invalid_token"`)
				respondError(w, http.StatusUnauthorized, "token subject no longer exists")
				return
			}

			ctx := withAuthenticatedRequest(r.Context(), token.UserID, presented)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
