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

// @title MCP Trading Authorization Server
// @version 1.0.0
// @description OAuth 2.1 authorization server and MCP protected-resource gateway
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://www.swagger.io/support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opentrusty/mcptrading/internal/audit"
	"github.com/opentrusty/mcptrading/internal/identity"
	"github.com/opentrusty/mcptrading/internal/oauth2"
	"github.com/opentrusty/mcptrading/internal/upstreamoauth"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// SessionLister exposes the two session-management operations the postgres
// token repository carries beyond the oauth2.TokenRepository interface.
// Kept narrow and local to the transport layer so the oauth2 package's own
// interface (and its test mocks) never need to know about it.
type SessionLister interface {
	ListActiveForUser(userID string) ([]*oauth2.OAuthToken, error)
	RevokeAllForUser(userID, clientID string) (int64, error)
}

// Handler holds HTTP handlers and their dependencies.
type Handler struct {
	identityService *identity.Service
	oauth2Service   *oauth2.Service
	upstreamService *upstreamoauth.Service
	sessions        SessionLister
	auditLogger     audit.Logger

	publicURL   string
	resourceURL string
}

// NewHandler creates a new HTTP handler.
func NewHandler(
	identityService *identity.Service,
	oauth2Service *oauth2.Service,
	upstreamService *upstreamoauth.Service,
	sessions SessionLister,
	auditLogger audit.Logger,
	publicURL string,
) *Handler {
	trimmed := strings.TrimRight(publicURL, "/")
	return &Handler{
		identityService: identityService,
		oauth2Service:   oauth2Service,
		upstreamService: upstreamService,
		sessions:        sessions,
		auditLogger:     auditLogger,
		publicURL:       trimmed,
		resourceURL:     trimmed + "/mcp/",
	}
}

// NewRouter assembles the HTTP surface described in SPEC_FULL.md section 6.
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(rateLimiter.Middleware())
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", h.HealthCheck)

	r.Get("/.well-known/oauth-authorization-server", h.AuthorizationServerMetadata)
	r.Get("/.well-known/oauth-protected-resource", h.ProtectedResourceMetadata)

	r.Get("/authorize", h.Authorize)
	r.Post("/authorize/login", h.AuthorizeLogin)
	r.Post("/token", h.Token)
	r.Post("/revoke", h.Revoke)
	r.Post("/register", h.RegisterClient)

	r.Get("/setup", h.SetupForm)
	r.Post("/setup", h.SetupSubmit)
	r.Get("/setup/schwab/initiate", h.SchwabInitiate)
	r.Get("/setup/schwab/callback", h.SchwabCallback)

	r.Group(func(r chi.Router) {
		r.Use(h.ResourceGatewayMiddleware(h.resourceURL))
		r.Get("/setup/sessions", h.ListSessions)
		r.Post("/setup/revoke-current", h.RevokeCurrentSession)
		r.Post("/setup/revoke-all", h.RevokeAllSessions)
		r.Get("/mcp/*", h.ProtectedResourcePlaceholder)
	})

	return r
}

// HealthCheck reports liveness. Exempt from auth and rate limiting.
// @Summary Health Check
// @Description Reports service liveness
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ProtectedResourcePlaceholder stands in for the brokerage tool-dispatch
// layer, which is out of scope here (see SPEC_FULL.md section 1): it
// demonstrates that the resource gateway middleware has bound a user before
// any downstream handler runs.
func (h *Handler) ProtectedResourcePlaceholder(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"user_id": GetUserID(r.Context())})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
