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
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig carries the three per-endpoint requests-per-minute
// quotas named in SPEC_FULL.md section 4.9.
type RateLimiterConfig struct {
	LoginRPM     int
	AuthorizeRPM int
	TokenRPM     int
}

// endpointLimiter is one independent per-IP token-bucket map, scoped to a
// single endpoint.
type endpointLimiter struct {
	mu    sync.Mutex
	ips   map[string]*rate.Limiter
	rps   rate.Limit
	burst int
}

func newEndpointLimiter(rpm int) *endpointLimiter {
	return &endpointLimiter{
		ips:   make(map[string]*rate.Limiter),
		rps:   rate.Every(time.Minute / time.Duration(rpm)),
		burst: rpm,
	}
}

func (e *endpointLimiter) allow(ip string) bool {
	e.mu.Lock()
	limiter, ok := e.ips[ip]
	if !ok {
		limiter = rate.NewLimiter(e.rps, e.burst)
		e.ips[ip] = limiter
	}
	e.mu.Unlock()
	return limiter.Allow()
}

// RateLimiter holds three independent per-IP limiter sets, one per rate-
// limited endpoint. Endpoints not named here pass through unmetered.
type RateLimiter struct {
	login     *endpointLimiter
	authorize *endpointLimiter
	token     *endpointLimiter
}

// NewRateLimiter builds the three endpoint limiter sets from cfg.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		login:     newEndpointLimiter(cfg.LoginRPM),
		authorize: newEndpointLimiter(cfg.AuthorizeRPM),
		token:     newEndpointLimiter(cfg.TokenRPM),
	}
}

// Middleware rate-limits POST /authorize/login, GET /authorize, and POST
// /token per-source-IP; every other path passes through unmetered.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var limiter *endpointLimiter
			switch {
			case r.Method == http.MethodPost && r.URL.Path == "/authorize/login":
				limiter = rl.login
			case r.Method == http.MethodGet && r.URL.Path == "/authorize":
				limiter = rl.authorize
			case r.Method == http.MethodPost && r.URL.Path == "/token":
				limiter = rl.token
			}

			if limiter != nil && !limiter.allow(getClientIP(r)) {
				respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the caller's address, preferring proxy headers over
// the raw connection address.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
