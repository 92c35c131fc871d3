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

import "context"

type contextKey string

const (
	userIDKey      contextKey = "user_id"
	accessTokenKey contextKey = "access_token"
)

// withAuthenticatedRequest binds the authenticated (user_id, access_token)
// pair into a request-scoped context value. The binding lives only on the
// *http.Request derived from it: once the handler returns and the request
// falls out of scope, there is nothing left to explicitly clear.
func withAuthenticatedRequest(ctx context.Context, userID, accessToken string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, accessTokenKey, accessToken)
	return ctx
}

// GetUserID retrieves the authenticated user ID bound by the resource
// gateway middleware. Returns "" outside an authenticated request.
func GetUserID(ctx context.Context) string {
	if val, ok := ctx.Value(userIDKey).(string); ok {
		return val
	}
	return ""
}

// GetAccessToken retrieves the bearer token presented on the current
// request, as bound by the resource gateway middleware.
func GetAccessToken(ctx context.Context) string {
	if val, ok := ctx.Value(accessTokenKey).(string); ok {
		return val
	}
	return ""
}
