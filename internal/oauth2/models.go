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

package oauth2

import (
	"errors"
	"time"
)

// Domain errors (internal)
var (
	ErrClientNotFound           = errors.New("client not found")
	ErrDomainInvalidRedirectURI = errors.New("invalid redirect URI")
	ErrDomainInvalidScope       = errors.New("invalid scope")
	ErrUnsupportedPKCEMethod    = errors.New("code_challenge_method must be S256")
	ErrMissingResource          = errors.New("resource parameter is required")
	ErrResourceMismatch         = errors.New("resource does not match the authorized audience")
	ErrCodeExpired              = errors.New("authorization code expired")
	ErrCodeAlreadyUsed          = errors.New("authorization code already used")
	ErrCodeNotFound             = errors.New("authorization code not found")
	ErrDomainInvalidClient      = errors.New("invalid client credentials")
	ErrTokenExpired             = errors.New("token expired")
	ErrTokenRevoked             = errors.New("token revoked")
	ErrTokenNotFound            = errors.New("token not found")
)

// DefaultScope is granted when an authorize request omits the scope parameter.
const DefaultScope = "trading"

// Client represents a registered OAuth2 client application.
type Client struct {
	ID               string // client_id, opaque and caller-facing
	ClientSecretHash string // empty for public clients
	IsConfidential   bool
	ClientName       string
	RedirectURIs     []string
	CreatedAt        time.Time
}

// ValidateRedirectURI checks if the redirect URI is registered for this client.
// Matching is an exact string comparison; the spec carries no wildcard or
// prefix matching for redirect URIs.
func (c *Client) ValidateRedirectURI(redirectURI string) bool {
	for _, uri := range c.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

// AuthorizationCode represents a short-lived, single-use authorization code.
type AuthorizationCode struct {
	Code                string
	UserID              string
	ClientID            string
	RedirectURI         string
	CodeChallenge       string // base64url(sha256(verifier)), no padding
	CodeChallengeMethod string // must equal "S256"
	ResourceParameter   string // the MCP resource URL this code authorizes
	Scope               string
	ExpiresAt           time.Time
	Used                bool
	CreatedAt           time.Time
}

// IsExpired reports whether the authorization code has expired.
func (a *AuthorizationCode) IsExpired() bool {
	return time.Now().After(a.ExpiresAt)
}

// OAuthToken represents the merged access/refresh token pair minted from a
// single grant. Rotation does not rewrite a row's hashes in place: it marks
// the row revoked and stores the rotated pair as a new row.
type OAuthToken struct {
	TokenHash         string // primary key, SHA-256 hex of the signed access token
	UserID            string
	ClientID          string
	ResourceParameter string // token audience
	Scope             string
	ExpiresAt         time.Time
	RefreshTokenHash  string // unique, SHA-256 hex of the refresh token
	RefreshExpiresAt  time.Time
	Revoked           bool
	CreatedAt         time.Time
}

// IsExpired reports whether the access token half has expired.
func (t *OAuthToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsRefreshExpired reports whether the refresh token half has expired.
func (t *OAuthToken) IsRefreshExpired() bool {
	return time.Now().After(t.RefreshExpiresAt)
}

// ClientRepository defines the interface for OAuth2 client persistence.
type ClientRepository interface {
	Create(client *Client) error
	GetByClientID(clientID string) (*Client, error)
	Delete(clientID string) error
}

// AuthorizationCodeRepository defines the interface for authorization code
// persistence.
type AuthorizationCodeRepository interface {
	Create(code *AuthorizationCode) error
	GetByCode(code string) (*AuthorizationCode, error)

	// MarkAsUsed atomically transitions used from false to true. It returns
	// ErrCodeAlreadyUsed if the code was already used (or doesn't exist),
	// so callers can distinguish a genuine first redemption from a replay
	// without a separate read-then-write race window.
	MarkAsUsed(code string) error

	Delete(code string) error
	DeleteExpired(before time.Time) (int64, error)
}

// TokenRepository defines the interface for OAuthToken persistence.
type TokenRepository interface {
	Create(token *OAuthToken) error
	GetByTokenHash(tokenHash string) (*OAuthToken, error)
	GetByRefreshTokenHash(refreshTokenHash string) (*OAuthToken, error)

	// Rotate atomically marks the non-revoked row keyed by
	// oldRefreshTokenHash revoked and inserts next as a new row; the old
	// row is kept, not updated in place.
	Rotate(oldRefreshTokenHash string, next *OAuthToken) error

	// Revoke marks a single token row revoked. Revocation is sticky: the
	// implementation must never clear Revoked once set.
	Revoke(tokenHash string) error

	// RevokeAllForClient revokes every non-revoked row for (userID, clientID),
	// used for the code-replay and refresh-reuse retroactive revocation paths.
	RevokeAllForClient(userID, clientID string) error

	DeleteExpired(before time.Time) (int64, error)
	DeleteRevoked(before time.Time) (int64, error)
}
