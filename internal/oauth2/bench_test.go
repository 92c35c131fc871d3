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
	"context"
	"testing"
	"time"

	"github.com/opentrusty/mcptrading/internal/audit"
)

// BenchMockCodeRepo ignores the used flag so the same code can be redeemed
// across every iteration of the loop.
type BenchMockCodeRepo struct {
	code *AuthorizationCode
}

func (m *BenchMockCodeRepo) Create(code *AuthorizationCode) error           { return nil }
func (m *BenchMockCodeRepo) GetByCode(code string) (*AuthorizationCode, error) {
	cp := *m.code
	return &cp, nil
}
func (m *BenchMockCodeRepo) MarkAsUsed(code string) error              { return nil }
func (m *BenchMockCodeRepo) Delete(code string) error                  { return nil }
func (m *BenchMockCodeRepo) DeleteExpired(before time.Time) (int64, error) { return 0, nil }

// BenchMockTokenRepo discards every write so repeated mints don't accumulate.
type BenchMockTokenRepo struct{}

func (m *BenchMockTokenRepo) Create(token *OAuthToken) error                              { return nil }
func (m *BenchMockTokenRepo) GetByTokenHash(tokenHash string) (*OAuthToken, error)         { return nil, ErrTokenNotFound }
func (m *BenchMockTokenRepo) GetByRefreshTokenHash(refreshTokenHash string) (*OAuthToken, error) {
	return nil, ErrTokenNotFound
}
func (m *BenchMockTokenRepo) Rotate(oldRefreshTokenHash string, next *OAuthToken) error { return nil }
func (m *BenchMockTokenRepo) Revoke(tokenHash string) error                            { return nil }
func (m *BenchMockTokenRepo) RevokeAllForClient(userID, clientID string) error          { return nil }
func (m *BenchMockTokenRepo) DeleteExpired(before time.Time) (int64, error)             { return 0, nil }
func (m *BenchMockTokenRepo) DeleteRevoked(before time.Time) (int64, error)             { return 0, nil }

func BenchmarkService_ExchangeCodeForToken(b *testing.B) {
	clientRepo := newMockClientRepo()
	clientRepo.clients["bench-client"] = &Client{
		ID:           "bench-client",
		RedirectURIs: []string{"https://app.example.com/callback"},
	}

	validCode := &AuthorizationCode{
		Code:                "valid-code",
		ClientID:            "bench-client",
		RedirectURI:         "https://app.example.com/callback",
		UserID:              "user-1",
		CodeChallenge:       pkceChallenge("bench-verifier"),
		CodeChallengeMethod: "S256",
		ResourceParameter:   testResource,
		Scope:               DefaultScope,
		ExpiresAt:           time.Now().Add(10 * time.Minute),
	}

	svc := NewService(clientRepo, &BenchMockCodeRepo{code: validCode}, &BenchMockTokenRepo{},
		audit.NewSlogLogger(), []byte("bench-jwt-secret-bench-jwt-secret"), "https://auth.example.com",
		10*time.Minute, 15*time.Minute, 720*time.Hour)

	req := &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "bench-client",
		Code:         "valid-code",
		RedirectURI:  "https://app.example.com/callback",
		CodeVerifier: "bench-verifier",
		Resource:     testResource,
	}

	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.ExchangeCodeForToken(ctx, req); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkValidateAccessToken(b *testing.B) {
	clientRepo := newMockClientRepo()
	clientRepo.clients["bench-client"] = &Client{
		ID:           "bench-client",
		RedirectURIs: []string{"https://app.example.com/callback"},
	}
	tokenRepo := newMockTokenRepo()
	svc := NewService(clientRepo, newMockCodeRepo(), tokenRepo,
		audit.NewSlogLogger(), []byte("bench-jwt-secret-bench-jwt-secret"), "https://auth.example.com",
		10*time.Minute, 15*time.Minute, 720*time.Hour)

	token, resp, err := svc.mintToken("user-1", "bench-client", testResource, DefaultScope)
	if err != nil {
		b.Fatal(err)
	}
	if err := tokenRepo.Create(token); err != nil {
		b.Fatal(err)
	}

	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.ValidateAccessToken(ctx, resp.AccessToken, testResource); err != nil {
			b.Fatal(err)
		}
	}
}
