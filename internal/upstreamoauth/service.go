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

package upstreamoauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/opentrusty/mcptrading/internal/audit"
	"github.com/opentrusty/mcptrading/internal/credential"
	"github.com/opentrusty/mcptrading/internal/identity"
	"github.com/opentrusty/mcptrading/internal/vault"
)

// Service orchestrates the initiate/callback legs of the upstream-OAuth
// bridge, independent of any HTTP framework. The Exchanger is polymorphic;
// everything else here is wiring.
type Service struct {
	states      StateRepository
	credentials credential.Repository
	identity    *identity.Service
	exchanger   Exchanger
	vault       *vault.Vault
	audit       audit.Logger

	stateLifetime time.Duration
}

// NewService creates a new upstream-OAuth bridge service.
func NewService(
	states StateRepository,
	credentials credential.Repository,
	identitySvc *identity.Service,
	exchanger Exchanger,
	v *vault.Vault,
	auditLogger audit.Logger,
	stateLifetime time.Duration,
) *Service {
	return &Service{
		states:        states,
		credentials:   credentials,
		identity:      identitySvc,
		exchanger:     exchanger,
		vault:         v,
		audit:         auditLogger,
		stateLifetime: stateLifetime,
	}
}

// Initiate begins a linking flow for (email, password), persists the
// pending state, and returns the brokerage authorization URL to redirect
// the browser to. The password is kept for the callback, which creates the
// local account with it or verifies it against an existing one; a password
// shorter than 8 characters, including an empty one, makes the callback fail
// even for an account that already exists locally.
func (s *Service) Initiate(ctx context.Context, email, password string) (string, error) {
	verifier, err := randomURLSafe(32)
	if err != nil {
		return "", fmt.Errorf("generate code verifier: %w", err)
	}
	state, err := randomURLSafe(32)
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}

	row := &State{
		State:        state,
		Email:        identity.NormalizeEmail(email),
		Password:     password,
		CodeVerifier: verifier,
		ExpiresAt:    time.Now().Add(s.stateLifetime),
		CreatedAt:    time.Now(),
	}
	if err := s.states.Create(row); err != nil {
		return "", fmt.Errorf("persist upstream oauth state: %w", err)
	}

	s.audit.Log(ctx, audit.Event{Type: audit.TypeUpstreamOAuthInit, ActorID: row.Email, Resource: audit.ResourceState})

	challenge := pkceChallenge(verifier)
	return s.exchanger.AuthorizeURL(state, challenge), nil
}

// Callback completes a linking flow: it resolves the state, exchanges the
// code, fetches the account identifier, encrypts and persists the
// resulting credentials, and returns the local user the credentials now
// belong to. The state row is deleted whether the exchange succeeds or
// fails, since it is single-use regardless of outcome.
func (s *Service) Callback(ctx context.Context, stateValue, code string) (*identity.User, error) {
	row, err := s.states.GetByState(stateValue)
	if err != nil {
		return nil, ErrStateNotFound
	}
	defer s.states.Delete(row.State)

	if row.IsExpired() {
		return nil, ErrStateExpired
	}

	result, err := s.exchanger.ExchangeCode(ctx, code, row.CodeVerifier)
	if err != nil {
		return nil, fmt.Errorf("exchange upstream code: %w", err)
	}

	account, err := s.exchanger.FetchAccountIdentifier(ctx, result.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("fetch upstream account: %w", err)
	}

	user, err := s.identity.AuthenticateOrCreate(ctx, row.Email, row.Password)
	if err != nil {
		return nil, fmt.Errorf("resolve local user: %w", err)
	}

	pair, err := s.vault.EncryptCredentialPair(vault.CredentialPair{
		AccessToken:   result.AccessToken,
		AccountNumber: account.AccountNumber,
	})
	if err != nil {
		return nil, fmt.Errorf("encrypt credentials: %w", err)
	}

	cred := &credential.UserCredential{
		UserID:                 user.ID,
		Platform:               credential.PlatformSchwab,
		EncryptedAccessToken:   pair.AccessToken,
		EncryptedAccountNumber: pair.AccountNumber,
		EncryptionKeyID:        vault.DefaultKeyID,
	}

	if result.RefreshToken != "" {
		encRefresh, err := s.vault.Encrypt(result.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
		cred.EncryptedRefreshToken = encRefresh
	}
	if account.AccountHash != "" {
		encHash, err := s.vault.Encrypt(account.AccountHash)
		if err != nil {
			return nil, fmt.Errorf("encrypt account hash: %w", err)
		}
		cred.EncryptedAccountHash = encHash
	}
	if result.ExpiresIn > 0 {
		expiresAt := time.Now().Add(result.ExpiresIn)
		cred.TokenExpiresAt = &expiresAt
	}

	if err := s.credentials.Upsert(cred); err != nil {
		return nil, fmt.Errorf("persist credentials: %w", err)
	}

	s.audit.Log(ctx, audit.Event{Type: audit.TypeUpstreamOAuthComplete, ActorID: user.ID, Resource: audit.ResourceVault})
	s.audit.Log(ctx, audit.Event{Type: audit.TypeCredentialStored, ActorID: user.ID, Resource: audit.ResourceVault})

	return user, nil
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
