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

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/mcptrading/internal/oauth2"
)

// AuthorizationCodeRepository implements oauth2.AuthorizationCodeRepository
type AuthorizationCodeRepository struct {
	db *DB
}

// NewAuthorizationCodeRepository creates a new authorization code repository
func NewAuthorizationCodeRepository(db *DB) *AuthorizationCodeRepository {
	return &AuthorizationCodeRepository{db: db}
}

// Create creates a new authorization code
func (r *AuthorizationCodeRepository) Create(code *oauth2.AuthorizationCode) error {
	ctx := context.Background()

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO oauth_codes (
			code, user_id, client_id, redirect_uri,
			code_challenge, code_challenge_method, resource_parameter, scope,
			expires_at, used, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		code.Code, code.UserID, code.ClientID, code.RedirectURI,
		code.CodeChallenge, code.CodeChallengeMethod, code.ResourceParameter, code.Scope,
		code.ExpiresAt, code.Used, code.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create authorization code: %w", err)
	}

	return nil
}

// GetByCode retrieves an authorization code
func (r *AuthorizationCodeRepository) GetByCode(codeStr string) (*oauth2.AuthorizationCode, error) {
	ctx := context.Background()

	var code oauth2.AuthorizationCode
	err := r.db.pool.QueryRow(ctx, `
		SELECT
			code, user_id, client_id, redirect_uri,
			code_challenge, code_challenge_method, resource_parameter, scope,
			expires_at, used, created_at
		FROM oauth_codes
		WHERE code = $1
	`, codeStr).Scan(
		&code.Code, &code.UserID, &code.ClientID, &code.RedirectURI,
		&code.CodeChallenge, &code.CodeChallengeMethod, &code.ResourceParameter, &code.Scope,
		&code.ExpiresAt, &code.Used, &code.CreatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, oauth2.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	return &code, nil
}

// MarkAsUsed atomically transitions used from false to true. The WHERE
// clause folds the used=false check into the same statement as the write,
// so two concurrent redemptions race on RowsAffected rather than on a
// separate read.
func (r *AuthorizationCodeRepository) MarkAsUsed(code string) error {
	ctx := context.Background()

	result, err := r.db.pool.Exec(ctx, `
		UPDATE oauth_codes SET used = true
		WHERE code = $1 AND used = false
	`, code)

	if err != nil {
		return fmt.Errorf("failed to mark code as used: %w", err)
	}

	if result.RowsAffected() == 0 {
		return oauth2.ErrCodeAlreadyUsed
	}

	return nil
}

// Delete deletes an authorization code
func (r *AuthorizationCodeRepository) Delete(code string) error {
	ctx := context.Background()

	_, err := r.db.pool.Exec(ctx, `DELETE FROM oauth_codes WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("failed to delete code: %w", err)
	}

	return nil
}

// DeleteExpired deletes authorization codes that expired before the cutoff.
func (r *AuthorizationCodeRepository) DeleteExpired(before time.Time) (int64, error) {
	ctx := context.Background()

	result, err := r.db.pool.Exec(ctx, `DELETE FROM oauth_codes WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired codes: %w", err)
	}

	return result.RowsAffected(), nil
}
