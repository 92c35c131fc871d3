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

// TokenRepository implements oauth2.TokenRepository. Each row carries both
// the access-token hash and the refresh-token hash for one token pair.
// Rotate never overwrites a row's refresh_token_hash in place: it revokes
// the old row and inserts a new one, so a replayed refresh token hash is
// still found afterward (just marked revoked) instead of vanishing.
type TokenRepository struct {
	db *DB
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create creates a new token row
func (r *TokenRepository) Create(token *oauth2.OAuthToken) error {
	ctx := context.Background()

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO oauth_tokens (
			token_hash, user_id, client_id, resource_parameter, scope,
			expires_at, refresh_token_hash, refresh_expires_at, revoked, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		token.TokenHash, token.UserID, token.ClientID, token.ResourceParameter, token.Scope,
		token.ExpiresAt, token.RefreshTokenHash, token.RefreshExpiresAt, token.Revoked, token.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}

	return nil
}

// GetByTokenHash retrieves a token by its access-token hash
func (r *TokenRepository) GetByTokenHash(tokenHash string) (*oauth2.OAuthToken, error) {
	return r.scanOne(context.Background(), `
		SELECT token_hash, user_id, client_id, resource_parameter, scope,
			expires_at, refresh_token_hash, refresh_expires_at, revoked, created_at
		FROM oauth_tokens
		WHERE token_hash = $1
	`, tokenHash)
}

// GetByRefreshTokenHash retrieves a token by its refresh-token hash
func (r *TokenRepository) GetByRefreshTokenHash(refreshTokenHash string) (*oauth2.OAuthToken, error) {
	return r.scanOne(context.Background(), `
		SELECT token_hash, user_id, client_id, resource_parameter, scope,
			expires_at, refresh_token_hash, refresh_expires_at, revoked, created_at
		FROM oauth_tokens
		WHERE refresh_token_hash = $1
	`, refreshTokenHash)
}

func (r *TokenRepository) scanOne(ctx context.Context, query string, arg any) (*oauth2.OAuthToken, error) {
	var token oauth2.OAuthToken
	err := r.db.pool.QueryRow(ctx, query, arg).Scan(
		&token.TokenHash, &token.UserID, &token.ClientID, &token.ResourceParameter, &token.Scope,
		&token.ExpiresAt, &token.RefreshTokenHash, &token.RefreshExpiresAt, &token.Revoked, &token.CreatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, oauth2.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	return &token, nil
}

// Rotate, in one transaction, marks the non-revoked row keyed by
// oldRefreshTokenHash revoked and inserts next as a new row. The old row's
// hashes are not overwritten in place: it stays stored, revoked, so a
// replayed old refresh token is still found by GetByRefreshTokenHash.
func (r *TokenRepository) Rotate(oldRefreshTokenHash string, next *oauth2.OAuthToken) error {
	ctx := context.Background()

	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin rotate transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE oauth_tokens SET revoked = true
		WHERE refresh_token_hash = $1 AND revoked = false
	`, oldRefreshTokenHash)
	if err != nil {
		return fmt.Errorf("failed to revoke prior token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return oauth2.ErrTokenNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO oauth_tokens (
			token_hash, user_id, client_id, resource_parameter, scope,
			expires_at, refresh_token_hash, refresh_expires_at, revoked, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		next.TokenHash, next.UserID, next.ClientID, next.ResourceParameter, next.Scope,
		next.ExpiresAt, next.RefreshTokenHash, next.RefreshExpiresAt, next.Revoked, next.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rotated token: %w", err)
	}

	return tx.Commit(ctx)
}

// Revoke marks a token row revoked. Revocation is sticky: this is a plain
// unconditional SET, which never clears a previously-set revoked flag.
func (r *TokenRepository) Revoke(tokenHash string) error {
	ctx := context.Background()

	result, err := r.db.pool.Exec(ctx, `
		UPDATE oauth_tokens SET revoked = true WHERE token_hash = $1
	`, tokenHash)

	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	if result.RowsAffected() == 0 {
		return oauth2.ErrTokenNotFound
	}

	return nil
}

// RevokeAllForClient revokes every non-revoked row for (userID, clientID).
func (r *TokenRepository) RevokeAllForClient(userID, clientID string) error {
	ctx := context.Background()

	_, err := r.db.pool.Exec(ctx, `
		UPDATE oauth_tokens SET revoked = true
		WHERE user_id = $1 AND client_id = $2 AND revoked = false
	`, userID, clientID)

	if err != nil {
		return fmt.Errorf("failed to revoke tokens for client: %w", err)
	}

	return nil
}

// DeleteExpired deletes tokens whose access and refresh halves have both
// expired before the cutoff.
func (r *TokenRepository) DeleteExpired(before time.Time) (int64, error) {
	ctx := context.Background()

	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM oauth_tokens WHERE expires_at < $1 AND refresh_expires_at < $1
	`, before)

	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	return result.RowsAffected(), nil
}

// DeleteRevoked deletes revoked tokens created before the cutoff.
func (r *TokenRepository) DeleteRevoked(before time.Time) (int64, error) {
	ctx := context.Background()

	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM oauth_tokens WHERE revoked = true AND created_at < $1
	`, before)

	if err != nil {
		return 0, fmt.Errorf("failed to delete revoked tokens: %w", err)
	}

	return result.RowsAffected(), nil
}

// ListActiveForUser returns the caller's non-revoked sessions, used by the
// session-management API.
func (r *TokenRepository) ListActiveForUser(userID string) ([]*oauth2.OAuthToken, error) {
	ctx := context.Background()

	rows, err := r.db.pool.Query(ctx, `
		SELECT token_hash, user_id, client_id, resource_parameter, scope,
			expires_at, refresh_token_hash, refresh_expires_at, revoked, created_at
		FROM oauth_tokens
		WHERE user_id = $1 AND revoked = false
		ORDER BY created_at DESC
	`, userID)

	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*oauth2.OAuthToken
	for rows.Next() {
		var token oauth2.OAuthToken
		if err := rows.Scan(
			&token.TokenHash, &token.UserID, &token.ClientID, &token.ResourceParameter, &token.Scope,
			&token.ExpiresAt, &token.RefreshTokenHash, &token.RefreshExpiresAt, &token.Revoked, &token.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, &token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return tokens, nil
}

// RevokeAllForUser revokes every non-revoked row for userID, optionally
// filtered to a single client_id, returning the count revoked.
func (r *TokenRepository) RevokeAllForUser(userID, clientID string) (int64, error) {
	ctx := context.Background()

	if clientID == "" {
		result, err := r.db.pool.Exec(ctx, `
			UPDATE oauth_tokens SET revoked = true WHERE user_id = $1 AND revoked = false
		`, userID)
		if err != nil {
			return 0, fmt.Errorf("failed to revoke tokens: %w", err)
		}
		return result.RowsAffected(), nil
	}

	result, err := r.db.pool.Exec(ctx, `
		UPDATE oauth_tokens SET revoked = true WHERE user_id = $1 AND client_id = $2 AND revoked = false
	`, userID, clientID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke tokens: %w", err)
	}
	return result.RowsAffected(), nil
}
