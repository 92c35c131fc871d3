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
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/mcptrading/internal/credential"
)

// CredentialRepository implements credential.Repository
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Upsert inserts or replaces the credential row for (UserID, Platform).
func (r *CredentialRepository) Upsert(cred *credential.UserCredential) error {
	ctx := context.Background()

	var refreshToken, accountHash []byte
	if len(cred.EncryptedRefreshToken) > 0 {
		refreshToken = cred.EncryptedRefreshToken
	}
	if len(cred.EncryptedAccountHash) > 0 {
		accountHash = cred.EncryptedAccountHash
	}

	var expiresAt sql.NullTime
	if cred.TokenExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *cred.TokenExpiresAt, Valid: true}
	}

	keyID := cred.EncryptionKeyID
	if keyID == "" {
		keyID = "default"
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO user_credentials (
			user_id, platform, encrypted_access_token, encrypted_account_number,
			encrypted_refresh_token, encrypted_account_hash, token_expires_at,
			encryption_key_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (user_id, platform) DO UPDATE SET
			encrypted_access_token = EXCLUDED.encrypted_access_token,
			encrypted_account_number = EXCLUDED.encrypted_account_number,
			encrypted_refresh_token = EXCLUDED.encrypted_refresh_token,
			encrypted_account_hash = EXCLUDED.encrypted_account_hash,
			token_expires_at = EXCLUDED.token_expires_at,
			encryption_key_id = EXCLUDED.encryption_key_id,
			updated_at = now()
	`,
		cred.UserID, cred.Platform, cred.EncryptedAccessToken, cred.EncryptedAccountNumber,
		refreshToken, accountHash, expiresAt, keyID,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}

	return nil
}

// Get retrieves the credential row for (userID, platform).
func (r *CredentialRepository) Get(userID, platform string) (*credential.UserCredential, error) {
	ctx := context.Background()

	var cred credential.UserCredential
	var refreshToken, accountHash []byte
	var expiresAt sql.NullTime

	err := r.db.pool.QueryRow(ctx, `
		SELECT user_id, platform, encrypted_access_token, encrypted_account_number,
			encrypted_refresh_token, encrypted_account_hash, token_expires_at,
			encryption_key_id, created_at, updated_at
		FROM user_credentials
		WHERE user_id = $1 AND platform = $2
	`, userID, platform).Scan(
		&cred.UserID, &cred.Platform, &cred.EncryptedAccessToken, &cred.EncryptedAccountNumber,
		&refreshToken, &accountHash, &expiresAt,
		&cred.EncryptionKeyID, &cred.CreatedAt, &cred.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, credential.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	cred.EncryptedRefreshToken = refreshToken
	cred.EncryptedAccountHash = accountHash
	if expiresAt.Valid {
		cred.TokenExpiresAt = &expiresAt.Time
	}

	return &cred, nil
}

// Delete deletes the credential row for (userID, platform).
func (r *CredentialRepository) Delete(userID, platform string) error {
	ctx := context.Background()

	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM user_credentials WHERE user_id = $1 AND platform = $2
	`, userID, platform)

	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	if result.RowsAffected() == 0 {
		return credential.ErrNotFound
	}

	return nil
}
