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
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/mcptrading/internal/oauth2"
)

// ClientRepository implements oauth2.ClientRepository
type ClientRepository struct {
	db *DB
}

// NewClientRepository creates a new client repository
func NewClientRepository(db *DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// Create creates a new OAuth2 client
func (r *ClientRepository) Create(client *oauth2.Client) error {
	ctx := context.Background()

	redirectURIs, err := json.Marshal(client.RedirectURIs)
	if err != nil {
		return fmt.Errorf("failed to marshal redirect URIs: %w", err)
	}

	var secretHash sql.NullString
	if client.ClientSecretHash != "" {
		secretHash = sql.NullString{String: client.ClientSecretHash, Valid: true}
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO oauth_clients (
			id, client_secret_hash, is_confidential, client_name, redirect_uris, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`, client.ID, secretHash, client.IsConfidential, client.ClientName, redirectURIs, client.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	return nil
}

// GetByClientID retrieves a client by its id
func (r *ClientRepository) GetByClientID(clientID string) (*oauth2.Client, error) {
	ctx := context.Background()

	var client oauth2.Client
	var secretHash sql.NullString
	var redirectURIsJSON []byte

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, client_secret_hash, is_confidential, client_name, redirect_uris, created_at
		FROM oauth_clients
		WHERE id = $1
	`, clientID).Scan(
		&client.ID, &secretHash, &client.IsConfidential, &client.ClientName, &redirectURIsJSON, &client.CreatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, oauth2.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	if err := json.Unmarshal(redirectURIsJSON, &client.RedirectURIs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal redirect URIs: %w", err)
	}
	if secretHash.Valid {
		client.ClientSecretHash = secretHash.String
	}

	return &client, nil
}

// Delete deletes an OAuth2 client
func (r *ClientRepository) Delete(clientID string) error {
	ctx := context.Background()

	result, err := r.db.pool.Exec(ctx, `DELETE FROM oauth_clients WHERE id = $1`, clientID)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}

	if result.RowsAffected() == 0 {
		return oauth2.ErrClientNotFound
	}

	return nil
}
