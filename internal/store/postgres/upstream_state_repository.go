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
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/mcptrading/internal/upstreamoauth"
)

// UpstreamStateRepository implements upstreamoauth.StateRepository
type UpstreamStateRepository struct {
	db *DB
}

// NewUpstreamStateRepository creates a new upstream-OAuth state repository
func NewUpstreamStateRepository(db *DB) *UpstreamStateRepository {
	return &UpstreamStateRepository{db: db}
}

// Create creates a new pending state row
func (r *UpstreamStateRepository) Create(state *upstreamoauth.State) error {
	ctx := context.Background()

	var password sql.NullString
	if state.Password != "" {
		password = sql.NullString{String: state.Password, Valid: true}
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO upstream_oauth_states (state, email, password, code_verifier, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, state.State, state.Email, password, state.CodeVerifier, state.ExpiresAt, state.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create upstream oauth state: %w", err)
	}

	return nil
}

// GetByState retrieves a pending state row
func (r *UpstreamStateRepository) GetByState(stateValue string) (*upstreamoauth.State, error) {
	ctx := context.Background()

	var state upstreamoauth.State
	var password sql.NullString

	err := r.db.pool.QueryRow(ctx, `
		SELECT state, email, password, code_verifier, expires_at, created_at
		FROM upstream_oauth_states
		WHERE state = $1
	`, stateValue).Scan(&state.State, &state.Email, &password, &state.CodeVerifier, &state.ExpiresAt, &state.CreatedAt)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, upstreamoauth.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to get upstream oauth state: %w", err)
	}

	if password.Valid {
		state.Password = password.String
	}

	return &state, nil
}

// Delete deletes a state row. The upstream-OAuth state is single-use
// regardless of outcome, so callers delete it on both the success and
// failure paths.
func (r *UpstreamStateRepository) Delete(stateValue string) error {
	ctx := context.Background()

	_, err := r.db.pool.Exec(ctx, `DELETE FROM upstream_oauth_states WHERE state = $1`, stateValue)
	if err != nil {
		return fmt.Errorf("failed to delete upstream oauth state: %w", err)
	}

	return nil
}

// DeleteExpired deletes state rows that expired before the cutoff.
func (r *UpstreamStateRepository) DeleteExpired(before time.Time) (int64, error) {
	ctx := context.Background()

	result, err := r.db.pool.Exec(ctx, `DELETE FROM upstream_oauth_states WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired upstream oauth states: %w", err)
	}

	return result.RowsAffected(), nil
}
