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

// Package janitor sweeps expired and stale rows out of the oauth_codes and
// oauth_tokens tables on a fixed schedule, independent of any single
// request's lifecycle.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/opentrusty/mcptrading/internal/audit"
	"github.com/opentrusty/mcptrading/internal/observability/logger"
	"github.com/opentrusty/mcptrading/internal/oauth2"
)

const (
	codeRetention          = time.Hour
	tokenExpiredRetention  = 24 * time.Hour
	tokenRevokedRetention  = 7 * 24 * time.Hour
)

// Janitor runs the periodic cleanup sweep described by its three retention
// windows. Each sweep step is its own transaction at the storage layer; a
// failure in one step is logged and does not prevent the others from
// running.
type Janitor struct {
	codes  oauth2.AuthorizationCodeRepository
	tokens oauth2.TokenRepository
	audit  audit.Logger

	interval time.Duration
	stopCh   chan struct{}
}

// New creates a Janitor that wakes every interval to run Sweep.
func New(codes oauth2.AuthorizationCodeRepository, tokens oauth2.TokenRepository, auditLogger audit.Logger, interval time.Duration) *Janitor {
	return &Janitor{
		codes:    codes,
		tokens:   tokens,
		audit:    auditLogger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Run blocks, sweeping every interval, until Stop is called. Intended to be
// launched in its own goroutine.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Sweep(ctx)
		case <-j.stopCh:
			return
		}
	}
}

// Stop signals Run to exit at the next select boundary, within one cycle.
func (j *Janitor) Stop() {
	close(j.stopCh)
}

// Sweep runs the three cleanup steps once. Exported so callers (and tests)
// can trigger an out-of-band sweep without waiting for the ticker.
func (j *Janitor) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	codesDeleted, err := j.codes.DeleteExpired(now.Add(-codeRetention))
	if err != nil {
		slog.ErrorContext(ctx, "janitor: delete expired codes failed", logger.Error(err))
	}

	expiredTokensDeleted, err := j.tokens.DeleteExpired(now.Add(-tokenExpiredRetention))
	if err != nil {
		slog.ErrorContext(ctx, "janitor: delete expired tokens failed", logger.Error(err))
	}

	revokedTokensDeleted, err := j.tokens.DeleteRevoked(now.Add(-tokenRevokedRetention))
	if err != nil {
		slog.ErrorContext(ctx, "janitor: delete revoked tokens failed", logger.Error(err))
	}

	j.audit.Log(ctx, audit.Event{
		Type:     audit.TypeJanitorRun,
		Resource: audit.ResourceToken,
		Metadata: map[string]any{
			"codes_deleted":           codesDeleted,
			"expired_tokens_deleted":  expiredTokensDeleted,
			"revoked_tokens_deleted":  revokedTokensDeleted,
		},
	})
}
