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

package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Event types. One line per security-relevant event, distinct from
// request/response access logging.
const (
	TypeLoginSuccess          = "login_succeeded"
	TypeLoginFailed           = "login_failed"
	TypeUserCreated           = "user_created"
	TypePasswordChanged       = "password_changed"
	TypeClientCreated         = "client_created"
	TypeCodeIssued            = "code_issued"
	TypeCodeRedeemed          = "code_redeemed"
	TypeCodeReplayed          = "code_replayed"
	TypeTokenIssued           = "token_issued"
	TypeTokenRefreshed        = "token_refreshed"
	TypeTokenRevoked          = "token_revoked"
	TypeTokenReuseDetected    = "token_reuse_detected"
	TypeCredentialStored      = "credential_stored"
	TypeUpstreamOAuthInit     = "upstream_oauth_initiated"
	TypeUpstreamOAuthComplete = "upstream_oauth_completed"
	TypeSessionRevoked        = "session_revoked"
	TypeJanitorRun            = "janitor_run"
)

// Standard audit attribute keys
const (
	AttrAuditType = "audit_type"
	AttrActorID   = "actor_id"
	AttrResource  = "resource"
	AttrTimestamp = "timestamp"
	AttrIPAddress = "ip_address"
	AttrUserAgent = "user_agent"
	AttrComponent = "component"
	AttrMetadata  = "metadata"
)

// Common Resource Types
const (
	ResourceUser   = "user"
	ResourceClient = "client"
	ResourceCode   = "code"
	ResourceToken  = "token"
	ResourceVault  = "vault_credential"
	ResourceState  = "upstream_oauth_state"
)

// Common Metadata Keys
const (
	AttrEmail      = "email"
	AttrReason     = "reason"
	AttrClientID   = "client_id"
	AttrDeletedRow = "deleted_rows"
)

// Event represents an auditable action.
type Event struct {
	Type      string
	ActorID   string
	Resource  string
	Metadata  map[string]any
	Timestamp time.Time
	IPAddress string
	UserAgent string
}

// Logger defines the interface for audit logging.
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger implements Logger using slog.
type SlogLogger struct{}

// NewSlogLogger creates a new audit logger.
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// Log records an audit event.
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		slog.String(AttrAuditType, event.Type),
		slog.String(AttrActorID, event.ActorID),
		slog.String(AttrResource, event.Resource),
		slog.Time(AttrTimestamp, event.Timestamp),
	}

	if event.IPAddress != "" {
		attrs = append(attrs, slog.String(AttrIPAddress, event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String(AttrUserAgent, event.UserAgent))
	}

	if len(event.Metadata) > 0 {
		group := []any{}
		for k, v := range event.Metadata {
			if isSecret(k) {
				v = "[REDACTED]"
			}
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group(AttrMetadata, group...))
	}

	slog.InfoContext(ctx, "AUDIT_EVENT", append(attrs, slog.String(AttrComponent, "audit"))...)
}

// isSecret checks if a key likely contains a secret, using case-insensitive
// substring matching against a set of common sensitive keywords.
func isSecret(key string) bool {
	k := strings.ToLower(key)
	secrets := []string{
		"password", "secret", "token", "key", "authorization",
		"hash", "credential", "private", "api_key",
	}
	for _, s := range secrets {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
