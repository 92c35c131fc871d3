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

// Package credential persists per-user, per-platform brokerage credentials.
// Plaintext never reaches this package: callers hand it already-encrypted
// frames produced by internal/vault.
package credential

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no credential row exists for (userID, platform).
var ErrNotFound = errors.New("credential not found")

// PlatformSchwab is the only upstream brokerage this core wires today.
const PlatformSchwab = "schwab"

// UserCredential is the at-rest record for one user's link to one brokerage
// platform. Every *_token/_hash field is an independently vault-encrypted
// frame; this package never sees the plaintext they represent.
type UserCredential struct {
	UserID                 string
	Platform               string
	EncryptedAccessToken   []byte
	EncryptedAccountNumber []byte
	EncryptedRefreshToken  []byte // optional
	EncryptedAccountHash   []byte // optional
	TokenExpiresAt         *time.Time
	EncryptionKeyID        string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Repository defines credential persistence. Upsert replaces the row for a
// new write to the same (UserID, Platform) pair.
type Repository interface {
	Upsert(cred *UserCredential) error
	Get(userID, platform string) (*UserCredential, error)
	Delete(userID, platform string) error
}
