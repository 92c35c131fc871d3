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

package identity

import (
	"errors"
	"time"
)

// Domain errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
)

// User represents the local account a brokerage credential is ultimately
// linked to. There is no tenant concept here: the gateway serves a single
// deployment, and a user is created lazily the first time its email is seen
// at the login form.
type User struct {
	ID           string // UUID v4
	Email        string // always normalized to lowercase before storage or lookup
	PasswordHash string // bcrypt
	CreatedAt    time.Time
}

// UserRepository defines the interface for user persistence.
type UserRepository interface {
	// Create creates a new user.
	Create(user *User) error

	// GetByID retrieves a user by ID.
	GetByID(id string) (*User, error)

	// GetByEmail retrieves a user by its normalized email address.
	GetByEmail(email string) (*User, error)

	// Delete removes a user. Deletion cascades to credentials, codes, and
	// tokens at the storage layer via foreign-key ON DELETE CASCADE.
	Delete(id string) error

	// UpdatePassword replaces a user's password hash.
	UpdatePassword(userID string, passwordHash string) error
}
