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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opentrusty/mcptrading/internal/audit"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes and verifies passwords with bcrypt. bcrypt's own
// algorithm silently truncates input at 72 bytes; we truncate explicitly
// first so the behavior is visible and testable rather than incidental.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher creates a new password hasher at the given bcrypt cost.
func NewPasswordHasher(cost int) *PasswordHasher {
	return &PasswordHasher{cost: cost}
}

const maxPasswordBytes = 72

func truncatePassword(password string) []byte {
	b := []byte(password)
	if len(b) > maxPasswordBytes {
		b = b[:maxPasswordBytes]
	}
	return b
}

// Hash hashes a password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(truncatePassword(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether password matches encodedHash.
func (h *PasswordHasher) Verify(password, encodedHash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), truncatePassword(password))
	if err != nil {
		if err == bcrypt.ErrMismatchedHashAndPassword {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Service provides identity-related business logic.
type Service struct {
	repo        UserRepository
	hasher      *PasswordHasher
	auditLogger audit.Logger
}

// NewService creates a new identity service.
func NewService(repo UserRepository, hasher *PasswordHasher, auditLogger audit.Logger) *Service {
	return &Service{repo: repo, hasher: hasher, auditLogger: auditLogger}
}

// NormalizeEmail lowercases and trims an email address the same way on
// every write and lookup path, so "User@Example.com" and "user@example.com"
// always resolve to the same account.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AuthenticateOrCreate is the dual-purpose login/signup the authorize/login
// endpoint calls: if the email is unknown, a new user is created trusting
// the presented password; if it's known, the password is verified. This
// mirrors the source's choice to not separate registration from login,
// even though it means a typo'd email silently creates a new account.
func (s *Service) AuthenticateOrCreate(ctx context.Context, email, password string) (*User, error) {
	if !isValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if !isStrongPassword(password) {
		return nil, ErrWeakPassword
	}

	normalized := NormalizeEmail(email)

	existing, err := s.repo.GetByEmail(normalized)
	if err != nil && err != ErrUserNotFound {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if existing == nil {
		passwordHash, err := s.hasher.Hash(password)
		if err != nil {
			return nil, err
		}

		user := &User{
			ID:           uuid.New().String(),
			Email:        normalized,
			PasswordHash: passwordHash,
			CreatedAt:    time.Now(),
		}
		if err := s.repo.Create(user); err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}

		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeUserCreated,
			ActorID:  user.ID,
			Resource: audit.ResourceUser,
		})
		return user, nil
	}

	valid, err := s.hasher.Verify(password, existing.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !valid {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  existing.ID,
			Resource: audit.ResourceUser,
		})
		return nil, ErrInvalidCredentials
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginSuccess,
		ActorID:  existing.ID,
		Resource: audit.ResourceUser,
	})
	return existing, nil
}

// GetByEmail retrieves a user by its normalized email.
func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.repo.GetByEmail(NormalizeEmail(email))
}

// GetUser retrieves a user by ID.
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetByID(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ChangePassword changes a user's password after verifying the old one.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.repo.GetByID(userID)
	if err != nil {
		return ErrUserNotFound
	}

	valid, err := s.hasher.Verify(oldPassword, user.PasswordHash)
	if err != nil || !valid {
		return ErrInvalidCredentials
	}

	if !isStrongPassword(newPassword) {
		return ErrWeakPassword
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.repo.UpdatePassword(userID, newHash)
}

func isValidEmail(email string) bool {
	e := strings.TrimSpace(email)
	at := strings.IndexByte(e, '@')
	return at > 0 && at < len(e)-1 && len(e) < 255
}

func isStrongPassword(password string) bool {
	return len(password) >= 8
}
