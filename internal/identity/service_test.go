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
	"testing"

	"github.com/opentrusty/mcptrading/internal/audit"
)

// mockUserRepository is a simple in-memory implementation of UserRepository.
type mockUserRepository struct {
	users map[string]*User // by ID
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{users: make(map[string]*User)}
}

func (m *mockUserRepository) Create(user *User) error {
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepository) GetByID(id string) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (m *mockUserRepository) GetByEmail(email string) (*User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *mockUserRepository) Delete(id string) error {
	delete(m.users, id)
	return nil
}

func (m *mockUserRepository) UpdatePassword(userID string, passwordHash string) error {
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func testService() *Service {
	repo := newMockUserRepository()
	hasher := NewPasswordHasher(4) // minimum bcrypt cost keeps unit tests fast
	return NewService(repo, hasher, audit.NewSlogLogger())
}

// TestPurpose: the first sighting of an email creates a user trusting the given password.
// Scope: Unit Test
// Security: this is the spec's dual-purpose login/signup; a typo'd email silently provisions an account
// Expected: new User returned, ID populated
// Test Case ID: IDN-01
func TestIdentity_AuthenticateOrCreate_CreatesOnFirstSight(t *testing.T) {
	s := testService()
	ctx := context.Background()

	user, err := s.AuthenticateOrCreate(ctx, "User@Example.com", "password123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.Email != "user@example.com" {
		t.Errorf("expected normalized email, got %q", user.Email)
	}
	if user.ID == "" {
		t.Error("expected a generated user ID")
	}
}

// TestPurpose: a known email with the correct password authenticates against the stored hash.
// Scope: Unit Test
// Expected: same user ID returned as was created on first sight
// Test Case ID: IDN-02
func TestIdentity_AuthenticateOrCreate_VerifiesKnownUser(t *testing.T) {
	s := testService()
	ctx := context.Background()

	created, err := s.AuthenticateOrCreate(ctx, "user@example.com", "password123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	authed, err := s.AuthenticateOrCreate(ctx, "user@example.com", "password123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if authed.ID != created.ID {
		t.Errorf("expected same user ID %s, got %s", created.ID, authed.ID)
	}
}

// TestPurpose: a known email with the wrong password is rejected without creating a second account.
// Scope: Unit Test
// Security: does not distinguish "unknown email" from "wrong password" at this layer
// Expected: ErrInvalidCredentials
// Test Case ID: IDN-03
func TestIdentity_AuthenticateOrCreate_RejectsWrongPassword(t *testing.T) {
	s := testService()
	ctx := context.Background()

	if _, err := s.AuthenticateOrCreate(ctx, "user@example.com", "password123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := s.AuthenticateOrCreate(ctx, "user@example.com", "wrong-password")
	if err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

// TestPurpose: email normalization makes "User@Example.com" and "user@example.com" the same account.
// Scope: Unit Test
// Expected: second call authenticates the first user rather than creating a new one
// Test Case ID: IDN-04
func TestIdentity_AuthenticateOrCreate_NormalizesEmailCase(t *testing.T) {
	s := testService()
	ctx := context.Background()

	a, err := s.AuthenticateOrCreate(ctx, "Mixed@Case.com", "password123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := s.AuthenticateOrCreate(ctx, "mixed@case.com", "password123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID != b.ID {
		t.Errorf("expected same account across case variants, got %s and %s", a.ID, b.ID)
	}
}

// TestPurpose: passwords under 8 characters are rejected even for new accounts.
// Scope: Unit Test
// Expected: ErrWeakPassword, no user created
// Test Case ID: IDN-05
func TestIdentity_AuthenticateOrCreate_RejectsWeakPassword(t *testing.T) {
	s := testService()
	ctx := context.Background()

	_, err := s.AuthenticateOrCreate(ctx, "user@example.com", "short")
	if err != ErrWeakPassword {
		t.Errorf("expected ErrWeakPassword, got %v", err)
	}
}

// TestPurpose: ChangePassword requires the current password before accepting a new one.
// Scope: Unit Test
// Expected: wrong old password rejected; correct old password updates the hash so the new password authenticates
// Test Case ID: IDN-06
func TestIdentity_ChangePassword(t *testing.T) {
	s := testService()
	ctx := context.Background()

	user, err := s.AuthenticateOrCreate(ctx, "user@example.com", "password123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.ChangePassword(ctx, user.ID, "wrong-old", "newpassword123"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}

	if err := s.ChangePassword(ctx, user.ID, "password123", "newpassword123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.AuthenticateOrCreate(ctx, "user@example.com", "newpassword123"); err != nil {
		t.Fatalf("expected new password to authenticate, got %v", err)
	}
}
