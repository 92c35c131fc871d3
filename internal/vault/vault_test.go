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

package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	v, err := New(key)
	require.NoError(t, err)
	return v
}

// TestPurpose: round-trip encryption recovers the original plaintext.
// Scope: Encrypt/Decrypt
// Security: n/a
// Expected: decrypted output equals input
func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := testVault(t)

	frame, err := v.Encrypt("upstream-access-token-abc123")
	require.NoError(t, err)

	got, err := v.Decrypt(frame)
	require.NoError(t, err)
	assert.Equal(t, "upstream-access-token-abc123", got)
}

// TestPurpose: two encryptions of identical plaintext differ on the wire.
// Scope: Encrypt
// Security: random IV prevents ciphertext correlation across records
// Expected: frames differ byte-for-byte
func TestEncryptIsNondeterministic(t *testing.T) {
	v := testVault(t)

	a, err := v.Encrypt("same-secret")
	require.NoError(t, err)
	b, err := v.Encrypt("same-secret")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

// TestPurpose: tampering with any byte of the frame is detected.
// Scope: Decrypt
// Security: MAC verification is constant-time and fails closed, and the
// failure is indistinguishable from any other decryption failure
// Expected: ErrCredentialsUnavailable, no plaintext returned
func TestDecryptRejectsTamperedFrame(t *testing.T) {
	v := testVault(t)

	frame, err := v.Encrypt("secret")
	require.NoError(t, err)

	tampered := append([]byte(nil), frame...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = v.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrCredentialsUnavailable)
}

// TestPurpose: a frame encrypted under one key cannot be decrypted under another.
// Scope: Decrypt
// Security: confidentiality and integrity are both key-scoped
// Expected: ErrCredentialsUnavailable
func TestDecryptRejectsWrongKey(t *testing.T) {
	v1 := testVault(t)
	v2 := testVault(t)

	frame, err := v1.Encrypt("secret")
	require.NoError(t, err)

	_, err = v2.Decrypt(frame)
	assert.ErrorIs(t, err, ErrCredentialsUnavailable)
}

// TestPurpose: undersized or unversioned input is rejected before any MAC work,
// with the same opaque error a MAC failure would produce.
// Scope: Decrypt
// Security: avoids panics on attacker-controlled short input and avoids
// giving an attacker an oracle for which check failed
// Expected: ErrCredentialsUnavailable
func TestDecryptRejectsMalformedFrame(t *testing.T) {
	v := testVault(t)

	_, err := v.Decrypt([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrCredentialsUnavailable)

	frame, err := v.Encrypt("secret")
	require.NoError(t, err)
	frame[0] = 0x09
	_, err = v.Decrypt(frame)
	assert.ErrorIs(t, err, ErrCredentialsUnavailable)
}

// TestPurpose: a key that doesn't decode to 32 bytes is rejected at construction.
// Scope: New
// Expected: ErrInvalidKey
func TestNewRejectsWrongSizedKey(t *testing.T) {
	_, err := New("dG9vc2hvcnQ") // "tooshort", base64url
	assert.ErrorIs(t, err, ErrInvalidKey)
}

// TestPurpose: credential pairs round-trip both fields independently.
// Scope: EncryptCredentialPair/DecryptCredentialPair
// Expected: both fields recovered
func TestCredentialPairRoundTrip(t *testing.T) {
	v := testVault(t)

	pair := CredentialPair{AccessToken: "at-123", AccountNumber: "987654321"}
	enc, err := v.EncryptCredentialPair(pair)
	require.NoError(t, err)

	got, err := v.DecryptCredentialPair(*enc)
	require.NoError(t, err)
	assert.Equal(t, pair, *got)
}
