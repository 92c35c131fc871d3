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

// Package vault implements authenticated symmetric encryption for upstream
// brokerage credentials at rest: access tokens, refresh tokens, and account
// identifiers. The wire format is a Fernet-equivalent encrypt-then-MAC frame
// built directly on crypto/aes, crypto/cipher, crypto/hmac and crypto/sha256,
// since no third-party Fernet implementation exists anywhere in the stack
// this module draws from.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	version1    byte = 1
	ivLen            = 16
	macLen            = 32
	timestampLen      = 8
	headerLen         = 1 + timestampLen + ivLen // version + timestamp + iv
	minFrameLen       = headerLen + macLen
	keyLen            = 32
)

var (
	// ErrCredentialsUnavailable is returned for any decryption failure: a bad
	// MAC, an unrecognized version byte, and an undersized frame are all
	// reported identically so a caller (or an attacker probing the vault)
	// cannot distinguish which check failed.
	ErrCredentialsUnavailable = errors.New("vault: credentials unavailable")
	// ErrInvalidKey is returned when a configured key does not decode to
	// exactly 32 bytes.
	ErrInvalidKey = errors.New("vault: key must decode to 32 bytes")
)

// DefaultKeyID is the tag recorded alongside every encrypted credential.
// A future key rotation can introduce a second ID and re-encrypt lazily;
// the vault itself remains single-key until that migration exists.
const DefaultKeyID = "default"

// Vault encrypts and decrypts brokerage credentials with a single
// 32-byte key. Encryption uses AES-256 in CTR mode (the key is always
// 32 bytes) with a random per-message IV, followed by an HMAC-SHA256
// tag over the version byte, timestamp, IV, and ciphertext (encrypt-then-MAC).
type Vault struct {
	key []byte
}

// New builds a Vault from a base64url-encoded 32-byte key, as produced by
// GenerateKey. It returns ErrInvalidKey if the decoded key is the wrong size.
func New(encodedKey string) (*Vault, error) {
	key, err := base64.RawURLEncoding.DecodeString(encodedKey)
	if err != nil {
		// Accept standard padded base64url too, since operators may paste
		// keys from tools that emit the padded form.
		key, err = base64.URLEncoding.DecodeString(encodedKey)
		if err != nil {
			return nil, fmt.Errorf("vault: decode key: %w", err)
		}
	}
	if len(key) != keyLen {
		return nil, ErrInvalidKey
	}
	return &Vault{key: key}, nil
}

// GenerateKey returns a new random 32-byte key, base64url-encoded without
// padding, suitable for the ENCRYPTION_KEY configuration value.
func GenerateKey() (string, error) {
	buf := make([]byte, keyLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("vault: generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Encrypt produces a versioned, timestamped, authenticated ciphertext frame
// for plaintext. The frame layout is:
//
//	[1 byte version][8 bytes unix timestamp, big-endian][16 byte IV][ciphertext][32 byte HMAC-SHA256 tag]
func (v *Vault) Encrypt(plaintext string) ([]byte, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("vault: new cipher: %w", err)
	}

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("vault: generate iv: %w", err)
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, []byte(plaintext))

	frame := make([]byte, 0, headerLen+len(ciphertext)+macLen)
	frame = append(frame, version1)
	frame = binary.BigEndian.AppendUint64(frame, uint64(time.Now().Unix()))
	frame = append(frame, iv...)
	frame = append(frame, ciphertext...)

	tag := hmac.New(sha256.New, v.key)
	tag.Write(frame)
	frame = tag.Sum(frame)

	return frame, nil
}

// Decrypt verifies and decrypts a frame produced by Encrypt. It fails closed:
// a MAC mismatch, an unknown version byte, and an undersized frame all
// return the same ErrCredentialsUnavailable, so the failure carries no
// information about which check rejected the frame.
func (v *Vault) Decrypt(frame []byte) (string, error) {
	if len(frame) < minFrameLen {
		return "", ErrCredentialsUnavailable
	}
	if frame[0] != version1 {
		return "", ErrCredentialsUnavailable
	}

	body := frame[:len(frame)-macLen]
	gotTag := frame[len(frame)-macLen:]

	tag := hmac.New(sha256.New, v.key)
	tag.Write(body)
	wantTag := tag.Sum(nil)

	if !hmac.Equal(gotTag, wantTag) {
		return "", ErrCredentialsUnavailable
	}

	iv := body[1+timestampLen : headerLen]
	ciphertext := body[headerLen:]

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: new cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)

	return string(plaintext), nil
}

// CredentialPair is the pair of secrets stored for a linked brokerage
// account: the upstream access token and the account number it authorizes.
type CredentialPair struct {
	AccessToken   string
	AccountNumber string
}

// EncryptedPair is the at-rest representation of a CredentialPair, one
// independently-authenticated frame per field.
type EncryptedPair struct {
	AccessToken   []byte
	AccountNumber []byte
}

// EncryptCredentialPair encrypts both fields of a CredentialPair independently.
func (v *Vault) EncryptCredentialPair(pair CredentialPair) (*EncryptedPair, error) {
	accessToken, err := v.Encrypt(pair.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("vault: encrypt access token: %w", err)
	}
	accountNumber, err := v.Encrypt(pair.AccountNumber)
	if err != nil {
		return nil, fmt.Errorf("vault: encrypt account number: %w", err)
	}
	return &EncryptedPair{AccessToken: accessToken, AccountNumber: accountNumber}, nil
}

// DecryptCredentialPair reverses EncryptCredentialPair.
func (v *Vault) DecryptCredentialPair(enc EncryptedPair) (*CredentialPair, error) {
	accessToken, err := v.Decrypt(enc.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt access token: %w", err)
	}
	accountNumber, err := v.Decrypt(enc.AccountNumber)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt account number: %w", err)
	}
	return &CredentialPair{AccessToken: accessToken, AccountNumber: accountNumber}, nil
}
