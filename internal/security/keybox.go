// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security provides at-rest encryption for provider API keys.
//
// Keys are encrypted with AES-256-GCM. The encryption key is derived via
// PBKDF2-SHA-256 from a per-install random secret and salt stored next to
// the application data.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/morganforge/polychat/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// EncryptedPrefix marks a stored value as encrypted
// (format: ENC:base64(nonce|ciphertext|tag)).
const EncryptedPrefix = "ENC:"

const (
	nonceSize = 12
	keySize   = 32
	saltSize  = 32

	// OWASP 2023 recommendation for PBKDF2-SHA-256.
	pbkdf2Iterations = 600000
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidCiphertext indicates the stored value is malformed.
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	// ErrDecryptionFailed indicates decryption failed (wrong key or tampered data).
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")
)

// ZeroBytes zeros sensitive byte slices.
// SECURITY: Zero key material to prevent memory disclosure via crash dumps.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// =============================================================================
// KEYBOX
// =============================================================================

// Keybox encrypts and decrypts provider API keys for storage at rest.
type Keybox struct {
	mu     sync.Mutex
	cipher cipher.AEAD
}

// NewKeybox opens the keybox backed by the secret material at saltPath.
// The secret and salt files are created on first use with 0600 permissions.
// Files written: saltPath (salt) and saltPath+".secret" (random secret).
func NewKeybox(saltPath string) (*Keybox, error) {
	salt, err := loadOrCreate(saltPath, saltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load salt: %w", err)
	}
	secret, err := loadOrCreate(saltPath+".secret", keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to load secret: %w", err)
	}
	defer ZeroBytes(secret)

	key := pbkdf2.Key(secret, salt, pbkdf2Iterations, keySize, sha256.New)
	defer ZeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	return &Keybox{cipher: gcm}, nil
}

// loadOrCreate reads size random bytes from path, generating and persisting
// them on first use.
func loadOrCreate(path string, size int) ([]byte, error) {
	if data, err := readFileExact(path, size); err == nil {
		return data, nil
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, data); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	// RELIABILITY: atomic write so a crash never leaves a truncated secret.
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return nil, err
	}
	return data, nil
}

func readFileExact(path string, size int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) != size {
		return nil, fmt.Errorf("unexpected file size %d, want %d", len(data), size)
	}
	return data, nil
}

// =============================================================================
// OPERATIONS
// =============================================================================

// IsEncrypted reports whether a stored value carries the encryption marker.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// EncryptString encrypts a plaintext API key for storage.
// Already-encrypted values are returned unchanged.
func (k *Keybox) EncryptString(plain string) (string, error) {
	if IsEncrypted(plain) || plain == "" {
		return plain, nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := k.cipher.Seal(nonce, nonce, []byte(plain), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString decrypts a stored API key value. Values without the
// encryption marker are returned as-is, so plaintext keys written before
// encryption was enabled keep working.
func (k *Keybox) DecryptString(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(raw) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	plain, err := k.cipher.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}
