// Package crypto protects donor DNS credentials at rest.
// This is part of the Functional Core - functions are pure apart from
// drawing nonces from crypto/rand.
//
// Tokens are sealed with AES-256-GCM under a key derived from the platform
// master secret with HKDF-SHA256.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrKeyTooShort is returned when the encryption key is too short.
	ErrKeyTooShort = errors.New("encryption key must be at least 32 bytes")

	// ErrMasterKeyTooShort is returned when the master secret is too weak to derive from.
	ErrMasterKeyTooShort = errors.New("master key must be at least 16 characters")

	// ErrInvalidCiphertext is returned when the ciphertext is shorter than a nonce.
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short")

	// ErrDecryptionFailed is returned on a wrong key or corrupted data.
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")
)

// KeySize is the AES-256 key length.
const KeySize = 32

// hkdfSalt is fixed so the same master key always derives the same data key.
var hkdfSalt = []byte("pagehost/v1")

// =============================================================================
// Key Derivation
// =============================================================================

// DeriveKey derives a 32-byte key for the given purpose from a master secret.
// Different purposes yield independent keys.
func DeriveKey(masterKey, purpose string) ([]byte, error) {
	if len(masterKey) < 16 {
		return nil, ErrMasterKeyTooShort
	}
	r := hkdf.New(sha256.New, []byte(masterKey), hkdfSalt, []byte(purpose))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// =============================================================================
// AES-256-GCM Encryption
// =============================================================================

// Encrypt seals plaintext with AES-256-GCM.
//
// The ciphertext format is: nonce (12 bytes) || encrypted data || auth tag (16 bytes)
func Encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) < KeySize {
		return nil, ErrKeyTooShort
	}
	block, err := aes.NewCipher(key[:KeySize])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// =============================================================================
// Base64 Encoding Variants
// =============================================================================

// EncryptToBase64 encrypts plaintext and returns base64-encoded ciphertext.
func EncryptToBase64(plaintext, key []byte) (string, error) {
	ciphertext, err := Encrypt(plaintext, key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptFromBase64 decrypts base64-encoded ciphertext.
func DecryptFromBase64(encoded string, key []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	return Decrypt(ciphertext, key)
}

// =============================================================================
// Token Sealing
// =============================================================================

// TokenPurpose is the HKDF info string for DNS API tokens.
const TokenPurpose = "dns-api-token"

// Sealer encrypts and decrypts DNS API tokens with a derived key.
type Sealer struct {
	key []byte
}

// NewSealer derives the token key from the master secret.
func NewSealer(masterKey string) (*Sealer, error) {
	key, err := DeriveKey(masterKey, TokenPurpose)
	if err != nil {
		return nil, err
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts a token.
func (s *Sealer) Seal(token string) ([]byte, error) {
	return Encrypt([]byte(token), s.key)
}

// Open decrypts a sealed token.
func (s *Sealer) Open(sealed []byte) (string, error) {
	plain, err := Decrypt(sealed, s.key)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Redact masks a secret for display, keeping at most the last four characters.
func Redact(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", 8) + secret[len(secret)-4:]
}
