package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMasterKey = "a-master-key-long-enough-for-tests"

// =============================================================================
// DeriveKey Tests
// =============================================================================

func TestDeriveKey(t *testing.T) {
	key, err := DeriveKey(testMasterKey, TokenPurpose)
	require.NoError(t, err)
	assert.Len(t, key, KeySize)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	key1, err := DeriveKey(testMasterKey, TokenPurpose)
	require.NoError(t, err)
	key2, err := DeriveKey(testMasterKey, TokenPurpose)
	require.NoError(t, err)
	assert.Equal(t, key1, key2)
}

func TestDeriveKey_PurposeSeparation(t *testing.T) {
	key1, err := DeriveKey(testMasterKey, "a")
	require.NoError(t, err)
	key2, err := DeriveKey(testMasterKey, "b")
	require.NoError(t, err)
	assert.NotEqual(t, key1, key2)
}

func TestDeriveKey_ShortMaster(t *testing.T) {
	_, err := DeriveKey("short", TokenPurpose)
	assert.ErrorIs(t, err, ErrMasterKeyTooShort)
}

// =============================================================================
// Encrypt/Decrypt Tests
// =============================================================================

func TestEncrypt_Decrypt_Roundtrip(t *testing.T) {
	key, err := DeriveKey(testMasterKey, TokenPurpose)
	require.NoError(t, err)
	plaintext := []byte("cf-token-1234567890")

	ciphertext, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(ciphertext, plaintext))

	decrypted, err := Decrypt(ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncrypt_UniqueNonce(t *testing.T) {
	key, err := DeriveKey(testMasterKey, TokenPurpose)
	require.NoError(t, err)

	c1, err := Encrypt([]byte("same"), key)
	require.NoError(t, err)
	c2, err := Encrypt([]byte("same"), key)
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)
}

func TestEncrypt_KeyTooShort(t *testing.T) {
	_, err := Encrypt([]byte("x"), []byte("short"))
	assert.ErrorIs(t, err, ErrKeyTooShort)
}

func TestDecrypt_WrongKey(t *testing.T) {
	key1, _ := DeriveKey(testMasterKey, "one")
	key2, _ := DeriveKey(testMasterKey, "two")

	ciphertext, err := Encrypt([]byte("secret"), key1)
	require.NoError(t, err)

	_, err = Decrypt(ciphertext, key2)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecrypt_TooShort(t *testing.T) {
	key, _ := DeriveKey(testMasterKey, TokenPurpose)
	_, err := Decrypt([]byte{1, 2, 3}, key)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestBase64_Roundtrip(t *testing.T) {
	key, _ := DeriveKey(testMasterKey, TokenPurpose)

	encoded, err := EncryptToBase64([]byte("hello"), key)
	require.NoError(t, err)

	plain, err := DecryptFromBase64(encoded, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plain))
}

// =============================================================================
// Sealer Tests
// =============================================================================

func TestSealer_Roundtrip(t *testing.T) {
	s, err := NewSealer(testMasterKey)
	require.NoError(t, err)

	sealed, err := s.Seal("donor-token")
	require.NoError(t, err)

	token, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "donor-token", token)
}

func TestSealer_DifferentMaster(t *testing.T) {
	s1, err := NewSealer(testMasterKey)
	require.NoError(t, err)
	s2, err := NewSealer("another-master-key-entirely")
	require.NoError(t, err)

	sealed, err := s1.Seal("donor-token")
	require.NoError(t, err)

	_, err = s2.Open(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "", Redact(""))
	assert.Equal(t, "*****", Redact("short"))
	assert.Equal(t, "********7890", Redact("abcdefghij1234567890"))
}
