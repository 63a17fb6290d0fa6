// Package crypto encrypts secret connection parameters before they are
// persisted alongside a source's schema document.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// sealedPrefix marks values produced by SealFields.
const sealedPrefix = "enc:v1:"

var (
	// ErrInvalidKey is returned when the encryption key is empty.
	ErrInvalidKey = errors.New("invalid encryption key: must not be empty")
	// ErrDecryptionFailed is returned when decryption fails due to invalid ciphertext or wrong key.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or wrong key")
)

// CredentialEncryptor provides AES-256-GCM encryption for credential values.
type CredentialEncryptor struct {
	gcm cipher.AEAD
}

// NewCredentialEncryptor creates an encryptor from a key string. A base64
// string decoding to exactly 32 bytes is used directly; anything else is
// treated as a passphrase and hashed with SHA-256.
func NewCredentialEncryptor(keyInput string) (*CredentialEncryptor, error) {
	if keyInput == "" {
		return nil, ErrInvalidKey
	}

	var key []byte
	decoded, err := base64.StdEncoding.DecodeString(keyInput)
	if err == nil && len(decoded) == 32 {
		key = decoded
	} else {
		hash := sha256.Sum256([]byte(keyInput))
		key = hash[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &CredentialEncryptor{gcm: gcm}, nil
}

// Encrypt returns base64(nonce || ciphertext || tag). Empty input stays empty.
func (e *CredentialEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Empty input stays empty.
func (e *CredentialEncryptor) Decrypt(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode failed", ErrDecryptionFailed)
	}

	nonceSize := e.gcm.NonceSize()
	if len(data) < nonceSize+e.gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}

	return string(plaintext), nil
}

// SealFields returns a copy of params with the named string fields
// encrypted. Already sealed values are left as they are.
func (e *CredentialEncryptor) SealFields(params map[string]any, fields []string) (map[string]any, error) {
	out := copyParams(params)
	for _, name := range fields {
		value, ok := out[name].(string)
		if !ok || value == "" || strings.HasPrefix(value, sealedPrefix) {
			continue
		}
		sealed, err := e.Encrypt(value)
		if err != nil {
			return nil, fmt.Errorf("seal %s: %w", name, err)
		}
		out[name] = sealedPrefix + sealed
	}
	return out, nil
}

// OpenFields returns a copy of params with every sealed value decrypted.
// Values without the sealed prefix pass through.
func (e *CredentialEncryptor) OpenFields(params map[string]any) (map[string]any, error) {
	out := copyParams(params)
	for name, raw := range out {
		value, ok := raw.(string)
		if !ok || !strings.HasPrefix(value, sealedPrefix) {
			continue
		}
		plain, err := e.Decrypt(strings.TrimPrefix(value, sealedPrefix))
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		out[name] = plain
	}
	return out, nil
}

// IsSealed reports whether value was produced by SealFields.
func IsSealed(value any) bool {
	s, ok := value.(string)
	return ok && strings.HasPrefix(s, sealedPrefix)
}

func copyParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
