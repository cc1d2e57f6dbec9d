package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// Encryptor provides AES-GCM encryption for credential blobs at rest. The
// 32-byte cipher key is derived from the configured master key; ciphertexts
// are stored as base64(nonce || ciphertext).
type Encryptor struct {
	masterKey string
}

// NewEncryptor creates an encryptor over the given master key.
func NewEncryptor(masterKey string) (*Encryptor, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("master encryption key is empty")
	}
	return &Encryptor{masterKey: masterKey}, nil
}

// Encrypt encrypts and authenticates plaintext.
func (e *Encryptor) Encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(e.deriveKey())
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	combined := append(nonce, ciphertext...)

	return base64.URLEncoding.EncodeToString(combined), nil
}

// Decrypt decodes and decrypts a stored blob. Any tampering or a wrong key
// fails authentication and returns an error.
func (e *Encryptor) Decrypt(encoded string) ([]byte, error) {
	combined, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	block, err := aes.NewCipher(e.deriveKey())
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(combined) < gcm.NonceSize() {
		return nil, fmt.Errorf("encrypted blob too short")
	}

	nonce := combined[:gcm.NonceSize()]
	ciphertext := combined[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// deriveKey derives the 32-byte cipher key from the master key.
func (e *Encryptor) deriveKey() []byte {
	hash := sha256.Sum256([]byte(e.masterKey + "-credential-encryption-v1"))
	return hash[:]
}
