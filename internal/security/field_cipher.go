// Package security holds the encryption-at-rest boundary for profile fields
// and the HMAC signer for outbound webhooks.
package security

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrInvalidKey is returned for keys that are not 32 bytes.
	ErrInvalidKey = errors.New("field cipher key must be 32 bytes")
	// ErrCiphertext is returned when a value fails authentication.
	ErrCiphertext = errors.New("field ciphertext invalid")
)

// FieldCipher seals individual fields with XChaCha20-Poly1305. The random
// nonce is prepended to the ciphertext. The associated data binds a value to
// its owner and field name, so ciphertext cannot be swapped between rows.
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher builds a cipher from a 32-byte key.
func NewFieldCipher(key []byte) (*FieldCipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init field cipher: %w", err)
	}
	return &FieldCipher{aead: aead}, nil
}

// RandomKey returns a fresh 32-byte key. Values sealed with it are unreadable
// after a restart.
func RandomKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt seals plaintext. Empty plaintext stays empty.
func (c *FieldCipher) Encrypt(plaintext, owner, field string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), associatedData(owner, field)), nil
}

// Decrypt opens a value produced by Encrypt for the same owner and field.
func (c *FieldCipher) Decrypt(ciphertext []byte, owner, field string) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	if len(ciphertext) < c.aead.NonceSize()+c.aead.Overhead() {
		return "", ErrCiphertext
	}
	nonce, sealed := ciphertext[:c.aead.NonceSize()], ciphertext[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, associatedData(owner, field))
	if err != nil {
		return "", ErrCiphertext
	}
	return string(plain), nil
}

func associatedData(owner, field string) []byte {
	return []byte(owner + "|" + field)
}
