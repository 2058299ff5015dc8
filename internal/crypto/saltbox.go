// Package crypto provides the commitment salt envelope, HMAC authentication
// for the ledger network API, and oracle attestation signature verification.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// derivationLabel versions the key derivation so the secret can be
	// rotated alongside a format bump.
	derivationLabel = "predmarket.saltbox.v1"
)

// SaltBox encrypts commitment salts at rest with AES-256-GCM. The key is
// derived once from the configured engine secret via PBKDF2-HMAC-SHA256;
// only ciphertext and nonce are ever persisted, never the plaintext salt.
type SaltBox struct {
	aead cipher.AEAD
}

// NewSaltBox derives the encryption key from secret and returns a ready box.
func NewSaltBox(secret string) (*SaltBox, error) {
	if secret == "" {
		return nil, errors.New("crypto: saltbox secret must not be empty")
	}

	key := pbkdf2.Key([]byte(secret), []byte(derivationLabel), pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	return &SaltBox{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random nonce and returns the
// base64-encoded ciphertext and nonce.
func (b *SaltBox) Seal(plaintext []byte) (ciphertext, nonce string, err error) {
	n := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(n); err != nil {
		return "", "", fmt.Errorf("crypto: generating nonce: %w", err)
	}

	ct := b.aead.Seal(nil, n, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ct), base64.StdEncoding.EncodeToString(n), nil
}

// Open decrypts a (ciphertext, nonce) pair produced by Seal.
func (b *SaltBox) Open(ciphertext, nonce string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}
	n, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}

	plaintext, err := b.aead.Open(nil, n, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: salt decryption failed: %w", err)
	}
	return plaintext, nil
}
