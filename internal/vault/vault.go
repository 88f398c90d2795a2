// Package vault seals stock-unit secrets at rest. Credentials only exist in
// plaintext inside a fulfillment response.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrBadCiphertext = errors.New("vault: malformed or tampered ciphertext")

type Vault struct {
	key []byte
}

// New takes the hex-encoded 32-byte key from config.
func New(hexKey string) (*Vault, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("vault key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("vault key: want %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Vault{key: key}, nil
}

// Seal encrypts a plaintext secret to base64(nonce || ciphertext).
func (v *Vault) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ct := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Open decrypts a sealed secret produced by Seal.
func (v *Vault) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrBadCiphertext
	}
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrBadCiphertext
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrBadCiphertext
	}
	return string(pt), nil
}
