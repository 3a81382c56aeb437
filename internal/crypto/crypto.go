// Package crypto provides the value crypter that protects bookmark titles
// and URLs on the wire.
//
// The sync service never sees plaintext: every title and URL is sealed
// with a device-shared secret key before upload and opened on download.
// The implementation uses NaCl secretbox (XSalsa20-Poly1305) with a
// random 24-byte nonce prepended to the ciphertext, base64-encoded for
// transport inside JSON strings.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the secretbox key length in bytes.
const KeySize = 32

const nonceSize = 24

// Crypter seals and opens field values. Implementations must be
// deterministic only in the sense that Decrypt(Encrypt(x)) == x; the
// ciphertext itself may differ per call.
type Crypter interface {
	Encrypt(plain string) (string, error)
	Decrypt(cipher string) (string, error)
}

// DecryptionError reports a single undecryptable value. The engine skips
// the offending item and continues with the rest of the batch.
type DecryptionError struct {
	Reason string
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("failed to decrypt value: %s", e.Reason)
}

// SecretBox is a Crypter backed by NaCl secretbox.
type SecretBox struct {
	key [KeySize]byte
}

// NewSecretBox creates a crypter from a raw 32-byte key.
func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("secret key must be %d bytes (got %d)", KeySize, len(key))
	}
	sb := &SecretBox{}
	copy(sb.key[:], key)
	return sb, nil
}

// NewSecretBoxBase64 creates a crypter from a base64-encoded 32-byte key,
// the form keys take in the config file.
func NewSecretBoxBase64(encoded string) (*SecretBox, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode secret key: %w", err)
	}
	return NewSecretBox(key)
}

// GenerateKey returns a fresh random key, base64-encoded.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate secret key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt seals plain and returns base64(nonce || box).
func (sb *SecretBox) Encrypt(plain string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, &sb.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Malformed input of any kind
// is reported as a DecryptionError.
func (sb *SecretBox) Decrypt(cipher string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(cipher)
	if err != nil {
		return "", &DecryptionError{Reason: "invalid base64"}
	}
	if len(raw) < nonceSize {
		return "", &DecryptionError{Reason: "ciphertext too short"}
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &sb.key)
	if !ok {
		return "", &DecryptionError{Reason: "authentication failed"}
	}
	return string(plain), nil
}
