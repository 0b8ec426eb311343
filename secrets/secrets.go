// Package secrets implements the symmetric secret store: AES-256-GCM
// encryption of device private keys at rest, using the
// fixed 32-byte key the core is started with. The wire format is three
// colon-separated hex fields — iv, authentication tag, ciphertext; the
// tag is verified by GCM when the ciphertext is opened.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// gcmTagSize is the length, in bytes, of the GCM authentication tag Go's
// cipher.AEAD appends to the sealed output.
const gcmTagSize = 16

// ErrDecryptFailed is returned for any malformed ciphertext (wrong field
// count, bad hex, wrong IV length) or a failed GCM authentication check.
// The store deliberately collapses all of these into one sentinel:
// tampered and malformed ciphertext are treated as the same failure.
var ErrDecryptFailed = errors.New("secrets: decrypt failed")

// Store encrypts and decrypts byte payloads with a fixed 32-byte key.
type Store struct {
	key []byte
}

// NewStore creates a Store from a 32-byte AES-256 key. It panics on any
// other key length — a misconfigured key is a startup-time programmer
// error, not a runtime condition to recover from.
func NewStore(key []byte) *Store {
	if len(key) != 32 {
		panic(fmt.Sprintf("secrets: key must be 32 bytes, got %d", len(key)))
	}
	return &Store{key: key}
}

func (s *Store) newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("secrets: build cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext and renders it as "iv_hex:auth_tag_hex:ciphertext_hex".
func (s *Store) Encrypt(plaintext []byte) (string, error) {
	aesGCM, err := s.newGCM()
	if err != nil {
		return "", err
	}

	iv := make([]byte, aesGCM.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("secrets: generate iv: %w", err)
	}

	sealed := aesGCM.Seal(nil, iv, plaintext, nil)
	if len(sealed) < gcmTagSize {
		return "", fmt.Errorf("secrets: sealed output shorter than tag size")
	}
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt parses the "iv_hex:auth_tag_hex:ciphertext_hex" wire format and
// opens it, returning ErrDecryptFailed for any malformed input or failed
// authentication.
func (s *Store) Decrypt(wire string) ([]byte, error) {
	parts := strings.Split(wire, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 colon-separated fields, got %d", ErrDecryptFailed, len(parts))
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: iv is not valid hex", ErrDecryptFailed)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: auth tag is not valid hex", ErrDecryptFailed)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext is not valid hex", ErrDecryptFailed)
	}
	if len(tag) != gcmTagSize {
		return nil, fmt.Errorf("%w: auth tag must be %d bytes, got %d", ErrDecryptFailed, gcmTagSize, len(tag))
	}

	aesGCM, err := s.newGCM()
	if err != nil {
		return nil, err
	}
	if len(iv) != aesGCM.NonceSize() {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrDecryptFailed, aesGCM.NonceSize(), len(iv))
	}

	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := aesGCM.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return plaintext, nil
}
