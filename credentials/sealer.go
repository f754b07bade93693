package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Sealer encrypts small secrets with AES-256-GCM. Sealed values are
// base64(nonce || ciphertext) so they fit in YAML files and text columns.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from the provider's key.
func NewSealer(kp KeyProvider) (*Sealer, error) {
	key, err := kp.GetKey()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}
	return NewSealerFromKey(key)
}

// NewSealerFromKey builds a Sealer from raw key bytes.
func NewSealerFromKey(key []byte) (*Sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}
	return &Sealer{aead: gcm}, nil
}

// Seal encrypts plaintext with a fresh nonce.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}
	out := s.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}
	plaintext, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}
	return plaintext, nil
}

// SealString seals a string; the empty string stays empty.
func (s *Sealer) SealString(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	return s.Seal([]byte(v))
}

// OpenString opens a value produced by SealString.
func (s *Sealer) OpenString(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	b, err := s.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
