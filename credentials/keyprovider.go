package credentials

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"
)

const (
	keyringService = "dealmemo"
	keyringUser    = "encryption-key"

	// KeyLength is the AES-256 key size in bytes.
	KeyLength = 32

	// EncryptionKeyEnv holds a hex-encoded 32-byte key. The service processes
	// read the integration sealing key from it; the CLI prefers it over the keyring.
	EncryptionKeyEnv = "DEALMEMO_ENCRYPTION_KEY"
)

// Argon2id parameters for passphrase-derived keys.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
)

// ErrKeyringUnavailable indicates the system keyring is not available.
var ErrKeyringUnavailable = errors.New("system keyring unavailable")

// KeyProvider yields the 32-byte key used to seal secrets.
type KeyProvider interface {
	GetKey() ([]byte, error)
	// Description names the key source for status output.
	Description() string
}

// KeyringKeyProvider keeps a random key in the OS keyring and creates it on first use.
type KeyringKeyProvider struct {
	mu sync.Mutex
}

// NewKeyringKeyProvider creates a KeyringKeyProvider.
func NewKeyringKeyProvider() *KeyringKeyProvider {
	return &KeyringKeyProvider{}
}

// GetKey returns the stored key, generating one if the keyring holds none.
func (p *KeyringKeyProvider) GetKey() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	keyHex, err := keyring.Get(keyringService, keyringUser)
	if err == nil {
		key, decErr := hex.DecodeString(keyHex)
		if decErr == nil && len(key) == KeyLength {
			return key, nil
		}
		// Unreadable key material is replaced below.
	}
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}

	key, err := RandomKey()
	if err != nil {
		return nil, err
	}
	if err := keyring.Set(keyringService, keyringUser, hex.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("%w: storing key: %v", ErrKeyringUnavailable, err)
	}
	return key, nil
}

func (p *KeyringKeyProvider) Description() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "windows":
		return "Windows Credential Manager"
	default:
		return "System Keyring (Secret Service)"
	}
}

// PassphraseKeyProvider derives the key from a passphrase with Argon2id.
type PassphraseKeyProvider struct {
	passphrase string
	salt       []byte
}

// NewPassphraseKeyProvider creates a PassphraseKeyProvider. The salt must be
// persisted by the caller; the same passphrase and salt yield the same key.
func NewPassphraseKeyProvider(passphrase string, salt []byte) *PassphraseKeyProvider {
	return &PassphraseKeyProvider{passphrase: passphrase, salt: salt}
}

func (p *PassphraseKeyProvider) GetKey() ([]byte, error) {
	if p.passphrase == "" {
		return nil, errors.New("passphrase is required")
	}
	if len(p.salt) == 0 {
		return nil, errors.New("salt is required")
	}
	return argon2.IDKey([]byte(p.passphrase), p.salt, argon2Time, argon2Memory, argon2Threads, KeyLength), nil
}

func (p *PassphraseKeyProvider) Description() string {
	return "Passphrase-derived key (Argon2id)"
}

// GenerateSalt returns 16 random bytes for passphrase derivation.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// RandomKey returns a fresh random key.
func RandomKey() ([]byte, error) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating random key: %w", err)
	}
	return key, nil
}

// EnvKeyProvider reads a hex key from an environment variable.
type EnvKeyProvider struct {
	envVar string
}

// NewEnvKeyProvider creates an EnvKeyProvider for envVar.
func NewEnvKeyProvider(envVar string) *EnvKeyProvider {
	return &EnvKeyProvider{envVar: envVar}
}

func (p *EnvKeyProvider) GetKey() ([]byte, error) {
	keyHex := os.Getenv(p.envVar)
	if keyHex == "" {
		return nil, fmt.Errorf("environment variable %s not set", p.envVar)
	}
	return decodeHexKey(keyHex, p.envVar)
}

func (p *EnvKeyProvider) Description() string {
	return fmt.Sprintf("Environment variable (%s)", p.envVar)
}

// StaticKeyProvider serves a key loaded from configuration.
type StaticKeyProvider struct {
	key []byte
}

// NewStaticKeyProvider parses a hex key. It is used by the service processes,
// which receive the key through their config file or environment.
func NewStaticKeyProvider(keyHex string) (*StaticKeyProvider, error) {
	key, err := decodeHexKey(keyHex, "encryption key")
	if err != nil {
		return nil, err
	}
	return &StaticKeyProvider{key: key}, nil
}

func (p *StaticKeyProvider) GetKey() ([]byte, error) {
	return p.key, nil
}

func (p *StaticKeyProvider) Description() string {
	return "Configured key"
}

func decodeHexKey(keyHex, source string) ([]byte, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid key in %s: %w", source, err)
	}
	if len(key) != KeyLength {
		return nil, fmt.Errorf("key in %s must be %d bytes, got %d", source, KeyLength, len(key))
	}
	return key, nil
}

// GetDefaultKeyProvider picks the CLI key source: DEALMEMO_ENCRYPTION_KEY if
// set, otherwise the system keyring.
func GetDefaultKeyProvider() (KeyProvider, error) {
	if os.Getenv(EncryptionKeyEnv) != "" {
		return NewEnvKeyProvider(EncryptionKeyEnv), nil
	}

	provider := NewKeyringKeyProvider()
	if _, err := provider.GetKey(); err != nil {
		if errors.Is(err, ErrKeyringUnavailable) {
			return nil, fmt.Errorf("system keyring unavailable; set %s: %w", EncryptionKeyEnv, err)
		}
		return nil, err
	}
	return provider, nil
}
