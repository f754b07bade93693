// Package credentials seals secrets at rest. The CLI uses it to keep the
// owner token and worker secret in ~/.dealmemo/credentials.yaml; the services
// use the same Sealer for integration credentials stored in Postgres.
//
// The CLI encryption key lives in the system keyring (macOS Keychain,
// Windows Credential Manager, Linux Secret Service). CI and the service
// processes set DEALMEMO_ENCRYPTION_KEY to a 64-character hex string instead.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCredentialsDir  = ".dealmemo"
	DefaultCredentialsFile = "credentials.yaml"

	// TokenEnv overrides the stored owner token.
	TokenEnv = "DEALMEMO_TOKEN"
	// WorkerSecretEnv overrides the stored worker secret.
	WorkerSecretEnv = "DEALMEMO_WORKER_SECRET"
)

var (
	// ErrNoCredentials is returned when nothing is stored.
	ErrNoCredentials = errors.New("no credentials stored")
	// ErrExpiredToken is returned when the stored owner token has expired.
	ErrExpiredToken = errors.New("stored token has expired")
	// ErrEncryptionFailed wraps sealing and opening failures.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// Credentials is what `dealmemo auth login` stores.
type Credentials struct {
	// Token is the owner bearer JWT used for /ingest, /jobs and /process/retry.
	Token string `yaml:"token,omitempty"`
	// WorkerSecret authorizes the internal /process endpoints.
	WorkerSecret string    `yaml:"worker_secret,omitempty"`
	ExpiresAt    time.Time `yaml:"expires_at,omitempty"`
	ServerURL    string    `yaml:"server_url,omitempty"`
	// Subject is the owner id carried in the token.
	Subject     string    `yaml:"subject,omitempty"`
	LastUpdated time.Time `yaml:"last_updated"`
}

// Store reads and writes the CLI credentials file.
type Store struct {
	dir         string
	sealer      *Sealer
	keyProvider KeyProvider
}

// NewStore opens the store in CredentialsDir with the default key provider.
func NewStore() (*Store, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return nil, fmt.Errorf("getting credentials directory: %w", err)
	}
	kp, err := GetDefaultKeyProvider()
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}
	return NewStoreWithKeyProvider(dir, kp)
}

// NewStoreWithKeyProvider opens a store rooted at dir.
func NewStoreWithKeyProvider(dir string, kp KeyProvider) (*Store, error) {
	sealer, err := NewSealer(kp)
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, sealer: sealer, keyProvider: kp}, nil
}

// KeyDescription names where the encryption key is kept.
func (s *Store) KeyDescription() string {
	return s.keyProvider.Description()
}

// CredentialsDir returns $DEALMEMO_CONFIG_DIR, or ~/.dealmemo.
func CredentialsDir() (string, error) {
	if dir := os.Getenv("DEALMEMO_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DefaultCredentialsDir), nil
}

func (s *Store) path() string {
	return filepath.Join(s.dir, DefaultCredentialsFile)
}

// Save seals the secret fields and writes the file with 0600 permissions.
func (s *Store) Save(creds *Credentials) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	stored := *creds
	stored.LastUpdated = time.Now()

	var err error
	if stored.Token, err = s.sealer.SealString(creds.Token); err != nil {
		return fmt.Errorf("encrypting token: %w", err)
	}
	if stored.WorkerSecret, err = s.sealer.SealString(creds.WorkerSecret); err != nil {
		return fmt.Errorf("encrypting worker secret: %w", err)
	}

	data, err := yaml.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}
	if err := os.WriteFile(s.path(), data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return nil
}

// Load reads and opens the credentials file.
func (s *Store) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	if creds.Token, err = s.sealer.OpenString(creds.Token); err != nil {
		return nil, fmt.Errorf("decrypting token: %w", err)
	}
	if creds.WorkerSecret, err = s.sealer.OpenString(creds.WorkerSecret); err != nil {
		return nil, fmt.Errorf("decrypting worker secret: %w", err)
	}
	return &creds, nil
}

// Delete removes the credentials file. A missing file is not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing credentials file: %w", err)
	}
	return nil
}

// Exists reports whether a credentials file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path())
	return err == nil
}

// GetActiveCredential merges environment overrides over the stored file.
// An expired stored token yields ErrExpiredToken unless the environment
// supplies one.
func (s *Store) GetActiveCredential() (*Credentials, error) {
	envToken := os.Getenv(TokenEnv)
	envSecret := os.Getenv(WorkerSecretEnv)

	creds, err := s.Load()
	if err != nil {
		if !errors.Is(err, ErrNoCredentials) || (envToken == "" && envSecret == "") {
			return nil, err
		}
		creds = &Credentials{}
	}

	if envToken != "" {
		creds.Token = envToken
		creds.ExpiresAt = time.Time{}
	}
	if envSecret != "" {
		creds.WorkerSecret = envSecret
	}

	if creds.Token != "" && !creds.ExpiresAt.IsZero() && time.Now().After(creds.ExpiresAt) {
		return nil, ErrExpiredToken
	}
	return creds, nil
}

// MaskToken keeps the first and last few characters of a secret.
func MaskToken(token string) string {
	if len(token) <= 20 {
		return strings.Repeat("*", len(token))
	}
	return token[:8] + "..." + token[len(token)-8:]
}

// FormatExpiry renders the time left on a token.
func FormatExpiry(expiresAt time.Time) string {
	if expiresAt.IsZero() {
		return "never"
	}
	remaining := time.Until(expiresAt)
	switch {
	case remaining < 0:
		return "expired"
	case remaining < time.Hour:
		return fmt.Sprintf("%d minutes", int(remaining.Minutes()))
	case remaining < 24*time.Hour:
		return fmt.Sprintf("%d hours", int(remaining.Hours()))
	default:
		return fmt.Sprintf("%d days", int(remaining.Hours()/24))
	}
}
