// Package integrations stores each owner's connections to transcript
// providers and the document store. Credentials are sealed with AES-GCM
// before they reach Postgres.
package integrations

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider identifies an external service.
type Provider string

const (
	ProviderFireflies   Provider = "fireflies"
	ProviderFathom      Provider = "fathom"
	ProviderGoogleDrive Provider = "google_drive"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderFireflies, ProviderFathom, ProviderGoogleDrive:
		return true
	default:
		return false
	}
}

// DisplayName is used in error messages shown to owners.
func (p Provider) DisplayName() string {
	switch p {
	case ProviderFireflies:
		return "Fireflies"
	case ProviderFathom:
		return "Fathom"
	case ProviderGoogleDrive:
		return "Google Drive"
	default:
		return string(p)
	}
}

// ParseProvider accepts the stored names plus "drive" and "google-drive".
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fireflies":
		return ProviderFireflies, nil
	case "fathom":
		return ProviderFathom, nil
	case "google_drive", "google-drive", "drive":
		return ProviderGoogleDrive, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

// Status is the connection health of an integration.
type Status string

const (
	StatusActive       Status = "active"
	StatusError        Status = "error"
	StatusDisconnected Status = "disconnected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusError, StatusDisconnected:
		return true
	default:
		return false
	}
}

// Credentials is the sealed part of an integration.
type Credentials struct {
	APIKey        string    `json:"api_key,omitempty"`
	AccessToken   string    `json:"access_token,omitempty"`
	RefreshToken  string    `json:"refresh_token,omitempty"`
	Expiry        time.Time `json:"expiry,omitempty"`
	WebhookSecret string    `json:"webhook_secret,omitempty"`
}

// Settings holds non-secret per-integration state.
type Settings struct {
	// FolderID caches the document folder created by the filer.
	FolderID string `json:"folder_id,omitempty"`
}

// Integration is one owner's connection to one provider.
type Integration struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Provider    Provider
	Status      Status
	Credentials Credentials
	Settings    Settings
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasCredential reports whether the integration carries what its provider needs
// to make API calls.
func (i *Integration) HasCredential() bool {
	switch i.Provider {
	case ProviderGoogleDrive:
		return i.Credentials.AccessToken != "" || i.Credentials.RefreshToken != ""
	default:
		return i.Credentials.APIKey != ""
	}
}

// Usable reports whether the pipeline may call the provider with this integration.
// An integration in error state is still tried; a successful call is how it recovers.
func (i *Integration) Usable() bool {
	return i.Status != StatusDisconnected && i.HasCredential()
}
