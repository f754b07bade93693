package cmd

import (
	"bytes"
	"context"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
	"github.com/otherjamesbrown/dealmemo/pkg/integrations"
)

type fakeIntegrationStore struct {
	rows     map[integrations.Provider]*integrations.Integration
	released bool
}

func newFakeIntegrationStore() *fakeIntegrationStore {
	return &fakeIntegrationStore{rows: map[integrations.Provider]*integrations.Integration{}}
}

func (f *fakeIntegrationStore) Get(_ context.Context, owner uuid.UUID, p integrations.Provider) (*integrations.Integration, error) {
	row, ok := f.rows[p]
	if !ok || row.UserID != owner {
		return nil, dmerrors.ErrNotFound
	}
	return row, nil
}

func (f *fakeIntegrationStore) Upsert(_ context.Context, owner uuid.UUID, p integrations.Provider, creds integrations.Credentials, settings integrations.Settings) (*integrations.Integration, error) {
	row := &integrations.Integration{
		ID:          uuid.New(),
		UserID:      owner,
		Provider:    p,
		Status:      integrations.StatusActive,
		Credentials: creds,
		Settings:    settings,
		UpdatedAt:   time.Now(),
	}
	f.rows[p] = row
	return row, nil
}

func (f *fakeIntegrationStore) Disconnect(_ context.Context, owner uuid.UUID, p integrations.Provider) error {
	row, ok := f.rows[p]
	if !ok || row.UserID != owner {
		return dmerrors.ErrNotFound
	}
	row.Status = integrations.StatusDisconnected
	row.Credentials = integrations.Credentials{}
	return nil
}

func newTestIntegrationDeps(store *fakeIntegrationStore, secret string) *IntegrationCommandDeps {
	return &IntegrationCommandDeps{
		OpenStore: func(context.Context) (IntegrationStore, func(), error) {
			return store, func() { store.released = true }, nil
		},
		ReadSecret: func(string) (string, error) { return secret, nil },
	}
}

func runIntegration(t *testing.T, deps *IntegrationCommandDeps, args ...string) (string, error) {
	t.Helper()
	cmd := NewIntegrationCommand(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestIntegrationConnect_GeneratesWebhookSecret(t *testing.T) {
	store := newFakeIntegrationStore()
	owner := uuid.New()

	out, err := runIntegration(t, newTestIntegrationDeps(store, ""),
		"connect", "fireflies", "--owner", owner.String(), "--api-key", "ff-key", "--generate-webhook-secret")
	require.NoError(t, err)
	assert.True(t, store.released)

	row := store.rows[integrations.ProviderFireflies]
	require.NotNil(t, row)
	assert.Equal(t, "ff-key", row.Credentials.APIKey)
	secret, err := hex.DecodeString(row.Credentials.WebhookSecret)
	require.NoError(t, err)
	assert.Len(t, secret, 32)
	assert.Contains(t, out, row.Credentials.WebhookSecret)
}

func TestIntegrationConnect_PromptsForAPIKey(t *testing.T) {
	store := newFakeIntegrationStore()

	_, err := runIntegration(t, newTestIntegrationDeps(store, "prompted-key"),
		"connect", "fathom", "--owner", uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, "prompted-key", store.rows[integrations.ProviderFathom].Credentials.APIKey)
}

func TestIntegrationConnect_Drive(t *testing.T) {
	store := newFakeIntegrationStore()

	_, err := runIntegration(t, newTestIntegrationDeps(store, ""),
		"connect", "drive", "--owner", uuid.NewString(), "--access-token", "ya29.a", "--refresh-token", "1//0g", "--expires-in", "1h")
	require.NoError(t, err)

	row := store.rows[integrations.ProviderGoogleDrive]
	require.NotNil(t, row)
	assert.Equal(t, "1//0g", row.Credentials.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), row.Credentials.Expiry, time.Minute)
}

func TestIntegrationConnect_Errors(t *testing.T) {
	store := newFakeIntegrationStore()
	deps := newTestIntegrationDeps(store, "")

	_, err := runIntegration(t, deps, "connect", "zoom", "--owner", uuid.NewString(), "--api-key", "k")
	require.Error(t, err)

	_, err = runIntegration(t, deps, "connect", "fireflies", "--owner", "me", "--api-key", "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --owner")

	_, err = runIntegration(t, deps, "connect", "fireflies", "--owner", uuid.NewString())
	require.Error(t, err, "empty prompted key leaves no credential")
	assert.Empty(t, store.rows)

	_, err = runIntegration(t, deps, "connect", "fireflies", "--api-key", "k")
	require.Error(t, err, "--owner is required")
}

func TestIntegrationDisconnectAndStatus(t *testing.T) {
	store := newFakeIntegrationStore()
	deps := newTestIntegrationDeps(store, "")
	owner := uuid.NewString()

	_, err := runIntegration(t, deps, "connect", "fireflies", "--owner", owner, "--api-key", "k", "--webhook-secret", "whsec")
	require.NoError(t, err)

	out, err := runIntegration(t, deps, "status", "--owner", owner)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[1], "fireflies")
	assert.Contains(t, lines[1], "active")
	assert.Contains(t, lines[1], "yes")
	assert.Contains(t, lines[2], "not connected")

	out, err = runIntegration(t, deps, "disconnect", "fireflies", "--owner", owner)
	require.NoError(t, err)
	assert.Contains(t, out, "disconnected")
	assert.Equal(t, integrations.StatusDisconnected, store.rows[integrations.ProviderFireflies].Status)

	_, err = runIntegration(t, deps, "disconnect", "fathom", "--owner", owner)
	assert.ErrorIs(t, err, dmerrors.ErrNotFound)
}
