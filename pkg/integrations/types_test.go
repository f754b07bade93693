package integrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/dealmemo/credentials"
)

func TestParseProvider(t *testing.T) {
	for in, want := range map[string]Provider{
		"fireflies":    ProviderFireflies,
		" Fathom ":     ProviderFathom,
		"drive":        ProviderGoogleDrive,
		"google-drive": ProviderGoogleDrive,
		"google_drive": ProviderGoogleDrive,
	} {
		got, err := ParseProvider(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseProvider("zoom")
	assert.Error(t, err)
}

func TestIntegration_Usable(t *testing.T) {
	tests := []struct {
		name  string
		integ Integration
		want  bool
	}{
		{"fireflies with key", Integration{Provider: ProviderFireflies, Status: StatusActive, Credentials: Credentials{APIKey: "k"}}, true},
		{"fireflies without key", Integration{Provider: ProviderFireflies, Status: StatusActive}, false},
		{"fireflies in error state", Integration{Provider: ProviderFireflies, Status: StatusError, Credentials: Credentials{APIKey: "k"}}, true},
		{"drive with refresh token", Integration{Provider: ProviderGoogleDrive, Status: StatusActive, Credentials: Credentials{RefreshToken: "r"}}, true},
		{"drive with only api key", Integration{Provider: ProviderGoogleDrive, Status: StatusActive, Credentials: Credentials{APIKey: "k"}}, false},
		{"disconnected", Integration{Provider: ProviderFathom, Status: StatusDisconnected, Credentials: Credentials{APIKey: "k"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.integ.Usable())
		})
	}
}

func TestStore_SealOpenRoundTrip(t *testing.T) {
	key, err := credentials.RandomKey()
	require.NoError(t, err)
	sealer, err := credentials.NewSealerFromKey(key)
	require.NoError(t, err)
	s := &Store{sealer: sealer}

	in := Credentials{APIKey: "ff-key", WebhookSecret: "whsec"}
	sealed, err := s.seal(in)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "ff-key")

	out, err := s.open(sealed)
	require.NoError(t, err)
	assert.Equal(t, in.APIKey, out.APIKey)
	assert.Equal(t, in.WebhookSecret, out.WebhookSecret)

	empty, err := s.open("")
	require.NoError(t, err)
	assert.Equal(t, Credentials{}, empty)
}
