package webhooks

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
	"github.com/otherjamesbrown/dealmemo/pkg/gateway"
	"github.com/otherjamesbrown/dealmemo/pkg/integrations"
)

type fakeLister struct {
	active map[integrations.Provider][]*integrations.Integration
}

func (f *fakeLister) ListActive(ctx context.Context, p integrations.Provider) ([]*integrations.Integration, error) {
	return f.active[p], nil
}

type ingested struct {
	owner uuid.UUID
	req   gateway.Request
}

type fakeIngester struct {
	calls []ingested
}

func (f *fakeIngester) Ingest(ctx context.Context, owner uuid.UUID, req gateway.Request) (uuid.UUID, error) {
	f.calls = append(f.calls, ingested{owner: owner, req: req})
	return uuid.New(), nil
}

func sign(secret string, body []byte) string {
	return hex.EncodeToString(Sign([]byte(secret), body))
}

func newReceiver(provider integrations.Provider, owners map[uuid.UUID]string) (*Receiver, *fakeIngester) {
	lister := &fakeLister{active: map[integrations.Provider][]*integrations.Integration{}}
	for owner, secret := range owners {
		lister.active[provider] = append(lister.active[provider], &integrations.Integration{
			ID:          uuid.New(),
			UserID:      owner,
			Provider:    provider,
			Status:      integrations.StatusActive,
			Credentials: integrations.Credentials{APIKey: "k", WebhookSecret: secret},
		})
	}
	ing := &fakeIngester{}
	return NewReceiver(lister, ing, nil, nil), ing
}

func TestReceive_FirefliesResolvesOwnerBySecret(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	r, ing := newReceiver(integrations.ProviderFireflies, map[uuid.UUID]string{alice: "alice-secret", bob: "bob-secret"})
	body := []byte(`{"meetingId":"ff-9","eventType":"Transcription completed"}`)

	out, err := r.Receive(context.Background(), integrations.ProviderFireflies, "sha256="+sign("bob-secret", body), body)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, out.JobID)

	require.Len(t, ing.calls, 1)
	assert.Equal(t, bob, ing.calls[0].owner)
	assert.Equal(t, "fireflies", ing.calls[0].req.Source)
	assert.Equal(t, "ff-9", ing.calls[0].req.TranscriptID)
	assert.Empty(t, ing.calls[0].req.Content)
	assert.Equal(t, body, []byte(ing.calls[0].req.RawPayload))
}

func TestReceive_FathomPushesContent(t *testing.T) {
	owner := uuid.New()
	r, ing := newReceiver(integrations.ProviderFathom, map[uuid.UUID]string{owner: "s3cret"})
	body := []byte(`{
		"recording_id": 987654,
		"meeting_title": "Northwind partnership",
		"calendar_invitees": [{"name": "Kim Park", "email": "kim@northwind.com"}],
		"transcript": [{"speaker": {"display_name": "Kim Park"}, "text": "Let's pilot in Q2.", "timestamp": "00:00:05"}]
	}`)

	_, err := r.Receive(context.Background(), integrations.ProviderFathom, sign("s3cret", body), body)
	require.NoError(t, err)

	require.Len(t, ing.calls, 1)
	req := ing.calls[0].req
	assert.Equal(t, "fathom", req.Source)
	assert.Equal(t, "987654", req.TranscriptID)
	assert.Equal(t, "Kim Park: Let's pilot in Q2.", req.Content)
	assert.Equal(t, "Northwind partnership", req.Title)
	assert.Equal(t, []string{"Kim Park"}, req.Participants)
}

func TestReceive_IgnoresOtherFirefliesEvents(t *testing.T) {
	r, ing := newReceiver(integrations.ProviderFireflies, map[uuid.UUID]string{uuid.New(): "s"})
	body := []byte(`{"meetingId":"ff-9","eventType":"Meeting started"}`)

	out, err := r.Receive(context.Background(), integrations.ProviderFireflies, sign("s", body), body)
	require.NoError(t, err)
	assert.True(t, out.Ignored)
	assert.Empty(t, ing.calls)
}

func TestReceive_Rejections(t *testing.T) {
	body := []byte(`{"meetingId":"ff-9"}`)

	tests := []struct {
		name      string
		provider  integrations.Provider
		signature string
		body      []byte
		unauth    bool
	}{
		{"missing signature", integrations.ProviderFireflies, "", body, true},
		{"not hex", integrations.ProviderFireflies, "sha256=zzz", body, true},
		{"wrong secret", integrations.ProviderFireflies, sign("other", body), body, true},
		{"tampered body", integrations.ProviderFireflies, sign("s", body), []byte(`{"meetingId":"ff-10"}`), true},
		{"unsupported provider", integrations.ProviderGoogleDrive, sign("s", body), body, false},
		{"malformed body", integrations.ProviderFireflies, sign("s", []byte(`{}`)), []byte(`{}`), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ing := newReceiver(integrations.ProviderFireflies, map[uuid.UUID]string{uuid.New(): "s"})
			_, err := r.Receive(context.Background(), tt.provider, tt.signature, tt.body)
			require.Error(t, err)
			assert.Equal(t, tt.unauth, dmerrors.IsUnauthorized(err), err.Error())
			assert.Equal(t, !tt.unauth, dmerrors.IsValidation(err), err.Error())
			assert.Empty(t, ing.calls)
		})
	}
}

func TestReceive_SkipsIntegrationsWithoutSecret(t *testing.T) {
	r, ing := newReceiver(integrations.ProviderFireflies, map[uuid.UUID]string{uuid.New(): ""})
	body := []byte(`{"meetingId":"ff-9"}`)

	_, err := r.Receive(context.Background(), integrations.ProviderFireflies, sign("", body), body)
	assert.True(t, dmerrors.IsUnauthorized(err))
	assert.Empty(t, ing.calls)
}
