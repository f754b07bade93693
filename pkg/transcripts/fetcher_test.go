package transcripts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
	"github.com/otherjamesbrown/dealmemo/pkg/integrations"
	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
)

type fakeIntegrations struct {
	byProvider map[integrations.Provider]*integrations.Integration
	errors     map[uuid.UUID]string
	activated  []uuid.UUID
}

func newFakeIntegrations(list ...*integrations.Integration) *fakeIntegrations {
	f := &fakeIntegrations{byProvider: map[integrations.Provider]*integrations.Integration{}, errors: map[uuid.UUID]string{}}
	for _, i := range list {
		f.byProvider[i.Provider] = i
	}
	return f
}

func (f *fakeIntegrations) Get(ctx context.Context, owner uuid.UUID, p integrations.Provider) (*integrations.Integration, error) {
	i, ok := f.byProvider[p]
	if !ok || i.UserID != owner {
		return nil, fmt.Errorf("%s: %w", p, dmerrors.ErrNotFound)
	}
	return i, nil
}

func (f *fakeIntegrations) MarkError(ctx context.Context, id uuid.UUID, msg string) error {
	f.errors[id] = msg
	return nil
}

func (f *fakeIntegrations) MarkActive(ctx context.Context, id uuid.UUID) error {
	f.activated = append(f.activated, id)
	return nil
}

type fakePuller struct {
	transcript *Transcript
	err        error
	gotKey     string
	gotID      string
}

func (p *fakePuller) FetchTranscript(ctx context.Context, apiKey, id string) (*Transcript, error) {
	p.gotKey, p.gotID = apiKey, id
	return p.transcript, p.err
}

func pipelineErr(t *testing.T, err error) *dmerrors.PipelineError {
	t.Helper()
	var pe *dmerrors.PipelineError
	require.True(t, errors.As(err, &pe), "expected a PipelineError, got %v", err)
	assert.Equal(t, StageFetch, pe.Stage)
	return pe
}

func TestFetcher_SuppliedContent(t *testing.T) {
	f := NewFetcher(newFakeIntegrations(), nil, nil)
	job := &jobs.Job{
		UserID: uuid.New(),
		Source: jobs.SourceManual,
		Metadata: jobs.Metadata{
			Title:        "Coffee with Alice",
			Content:      "Alice: Let's meet again next week. Bob: I'll send the deck.",
			Participants: []string{"Carol"},
		},
	}
	tr, err := f.Fetch(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "Coffee with Alice", tr.Title)
	assert.Equal(t, []string{"Alice", "Bob"}, tr.Speakers)
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, tr.Participants)
}

func TestFetcher_EmptyManualJob(t *testing.T) {
	f := NewFetcher(newFakeIntegrations(), nil, nil)
	_, err := f.Fetch(context.Background(), &jobs.Job{Source: jobs.SourceManual, Metadata: jobs.Metadata{Content: "   "}})
	assert.Equal(t, dmerrors.ErrCodeEmptyTranscript, pipelineErr(t, err).Code)
}

func TestFetcher_PullsWithStoredKey(t *testing.T) {
	owner := uuid.New()
	integ := &integrations.Integration{ID: uuid.New(), UserID: owner, Provider: integrations.ProviderFireflies,
		Status: integrations.StatusError, Credentials: integrations.Credentials{APIKey: "ff-key"}}
	store := newFakeIntegrations(integ)
	puller := &fakePuller{transcript: Parse("Jane: We grew 3x. Sam: Nice.")}
	f := NewFetcher(store, map[jobs.Source]Puller{jobs.SourceFireflies: puller}, nil)

	tr, err := f.Fetch(context.Background(), &jobs.Job{UserID: owner, Source: jobs.SourceFireflies, SourceID: "ff-1"})
	require.NoError(t, err)
	assert.Equal(t, "ff-key", puller.gotKey)
	assert.Equal(t, "ff-1", puller.gotID)
	assert.Equal(t, []string{"Jane", "Sam"}, tr.Participants)
	assert.Equal(t, []uuid.UUID{integ.ID}, store.activated, "a successful call clears the error state")
}

func TestFetcher_MissingIntegration(t *testing.T) {
	puller := &fakePuller{}
	f := NewFetcher(newFakeIntegrations(), map[jobs.Source]Puller{jobs.SourceFireflies: puller}, nil)

	_, err := f.Fetch(context.Background(), &jobs.Job{UserID: uuid.New(), Source: jobs.SourceFireflies, SourceID: "ff-1"})
	pe := pipelineErr(t, err)
	assert.Equal(t, dmerrors.ErrCodeMissingCredential, pe.Code)
	assert.Contains(t, err.Error(), "Fireflies integration")
	assert.True(t, dmerrors.IsMissingCredential(err))
	assert.Empty(t, puller.gotID, "no API call without a credential")
}

func TestFetcher_IntegrationWithoutKeyIsMarked(t *testing.T) {
	owner := uuid.New()
	integ := &integrations.Integration{ID: uuid.New(), UserID: owner, Provider: integrations.ProviderFathom, Status: integrations.StatusActive}
	store := newFakeIntegrations(integ)
	f := NewFetcher(store, map[jobs.Source]Puller{jobs.SourceFathom: &fakePuller{}}, nil)

	_, err := f.Fetch(context.Background(), &jobs.Job{UserID: owner, Source: jobs.SourceFathom, SourceID: "42"})
	assert.Equal(t, dmerrors.ErrCodeMissingCredential, pipelineErr(t, err).Code)
	assert.Contains(t, store.errors[integ.ID], "Fathom integration")
}

func TestFetcher_APIFailureFlipsIntegration(t *testing.T) {
	owner := uuid.New()
	integ := &integrations.Integration{ID: uuid.New(), UserID: owner, Provider: integrations.ProviderFireflies,
		Status: integrations.StatusActive, Credentials: integrations.Credentials{APIKey: "revoked"}}
	store := newFakeIntegrations(integ)
	puller := &fakePuller{err: &APIError{Provider: "Fireflies", StatusCode: http.StatusUnauthorized, Message: "Invalid API key"}}
	f := NewFetcher(store, map[jobs.Source]Puller{jobs.SourceFireflies: puller}, nil)

	_, err := f.Fetch(context.Background(), &jobs.Job{UserID: owner, Source: jobs.SourceFireflies, SourceID: "ff-1"})
	pe := pipelineErr(t, err)
	assert.Equal(t, dmerrors.ErrCodeMissingCredential, pe.Code)
	assert.Contains(t, pe.Message, "Fireflies API request failed")
	assert.Contains(t, store.errors[integ.ID], "Invalid API key")
}

func TestFetcher_TransientAPIFailureCode(t *testing.T) {
	owner := uuid.New()
	integ := &integrations.Integration{ID: uuid.New(), UserID: owner, Provider: integrations.ProviderFireflies,
		Status: integrations.StatusActive, Credentials: integrations.Credentials{APIKey: "k"}}
	puller := &fakePuller{err: &APIError{Provider: "Fireflies", StatusCode: http.StatusServiceUnavailable}}
	f := NewFetcher(newFakeIntegrations(integ), map[jobs.Source]Puller{jobs.SourceFireflies: puller}, nil)

	_, err := f.Fetch(context.Background(), &jobs.Job{UserID: owner, Source: jobs.SourceFireflies, SourceID: "ff-1"})
	pe := pipelineErr(t, err)
	assert.Equal(t, dmerrors.ErrCodeProviderUnavailable, pe.Code)
	assert.True(t, dmerrors.IsErrorRetryable(err))
}
