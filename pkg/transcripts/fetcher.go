package transcripts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
	"github.com/otherjamesbrown/dealmemo/pkg/integrations"
	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
)

// StageFetch names the fetch stage in errors and metrics.
const StageFetch = "fetch"

// Puller fetches one transcript from a provider API.
type Puller interface {
	FetchTranscript(ctx context.Context, apiKey, transcriptID string) (*Transcript, error)
}

// IntegrationStore is the part of integrations.Store the fetcher needs.
type IntegrationStore interface {
	Get(ctx context.Context, owner uuid.UUID, provider integrations.Provider) (*integrations.Integration, error)
	MarkError(ctx context.Context, id uuid.UUID, message string) error
	MarkActive(ctx context.Context, id uuid.UUID) error
}

// Fetcher resolves the transcript for a job.
type Fetcher struct {
	integrations IntegrationStore
	pullers      map[jobs.Source]Puller
	logger       logging.Logger
}

// NewFetcher creates a Fetcher. pullers maps pull sources to their API clients.
func NewFetcher(store IntegrationStore, pullers map[jobs.Source]Puller, logger logging.Logger) *Fetcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Fetcher{integrations: store, pullers: pullers, logger: logger.With(logging.F("component", "fetcher"))}
}

// Fetch returns the job's transcript. Supplied content wins; otherwise pull
// sources are fetched with the owner's stored credential. Every error is a
// *errors.PipelineError for the fetch stage.
func (f *Fetcher) Fetch(ctx context.Context, job *jobs.Job) (*Transcript, error) {
	if strings.TrimSpace(job.Metadata.Content) != "" {
		return f.finish(Parse(job.Metadata.Content), job)
	}
	if !job.Source.Pull() || job.SourceID == "" {
		return nil, dmerrors.New(dmerrors.ErrCodeEmptyTranscript, StageFetch,
			"no transcript content was supplied and there is no provider transcript to fetch", nil)
	}

	provider := integrations.Provider(job.Source)
	name := provider.DisplayName()
	puller, ok := f.pullers[job.Source]
	if !ok {
		return nil, dmerrors.New(dmerrors.ErrCodeProcessing, StageFetch,
			fmt.Sprintf("%s transcripts cannot be fetched: no client configured", name), nil)
	}

	integ, err := f.integrations.Get(ctx, job.UserID, provider)
	if dmerrors.IsNotFound(err) {
		return nil, dmerrors.New(dmerrors.ErrCodeMissingCredential, StageFetch,
			fmt.Sprintf("%s integration is not connected; connect it to import transcript %s", name, job.SourceID),
			dmerrors.ErrMissingCredential)
	}
	if err != nil {
		return nil, dmerrors.New(dmerrors.ErrCodePersistence, StageFetch,
			fmt.Sprintf("loading %s integration failed", name), err)
	}
	if !integ.Usable() {
		msg := fmt.Sprintf("%s integration has no usable API key; reconnect it", name)
		if integ.Status == integrations.StatusDisconnected {
			msg = fmt.Sprintf("%s integration is disconnected; reconnect it to import transcript %s", name, job.SourceID)
		}
		f.markError(ctx, integ, msg)
		return nil, dmerrors.New(dmerrors.ErrCodeMissingCredential, StageFetch, msg, dmerrors.ErrMissingCredential)
	}

	t, err := puller.FetchTranscript(ctx, integ.Credentials.APIKey, job.SourceID)
	if err != nil {
		msg := fmt.Sprintf("%s API request failed: %v", name, err)
		f.markError(ctx, integ, msg)
		return nil, dmerrors.New(apiErrorCode(err), StageFetch, msg, err)
	}
	if integ.Status == integrations.StatusError {
		if err := f.integrations.MarkActive(ctx, integ.ID); err != nil {
			f.logger.Warn("clearing integration error failed", logging.F("integration_id", integ.ID.String()), logging.Err(err))
		}
	}
	return f.finish(t, job)
}

// finish merges job metadata into t and rejects empty transcripts.
func (f *Fetcher) finish(t *Transcript, job *jobs.Job) (*Transcript, error) {
	if t.Empty() {
		return nil, dmerrors.New(dmerrors.ErrCodeEmptyTranscript, StageFetch, "transcript is empty", nil)
	}
	if job.Metadata.Title != "" {
		t.Title = job.Metadata.Title
	}
	if job.Metadata.MeetingDate != nil {
		t.MeetingDate = job.Metadata.MeetingDate
	}
	t.Participants = MergeSpeakers(t.Speakers, job.Metadata.Participants)
	return t, nil
}

func (f *Fetcher) markError(ctx context.Context, integ *integrations.Integration, msg string) {
	if integ.Status == integrations.StatusDisconnected {
		return
	}
	if err := f.integrations.MarkError(ctx, integ.ID, msg); err != nil {
		f.logger.Warn("recording integration error failed", logging.F("integration_id", integ.ID.String()), logging.Err(err))
	}
}

func apiErrorCode(err error) dmerrors.ErrorCode {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Unauthorized():
			return dmerrors.ErrCodeMissingCredential
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return dmerrors.ErrCodeRateLimit
		case apiErr.StatusCode >= 500:
			return dmerrors.ErrCodeProviderUnavailable
		default:
			return dmerrors.ErrCodeProcessing
		}
	}
	return dmerrors.ClassifyError(err, StageFetch).Code
}
