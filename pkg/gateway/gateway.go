// Package gateway validates ingestion requests, records pending jobs and
// hands them to the dispatcher.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
)

// MaxContentBytes caps supplied transcript content.
const MaxContentBytes = 2 << 20

// Request is a source descriptor.
type Request struct {
	Source       string     `json:"source"`
	TranscriptID string     `json:"transcriptId,omitempty"`
	Content      string     `json:"content,omitempty"`
	Title        string     `json:"title,omitempty"`
	Participants []string   `json:"participants,omitempty"`
	MeetingDate  *time.Time `json:"meetingDate,omitempty"`

	// Set by the transport from the authenticated owner.
	OwnerName  string `json:"-"`
	OwnerEmail string `json:"-"`
	// RawPayload keeps a webhook body for debugging.
	RawPayload json.RawMessage `json:"-"`
}

// JobCreator inserts pending jobs.
type JobCreator interface {
	Create(ctx context.Context, nj jobs.NewJob) (*jobs.Job, error)
}

// Dispatcher hands a created job to execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *jobs.Job) string
}

// Service is the ingestion gateway.
type Service struct {
	jobs       JobCreator
	dispatcher Dispatcher
	logger     logging.Logger
}

// NewService creates a Service.
func NewService(creator JobCreator, dispatcher Dispatcher, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Service{jobs: creator, dispatcher: dispatcher, logger: logger.With(logging.F("component", "gateway"))}
}

// Ingest validates req, inserts a pending job for owner and dispatches it.
// It returns once the job exists; only validation and job creation fail.
func (s *Service) Ingest(ctx context.Context, owner uuid.UUID, req Request) (uuid.UUID, error) {
	nj, err := newJob(owner, req)
	if err != nil {
		return uuid.Nil, err
	}

	job, err := s.jobs.Create(ctx, nj)
	if err != nil {
		return uuid.Nil, dmerrors.New(dmerrors.ErrCodePersistence, "ingest", "creating job failed", err)
	}

	mode := s.dispatcher.Dispatch(ctx, job)
	s.logger.Info("job ingested",
		logging.F("job_id", job.ID.String()),
		logging.F("user_id", owner.String()),
		logging.F("source", string(job.Source)),
		logging.F("dispatch", mode))
	return job.ID, nil
}

func newJob(owner uuid.UUID, req Request) (jobs.NewJob, error) {
	if owner == uuid.Nil {
		return jobs.NewJob{}, fmt.Errorf("owner is required: %w", dmerrors.ErrValidation)
	}
	source, err := jobs.ParseSource(strings.ToLower(strings.TrimSpace(req.Source)))
	if err != nil {
		return jobs.NewJob{}, fmt.Errorf("%v: %w", err, dmerrors.ErrValidation)
	}

	content := strings.TrimSpace(req.Content)
	transcriptID := strings.TrimSpace(req.TranscriptID)
	switch {
	case len(content) > MaxContentBytes:
		return jobs.NewJob{}, fmt.Errorf("content exceeds %d bytes: %w", MaxContentBytes, dmerrors.ErrValidation)
	case source == jobs.SourceManual && content == "":
		return jobs.NewJob{}, fmt.Errorf("manual transcripts need content: %w", dmerrors.ErrValidation)
	case source.Pull() && content == "" && transcriptID == "":
		return jobs.NewJob{}, fmt.Errorf("%s transcripts need a transcriptId or content: %w", source, dmerrors.ErrValidation)
	}

	return jobs.NewJob{
		UserID:   owner,
		Source:   source,
		SourceID: transcriptID,
		Metadata: jobs.Metadata{
			Title:        strings.TrimSpace(req.Title),
			Content:      content,
			Participants: req.Participants,
			MeetingDate:  req.MeetingDate,
			OwnerName:    req.OwnerName,
			OwnerEmail:   req.OwnerEmail,
			RawPayload:   req.RawPayload,
		},
	}, nil
}
