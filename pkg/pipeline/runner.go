// Package pipeline runs one memo job end to end: the idempotency guard,
// transcript fetch, classification, company resolution, content generation,
// contact and commitment extraction, task and reminder materialization and
// document filing. Every trigger path calls Runner.Run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/dealmemo/pkg/crm"
	"github.com/otherjamesbrown/dealmemo/pkg/docstore"
	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
	"github.com/otherjamesbrown/dealmemo/pkg/llm"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
	"github.com/otherjamesbrown/dealmemo/pkg/observability"
	"github.com/otherjamesbrown/dealmemo/pkg/templates"
	"github.com/otherjamesbrown/dealmemo/pkg/transcripts"
)

// Stage names used in errors, spans and metrics.
const (
	StageGuard       = "guard"
	StageFetch       = transcripts.StageFetch
	StageClassify    = "classify"
	StageCompany     = "company"
	StageSummary     = "summary"
	StageContent     = "content"
	StagePersist     = "persist"
	StageExtract     = "extract"
	StageMaterialize = "materialize"
	StageFile        = "file"
)

// JobStore is the part of jobs.Store the runner needs.
type JobStore interface {
	jobs.ProgressStore
	Get(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
	Claim(ctx context.Context, id uuid.UUID, lease time.Duration) (*jobs.Job, error)
}

// MemoStore is the part of crm.Store the runner needs.
type MemoStore interface {
	crm.ContactStore
	FindImported(ctx context.Context, owner uuid.UUID, source, externalID string) (uuid.UUID, bool, error)
	SaveMemo(ctx context.Context, m *crm.Memo) (uuid.UUID, bool, error)
	SetMemoDocument(ctx context.Context, memoID uuid.UUID, documentID, url string) error
	SetMemoCompany(ctx context.Context, memoID, companyID uuid.UUID) error
	ListCompanies(ctx context.Context, owner uuid.UUID) ([]crm.Company, error)
	CreateCompany(ctx context.Context, c *crm.Company) error
	LinkContactToMemo(ctx context.Context, contactID, memoID uuid.UUID, cc crm.ContactContext) error
	ListTaskTitles(ctx context.Context, memoID uuid.UUID) ([]string, error)
	CreateTask(ctx context.Context, t *crm.Task) error
	CreateReminder(ctx context.Context, r *crm.Reminder) error
}

// TranscriptFetcher resolves a job's transcript.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, job *jobs.Job) (*transcripts.Transcript, error)
}

// DocumentFiler mirrors a memo into the owner's document store. It returns
// docstore.ErrNotConnected when the owner has no usable integration.
type DocumentFiler interface {
	File(ctx context.Context, owner uuid.UUID, doc docstore.Document) (*docstore.Filed, error)
}

// Runner executes memo jobs. It is safe for concurrent use.
type Runner struct {
	jobs      JobStore
	memos     MemoStore
	fetcher   TranscriptFetcher
	llm       llm.Client
	catalog   *templates.Catalog
	filer     DocumentFiler
	publisher jobs.ProgressPublisher
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	logger    logging.Logger

	lease            time.Duration
	contentMode      ContentMode
	transcriptTokens int
	now              func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithCatalog replaces the embedded template catalog.
func WithCatalog(c *templates.Catalog) Option {
	return func(r *Runner) { r.catalog = c }
}

// WithFiler enables document filing.
func WithFiler(f DocumentFiler) Option {
	return func(r *Runner) { r.filer = f }
}

// WithPublisher broadcasts progress events.
func WithPublisher(p jobs.ProgressPublisher) Option {
	return func(r *Runner) { r.publisher = p }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithTracer(t *observability.Tracer) Option {
	return func(r *Runner) { r.tracer = t }
}

func WithLogger(logger logging.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithLease sets the job lease taken on claim and extended by each step.
func WithLease(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.lease = d
		}
	}
}

// WithContentMode overrides the per-template content mode choice.
func WithContentMode(m ContentMode) Option {
	return func(r *Runner) { r.contentMode = m }
}

// WithTranscriptBudget caps the transcript tokens sent in any one prompt.
func WithTranscriptBudget(tokens int) Option {
	return func(r *Runner) {
		if tokens > 0 {
			r.transcriptTokens = tokens
		}
	}
}

// WithClock sets the time source used for reminder due dates and notes.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// DefaultTranscriptBudget keeps prompts well inside small-model context windows.
const DefaultTranscriptBudget = 12000

// NewRunner creates a Runner.
func NewRunner(jobStore JobStore, memos MemoStore, fetcher TranscriptFetcher, client llm.Client, opts ...Option) *Runner {
	r := &Runner{
		jobs:             jobStore,
		memos:            memos,
		fetcher:          fetcher,
		llm:              client,
		tracer:           observability.NewTracer(),
		logger:           logging.Global(),
		lease:            jobs.DefaultLease,
		contentMode:      ContentModeAuto,
		transcriptTokens: DefaultTranscriptBudget,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.catalog == nil {
		r.catalog = templates.MustLoadDefault()
	}
	r.logger = r.logger.With(logging.F("component", "pipeline"))
	return r
}

// Run claims a pending job and processes it. A job that already completed
// returns its stored result. A critical failure marks the job failed and is
// returned as a *errors.PipelineError.
func (r *Runner) Run(ctx context.Context, jobID uuid.UUID) (*jobs.Result, error) {
	job, err := r.jobs.Claim(ctx, jobID, r.lease)
	if err != nil {
		if dmerrors.IsInvalidState(err) && job != nil && job.Status == jobs.StatusCompleted && job.Result != nil {
			return job.Result, nil
		}
		return nil, fmt.Errorf("claiming job %s: %w", jobID, err)
	}
	return r.RunClaimed(ctx, job)
}

// RunClaimed processes a job that the caller already moved to processing.
func (r *Runner) RunClaimed(ctx context.Context, job *jobs.Job) (*jobs.Result, error) {
	start := time.Now()
	ctx, span := r.tracer.StartJobSpan(ctx, job.ID.String(), job.UserID.String(), string(job.Source))
	defer span.End()
	helper := observability.NewSpanHelper(span)

	logger := r.logger.WithContext(ctx).With(
		logging.F("job_id", job.ID.String()),
		logging.F("user_id", job.UserID.String()),
		logging.F("source", string(job.Source)))

	reporterOpts := []jobs.ReporterOption{jobs.WithReporterLogger(logger), jobs.WithLease(r.lease)}
	if r.publisher != nil {
		reporterOpts = append(reporterOpts, jobs.WithPublisher(r.publisher))
	}
	jr := &run{
		Runner:   r,
		job:      job,
		logger:   logger,
		reporter: jobs.NewReporter(r.jobs, job, reporterOpts...),
	}
	stop := jr.reporter.StartHeartbeat(ctx)
	defer stop()

	logger.Info("processing memo job", logging.F("attempt", job.Attempts))
	result, err := jr.execute(ctx)

	// Finalization must land even if the trigger's context is gone.
	final := context.WithoutCancel(ctx)
	if err != nil {
		pe := dmerrors.ClassifyError(err, "")
		helper.SetError(pe, string(pe.Code), dmerrors.IsRetryable(pe.Code))
		r.metrics.RecordJob("failed", string(job.Source), time.Since(start).Seconds())
		logger.Error("memo job failed",
			logging.F("stage", pe.Stage),
			logging.F("code", string(pe.Code)),
			logging.Err(err))
		if ferr := jr.reporter.Fail(final, pe.Error()); ferr != nil {
			logger.Error("recording job failure failed", logging.Err(ferr))
		}
		return nil, pe
	}

	if err := jr.reporter.Complete(final, *result); err != nil {
		helper.SetError(err, string(dmerrors.ErrCodePersistence), true)
		logger.Error("recording job completion failed", logging.Err(err))
		return nil, dmerrors.New(dmerrors.ErrCodePersistence, StagePersist, "recording job completion failed", err)
	}
	outcome := "completed"
	if result.Skipped {
		outcome = "skipped"
	}
	helper.SetCategory(result.Category)
	helper.SetSuccess()
	r.metrics.RecordJob(outcome, string(job.Source), time.Since(start).Seconds())
	logger.Info("memo job finished",
		logging.F("outcome", outcome),
		logging.F("memo_id", result.MemoID.String()),
		logging.F("duration_ms", time.Since(start).Milliseconds()))
	return result, nil
}

// run is the state of one execution.
type run struct {
	*Runner
	job      *jobs.Job
	logger   logging.Logger
	reporter *jobs.Reporter
	result   jobs.Result
	// promptText is the transcript cut to the prompt budget.
	promptText string
}

func (p *run) execute(ctx context.Context) (*jobs.Result, error) {
	// Guard: a transcript or job that already has a memo completes immediately.
	if memoID, found, err := p.checkImported(ctx); err != nil {
		return nil, err
	} else if found {
		p.logger.Info("transcript already imported", logging.F("memo_id", memoID.String()))
		return &jobs.Result{MemoID: memoID, Skipped: true}, nil
	}

	p.reporter.Step(ctx, jobs.StepFetch)
	var transcript *transcripts.Transcript
	if err := p.stage(ctx, StageFetch, func(ctx context.Context) error {
		var err error
		transcript, err = p.fetcher.Fetch(ctx, p.job)
		return err
	}); err != nil {
		return nil, err
	}
	p.promptText = llm.Truncate(transcript.Text(), p.transcriptTokens)

	p.reporter.Step(ctx, jobs.StepClassify)
	analysis := p.analyze(ctx, transcript)
	p.result.Category = string(analysis.classification.Category)

	p.reporter.Step(ctx, jobs.StepCompany)
	company, known := p.resolveCompany(analysis.company)

	p.reporter.Step(ctx, jobs.StepContent)
	tmpl := p.catalog.Get(analysis.classification.Category)
	content := p.generateContent(ctx, tmpl, transcript)

	memo := &crm.Memo{
		UserID:      p.job.UserID,
		Source:      string(p.job.Source),
		SourceID:    p.job.SourceID,
		ImportKey:   p.importKey(),
		Title:       p.memoTitle(transcript, tmpl),
		Content:     content,
		Summary:     analysis.summary,
		Category:    string(tmpl.ID),
		MeetingDate: transcript.MeetingDate,
	}
	if known {
		memo.CompanyID = &company.ID
	}
	if err := p.stage(ctx, StagePersist, func(ctx context.Context) error {
		id, skipped, err := p.memos.SaveMemo(ctx, memo)
		if err != nil {
			return dmerrors.New(dmerrors.ErrCodePersistence, StagePersist, "saving memo failed", err)
		}
		memo.ID = id
		p.result.Skipped = skipped
		return nil
	}); err != nil {
		return nil, err
	}
	p.result.MemoID = memo.ID
	if p.result.Skipped {
		// Another run of the same transcript won the marker race.
		p.logger.Info("memo already created by a concurrent run", logging.F("memo_id", memo.ID.String()))
		return &jobs.Result{MemoID: memo.ID, Skipped: true}, nil
	}

	// A new company is only stored once this run owns the memo.
	if company != nil && !known && !p.createCompany(ctx, company, memo) {
		company = nil
	}
	if company != nil {
		p.result.CompanyID = &company.ID
		p.result.CompanyName = company.Name
	}

	p.reporter.Step(ctx, jobs.StepExtract)
	extraction := p.extract(ctx, transcript, memo, company)
	p.result.ContactsLinked = extraction.linked

	p.reporter.Step(ctx, jobs.StepMaterials)
	_ = p.stage(ctx, StageMaterialize, func(ctx context.Context) error {
		p.result.TasksCreated = p.createTasks(ctx, memo)
		p.result.RemindersCreated = p.createReminders(ctx, memo, extraction)
		return nil
	})

	p.reporter.Step(ctx, jobs.StepFiling)
	p.result.DocumentURL = p.fileDocument(ctx, memo, company, transcript)

	result := p.result
	return &result, nil
}

// stage runs fn inside a span and records its latency. A non-nil error is
// classified for stage.
func (p *run) stage(ctx context.Context, stage string, fn func(context.Context) error) error {
	ctx, span := p.tracer.StartStageSpan(ctx, stage)
	defer span.End()
	start := time.Now()

	err := fn(ctx)
	p.metrics.RecordStage(stage, time.Since(start).Seconds())
	if err != nil {
		pe := dmerrors.ClassifyError(err, stage)
		observability.NewSpanHelper(span).SetError(pe, string(pe.Code), dmerrors.IsRetryable(pe.Code))
		p.metrics.RecordStageFailure(stage, string(pe.Code))
		return pe
	}
	observability.NewSpanHelper(span).SetSuccess()
	return nil
}

// degrade logs a non-critical stage failure.
func (p *run) degrade(stage string, err error, fields ...logging.Field) {
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	// Errors returned through stage were already counted there.
	var pe *dmerrors.PipelineError
	if !errors.As(err, &pe) {
		pe = dmerrors.ClassifyError(err, stage)
		p.metrics.RecordStageFailure(stage, string(pe.Code))
	}
	fields = append(fields, logging.F("stage", stage), logging.F("code", string(pe.Code)), logging.Err(err))
	p.logger.Warn("stage degraded", fields...)
}

func (p *run) memoTitle(t *transcripts.Transcript, tmpl *templates.Template) string {
	switch {
	case p.job.Metadata.Title != "":
		return p.job.Metadata.Title
	case t.Title != "":
		return t.Title
	}
	date := p.now()
	if t.MeetingDate != nil {
		date = *t.MeetingDate
	}
	return fmt.Sprintf("%s - %s", tmpl.Name, date.Format("Jan 2, 2006"))
}
