package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
)

const jobColumns = `id, user_id, source, COALESCE(source_id, ''), status, current_step, progress,
	metadata, result, COALESCE(error, ''), attempts, lease_expires_at, heartbeat_at, created_at, updated_at`

// Store persists jobs and their event history in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts a pending job.
func (s *Store) Create(ctx context.Context, nj NewJob) (*Job, error) {
	meta, err := json.Marshal(nj.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO memo_jobs (user_id, source, source_id, metadata, current_step)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		RETURNING `+jobColumns,
		nj.UserID, string(nj.Source), nj.SourceID, meta, StepQueued.String())
	return scanJob(row)
}

// Get loads a job by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM memo_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// GetForOwner loads a job only if it belongs to owner.
func (s *Store) GetForOwner(ctx context.Context, owner, id uuid.UUID) (*Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM memo_jobs WHERE id = $1 AND user_id = $2`, id, owner)
	return scanJob(row)
}

// ListByOwner returns the owner's most recent jobs, optionally filtered by status.
func (s *Store) ListByOwner(ctx context.Context, owner uuid.UUID, status Status, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM memo_jobs
		WHERE user_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3`, owner, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return collectJobs(rows)
}

// Claim moves one pending job to processing, starts a new run (progress 0,
// attempts+1) and takes a lease. A job in any other state returns ErrInvalidState.
func (s *Store) Claim(ctx context.Context, id uuid.UUID, lease time.Duration) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE memo_jobs SET
			status = 'processing', progress = 0, current_step = $3, error = NULL,
			attempts = attempts + 1,
			lease_expires_at = NOW() + make_interval(secs => $2),
			heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+jobColumns, id, lease.Seconds(), StepQueued.String())
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !dmerrors.IsNotFound(err) {
		return nil, err
	}

	existing, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return existing, fmt.Errorf("job %s is %s: %w", id, existing.Status, dmerrors.ErrInvalidState)
}

// ClaimPending claims up to limit pending jobs, oldest first, skipping rows
// locked by concurrent claimers.
func (s *Store) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE memo_jobs SET
			status = 'processing', progress = 0, current_step = $3, error = NULL,
			attempts = attempts + 1,
			lease_expires_at = NOW() + make_interval(secs => $2),
			heartbeat_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM memo_jobs
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, limit, lease.Seconds(), StepQueued.String())
	if err != nil {
		return nil, fmt.Errorf("claiming pending jobs: %w", err)
	}
	return collectJobs(rows)
}

// UpdateProgress records a checkpoint. Progress never decreases and the lease is extended.
func (s *Store) UpdateProgress(ctx context.Context, id uuid.UUID, step string, progress int, lease time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE memo_jobs SET
			current_step = $2,
			progress = GREATEST(progress, $3),
			lease_expires_at = NOW() + make_interval(secs => $4),
			heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`,
		id, step, progress, lease.Seconds())
	if err != nil {
		return fmt.Errorf("updating progress: %w", err)
	}
	return nil
}

// Heartbeat extends the lease of a processing job.
func (s *Store) Heartbeat(ctx context.Context, id uuid.UUID, lease time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE memo_jobs SET
			lease_expires_at = NOW() + make_interval(secs => $2),
			heartbeat_at = NOW()
		WHERE id = $1 AND status = 'processing'`, id, lease.Seconds())
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// Complete marks the job completed with result.
func (s *Store) Complete(ctx context.Context, id uuid.UUID, result Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE memo_jobs SET
			status = 'completed', progress = 100, current_step = $3,
			result = $2, error = NULL, lease_expires_at = NULL, updated_at = NOW()
		WHERE id = $1`, id, payload, StepDone.String())
	if err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	return nil
}

// Fail marks the job failed with message. Progress is left where the run stopped.
func (s *Store) Fail(ctx context.Context, id uuid.UUID, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE memo_jobs SET
			status = 'failed', error = $2, lease_expires_at = NULL, updated_at = NOW()
		WHERE id = $1`, id, message)
	if err != nil {
		return fmt.Errorf("failing job: %w", err)
	}
	return nil
}

// RecoverStale resets processing jobs whose lease expired. Jobs that have
// already used maxAttempts runs are failed instead.
func (s *Store) RecoverStale(ctx context.Context, maxAttempts int) (*RecoveryReport, error) {
	rows, err := s.pool.Query(ctx, `
		WITH stale AS (
			SELECT id, attempts FROM memo_jobs
			WHERE status = 'processing' AND lease_expires_at < NOW()
			FOR UPDATE SKIP LOCKED
		)
		UPDATE memo_jobs j SET
			status = CASE WHEN s.attempts >= $1 THEN 'failed' ELSE 'pending' END,
			error = CASE WHEN s.attempts >= $1
				THEN 'job lease expired after ' || s.attempts || ' attempts'
				ELSE j.error END,
			current_step = CASE WHEN s.attempts >= $1 THEN j.current_step ELSE $2 END,
			lease_expires_at = NULL,
			updated_at = NOW()
		FROM stale s
		WHERE j.id = s.id
		RETURNING j.id, j.status`, maxAttempts, StepQueued.String())
	if err != nil {
		return nil, fmt.Errorf("recovering stale jobs: %w", err)
	}
	defer rows.Close()

	report := &RecoveryReport{}
	for rows.Next() {
		var id uuid.UUID
		var status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		if Status(status) == StatusFailed {
			report.Failed = append(report.Failed, id)
		} else {
			report.Reset = append(report.Reset, id)
		}
	}
	return report, rows.Err()
}

// WriteBatch implements logging.LogWriter, persisting job-scoped entries to job_events.
func (s *Store) WriteBatch(ctx context.Context, entries []logging.LogEntry) error {
	var rows [][]any
	for _, e := range entries {
		jobID, err := uuid.Parse(e.JobID)
		if err != nil {
			continue
		}
		fields, err := json.Marshal(e.Fields)
		if err != nil {
			continue
		}
		rows = append(rows, []any{jobID, e.Level, e.Message, fields, e.Caller, e.Timestamp})
	}
	if len(rows) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"job_events"},
		[]string{"job_id", "level", "message", "fields", "caller", "created_at"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("writing job events: %w", err)
	}
	return nil
}

// ListEvents returns a job's event history, oldest first.
func (s *Store) ListEvents(ctx context.Context, jobID uuid.UUID, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, level, message, fields, COALESCE(caller, ''), created_at
		FROM job_events WHERE job_id = $1 ORDER BY id LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing job events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var fields []byte
		if err := rows.Scan(&e.ID, &e.JobID, &e.Level, &e.Message, &fields, &e.Caller, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(fields) > 0 {
			_ = json.Unmarshal(fields, &e.Fields)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j      Job
		source string
		status string
		meta   []byte
		result []byte
	)
	err := row.Scan(&j.ID, &j.UserID, &source, &j.SourceID, &status, &j.CurrentStep, &j.Progress,
		&meta, &result, &j.Error, &j.Attempts, &j.LeaseExpiresAt, &j.HeartbeatAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, dmerrors.ErrNotFound
		}
		return nil, fmt.Errorf("scanning job: %w", err)
	}
	j.Source = Source(source)
	j.Status = Status(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &j.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	if len(result) > 0 {
		j.Result = &Result{}
		if err := json.Unmarshal(result, j.Result); err != nil {
			return nil, fmt.Errorf("decoding result: %w", err)
		}
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]Job, error) {
	defer rows.Close()
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}
