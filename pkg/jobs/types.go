// Package jobs holds the memo job model, its Postgres store, the per-run
// progress reporter and the stale-job reaper.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions happen without a retry.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	case StatusPending, StatusProcessing:
		return false
	}
	return false
}

// Source identifies where a transcript came from.
type Source string

const (
	SourceManual    Source = "manual"
	SourceFireflies Source = "fireflies"
	SourceFathom    Source = "fathom"
)

// ParseSource validates s.
func ParseSource(s string) (Source, error) {
	src := Source(s)
	switch src {
	case SourceManual, SourceFireflies, SourceFathom:
		return src, nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// Pull reports whether transcripts for this source are fetched from a
// provider API when no content was supplied.
func (s Source) Pull() bool {
	switch s {
	case SourceFireflies, SourceFathom:
		return true
	case SourceManual:
		return false
	}
	return false
}

// Step is a fixed progress checkpoint. Its value is the progress percentage.
type Step int

const (
	StepQueued    Step = 0
	StepFetch     Step = 10
	StepClassify  Step = 25
	StepCompany   Step = 40
	StepContent   Step = 60
	StepExtract   Step = 75
	StepMaterials Step = 85
	StepFiling    Step = 95
	StepDone      Step = 100
)

func (s Step) String() string {
	switch s {
	case StepQueued:
		return "queued"
	case StepFetch:
		return "fetching transcript"
	case StepClassify:
		return "classifying meeting"
	case StepCompany:
		return "resolving company"
	case StepContent:
		return "generating memo"
	case StepExtract:
		return "extracting contacts and commitments"
	case StepMaterials:
		return "creating tasks and reminders"
	case StepFiling:
		return "filing document"
	case StepDone:
		return "completed"
	}
	return fmt.Sprintf("step %d", int(s))
}

// Progress returns the checkpoint percentage.
func (s Step) Progress() int { return int(s) }

// Metadata is the job's input payload plus fields filled during the run.
type Metadata struct {
	Title        string          `json:"title,omitempty"`
	Content      string          `json:"content,omitempty"`
	Participants []string        `json:"participants,omitempty"`
	MeetingDate  *time.Time      `json:"meetingDate,omitempty"`
	OwnerName    string          `json:"ownerName,omitempty"`
	OwnerEmail   string          `json:"ownerEmail,omitempty"`
	RawPayload   json.RawMessage `json:"rawPayload,omitempty"`
}

// Result is stored on a completed job.
type Result struct {
	MemoID           uuid.UUID  `json:"memoId"`
	Skipped          bool       `json:"skipped,omitempty"`
	Category         string     `json:"category,omitempty"`
	CompanyID        *uuid.UUID `json:"companyId,omitempty"`
	CompanyName      string     `json:"companyName,omitempty"`
	ContactsLinked   int        `json:"contactsLinked"`
	TasksCreated     int        `json:"tasksCreated"`
	RemindersCreated int        `json:"remindersCreated"`
	DocumentURL      string     `json:"documentUrl,omitempty"`
}

// Job is one ingestion attempt.
type Job struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"userId"`
	Source         Source     `json:"source"`
	SourceID       string     `json:"sourceId,omitempty"`
	Status         Status     `json:"status"`
	CurrentStep    string     `json:"currentStep"`
	Progress       int        `json:"progress"`
	Metadata       Metadata   `json:"metadata"`
	Result         *Result    `json:"result,omitempty"`
	Error          string     `json:"error,omitempty"`
	Attempts       int        `json:"attempts"`
	LeaseExpiresAt *time.Time `json:"leaseExpiresAt,omitempty"`
	HeartbeatAt    *time.Time `json:"heartbeatAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// NewJob describes a job to insert.
type NewJob struct {
	UserID   uuid.UUID
	Source   Source
	SourceID string
	Metadata Metadata
}

// Event is one persisted log line for a job.
type Event struct {
	ID        int64             `json:"id"`
	JobID     uuid.UUID         `json:"jobId"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Caller    string            `json:"caller,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// RecoveryReport is the outcome of one reaper pass.
type RecoveryReport struct {
	Reset  []uuid.UUID
	Failed []uuid.UUID
}
