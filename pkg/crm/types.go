// Package crm stores the records a processed meeting produces: memos,
// companies, contacts and their per-meeting context, tasks and reminders.
package crm

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority is shared by tasks and reminders.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority maps free text to a Priority, defaulting to medium.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityLow:
		return PriorityLow
	case PriorityHigh:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// ReminderType is what produced a reminder.
type ReminderType string

const (
	ReminderCommitment        ReminderType = "commitment"
	ReminderFollowUp          ReminderType = "follow_up"
	ReminderIntroRequest      ReminderType = "intro_request"
	ReminderDeadline          ReminderType = "deadline"
	ReminderStaleRelationship ReminderType = "stale_relationship"
)

// ParseReminderType accepts the types produced by commitment extraction.
// stale_relationship is created by a separate sweep and is rejected here.
func ParseReminderType(s string) (ReminderType, bool) {
	t := ReminderType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case ReminderCommitment, ReminderFollowUp, ReminderIntroRequest, ReminderDeadline:
		return t, true
	case ReminderStaleRelationship:
		return "", false
	}
	return "", false
}

// DefaultDueIn is the due-date offset used when no explicit date was extracted.
func (t ReminderType) DefaultDueIn() time.Duration {
	const day = 24 * time.Hour
	switch t {
	case ReminderCommitment:
		return 7 * day
	case ReminderFollowUp:
		return 14 * day
	case ReminderIntroRequest:
		return 7 * day
	case ReminderDeadline:
		return 3 * day
	case ReminderStaleRelationship:
		return 30 * day
	}
	return 7 * day
}

type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSnoozed   ReminderStatus = "snoozed"
	ReminderCompleted ReminderStatus = "completed"
	ReminderDismissed ReminderStatus = "dismissed"
)

// Memo is the generated write-up of one meeting. Empty strings are stored as NULL.
type Memo struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	CompanyID   *uuid.UUID
	Source      string
	SourceID    string
	// ImportKey overrides SourceID as the import marker's external id.
	ImportKey   string
	Title       string
	Content     string
	Summary     string
	Category    string
	MeetingDate *time.Time
	DocumentID  string
	DocumentURL string
	CreatedAt   time.Time
}

// MarkerID is the external id the memo's import marker is keyed on. Empty
// means the memo claims no marker.
func (m *Memo) MarkerID() string {
	if m.ImportKey != "" {
		return m.ImportKey
	}
	return m.SourceID
}

type Company struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Name     string
	Domain   string
	Industry string
	Stage    string
	Founders []string
}

// Contact is a person the owner has met. Empty optional fields are NULL.
type Contact struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	CompanyID        *uuid.UUID
	Name             string
	Email            string
	Phone            string
	ProfileURL       string
	Title            string
	RelationshipType string
	Notes            string
}

// ContactContext is what a contact said and cared about in one meeting.
type ContactContext struct {
	Interests  []string `json:"interests,omitempty"`
	Concerns   []string `json:"concerns,omitempty"`
	Asks       []string `json:"asks,omitempty"`
	Quotes     []string `json:"quotes,omitempty"`
	FollowUps  []string `json:"follow_ups,omitempty"`
	Topics     []string `json:"topics,omitempty"`
	Sentiment  string   `json:"sentiment,omitempty"`
	Engagement string   `json:"engagement,omitempty"`
}

type Task struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	MemoID    *uuid.UUID
	CompanyID *uuid.UUID
	Title     string
	Priority  Priority
	Status    TaskStatus
}

type Reminder struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	ContactID    *uuid.UUID
	CompanyID    *uuid.UUID
	MemoID       *uuid.UUID
	Type         ReminderType
	Title        string
	Context      string
	SourceQuote  string
	DueDate      time.Time
	Priority     Priority
	Status       ReminderStatus
	SnoozedUntil *time.Time
}
