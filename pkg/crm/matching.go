package crm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
)

// ContactStore is what ContactResolver needs from storage.
type ContactStore interface {
	FindContactByEmail(ctx context.Context, owner uuid.UUID, email string) (*Contact, error)
	FindContactByProfileURL(ctx context.Context, owner uuid.UUID, url string) (*Contact, error)
	FindContactByName(ctx context.Context, owner uuid.UUID, name string) (*Contact, error)
	CreateContact(ctx context.Context, c *Contact) error
	UpdateContact(ctx context.Context, c *Contact) error
}

// MatchKind records which key matched an existing contact.
type MatchKind string

const (
	MatchNone       MatchKind = ""
	MatchEmail      MatchKind = "email"
	MatchProfileURL MatchKind = "profile_url"
	MatchName       MatchKind = "name"
)

// Candidate is a contact as extracted from one meeting.
type Candidate struct {
	Name             string
	Email            string
	Phone            string
	ProfileURL       string
	Title            string
	RelationshipType string
	CompanyID        *uuid.UUID
	// Note is appended to the contact's notes as a dated paragraph.
	Note string
}

// ContactResolver matches an extracted contact to an existing one by email,
// then profile URL, then case-insensitive name, and creates it otherwise.
type ContactResolver struct {
	store ContactStore
	now   func() time.Time
}

func NewContactResolver(store ContactStore, now func() time.Time) *ContactResolver {
	if now == nil {
		now = time.Now
	}
	return &ContactResolver{store: store, now: now}
}

// Resolve returns the stored contact for cand and how it was matched.
// A match only fills fields that are empty; existing values are kept.
func (r *ContactResolver) Resolve(ctx context.Context, owner uuid.UUID, cand Candidate) (*Contact, MatchKind, error) {
	cand.Name = collapseSpaces(cand.Name)
	if cand.Name == "" {
		return nil, MatchNone, fmt.Errorf("contact has no name: %w", dmerrors.ErrValidation)
	}

	existing, kind, err := r.find(ctx, owner, cand)
	if err != nil {
		return nil, MatchNone, err
	}
	if existing == nil {
		c := &Contact{
			UserID:           owner,
			CompanyID:        cand.CompanyID,
			Name:             cand.Name,
			Email:            strings.TrimSpace(cand.Email),
			Phone:            strings.TrimSpace(cand.Phone),
			ProfileURL:       strings.TrimSpace(cand.ProfileURL),
			Title:            strings.TrimSpace(cand.Title),
			RelationshipType: strings.TrimSpace(cand.RelationshipType),
			Notes:            r.appendNote("", cand.Note),
		}
		if err := r.store.CreateContact(ctx, c); err != nil {
			return nil, MatchNone, err
		}
		return c, MatchNone, nil
	}

	fillEmpty(&existing.Email, cand.Email)
	fillEmpty(&existing.Phone, cand.Phone)
	fillEmpty(&existing.ProfileURL, cand.ProfileURL)
	fillEmpty(&existing.Title, cand.Title)
	fillEmpty(&existing.RelationshipType, cand.RelationshipType)
	if existing.CompanyID == nil {
		existing.CompanyID = cand.CompanyID
	}
	existing.Notes = r.appendNote(existing.Notes, cand.Note)

	if err := r.store.UpdateContact(ctx, existing); err != nil {
		return nil, kind, err
	}
	return existing, kind, nil
}

func (r *ContactResolver) find(ctx context.Context, owner uuid.UUID, cand Candidate) (*Contact, MatchKind, error) {
	lookups := []struct {
		kind  MatchKind
		value string
		fn    func(context.Context, uuid.UUID, string) (*Contact, error)
	}{
		{MatchEmail, strings.TrimSpace(cand.Email), r.store.FindContactByEmail},
		{MatchProfileURL, strings.TrimSpace(cand.ProfileURL), r.store.FindContactByProfileURL},
		{MatchName, cand.Name, r.store.FindContactByName},
	}
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		c, err := l.fn(ctx, owner, l.value)
		if err == nil {
			return c, l.kind, nil
		}
		if !dmerrors.IsNotFound(err) {
			return nil, MatchNone, fmt.Errorf("matching contact by %s: %w", l.kind, err)
		}
	}
	return nil, MatchNone, nil
}

func (r *ContactResolver) appendNote(notes, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return notes
	}
	para := fmt.Sprintf("[%s] %s", r.now().UTC().Format("2006-01-02"), note)
	if strings.TrimSpace(notes) == "" {
		return para
	}
	return strings.TrimRight(notes, "\n") + "\n\n" + para
}

func fillEmpty(dst *string, v string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = strings.TrimSpace(v)
	}
}
