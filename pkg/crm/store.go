package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
)

// Store is the Postgres implementation of every CRM repository interface.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// FindImported returns the memo id recorded for (owner, source, externalID).
func (s *Store) FindImported(ctx context.Context, owner uuid.UUID, source, externalID string) (uuid.UUID, bool, error) {
	var memoID uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT memo_id FROM imported_transcripts
		WHERE user_id = $1 AND source = $2 AND external_id = $3`,
		owner, source, externalID).Scan(&memoID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("looking up imported transcript: %w", err)
	}
	return memoID, true, nil
}

// SaveMemo inserts m. When m has a MarkerID the import marker is
// claimed first in the same transaction; if another run already claimed it,
// nothing is written and the existing memo id is returned with skipped=true.
func (s *Store) SaveMemo(ctx context.Context, m *Memo) (uuid.UUID, bool, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("beginning memo transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint: errcheck

	if key := m.MarkerID(); key != "" {
		tag, err := tx.Exec(ctx, `
			INSERT INTO imported_transcripts (user_id, source, external_id, memo_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, source, external_id) DO NOTHING`,
			m.UserID, m.Source, key, m.ID)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("claiming import marker: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var existing uuid.UUID
			err := tx.QueryRow(ctx, `
				SELECT memo_id FROM imported_transcripts
				WHERE user_id = $1 AND source = $2 AND external_id = $3`,
				m.UserID, m.Source, key).Scan(&existing)
			if err != nil {
				return uuid.Nil, false, fmt.Errorf("reading import marker: %w", err)
			}
			return existing, true, nil
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO memos (id, user_id, company_id, source, source_id, title, content, summary, category, meeting_date)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)`,
		m.ID, m.UserID, m.CompanyID, m.Source, m.SourceID, m.Title, m.Content, m.Summary, m.Category, m.MeetingDate)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("inserting memo: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, false, fmt.Errorf("committing memo: %w", err)
	}
	return m.ID, false, nil
}

// GetMemo loads a memo.
func (s *Store) GetMemo(ctx context.Context, id uuid.UUID) (*Memo, error) {
	var m Memo
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, company_id, source, COALESCE(source_id, ''), title, content, summary, category,
		       meeting_date, COALESCE(external_document_id, ''), COALESCE(external_document_url, ''), created_at
		FROM memos WHERE id = $1`, id).
		Scan(&m.ID, &m.UserID, &m.CompanyID, &m.Source, &m.SourceID, &m.Title, &m.Content, &m.Summary,
			&m.Category, &m.MeetingDate, &m.DocumentID, &m.DocumentURL, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, dmerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading memo: %w", err)
	}
	return &m, nil
}

// SetMemoDocument records the mirrored document on a memo.
func (s *Store) SetMemoDocument(ctx context.Context, memoID uuid.UUID, documentID, url string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE memos SET external_document_id = $2, external_document_url = $3, updated_at = NOW()
		WHERE id = $1`, memoID, documentID, url)
	if err != nil {
		return fmt.Errorf("recording memo document: %w", err)
	}
	return nil
}

// SetMemoCompany attaches a company to a memo.
func (s *Store) SetMemoCompany(ctx context.Context, memoID, companyID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE memos SET company_id = $2, updated_at = NOW()
		WHERE id = $1`, memoID, companyID)
	if err != nil {
		return fmt.Errorf("setting memo company: %w", err)
	}
	return nil
}

// ListCompanies returns every company the owner has, by name.
func (s *Store) ListCompanies(ctx context.Context, owner uuid.UUID) ([]Company, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, name, COALESCE(domain, ''), COALESCE(industry, ''), COALESCE(stage, ''),
		       COALESCE(founders, '{}')
		FROM companies WHERE user_id = $1 ORDER BY name`, owner)
	if err != nil {
		return nil, fmt.Errorf("listing companies: %w", err)
	}
	defer rows.Close()

	var out []Company
	for rows.Next() {
		var c Company
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Domain, &c.Industry, &c.Stage, &c.Founders); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateCompany inserts c and sets its ID.
func (s *Store) CreateCompany(ctx context.Context, c *Company) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO companies (user_id, name, domain, industry, stage, founders)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6)
		RETURNING id`,
		c.UserID, c.Name, c.Domain, c.Industry, c.Stage, c.Founders).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("creating company: %w", err)
	}
	return nil
}

const contactColumns = `id, user_id, company_id, name, COALESCE(email, ''), COALESCE(phone, ''),
	COALESCE(profile_url, ''), COALESCE(title, ''), COALESCE(relationship_type, ''), notes`

func (s *Store) findContact(ctx context.Context, where string, args ...any) (*Contact, error) {
	var c Contact
	err := s.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE `+where+` ORDER BY created_at LIMIT 1`, args...).
		Scan(&c.ID, &c.UserID, &c.CompanyID, &c.Name, &c.Email, &c.Phone, &c.ProfileURL, &c.Title, &c.RelationshipType, &c.Notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, dmerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding contact: %w", err)
	}
	return &c, nil
}

// FindContactByEmail matches the lowercased email.
func (s *Store) FindContactByEmail(ctx context.Context, owner uuid.UUID, email string) (*Contact, error) {
	return s.findContact(ctx, `user_id = $1 AND lower(email) = $2`, owner, NormalizeEmail(email))
}

// FindContactByProfileURL matches on NormalizeProfileURL of both sides.
func (s *Store) FindContactByProfileURL(ctx context.Context, owner uuid.UUID, url string) (*Contact, error) {
	return s.findContact(ctx, `user_id = $1 AND profile_url IS NOT NULL AND
		rtrim(regexp_replace(regexp_replace(lower(profile_url), '^https?://(www\.)?', ''), '[?#].*$', ''), '/') = $2`,
		owner, NormalizeProfileURL(url))
}

// FindContactByName matches case-insensitively on the exact name.
func (s *Store) FindContactByName(ctx context.Context, owner uuid.UUID, name string) (*Contact, error) {
	return s.findContact(ctx, `user_id = $1 AND lower(name) = lower($2)`, owner, collapseSpaces(name))
}

// CreateContact inserts c and sets its ID.
func (s *Store) CreateContact(ctx context.Context, c *Contact) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO contacts (user_id, company_id, name, email, phone, profile_url, title, relationship_type, notes)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9)
		RETURNING id`,
		c.UserID, c.CompanyID, c.Name, c.Email, c.Phone, c.ProfileURL, c.Title, c.RelationshipType, c.Notes).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("creating contact: %w", err)
	}
	return nil
}

// UpdateContact writes every field of c.
func (s *Store) UpdateContact(ctx context.Context, c *Contact) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE contacts SET
			company_id = $2, email = NULLIF($3, ''), phone = NULLIF($4, ''), profile_url = NULLIF($5, ''),
			title = NULLIF($6, ''), relationship_type = NULLIF($7, ''), notes = $8, updated_at = NOW()
		WHERE id = $1`,
		c.ID, c.CompanyID, c.Email, c.Phone, c.ProfileURL, c.Title, c.RelationshipType, c.Notes)
	if err != nil {
		return fmt.Errorf("updating contact: %w", err)
	}
	return nil
}

// LinkContactToMemo upserts the per-meeting context for (contact, memo).
func (s *Store) LinkContactToMemo(ctx context.Context, contactID, memoID uuid.UUID, cc ContactContext) error {
	payload, err := json.Marshal(cc)
	if err != nil {
		return fmt.Errorf("encoding contact context: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO contact_memos (contact_id, memo_id, context)
		VALUES ($1, $2, $3)
		ON CONFLICT (contact_id, memo_id) DO UPDATE SET context = EXCLUDED.context, updated_at = NOW()`,
		contactID, memoID, payload)
	if err != nil {
		return fmt.Errorf("linking contact to memo: %w", err)
	}
	return nil
}

// ListTaskTitles returns the titles of tasks already linked to memoID.
func (s *Store) ListTaskTitles(ctx context.Context, memoID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT title FROM tasks WHERE memo_id = $1`, memoID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// CreateTask inserts t and sets its ID.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	if t.Status == "" {
		t.Status = TaskPending
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (user_id, memo_id, company_id, title, priority, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		t.UserID, t.MemoID, t.CompanyID, t.Title, string(t.Priority), string(t.Status)).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

// CreateReminder inserts r and sets its ID.
func (s *Store) CreateReminder(ctx context.Context, r *Reminder) error {
	if r.Status == "" {
		r.Status = ReminderPending
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO reminders (user_id, contact_id, company_id, memo_id, type, title, context, source_quote,
		                       due_date, priority, status, snoozed_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		r.UserID, r.ContactID, r.CompanyID, r.MemoID, string(r.Type), r.Title, r.Context, r.SourceQuote,
		r.DueDate, string(r.Priority), string(r.Status), r.SnoozedUntil).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("creating reminder: %w", err)
	}
	return nil
}

// CountForMemo returns how many contacts, tasks and reminders reference memoID.
func (s *Store) CountForMemo(ctx context.Context, memoID uuid.UUID) (contacts, tasks, reminders int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM contact_memos WHERE memo_id = $1),
			(SELECT count(*) FROM tasks WHERE memo_id = $1),
			(SELECT count(*) FROM reminders WHERE memo_id = $1)`, memoID).Scan(&contacts, &tasks, &reminders)
	if err != nil {
		err = fmt.Errorf("counting memo records: %w", err)
	}
	return contacts, tasks, reminders, err
}
