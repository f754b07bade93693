package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otherjamesbrown/dealmemo/credentials"
	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
)

const selectColumns = `id, user_id, provider, status, sealed_credentials, settings, COALESCE(last_error, ''), created_at, updated_at`

// Store persists integrations in Postgres.
type Store struct {
	pool   *pgxpool.Pool
	sealer *credentials.Sealer
}

// NewStore creates a Store that seals credentials with sealer.
func NewStore(pool *pgxpool.Pool, sealer *credentials.Sealer) *Store {
	return &Store{pool: pool, sealer: sealer}
}

// Get returns the owner's integration for provider, or ErrNotFound.
func (s *Store) Get(ctx context.Context, owner uuid.UUID, provider Provider) (*Integration, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM integrations WHERE user_id = $1 AND provider = $2`, owner, provider)
	integ, err := s.scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s integration: %w", provider.DisplayName(), dmerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s integration: %w", provider, err)
	}
	return integ, nil
}

// ListActive returns every non-disconnected integration for provider.
// Webhook verification walks this list to find the owner whose secret matches.
func (s *Store) ListActive(ctx context.Context, provider Provider) ([]*Integration, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM integrations
		WHERE provider = $1 AND status <> 'disconnected' ORDER BY created_at`, provider)
	if err != nil {
		return nil, fmt.Errorf("listing %s integrations: %w", provider, err)
	}
	defer rows.Close()

	var out []*Integration
	for rows.Next() {
		integ, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning integration: %w", err)
		}
		out = append(out, integ)
	}
	return out, rows.Err()
}

// Upsert connects (or reconnects) provider for owner. Status resets to active.
func (s *Store) Upsert(ctx context.Context, owner uuid.UUID, provider Provider, creds Credentials, settings Settings) (*Integration, error) {
	if !provider.Valid() {
		return nil, fmt.Errorf("provider %q: %w", provider, dmerrors.ErrValidation)
	}
	sealed, err := s.seal(creds)
	if err != nil {
		return nil, err
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("encoding settings: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO integrations (user_id, provider, status, sealed_credentials, settings)
		VALUES ($1, $2, 'active', $3, $4)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			status = 'active',
			sealed_credentials = EXCLUDED.sealed_credentials,
			settings = integrations.settings || EXCLUDED.settings,
			last_error = NULL,
			updated_at = NOW()
		RETURNING `+selectColumns,
		owner, provider, sealed, settingsJSON)
	integ, err := s.scan(row)
	if err != nil {
		return nil, fmt.Errorf("saving %s integration: %w", provider, err)
	}
	return integ, nil
}

// MarkError records a failure and flips the integration to error.
func (s *Store) MarkError(ctx context.Context, id uuid.UUID, message string) error {
	return s.exec(ctx, `UPDATE integrations SET status = 'error', last_error = $2, updated_at = NOW() WHERE id = $1`, id, message)
}

// MarkActive clears a previous error after a successful call.
func (s *Store) MarkActive(ctx context.Context, id uuid.UUID) error {
	return s.exec(ctx, `UPDATE integrations SET status = 'active', last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'error'`, id)
}

// Disconnect keeps the row for history but stops every use of it.
func (s *Store) Disconnect(ctx context.Context, owner uuid.UUID, provider Provider) error {
	tag, err := s.pool.Exec(ctx, `UPDATE integrations SET status = 'disconnected', sealed_credentials = '', updated_at = NOW()
		WHERE user_id = $1 AND provider = $2`, owner, provider)
	if err != nil {
		return fmt.Errorf("disconnecting %s: %w", provider, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s integration: %w", provider.DisplayName(), dmerrors.ErrNotFound)
	}
	return nil
}

// UpdateCredentials replaces the sealed credentials, e.g. after a token refresh.
func (s *Store) UpdateCredentials(ctx context.Context, id uuid.UUID, creds Credentials) error {
	sealed, err := s.seal(creds)
	if err != nil {
		return err
	}
	return s.exec(ctx, `UPDATE integrations SET sealed_credentials = $2, updated_at = NOW() WHERE id = $1`, id, sealed)
}

// UpdateSettings merges settings into the stored JSON.
func (s *Store) UpdateSettings(ctx context.Context, id uuid.UUID, settings Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return s.exec(ctx, `UPDATE integrations SET settings = settings || $2::jsonb, updated_at = NOW() WHERE id = $1`, id, data)
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) error {
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("updating integration: %w", err)
	}
	return nil
}

func (s *Store) seal(creds Credentials) (string, error) {
	data, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("encoding credentials: %w", err)
	}
	sealed, err := s.sealer.Seal(data)
	if err != nil {
		return "", fmt.Errorf("sealing credentials: %w", err)
	}
	return sealed, nil
}

func (s *Store) open(sealed string) (Credentials, error) {
	var creds Credentials
	if sealed == "" {
		return creds, nil
	}
	data, err := s.sealer.Open(sealed)
	if err != nil {
		return creds, fmt.Errorf("opening credentials: %w", err)
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return creds, fmt.Errorf("decoding credentials: %w", err)
	}
	return creds, nil
}

func (s *Store) scan(row pgx.Row) (*Integration, error) {
	var (
		integ    Integration
		sealed   string
		settings []byte
	)
	if err := row.Scan(&integ.ID, &integ.UserID, &integ.Provider, &integ.Status, &sealed, &settings,
		&integ.LastError, &integ.CreatedAt, &integ.UpdatedAt); err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &integ.Settings); err != nil {
			return nil, fmt.Errorf("decoding settings: %w", err)
		}
	}
	creds, err := s.open(sealed)
	if err != nil {
		return nil, err
	}
	integ.Credentials = creds
	return &integ, nil
}
