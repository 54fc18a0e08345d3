package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jpereira/stocklens-backend/internal/domain"
)

// The credential cache is a single logical slot, modeled as one fixed row.
const credentialSlot = 1

// credentialStore implements domain.CredentialStore
type credentialStore struct {
	db *DB
}

// NewCredentialStore creates a new durable credential store
func NewCredentialStore(db *DB) domain.CredentialStore {
	return &credentialStore{db: db}
}

// Load returns the cached credential record, or (nil, nil) when none is stored
func (s *credentialStore) Load(ctx context.Context) (*domain.CredentialRecord, error) {
	query := `
		SELECT cookie, crumb, expires_at
		FROM quote_credentials
		WHERE id = $1
	`

	var record domain.CredentialRecord
	err := s.db.QueryRowContext(ctx, query, credentialSlot).Scan(
		&record.Cookie,
		&record.Crumb,
		&record.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Absence is a normal outcome, not an error
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	return &record, nil
}

// Save stores the record in the single credential slot
func (s *credentialStore) Save(ctx context.Context, record *domain.CredentialRecord) error {
	query := `
		INSERT INTO quote_credentials (id, cookie, crumb, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			cookie = EXCLUDED.cookie,
			crumb = EXCLUDED.crumb,
			expires_at = EXCLUDED.expires_at
	`

	_, err := s.db.ExecContext(ctx, query, credentialSlot, record.Cookie, record.Crumb, record.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	return nil
}

// Invalidate removes any stored record
func (s *credentialStore) Invalidate(ctx context.Context) error {
	query := `DELETE FROM quote_credentials WHERE id = $1`

	_, err := s.db.ExecContext(ctx, query, credentialSlot)
	if err != nil {
		return fmt.Errorf("failed to invalidate credentials: %w", err)
	}

	return nil
}
