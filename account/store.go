// Package account persists per-identity user records: the application role
// plus the profile fields captured at signup. Records are created at most
// once per UID and never updated or deleted here.
package account

import (
	"context"
	"errors"
	"fmt"

	"gearflow/session"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements session.RecordStore backed by PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore creates a PostgreSQL-backed record store.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Read fetches the user record for a UID.
func (s *PGStore) Read(ctx context.Context, uid string) (session.Record, error) {
	const selectSQL = `
		SELECT uid, display_name, email, role, created_at, COALESCE(extras, '{}'::jsonb)
		FROM user_records
		WHERE uid = $1
	`

	var (
		rec    session.Record
		role   string
		extras map[string]string
	)
	err := s.pool.QueryRow(ctx, selectSQL, uid).Scan(
		&rec.UID,
		&rec.DisplayName,
		&rec.Email,
		&role,
		&rec.CreatedAt,
		&extras,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Record{}, session.ErrRecordNotFound
		}
		return session.Record{}, fmt.Errorf("account: read record: %w", err)
	}

	rec.Role = session.Role(role)
	rec.Extras = extras
	return rec, nil
}

// CreateIfAbsent writes a record only when none exists for the UID. The
// creation timestamp is assigned by the database. It reports whether a row
// was actually written; false means an existing record won.
func (s *PGStore) CreateIfAbsent(ctx context.Context, params session.CreateRecordParams) (bool, error) {
	const insertSQL = `
		INSERT INTO user_records (uid, display_name, email, role, extras)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (uid) DO NOTHING
	`

	extras := params.Extras
	if extras == nil {
		extras = map[string]string{}
	}

	tag, err := s.pool.Exec(ctx, insertSQL,
		params.UID,
		params.DisplayName,
		params.Email,
		string(params.Role),
		extras,
	)
	if err != nil {
		return false, fmt.Errorf("account: create record: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}
