package idp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrAccountNotFound signals that no account matches the email or id.
	ErrAccountNotFound = errors.New("idp: account not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("idp: email already exists")
)

// Repository handles data access for provider accounts.
type Repository interface {
	CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	GetByID(ctx context.Context, id string) (Account, error)
	EnsureExternalAccount(ctx context.Context, params EnsureExternalParams) (Account, error)
	UpdateDisplayName(ctx context.Context, id, name string) error
	CreateResetToken(ctx context.Context, accountID, token string, expiresAt time.Time) error
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed account repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const accountColumns = `id, email, display_name, COALESCE(password_hash, ''), provider, email_verified, created_at, updated_at`

// CreateAccount inserts a new password account.
func (r *PGRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	const insertSQL = `
		INSERT INTO accounts (email, display_name, password_hash, provider)
		VALUES ($1, $2, $3, 'password')
		RETURNING ` + accountColumns

	acct, err := scanAccount(r.pool.QueryRow(ctx, insertSQL, params.Email, params.DisplayName, params.PasswordHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, ErrDuplicateEmail
		}
		return Account{}, fmt.Errorf("idp: create account: %w", err)
	}

	return acct, nil
}

// GetByEmail retrieves an account by email address.
func (r *PGRepository) GetByEmail(ctx context.Context, email string) (Account, error) {
	const selectSQL = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE email = $1
	`

	acct, err := scanAccount(r.pool.QueryRow(ctx, selectSQL, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("idp: get account by email: %w", err)
	}

	return acct, nil
}

// GetByID retrieves an account by id.
func (r *PGRepository) GetByID(ctx context.Context, id string) (Account, error) {
	const selectSQL = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = $1
	`

	acct, err := scanAccount(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("idp: get account by id: %w", err)
	}

	return acct, nil
}

// EnsureExternalAccount creates the account for a first-time interactive
// sign-in, or returns the existing one on subsequent sign-ins.
func (r *PGRepository) EnsureExternalAccount(ctx context.Context, params EnsureExternalParams) (Account, error) {
	const upsertSQL = `
		INSERT INTO accounts (email, display_name, provider, email_verified)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING ` + accountColumns

	acct, err := scanAccount(r.pool.QueryRow(ctx, upsertSQL, params.Email, params.DisplayName, params.Provider, params.EmailVerified))
	if err != nil {
		return Account{}, fmt.Errorf("idp: ensure external account: %w", err)
	}

	return acct, nil
}

// UpdateDisplayName replaces the profile display name.
func (r *PGRepository) UpdateDisplayName(ctx context.Context, id, name string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE accounts SET display_name = $2, updated_at = now() WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("idp: update display name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// CreateResetToken stores a single-use password-reset token.
func (r *PGRepository) CreateResetToken(ctx context.Context, accountID, token string, expiresAt time.Time) error {
	const insertSQL = `
		INSERT INTO password_resets (token, account_id, expires_at)
		VALUES ($1, $2, $3)
	`
	if _, err := r.pool.Exec(ctx, insertSQL, token, accountID, expiresAt); err != nil {
		return fmt.Errorf("idp: create reset token: %w", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var acct Account
	err := row.Scan(
		&acct.ID,
		&acct.Email,
		&acct.DisplayName,
		&acct.PasswordHash,
		&acct.Provider,
		&acct.EmailVerified,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	return acct, nil
}
