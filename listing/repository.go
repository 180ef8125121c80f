package listing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested listing does not exist.
var ErrNotFound = errors.New("listing: not found")

// Repository provides read access to equipment listings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a listing by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Listing, error) {
	const query = `
		SELECT id, owner_uid, title, category, daily_rate, available, created_at
		FROM listings
		WHERE id = $1
	`

	var l Listing
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&l.ID,
		&l.OwnerUID,
		&l.Title,
		&l.Category,
		&l.DailyRate,
		&l.Available,
		&l.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("listing: query by id: %w", err)
	}

	return l, nil
}

// List fetches up to limit available listings, newest first. When ownerUID is
// set only that owner's inventory is returned, available or not.
func (r *Repository) List(ctx context.Context, ownerUID string, limit int) ([]Listing, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id, owner_uid, title, category, daily_rate, available, created_at
		FROM listings
		WHERE ($1 = '' AND available) OR owner_uid = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, ownerUID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing: list: %w", err)
	}
	defer rows.Close()

	listings := make([]Listing, 0, limit)
	for rows.Next() {
		var l Listing
		if err := rows.Scan(&l.ID, &l.OwnerUID, &l.Title, &l.Category, &l.DailyRate, &l.Available, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("listing: scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing: iterate listings: %w", err)
	}

	return listings, nil
}
