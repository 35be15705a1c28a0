package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one member's balance in the credit store.
type Entry struct {
	MemberID string `json:"member_id"`
	Credits  int    `json:"credits"`
}

// Repository is the authoritative credit store. The ledger channel is only a
// rendered view of these rows.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the ledger table when it does not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_entries (
			member_id  TEXT PRIMARY KEY,
			credits    INTEGER NOT NULL CHECK (credits >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

// Add upserts delta credits onto the member's balance and returns the new
// total. A member with no row starts from zero.
func (r *Repository) Add(ctx context.Context, memberID string, delta int) (int, error) {
	var credits int
	err := r.pool.QueryRow(ctx, `
		INSERT INTO ledger_entries (member_id, credits)
		VALUES ($1, $2)
		ON CONFLICT (member_id) DO UPDATE
		SET credits = ledger_entries.credits + EXCLUDED.credits, updated_at = now()
		RETURNING credits
	`, memberID, delta).Scan(&credits)
	return credits, err
}

// Get returns the member's balance, reporting absence without an error.
func (r *Repository) Get(ctx context.Context, memberID string) (int, bool, error) {
	var credits int
	err := r.pool.QueryRow(ctx, `
		SELECT credits FROM ledger_entries WHERE member_id = $1
	`, memberID).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return credits, true, nil
}

// Set overwrites the member's balance.
func (r *Repository) Set(ctx context.Context, memberID string, credits int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE ledger_entries SET credits = $2, updated_at = now() WHERE member_id = $1
	`, memberID, credits)
	return err
}

// Remove deletes the member's row. Exhausted balances are deleted, never kept
// at zero.
func (r *Repository) Remove(ctx context.Context, memberID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM ledger_entries WHERE member_id = $1`, memberID)
	return err
}

// List returns every entry in descending-credits order.
func (r *Repository) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT member_id, credits FROM ledger_entries ORDER BY credits DESC, member_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.MemberID, &e.Credits); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
