package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/gramfix/gramfix/internal/domain"
)

// KarmaRepository persists the append-only karma ledger. Entries are never
// updated or deleted; the running total is derived with SUM at read time.
type KarmaRepository struct {
	db *sqlx.DB
}

// NewKarmaRepository creates a new KarmaRepository.
func NewKarmaRepository(db *sqlx.DB) *KarmaRepository {
	return &KarmaRepository{db: db}
}

// Append commits a new ledger entry and returns it with its stored timestamp.
func (r *KarmaRepository) Append(ctx context.Context, entry domain.KarmaEntry) (*domain.KarmaEntry, error) {
	var result domain.KarmaEntry
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO karma_entries (id, user_id, points, reason, issue_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, user_id, points, reason, issue_id, created_at`,
		entry.ID, entry.UserID, entry.Points, entry.Reason, entry.IssueID,
	).StructScan(&result)
	if err != nil {
		return nil, storageErr("append karma entry for user "+entry.UserID, err)
	}
	return &result, nil
}

// SumPoints returns the user's running karma total.
func (r *KarmaRepository) SumPoints(ctx context.Context, userID string) (int, error) {
	var total int
	err := r.db.GetContext(ctx, &total,
		`SELECT COALESCE(SUM(points), 0) FROM karma_entries WHERE user_id = $1`, userID)
	if err != nil {
		return 0, storageErr("sum karma for user "+userID, err)
	}
	return total, nil
}

// ListByUser returns the user's ledger entries, newest first.
func (r *KarmaRepository) ListByUser(ctx context.Context, userID string) ([]domain.KarmaEntry, error) {
	entries := []domain.KarmaEntry{}
	err := r.db.SelectContext(ctx, &entries,
		`SELECT id, user_id, points, reason, issue_id, created_at
		 FROM karma_entries WHERE user_id = $1
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, storageErr("list karma for user "+userID, err)
	}
	return entries, nil
}
