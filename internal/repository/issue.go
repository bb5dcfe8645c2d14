package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/gramfix/gramfix/internal/domain"
)

// IssueRepository stores one issue collection per village. The collection is
// written whole on every change: the lifecycle engine reads the full set,
// mutates one issue, and writes the full set back. This mirrors the
// single-writer-per-village model; there is no partial update API.
type IssueRepository struct {
	db *sqlx.DB
}

// NewIssueRepository creates a new IssueRepository.
func NewIssueRepository(db *sqlx.DB) *IssueRepository {
	return &IssueRepository{db: db}
}

// LoadAll returns every issue stored for the village. A village with no
// stored collection yields an empty slice, not an error.
func (r *IssueRepository) LoadAll(ctx context.Context, villageID string) ([]domain.Issue, error) {
	var raw []byte
	err := r.db.GetContext(ctx, &raw,
		`SELECT data FROM issue_collections WHERE village_id = $1`, villageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []domain.Issue{}, nil
		}
		return nil, storageErr("load issues for village "+villageID, err)
	}

	var issues []domain.Issue
	if err := json.Unmarshal(raw, &issues); err != nil {
		return nil, fmt.Errorf("decode issue collection for village %s: %w", villageID, err)
	}
	return issues, nil
}

// SaveAll replaces the village's entire issue collection.
func (r *IssueRepository) SaveAll(ctx context.Context, villageID string, issues []domain.Issue) error {
	raw, err := json.Marshal(issues)
	if err != nil {
		return fmt.Errorf("encode issue collection for village %s: %w", villageID, err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO issue_collections (village_id, data)
		 VALUES ($1, $2)
		 ON CONFLICT (village_id)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		villageID, raw)
	if err != nil {
		return storageErr("save issues for village "+villageID, err)
	}
	return nil
}

// storageErr tags a database failure as retryable for callers. Deadline
// expiry on the storage call is treated the same way.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
}
