package domain

import "time"

// KarmaEntry is one immutable line of the append-only karma ledger. A
// user's running total is always the sum of their entries; it is never
// stored separately, so the total cannot drift from the history.
type KarmaEntry struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Points    int       `json:"points" db:"points"`
	Reason    string    `json:"reason" db:"reason"`
	IssueID   *string   `json:"issue_id,omitempty" db:"issue_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
