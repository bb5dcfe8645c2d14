package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gramfix/gramfix/internal/domain"
)

// KarmaStore defines the ledger persistence interface consumed by KarmaService.
type KarmaStore interface {
	Append(ctx context.Context, entry domain.KarmaEntry) (*domain.KarmaEntry, error)
	SumPoints(ctx context.Context, userID string) (int, error)
	ListByUser(ctx context.Context, userID string) ([]domain.KarmaEntry, error)
}

// KarmaService maintains the append-only reputation ledger. A user's total
// is always derived from their entries, so awarding is the only write path.
type KarmaService struct {
	store KarmaStore
}

// NewKarmaService creates a new KarmaService.
func NewKarmaService(store KarmaStore) *KarmaService {
	return &KarmaService{store: store}
}

// Award appends a ledger entry for the user. The entry is committed before
// Award returns; there is no rejection path beyond storage failure.
func (s *KarmaService) Award(ctx context.Context, userID string, points int, reason string, issueID *string) (*domain.KarmaEntry, error) {
	entry, err := s.store.Append(ctx, domain.KarmaEntry{
		ID:      uuid.NewString(),
		UserID:  userID,
		Points:  points,
		Reason:  reason,
		IssueID: issueID,
	})
	if err != nil {
		return nil, fmt.Errorf("award %d points to user %s: %w", points, userID, err)
	}
	return entry, nil
}

// Total returns the user's running karma total.
func (s *KarmaService) Total(ctx context.Context, userID string) (int, error) {
	return s.store.SumPoints(ctx, userID)
}

// History returns the user's ledger entries, newest first.
func (s *KarmaService) History(ctx context.Context, userID string) ([]domain.KarmaEntry, error) {
	return s.store.ListByUser(ctx, userID)
}
