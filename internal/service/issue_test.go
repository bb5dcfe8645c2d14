package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gramfix/gramfix/internal/domain"
)

// memIssueStore is an in-memory IssueStore. Collections are deep-copied on
// both load and save so the engine cannot alias stored state.
type memIssueStore struct {
	mu          sync.Mutex
	collections map[string][]domain.Issue
	loadErr     error
	saveErr     error
}

func newMemIssueStore() *memIssueStore {
	return &memIssueStore{collections: make(map[string][]domain.Issue)}
}

func (s *memIssueStore) LoadAll(_ context.Context, villageID string) ([]domain.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return copyIssues(s.collections[villageID]), nil
}

func (s *memIssueStore) SaveAll(_ context.Context, villageID string, issues []domain.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.collections[villageID] = copyIssues(issues)
	return nil
}

func (s *memIssueStore) stored(t *testing.T, villageID, issueID string) domain.Issue {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, issue := range s.collections[villageID] {
		if issue.ID == issueID {
			return issue
		}
	}
	t.Fatalf("issue %s not found in stored collection for %s", issueID, villageID)
	return domain.Issue{}
}

func copyIssues(issues []domain.Issue) []domain.Issue {
	if issues == nil {
		return []domain.Issue{}
	}
	raw, err := json.Marshal(issues)
	if err != nil {
		panic(err)
	}
	var out []domain.Issue
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return out
}

type fakeLedger struct {
	mu      sync.Mutex
	entries []domain.KarmaEntry
	err     error
}

func (l *fakeLedger) Award(_ context.Context, userID string, points int, reason string, issueID *string) (*domain.KarmaEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	entry := domain.KarmaEntry{
		ID:        "entry-" + userID,
		UserID:    userID,
		Points:    points,
		Reason:    reason,
		IssueID:   issueID,
		CreatedAt: time.Now(),
	}
	l.entries = append(l.entries, entry)
	return &entry, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	emitted []domain.Notification
}

func (n *fakeNotifier) Emit(_ context.Context, userID string, notification domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	notification.UserID = userID
	n.emitted = append(n.emitted, notification)
}

func (n *fakeNotifier) sentTo(userID string) []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.Notification
	for _, notification := range n.emitted {
		if notification.UserID == userID {
			out = append(out, notification)
		}
	}
	return out
}

var testVillage = domain.VillageRef{ID: "village-1", Name: "Rampur"}

var (
	reporter  = domain.Actor{ID: "u-reporter", Name: "Asha", Role: domain.RoleCitizen, Village: testVillage}
	volunteer = domain.Actor{ID: "u-volunteer", Name: "Ravi", Role: domain.RoleVolunteer, Village: testVillage}
	panchayat = domain.Actor{ID: "u-panchayat", Name: "Meena", Role: domain.RolePanchayat, Village: testVillage}
	bystander = domain.Actor{ID: "u-bystander", Name: "Kiran", Role: domain.RoleCitizen, Village: testVillage}
)

func newTestEngine(t *testing.T) (*IssueService, *memIssueStore, *fakeLedger, *fakeNotifier) {
	t.Helper()
	store := newMemIssueStore()
	ledger := &fakeLedger{}
	notifier := &fakeNotifier{}
	return NewIssueService(store, ledger, notifier, time.Second), store, ledger, notifier
}

func reportIssue(t *testing.T, svc *IssueService) *domain.Issue {
	t.Helper()
	issue, err := svc.Report(context.Background(), reporter, ReportIssueInput{
		Title:       "Hand pump leaking",
		Description: "The pump near the school has been leaking for a week.",
		Location:    "Near the primary school",
		Priority:    domain.PriorityHigh,
	})
	require.NoError(t, err)
	return issue
}

func testProof() domain.Attachment {
	return domain.Attachment{URL: "https://media.example/fixed.jpg", Type: domain.AttachmentImage}
}

func TestReportCreatesReportedIssue(t *testing.T) {
	svc, store, _, _ := newTestEngine(t)

	issue := reportIssue(t, svc)

	require.Equal(t, domain.IssueStatusReported, issue.Status)
	require.Nil(t, issue.AssignedTo)
	require.Empty(t, issue.Comments)
	require.Equal(t, reporter.ID, issue.ReportedBy.ID)
	require.Equal(t, testVillage, issue.Village)

	stored := store.stored(t, testVillage.ID, issue.ID)
	require.Equal(t, domain.IssueStatusReported, stored.Status)
}

func TestClaimAssignsIssue(t *testing.T) {
	svc, store, _, notifier := newTestEngine(t)
	issue := reportIssue(t, svc)

	claimed, err := svc.Claim(context.Background(), volunteer, issue.ID)
	require.NoError(t, err)

	require.Equal(t, domain.IssueStatusAssigned, claimed.Status)
	require.NotNil(t, claimed.AssignedTo)
	require.Equal(t, volunteer.ID, claimed.AssignedTo.ID)
	require.Equal(t, domain.RoleVolunteer, claimed.AssignedTo.Role)

	stored := store.stored(t, testVillage.ID, issue.ID)
	require.Equal(t, domain.IssueStatusAssigned, stored.Status)

	sent := notifier.sentTo(reporter.ID)
	require.Len(t, sent, 1)
	require.Equal(t, domain.NotificationInfo, sent[0].Type)
}

func TestClaimByCitizenForbidden(t *testing.T) {
	svc, store, _, _ := newTestEngine(t)
	issue := reportIssue(t, svc)

	_, err := svc.Claim(context.Background(), bystander, issue.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	stored := store.stored(t, testVillage.ID, issue.ID)
	require.Equal(t, domain.IssueStatusReported, stored.Status)
	require.Nil(t, stored.AssignedTo)
}

func TestClaimAlreadyClaimed(t *testing.T) {
	svc, _, _, _ := newTestEngine(t)
	issue := reportIssue(t, svc)

	_, err := svc.Claim(context.Background(), volunteer, issue.ID)
	require.NoError(t, err)

	_, err = svc.Claim(context.Background(), panchayat, issue.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestClaimUnknownIssue(t *testing.T) {
	svc, _, _, _ := newTestEngine(t)

	_, err := svc.Claim(context.Background(), volunteer, "no-such-issue")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveRequiresProof(t *testing.T) {
	svc, _, _, _ := newTestEngine(t)
	issue := reportIssue(t, svc)
	_, err := svc.Claim(context.Background(), volunteer, issue.ID)
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), volunteer, issue.ID, domain.Attachment{})
	require.ErrorIs(t, err, domain.ErrPreconditionFailed)
}

func TestResolveByNonAssigneeForbidden(t *testing.T) {
	svc, store, _, _ := newTestEngine(t)
	issue := reportIssue(t, svc)
	_, err := svc.Claim(context.Background(), volunteer, issue.ID)
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), panchayat, issue.ID, testProof())
	require.ErrorIs(t, err, domain.ErrForbidden)

	stored := store.stored(t, testVillage.ID, issue.ID)
	require.Equal(t, domain.IssueStatusAssigned, stored.Status)
}

func TestResolveFromReportedInvalid(t *testing.T) {
	svc, _, _, _ := newTestEngine(t)
	issue := reportIssue(t, svc)

	_, err := svc.Resolve(context.Background(), volunteer, issue.ID, testProof())
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestResolveSetsProofAndNotifiesReporter(t *testing.T) {
	svc, _, _, notifier := newTestEngine(t)
	issue := reportIssue(t, svc)
	_, err := svc.Claim(context.Background(), volunteer, issue.ID)
	require.NoError(t, err)

	resolved, err := svc.Resolve(context.Background(), volunteer, issue.ID, testProof())
	require.NoError(t, err)

	require.Equal(t, domain.IssueStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolutionProof)
	require.Equal(t, "https://media.example/fixed.jpg", resolved.ResolutionProof.URL)
	require.NotEmpty(t, resolved.ResolutionProof.ID)

	// claim + resolve
	require.Len(t, notifier.sentTo(reporter.ID), 2)
}

func TestVerifyAcceptAwardsKarmaExactlyOnce(t *testing.T) {
	svc, _, ledger, notifier := newTestEngine(t)
	issue := reportIssue(t, svc)
	ctx := context.Background()

	_, err := svc.Claim(ctx, volunteer, issue.ID)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, volunteer, issue.ID, testProof())
	require.NoError(t, err)

	verified, err := svc.Verify(ctx, reporter, issue.ID, true)
	require.NoError(t, err)
	require.Equal(t, domain.IssueStatusVerified, verified.Status)

	require.Len(t, ledger.entries, 1)
	require.Equal(t, volunteer.ID, ledger.entries[0].UserID)
	require.Equal(t, 10, ledger.entries[0].Points)
	require.NotNil(t, ledger.entries[0].IssueID)
	require.Equal(t, issue.ID, *ledger.entries[0].IssueID)

	sent := notifier.sentTo(volunteer.ID)
	require.Len(t, sent, 1)
	require.Equal(t, domain.NotificationSuccess, sent[0].Type)

	// A second verify on the terminal state must fail and must not
	// produce a second reward.
	_, err = svc.Verify(ctx, reporter, issue.ID, true)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	require.Len(t, ledger.entries, 1)
}

func TestVerifyRejectReworkCycle(t *testing.T) {
	svc, store, ledger, _ := newTestEngine(t)
	issue := reportIssue(t, svc)
	ctx := context.Background()

	_, err := svc.Claim(ctx, volunteer, issue.ID)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, volunteer, issue.ID, testProof())
	require.NoError(t, err)

	rejected, err := svc.Verify(ctx, reporter, issue.ID, false)
	require.NoError(t, err)
	require.Equal(t, domain.IssueStatusInProgress, rejected.Status)
	// The old proof stays until the next resolve overwrites it.
	require.NotNil(t, rejected.ResolutionProof)
	require.Empty(t, ledger.entries)

	second := domain.Attachment{URL: "https://media.example/fixed-again.jpg", Type: domain.AttachmentImage}
	resolved, err := svc.Resolve(ctx, volunteer, issue.ID, second)
	require.NoError(t, err)
	require.Equal(t, second.URL, resolved.ResolutionProof.URL)

	verified, err := svc.Verify(ctx, reporter, issue.ID, true)
	require.NoError(t, err)
	require.Equal(t, domain.IssueStatusVerified, verified.Status)

	require.Len(t, ledger.entries, 1)
	require.Equal(t, volunteer.ID, ledger.entries[0].UserID)

	stored := store.stored(t, testVillage.ID, issue.ID)
	require.Equal(t, domain.IssueStatusVerified, stored.Status)
}

func TestVerifyByBystanderForbidden(t *testing.T) {
	svc, _, ledger, _ := newTestEngine(t)
	issue := reportIssue(t, svc)
	ctx := context.Background()

	_, err := svc.Claim(ctx, volunteer, issue.ID)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, volunteer, issue.ID, testProof())
	require.NoError(t, err)

	_, err = svc.Verify(ctx, bystander, issue.ID, true)
	require.ErrorIs(t, err, domain.ErrForbidden)
	require.Empty(t, ledger.entries)
}

func TestVerifyByPanchayatAllowed(t *testing.T) {
	svc, _, ledger, _ := newTestEngine(t)
	issue := reportIssue(t, svc)
	ctx := context.Background()

	_, err := svc.Claim(ctx, volunteer, issue.ID)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, volunteer, issue.ID, testProof())
	require.NoError(t, err)

	verified, err := svc.Verify(ctx, panchayat, issue.ID, true)
	require.NoError(t, err)
	require.Equal(t, domain.IssueStatusVerified, verified.Status)
	require.Len(t, ledger.entries, 1)
}

func TestVerifyCommitStandsWhenLedgerFails(t *testing.T) {
	svc, store, ledger, _ := newTestEngine(t)
	issue := reportIssue(t, svc)
	ctx := context.Background()

	_, err := svc.Claim(ctx, volunteer, issue.ID)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, volunteer, issue.ID, testProof())
	require.NoError(t, err)

	ledger.err = domain.ErrStorageUnavailable
	_, err = svc.Verify(ctx, reporter, issue.ID, true)
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)

	// The status transition is never rolled back.
	stored := store.stored(t, testVillage.ID, issue.ID)
	require.Equal(t, domain.IssueStatusVerified, stored.Status)
}

func TestAddCommentNotifiesReporter(t *testing.T) {
	svc, _, _, notifier := newTestEngine(t)
	issue := reportIssue(t, svc)
	ctx := context.Background()

	updated, err := svc.AddComment(ctx, bystander, issue.ID, "Same problem on my street.", nil)
	require.NoError(t, err)
	require.Len(t, updated.Comments, 1)
	require.Equal(t, bystander.ID, updated.Comments[0].Sender.ID)
	require.Len(t, notifier.sentTo(reporter.ID), 1)

	// The reporter commenting on their own issue does not self-notify.
	_, err = svc.AddComment(ctx, reporter, issue.ID, "Still broken as of today.", nil)
	require.NoError(t, err)
	require.Len(t, notifier.sentTo(reporter.ID), 1)
}

func TestAddCommentAllowedInTerminalState(t *testing.T) {
	svc, _, _, _ := newTestEngine(t)
	issue := reportIssue(t, svc)
	ctx := context.Background()

	_, err := svc.Claim(ctx, volunteer, issue.ID)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, volunteer, issue.ID, testProof())
	require.NoError(t, err)
	_, err = svc.Verify(ctx, reporter, issue.ID, true)
	require.NoError(t, err)

	updated, err := svc.AddComment(ctx, reporter, issue.ID, "Thanks for the quick fix!", nil)
	require.NoError(t, err)
	require.Len(t, updated.Comments, 1)
}

func TestToggleCommentLikeIsInvolution(t *testing.T) {
	svc, _, _, _ := newTestEngine(t)
	issue := reportIssue(t, svc)
	ctx := context.Background()

	updated, err := svc.AddComment(ctx, bystander, issue.ID, "Agreed.", nil)
	require.NoError(t, err)
	commentID := updated.Comments[0].ID

	liked, err := svc.ToggleCommentLike(ctx, reporter, issue.ID, commentID)
	require.NoError(t, err)
	require.Equal(t, []string{reporter.ID}, liked.Comments[0].Likes)

	unliked, err := svc.ToggleCommentLike(ctx, reporter, issue.ID, commentID)
	require.NoError(t, err)
	require.Empty(t, unliked.Comments[0].Likes)
}

func TestToggleLikeUnknownComment(t *testing.T) {
	svc, _, _, _ := newTestEngine(t)
	issue := reportIssue(t, svc)

	_, err := svc.ToggleCommentLike(context.Background(), reporter, issue.ID, "no-such-comment")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueries(t *testing.T) {
	svc, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	first := reportIssue(t, svc)
	second, err := svc.Report(ctx, bystander, ReportIssueInput{
		Title:       "Pothole on main road",
		Description: "Deep pothole near the bus stop.",
		Location:    "Main road",
		Priority:    domain.PriorityMedium,
	})
	require.NoError(t, err)

	_, err = svc.Claim(ctx, volunteer, second.ID)
	require.NoError(t, err)

	byReporter, err := svc.ListByReporter(ctx, reporter, reporter.ID)
	require.NoError(t, err)
	require.Len(t, byReporter, 1)
	require.Equal(t, first.ID, byReporter[0].ID)

	byAssignee, err := svc.ListByAssignee(ctx, reporter, volunteer.ID)
	require.NoError(t, err)
	require.Len(t, byAssignee, 1)
	require.Equal(t, second.ID, byAssignee[0].ID)

	byStatus, err := svc.ListByStatus(ctx, reporter, domain.IssueStatusReported)
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	require.Equal(t, first.ID, byStatus[0].ID)

	_, err = svc.ListByStatus(ctx, reporter, "bogus")
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	// Recent orders newest first; seed explicit timestamps to avoid
	// relying on clock resolution.
	store.mu.Lock()
	for i := range store.collections[testVillage.ID] {
		issue := &store.collections[testVillage.ID][i]
		if issue.ID == second.ID {
			issue.CreatedAt = issue.CreatedAt.Add(time.Hour)
		}
	}
	store.mu.Unlock()

	recent, err := svc.Recent(ctx, reporter, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, second.ID, recent[0].ID)
}

func TestStorageFailurePropagates(t *testing.T) {
	svc, store, _, _ := newTestEngine(t)
	issue := reportIssue(t, svc)

	store.loadErr = domain.ErrStorageUnavailable
	_, err := svc.Claim(context.Background(), volunteer, issue.ID)
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)

	store.loadErr = nil
	store.saveErr = errors.New("connection reset")
	_, err = svc.Claim(context.Background(), volunteer, issue.ID)
	require.Error(t, err)
}

func TestConcurrentClaimsOnlyOneWins(t *testing.T) {
	svc, _, _, _ := newTestEngine(t)
	issue := reportIssue(t, svc)

	actors := []domain.Actor{volunteer, panchayat,
		{ID: "u-other", Name: "Sunil", Role: domain.RoleVolunteer, Village: testVillage}}

	var wg sync.WaitGroup
	errs := make([]error, len(actors))
	for i, actor := range actors {
		i, actor := i, actor
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Claim(context.Background(), actor, issue.ID)
		}()
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			require.ErrorIs(t, err, domain.ErrInvalidTransition)
		}
	}
	require.Equal(t, 1, won)
}
