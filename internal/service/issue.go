package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gramfix/gramfix/internal/domain"
)

// karmaVerifiedResolution is the fixed reward for a verified resolution.
const karmaVerifiedResolution = 10

// defaultStorageTimeout bounds every storage round trip; expiry surfaces
// as a retryable storage error.
const defaultStorageTimeout = 10 * time.Second

// IssueStore defines the issue persistence interface consumed by the engine.
// Collections are read and written whole per village; the engine is the
// single writer for a village and serializes its own writes.
type IssueStore interface {
	LoadAll(ctx context.Context, villageID string) ([]domain.Issue, error)
	SaveAll(ctx context.Context, villageID string, issues []domain.Issue) error
}

// Ledger is the karma interface consumed by the engine.
type Ledger interface {
	Award(ctx context.Context, userID string, points int, reason string, issueID *string) (*domain.KarmaEntry, error)
}

// Notifier is the notification interface consumed by the engine. Emission
// never fails from the engine's point of view.
type Notifier interface {
	Emit(ctx context.Context, userID string, n domain.Notification)
}

// IssueService is the issue lifecycle engine. It owns every write to an
// issue's status and assignee: transitions are validated against the
// lifecycle, authorized per transition, applied as a single collection
// write, and only then followed by karma and notification side effects.
type IssueService struct {
	store    IssueStore
	karma    Ledger
	notifier Notifier
	timeout  time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewIssueService creates a new IssueService. A non-positive timeout falls
// back to the default.
func NewIssueService(store IssueStore, karma Ledger, notifier Notifier, timeout time.Duration) *IssueService {
	if timeout <= 0 {
		timeout = defaultStorageTimeout
	}
	return &IssueService{
		store:    store,
		karma:    karma,
		notifier: notifier,
		timeout:  timeout,
		locks:    make(map[string]*sync.Mutex),
	}
}

// transitionRule couples a transition's allowed source states with its
// authorization predicate. Authorization belongs to the edge, not the
// entity: panchayat members may both claim and verify, but under different
// rules, so each edge carries its own check.
type transitionRule struct {
	from      []domain.IssueStatus
	authorize func(issue *domain.Issue, actor domain.Actor) error
}

func (r transitionRule) allows(status domain.IssueStatus) bool {
	for _, s := range r.from {
		if s == status {
			return true
		}
	}
	return false
}

var (
	claimRule = transitionRule{
		from: []domain.IssueStatus{domain.IssueStatusReported},
		authorize: func(_ *domain.Issue, actor domain.Actor) error {
			if !actor.Role.CanClaim() {
				return fmt.Errorf("%w: only volunteers or panchayat members may claim an issue", domain.ErrForbidden)
			}
			return nil
		},
	}
	resolveRule = transitionRule{
		from: []domain.IssueStatus{domain.IssueStatusAssigned, domain.IssueStatusInProgress},
		authorize: func(issue *domain.Issue, actor domain.Actor) error {
			if issue.AssignedTo == nil || issue.AssignedTo.ID != actor.ID {
				return fmt.Errorf("%w: only the assigned user may resolve this issue", domain.ErrForbidden)
			}
			return nil
		},
	}
	verifyRule = transitionRule{
		from: []domain.IssueStatus{domain.IssueStatusResolved},
		authorize: func(issue *domain.Issue, actor domain.Actor) error {
			if issue.ReportedBy.ID != actor.ID && actor.Role != domain.RolePanchayat {
				return fmt.Errorf("%w: only the reporter or a panchayat member may verify this issue", domain.ErrForbidden)
			}
			return nil
		},
	}
)

// checkTransition validates state and authorization for one edge. State is
// checked before authorization so a stale client gets the more useful error.
func checkTransition(rule transitionRule, issue *domain.Issue, actor domain.Actor) error {
	if !rule.allows(issue.Status) {
		return fmt.Errorf("%w: issue is %s", domain.ErrInvalidTransition, issue.Status)
	}
	return rule.authorize(issue, actor)
}

// ReportIssueInput carries the caller-supplied fields for a new issue.
type ReportIssueInput struct {
	Title       string
	Description string
	Location    string
	Coordinates *domain.Coordinates
	Priority    domain.Priority
	Attachments []domain.Attachment
}

// Report files a new issue in the actor's village with status reported.
func (s *IssueService) Report(ctx context.Context, actor domain.Actor, in ReportIssueInput) (*domain.Issue, error) {
	now := time.Now()
	issue := domain.Issue{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Location:    in.Location,
		Coordinates: in.Coordinates,
		Status:      domain.IssueStatusReported,
		Priority:    in.Priority,
		ReportedBy:  actor.Ref(),
		Village:     actor.Village,
		Attachments: in.Attachments,
		Comments:    []domain.Comment{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := issue.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	unlock := s.lockVillage(actor.Village.ID)
	defer unlock()

	issues, err := s.loadAll(ctx, actor.Village.ID)
	if err != nil {
		return nil, err
	}
	issues = append(issues, issue)
	if err := s.saveAll(ctx, actor.Village.ID, issues); err != nil {
		return nil, err
	}
	return &issue, nil
}

// Claim assigns an unclaimed issue to the acting volunteer or panchayat
// member and notifies the reporter.
func (s *IssueService) Claim(ctx context.Context, actor domain.Actor, issueID string) (*domain.Issue, error) {
	issue, err := s.transition(ctx, actor, issueID, claimRule, func(issue *domain.Issue) error {
		issue.Status = domain.IssueStatusAssigned
		issue.AssignedTo = &domain.Assignee{ID: actor.ID, Name: actor.Name, Role: actor.Role}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Emit(ctx, issue.ReportedBy.ID, domain.Notification{
		Title:   "Issue claimed",
		Message: fmt.Sprintf("%s has taken up your issue %q", actor.Name, issue.Title),
		Type:    domain.NotificationInfo,
		Link:    issueLink(issue.ID),
	})
	return issue, nil
}

// Resolve marks an assigned or in-progress issue as resolved with the given
// proof and notifies the reporter. Only the assignee may resolve.
func (s *IssueService) Resolve(ctx context.Context, actor domain.Actor, issueID string, proof domain.Attachment) (*domain.Issue, error) {
	if proof.URL == "" {
		return nil, fmt.Errorf("%w: resolution proof is required", domain.ErrPreconditionFailed)
	}
	if proof.ID == "" {
		proof.ID = uuid.NewString()
	}

	issue, err := s.transition(ctx, actor, issueID, resolveRule, func(issue *domain.Issue) error {
		issue.Status = domain.IssueStatusResolved
		issue.ResolutionProof = &proof
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Emit(ctx, issue.ReportedBy.ID, domain.Notification{
		Title:   "Issue resolved",
		Message: fmt.Sprintf("%s marked your issue %q as resolved. Please verify the fix.", actor.Name, issue.Title),
		Type:    domain.NotificationSuccess,
		Link:    issueLink(issue.ID),
	})
	return issue, nil
}

// Verify either accepts a resolution, moving the issue to verified and
// awarding karma to the assignee, or rejects it, sending the issue back to
// in_progress for rework. Only the reporter or a panchayat member may verify.
func (s *IssueService) Verify(ctx context.Context, actor domain.Actor, issueID string, accepted bool) (*domain.Issue, error) {
	issue, err := s.transition(ctx, actor, issueID, verifyRule, func(issue *domain.Issue) error {
		if accepted {
			issue.Status = domain.IssueStatusVerified
		} else {
			// The previous proof is kept until the next resolve
			// overwrites it.
			issue.Status = domain.IssueStatusInProgress
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if accepted {
		// The reward is the system's core incentive: it is recorded in
		// the same operation as the commit, and a ledger failure is
		// surfaced to the caller even though the transition stands.
		_, err := s.karma.Award(ctx, issue.AssignedTo.ID, karmaVerifiedResolution,
			fmt.Sprintf("Resolved issue: %s", issue.Title), &issue.ID)
		if err != nil {
			return nil, fmt.Errorf("issue verified but karma award failed: %w", err)
		}
		s.notifier.Emit(ctx, issue.AssignedTo.ID, domain.Notification{
			Title:   "Resolution verified",
			Message: fmt.Sprintf("Your fix for %q was verified. +%d karma!", issue.Title, karmaVerifiedResolution),
			Type:    domain.NotificationSuccess,
			Link:    issueLink(issue.ID),
		})
	} else {
		s.notifier.Emit(ctx, issue.AssignedTo.ID, domain.Notification{
			Title:   "Rework requested",
			Message: fmt.Sprintf("The resolution of %q was rejected. Please take another look.", issue.Title),
			Type:    domain.NotificationWarning,
			Link:    issueLink(issue.ID),
		})
	}
	return issue, nil
}

// AddComment appends a comment to an issue in any state and notifies the
// reporter unless they wrote it themselves.
func (s *IssueService) AddComment(ctx context.Context, actor domain.Actor, issueID, content string, attachments []domain.Attachment) (*domain.Issue, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: comment content is required", domain.ErrPreconditionFailed)
	}
	for i := range attachments {
		if attachments[i].ID == "" {
			attachments[i].ID = uuid.NewString()
		}
	}

	issue, err := s.update(ctx, actor.Village.ID, issueID, func(issue *domain.Issue) error {
		issue.Comments = append(issue.Comments, domain.Comment{
			ID:          uuid.NewString(),
			Content:     content,
			Sender:      actor.Ref(),
			Timestamp:   time.Now(),
			Attachments: attachments,
			Likes:       []string{},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if issue.ReportedBy.ID != actor.ID {
		s.notifier.Emit(ctx, issue.ReportedBy.ID, domain.Notification{
			Title:   "New comment",
			Message: fmt.Sprintf("%s commented on your issue %q", actor.Name, issue.Title),
			Type:    domain.NotificationInfo,
			Link:    issueLink(issue.ID),
		})
	}
	return issue, nil
}

// ToggleCommentLike flips the actor's membership in a comment's likes set.
// Running it twice restores the original set.
func (s *IssueService) ToggleCommentLike(ctx context.Context, actor domain.Actor, issueID, commentID string) (*domain.Issue, error) {
	return s.update(ctx, actor.Village.ID, issueID, func(issue *domain.Issue) error {
		comment := issue.FindComment(commentID)
		if comment == nil {
			return fmt.Errorf("%w: comment %s", domain.ErrNotFound, commentID)
		}
		if comment.LikedBy(actor.ID) {
			likes := comment.Likes[:0]
			for _, id := range comment.Likes {
				if id != actor.ID {
					likes = append(likes, id)
				}
			}
			comment.Likes = likes
		} else {
			comment.Likes = append(comment.Likes, actor.ID)
		}
		return nil
	})
}

// GetByID returns one issue from the actor's village.
func (s *IssueService) GetByID(ctx context.Context, actor domain.Actor, issueID string) (*domain.Issue, error) {
	issues, err := s.loadAll(ctx, actor.Village.ID)
	if err != nil {
		return nil, err
	}
	idx := findIssue(issues, issueID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: issue %s", domain.ErrNotFound, issueID)
	}
	return &issues[idx], nil
}

// ListByReporter returns the village's issues reported by the given user.
func (s *IssueService) ListByReporter(ctx context.Context, actor domain.Actor, userID string) ([]domain.Issue, error) {
	return s.filter(ctx, actor.Village.ID, func(i domain.Issue) bool {
		return i.ReportedBy.ID == userID
	})
}

// ListByAssignee returns the village's issues assigned to the given user.
func (s *IssueService) ListByAssignee(ctx context.Context, actor domain.Actor, userID string) ([]domain.Issue, error) {
	return s.filter(ctx, actor.Village.ID, func(i domain.Issue) bool {
		return i.AssignedTo != nil && i.AssignedTo.ID == userID
	})
}

// ListByStatus returns the village's issues in the given status.
func (s *IssueService) ListByStatus(ctx context.Context, actor domain.Actor, status domain.IssueStatus) ([]domain.Issue, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, status)
	}
	return s.filter(ctx, actor.Village.ID, func(i domain.Issue) bool {
		return i.Status == status
	})
}

// Recent returns up to limit issues from the actor's village, newest first.
func (s *IssueService) Recent(ctx context.Context, actor domain.Actor, limit int) ([]domain.Issue, error) {
	issues, err := s.loadAll(ctx, actor.Village.ID)
	if err != nil {
		return nil, err
	}
	sort.Slice(issues, func(a, b int) bool {
		return issues[a].CreatedAt.After(issues[b].CreatedAt)
	})
	if limit > 0 && limit < len(issues) {
		issues = issues[:limit]
	}
	return issues, nil
}

// transition runs a guarded state change: check the edge, apply the
// mutation, re-validate invariants, and commit the whole collection.
func (s *IssueService) transition(ctx context.Context, actor domain.Actor, issueID string, rule transitionRule, apply func(*domain.Issue) error) (*domain.Issue, error) {
	return s.update(ctx, actor.Village.ID, issueID, func(issue *domain.Issue) error {
		if err := checkTransition(rule, issue, actor); err != nil {
			return err
		}
		return apply(issue)
	})
}

// update loads the village collection, applies the mutation to one issue
// under the village lock, and writes the collection back. The mutation and
// its commit are atomic from a reader's point of view: a failed mutation
// writes nothing, and no partially-applied issue is ever stored.
func (s *IssueService) update(ctx context.Context, villageID, issueID string, apply func(*domain.Issue) error) (*domain.Issue, error) {
	unlock := s.lockVillage(villageID)
	defer unlock()

	issues, err := s.loadAll(ctx, villageID)
	if err != nil {
		return nil, err
	}

	idx := findIssue(issues, issueID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: issue %s", domain.ErrNotFound, issueID)
	}

	issue := &issues[idx]
	if err := apply(issue); err != nil {
		return nil, err
	}
	issue.UpdatedAt = time.Now()
	if err := issue.Validate(); err != nil {
		return nil, fmt.Errorf("issue %s failed invariant check after update: %w", issueID, err)
	}

	if err := s.saveAll(ctx, villageID, issues); err != nil {
		return nil, err
	}

	committed := *issue
	return &committed, nil
}

func (s *IssueService) filter(ctx context.Context, villageID string, keep func(domain.Issue) bool) ([]domain.Issue, error) {
	issues, err := s.loadAll(ctx, villageID)
	if err != nil {
		return nil, err
	}
	matched := []domain.Issue{}
	for _, issue := range issues {
		if keep(issue) {
			matched = append(matched, issue)
		}
	}
	return matched, nil
}

func (s *IssueService) loadAll(ctx context.Context, villageID string) ([]domain.Issue, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	issues, err := s.store.LoadAll(ctx, villageID)
	if err != nil {
		return nil, err
	}
	return issues, nil
}

func (s *IssueService) saveAll(ctx context.Context, villageID string, issues []domain.Issue) error {
	// A transition either fully commits or is not attempted; the commit
	// itself is not cancellable once started.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	return s.store.SaveAll(ctx, villageID, issues)
}

// lockVillage serializes writers per village so no two transitions on the
// same collection are in flight at once.
func (s *IssueService) lockVillage(villageID string) func() {
	s.mu.Lock()
	l, ok := s.locks[villageID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[villageID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func findIssue(issues []domain.Issue, issueID string) int {
	for i := range issues {
		if issues[i].ID == issueID {
			return i
		}
	}
	return -1
}

func issueLink(issueID string) *string {
	link := "/issues/" + issueID
	return &link
}
