package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gramfix/gramfix/internal/domain"
)

// NotificationStore defines the persistence interface for notifications.
type NotificationStore interface {
	Insert(ctx context.Context, n domain.Notification) error
	ListByUser(ctx context.Context, userID string) ([]domain.Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	DeleteAllForUser(ctx context.Context, userID string) error
}

// NotificationObserver receives every emitted notification, e.g. a websocket
// push or a toast bridge. Observers must not block.
type NotificationObserver func(domain.Notification)

// NotificationService fans notifications out to the recipient's stored feed
// and to registered observers. Emission is fire-and-forget: a failure here
// is logged and never surfaces to the operation that triggered it.
type NotificationService struct {
	store NotificationStore

	mu        sync.RWMutex
	observers []NotificationObserver
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(store NotificationStore) *NotificationService {
	return &NotificationService{store: store}
}

// Register adds an observer for all future emissions.
func (s *NotificationService) Register(obs NotificationObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, obs)
}

// Emit stores a notification for the user and fans it out to observers.
// Errors are swallowed after logging; callers never see them.
func (s *NotificationService) Emit(ctx context.Context, userID string, n domain.Notification) {
	n.ID = uuid.NewString()
	n.UserID = userID
	n.Read = false
	n.CreatedAt = time.Now()

	if err := s.store.Insert(ctx, n); err != nil {
		slog.Warn("notification delivery failed",
			"user_id", userID,
			"title", n.Title,
			"error", err,
		)
	}

	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()
	for _, obs := range observers {
		obs(n)
	}
}

// List returns the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string) ([]domain.Notification, error) {
	return s.store.ListByUser(ctx, userID)
}

// MarkRead acknowledges a single notification.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	return s.store.MarkRead(ctx, userID, notificationID)
}

// ClearAll removes every notification for the user.
func (s *NotificationService) ClearAll(ctx context.Context, userID string) error {
	return s.store.DeleteAllForUser(ctx, userID)
}
