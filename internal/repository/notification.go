package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/gramfix/gramfix/internal/domain"
)

// NotificationRepository persists per-user notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Insert stores a new notification for its recipient.
func (r *NotificationRepository) Insert(ctx context.Context, n domain.Notification) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, title, message, type, link)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.UserID, n.Title, n.Message, n.Type, n.Link)
	if err != nil {
		return storageErr("insert notification for user "+n.UserID, err)
	}
	return nil
}

// ListByUser returns the user's notifications, newest first.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string) ([]domain.Notification, error) {
	notifications := []domain.Notification{}
	err := r.db.SelectContext(ctx, &notifications,
		`SELECT id, user_id, title, message, type, link, read, created_at
		 FROM notifications WHERE user_id = $1
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, storageErr("list notifications for user "+userID, err)
	}
	return notifications, nil
}

// MarkRead flags a single notification as read by its recipient.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, notificationID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`,
		notificationID, userID)
	if err != nil {
		return storageErr("mark notification read for user "+userID, err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteAllForUser bulk-clears the user's notifications. Individual deletes
// are intentionally not offered.
func (r *NotificationRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE user_id = $1`, userID)
	if err != nil {
		return storageErr("clear notifications for user "+userID, err)
	}
	return nil
}
