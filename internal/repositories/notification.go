package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/darkroom/internal/models"
	"github.com/desertthunder/darkroom/internal/shared"
)

// NotificationLimit caps how many notifications are retained.
const NotificationLimit = 100

// NotificationRepository persists [models.Notification] rows and prunes old ones.
type NotificationRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewNotificationRepository creates a new [NotificationRepository] with the given database connection
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db, now: time.Now}
}

// Notify records a notification and drops everything beyond the newest [NotificationLimit].
func (r *NotificationRepository) Notify(ctx context.Context, message string, kind models.NotificationKind) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO notifications (id, message, kind, read, created_at) VALUES (?, ?, ?, 0, ?)`,
		shared.GenerateID(), message, string(kind), utc(r.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM notifications WHERE id NOT IN (
			SELECT id FROM notifications ORDER BY created_at DESC, rowid DESC LIMIT ?
		)
	`, NotificationLimit)
	if err != nil {
		return fmt.Errorf("failed to prune notifications: %w", err)
	}

	return tx.Commit()
}

// List returns notifications newest first
func (r *NotificationRepository) List(ctx context.Context) ([]models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message, kind, read, created_at FROM notifications
		ORDER BY created_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var (
			n    models.Notification
			kind string
		)
		if err := rows.Scan(&n.ID, &n.Message, &kind, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Kind = models.NotificationKind(kind)
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return notifications, nil
}

// MarkAllRead flags every notification as read
func (r *NotificationRepository) MarkAllRead(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE read = 0`); err != nil {
		return fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return nil
}

// Clear removes every notification
func (r *NotificationRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM notifications`); err != nil {
		return fmt.Errorf("failed to clear notifications: %w", err)
	}
	return nil
}
