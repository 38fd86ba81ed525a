package store

import (
	"context"

	"flightledger/internal/models"
)

type NotificationStore struct {
	db DB
}

func NewNotificationStore(db DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func (s *NotificationStore) Insert(ctx context.Context, tx Execer, n models.Notification) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, title, message, category, link, related_entity_id, related_entity_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.ID, n.UserID, n.Title, n.Message, n.Category, n.Link, n.RelatedEntityID, n.RelatedEntityType)
	return err
}

func (s *NotificationStore) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	query := `
		SELECT id, user_id, title, message, category, link, related_entity_id, related_entity_type, is_read, read_at, created_at
		FROM notifications
		WHERE user_id = $1`
	if unreadOnly {
		query += ` AND is_read = FALSE`
	}
	query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	var rows []models.Notification
	if err := s.db.SelectContext(ctx, &rows, query, userID, limit, offset); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *NotificationStore) MarkRead(ctx context.Context, notificationID, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND user_id = $2
	`, notificationID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
