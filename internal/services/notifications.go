package services

import (
	"context"

	"flightledger/internal/models"
)

type NotificationStore interface {
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID, userID string) (int64, error)
}

// NotificationService serves the notifications delivered by the dispatcher.
type NotificationService struct {
	store NotificationStore
}

func NewNotificationService(store NotificationStore) *NotificationService {
	return &NotificationService{store: store}
}

func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.store.ListByUser(ctx, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []models.Notification{}
	}
	return rows, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, notificationID, userID string) error {
	affected, err := s.store.MarkRead(ctx, notificationID, userID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
