package store

import (
	"context"
	"time"

	"flightledger/internal/models"
)

// OutboxStore queues notification events for the dispatcher.
type OutboxStore struct {
	db DB
}

func NewOutboxStore(db DB) *OutboxStore {
	return &OutboxStore{db: db}
}

func (s *OutboxStore) Enqueue(ctx context.Context, tx Execer, event models.OutboxEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO notification_outbox (id, kind, user_id, payload)
		VALUES ($1, $2, $3, $4)
	`, event.ID, event.Kind, event.UserID, event.Payload)
	return err
}

// ClaimPending locks up to limit due events, skipping rows another
// dispatcher already holds.
func (s *OutboxStore) ClaimPending(ctx context.Context, tx Selecter, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := tx.SelectContext(ctx, &rows, `
		SELECT id, kind, user_id, payload, attempts, last_error, available_at, delivered_at, created_at
		FROM notification_outbox
		WHERE delivered_at IS NULL AND attempts < $1 AND available_at <= NOW()
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, tx Execer, eventID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE notification_outbox
		SET delivered_at = NOW(), attempts = attempts + 1, last_error = NULL
		WHERE id = $1
	`, eventID)
	return err
}

func (s *OutboxStore) MarkFailed(ctx context.Context, tx Execer, eventID, lastError string, retryAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE notification_outbox
		SET attempts = attempts + 1, last_error = $1, available_at = $2
		WHERE id = $3
	`, lastError, retryAt, eventID)
	return err
}
