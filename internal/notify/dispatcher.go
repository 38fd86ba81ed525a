package notify

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"flightledger/internal/db"
	"flightledger/internal/logging"
	"flightledger/internal/models"
	"flightledger/internal/store"
	"flightledger/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type OutboxStore interface {
	ClaimPending(ctx context.Context, tx store.Selecter, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkDelivered(ctx context.Context, tx store.Execer, eventID string) error
	MarkFailed(ctx context.Context, tx store.Execer, eventID, lastError string, retryAt time.Time) error
}

type NotificationStore interface {
	Insert(ctx context.Context, tx store.Execer, n models.Notification) error
}

type ProfileStore interface {
	GetByID(ctx context.Context, userID string) (models.Profile, error)
}

type Pusher interface {
	BroadcastNotification(userID string, message websocket.NotificationMessage)
}

type Options struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Dispatcher delivers queued billing events as notifications. Each event is
// handled in its own transaction; a failed event is rescheduled with
// exponential backoff until it runs out of attempts.
type Dispatcher struct {
	txRunner      db.TxRunner
	outbox        OutboxStore
	notifications NotificationStore
	profiles      ProfileStore
	pusher        Pusher
	mailer        Mailer
	logger        logging.Logger
	opts          Options
	now           func() time.Time
}

// NewDispatcher wires a dispatcher. pusher, profiles and mailer are optional.
func NewDispatcher(txRunner db.TxRunner, outbox OutboxStore, notifications NotificationStore, profiles ProfileStore, pusher Pusher, mailer Mailer, logger logging.Logger, opts Options) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 8
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 30 * time.Second
	}
	return &Dispatcher{
		txRunner:      txRunner,
		outbox:        outbox,
		notifications: notifications,
		profiles:      profiles,
		pusher:        pusher,
		mailer:        mailer,
		logger:        logger,
		opts:          opts,
		now:           time.Now,
	}
}

// Run polls the outbox until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("dispatch notifications failed", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce handles up to one batch of due events and reports how many
// were delivered.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	delivered := 0
	for i := 0; i < d.opts.BatchSize; i++ {
		handled, ok, err := d.dispatchNext(ctx)
		if err != nil {
			return delivered, err
		}
		if !handled {
			break
		}
		if ok {
			delivered++
		}
	}
	return delivered, nil
}

// dispatchNext claims and delivers one event. handled is false when nothing
// was due.
func (d *Dispatcher) dispatchNext(ctx context.Context) (handled, ok bool, err error) {
	var claimed *models.OutboxEvent
	var note models.Notification
	var deliverErr error
	err = d.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		claimed, deliverErr = nil, nil
		events, err := d.outbox.ClaimPending(ctx, tx, 1, d.opts.MaxAttempts)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		event := events[0]
		claimed = &event
		note, deliverErr = d.deliver(ctx, tx, event)
		if deliverErr != nil {
			return deliverErr
		}
		return d.outbox.MarkDelivered(ctx, tx, event.ID)
	})
	if claimed == nil {
		return false, false, err
	}
	if deliverErr != nil {
		return true, false, d.reschedule(ctx, *claimed, deliverErr)
	}
	if err != nil {
		return false, false, err
	}
	d.push(ctx, note)
	return true, true, nil
}

func (d *Dispatcher) deliver(ctx context.Context, tx *sqlx.Tx, event models.OutboxEvent) (models.Notification, error) {
	msg, err := Render(event)
	if err != nil {
		return models.Notification{}, err
	}
	note := models.Notification{
		ID:                uuid.NewString(),
		UserID:            event.UserID,
		Title:             msg.Title,
		Message:           msg.Body,
		Category:          msg.Category,
		Link:              optional(msg.Link),
		RelatedEntityID:   optional(msg.RelatedEntityID),
		RelatedEntityType: optional(msg.RelatedEntityType),
		CreatedAt:         d.now().UTC(),
	}
	if err := d.notifications.Insert(ctx, tx, note); err != nil {
		return models.Notification{}, err
	}
	return note, nil
}

func (d *Dispatcher) reschedule(ctx context.Context, event models.OutboxEvent, cause error) error {
	attempt := event.Attempts + 1
	retryAt := d.now().UTC().Add(d.backoff(attempt))
	d.logger.Warn("notification delivery failed", cause, map[string]any{
		"event_id": event.ID,
		"kind":     string(event.Kind),
		"attempt":  attempt,
	})
	return d.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return d.outbox.MarkFailed(ctx, tx, event.ID, cause.Error(), retryAt)
	})
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	wait := d.opts.RetryBackoff
	for i := 1; i < attempt && wait < time.Hour; i++ {
		wait *= 2
	}
	if wait > time.Hour {
		wait = time.Hour
	}
	return wait
}

// push forwards a committed notification over websocket and email. Both are
// best effort; the notification row is already stored.
func (d *Dispatcher) push(ctx context.Context, note models.Notification) {
	if d.pusher != nil {
		d.pusher.BroadcastNotification(note.UserID, websocket.NotificationMessage{
			ID:       note.ID,
			Title:    note.Title,
			Message:  note.Message,
			Category: note.Category,
			Link:     note.Link,
		})
	}
	if d.mailer == nil || d.profiles == nil {
		return
	}
	profile, err := d.profiles.GetByID(ctx, note.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return
	}
	if err != nil {
		d.logger.Warn("load profile for email failed", err, map[string]any{"user_id": note.UserID})
		return
	}
	if profile.Email == nil || *profile.Email == "" {
		return
	}
	err = d.mailer.Send(ctx, Email{
		ToName:    deref(profile.FullName),
		ToAddress: *profile.Email,
		Subject:   note.Title,
		Text:      note.Message,
	})
	if err != nil {
		d.logger.Warn("notification email failed", err, map[string]any{"notification_id": note.ID})
	}
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
