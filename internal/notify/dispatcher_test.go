package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"flightledger/internal/logging"
	"flightledger/internal/models"
	"flightledger/internal/store"
	"flightledger/internal/websocket"

	"github.com/jmoiron/sqlx"
)

type fakeTxRunner struct {
	err error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

type memOutbox struct {
	pending   []models.OutboxEvent
	delivered []string
	failed    map[string]time.Time
}

func (m *memOutbox) ClaimPending(_ context.Context, _ store.Selecter, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	var out []models.OutboxEvent
	for _, event := range m.pending {
		if len(out) == limit {
			break
		}
		if _, ok := m.failed[event.ID]; ok || event.Attempts >= maxAttempts || contains(m.delivered, event.ID) {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

func (m *memOutbox) MarkDelivered(_ context.Context, _ store.Execer, eventID string) error {
	m.delivered = append(m.delivered, eventID)
	return nil
}

func (m *memOutbox) MarkFailed(_ context.Context, _ store.Execer, eventID, _ string, retryAt time.Time) error {
	if m.failed == nil {
		m.failed = map[string]time.Time{}
	}
	m.failed[eventID] = retryAt
	return nil
}

type stubNotifications struct {
	inserted []models.Notification
	err      error
}

func (s *stubNotifications) Insert(_ context.Context, _ store.Execer, n models.Notification) error {
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, n)
	return nil
}

type stubProfiles struct {
	profile models.Profile
}

func (s stubProfiles) GetByID(context.Context, string) (models.Profile, error) {
	return s.profile, nil
}

type recordingPusher struct {
	messages []websocket.NotificationMessage
}

func (p *recordingPusher) BroadcastNotification(_ string, message websocket.NotificationMessage) {
	p.messages = append(p.messages, message)
}

type recordingMailer struct {
	sent []Email
	err  error
}

func (m *recordingMailer) Send(_ context.Context, email Email) error {
	m.sent = append(m.sent, email)
	return m.err
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func TestDispatchOnceDeliversEvents(t *testing.T) {
	outbox := &memOutbox{pending: []models.OutboxEvent{
		{ID: "e-1", Kind: models.EventPaymentReceived, UserID: "stu-1", Payload: `{"amount":1000,"invoice_number":"inv_1"}`},
		{ID: "e-2", Kind: models.EventInvoiceOverdue, UserID: "stu-1", Payload: `{"amount":1000,"invoice_number":"inv_2","due_date":"2026-03-01"}`},
	}}
	notes := &stubNotifications{}
	pusher := &recordingPusher{}
	mailer := &recordingMailer{}
	email := "student@example.com"
	d := NewDispatcher(fakeTxRunner{}, outbox, notes, stubProfiles{profile: models.Profile{ID: "stu-1", Email: &email}}, pusher, mailer, logging.Nop{}, Options{})

	delivered, err := d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delivered != 2 || len(notes.inserted) != 2 || len(outbox.delivered) != 2 {
		t.Fatalf("expected 2 deliveries, got %d (%d rows)", delivered, len(notes.inserted))
	}
	if notes.inserted[0].Category != CategoryPayment || notes.inserted[1].Category != CategoryBilling {
		t.Fatalf("unexpected categories: %+v", notes.inserted)
	}
	if len(pusher.messages) != 2 || len(mailer.sent) != 2 || mailer.sent[0].ToAddress != email {
		t.Fatalf("expected push and email per event")
	}
}

func TestDispatchOnceReschedulesFailures(t *testing.T) {
	outbox := &memOutbox{pending: []models.OutboxEvent{
		{ID: "bad", Kind: "mystery", UserID: "stu-1", Attempts: 2},
		{ID: "good", Kind: models.EventPaymentFailed, UserID: "stu-1", Payload: `{"amount":1000}`},
	}}
	notes := &stubNotifications{}
	d := NewDispatcher(fakeTxRunner{}, outbox, notes, nil, nil, nil, logging.Nop{}, Options{RetryBackoff: time.Minute})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	delivered, err := d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delivered != 1 || !contains(outbox.delivered, "good") {
		t.Fatalf("expected good event delivered, got %d", delivered)
	}
	retryAt, ok := outbox.failed["bad"]
	if !ok {
		t.Fatal("expected bad event rescheduled")
	}
	if want := now.Add(4 * time.Minute); !retryAt.Equal(want) {
		t.Fatalf("expected retry at %s, got %s", want, retryAt)
	}
}

func TestDispatchOnceEmailFailureIsNotRetried(t *testing.T) {
	outbox := &memOutbox{pending: []models.OutboxEvent{
		{ID: "e-1", Kind: models.EventPaymentReceived, UserID: "stu-1", Payload: `{}`},
	}}
	email := "student@example.com"
	mailer := &recordingMailer{err: errors.New("smtp down")}
	d := NewDispatcher(fakeTxRunner{}, outbox, &stubNotifications{}, stubProfiles{profile: models.Profile{Email: &email}}, nil, mailer, logging.Nop{}, Options{})
	delivered, err := d.DispatchOnce(context.Background())
	if err != nil || delivered != 1 {
		t.Fatalf("expected delivery despite email failure, got %d, %v", delivered, err)
	}
	if len(outbox.failed) != 0 {
		t.Fatal("email failure must not reschedule the event")
	}
}

func TestDispatchOnceStopsOnStoreError(t *testing.T) {
	boom := errors.New("db down")
	d := NewDispatcher(fakeTxRunner{err: boom}, &memOutbox{}, &stubNotifications{}, nil, nil, nil, logging.Nop{}, Options{})
	if _, err := d.DispatchOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	d := NewDispatcher(fakeTxRunner{}, &memOutbox{}, &stubNotifications{}, nil, nil, nil, logging.Nop{}, Options{RetryBackoff: time.Minute})
	if got := d.backoff(1); got != time.Minute {
		t.Fatalf("expected 1m, got %s", got)
	}
	if got := d.backoff(20); got != time.Hour {
		t.Fatalf("expected cap of 1h, got %s", got)
	}
}
