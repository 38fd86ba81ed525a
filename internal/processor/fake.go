package processor

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Fake is an in-memory processor for local development and tests. Charges
// start pending; Settle marks them paid.
type Fake struct {
	mu      sync.Mutex
	charges map[string]ChargeStatus
	refunds map[string]Refund
}

func NewFake() *Fake {
	return &Fake{
		charges: make(map[string]ChargeStatus),
		refunds: make(map[string]Refund),
	}
}

func (f *Fake) CreateCharge(_ context.Context, req ChargeRequest) (Charge, error) {
	if req.AmountCents <= 0 {
		return Charge{}, ErrUnsupportedAmount
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := req.OrderID
	if id == "" {
		id = uuid.NewString()
	}
	f.charges[id] = ChargeStatus{
		ID:          id,
		Status:      StatusPending,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Metadata:    req.Metadata,
	}
	return Charge{ID: id, ClientSecret: "secret_" + id}, nil
}

func (f *Fake) GetCharge(_ context.Context, chargeID string) (ChargeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	charge, ok := f.charges[chargeID]
	if !ok {
		return ChargeStatus{}, ErrChargeNotFound
	}
	return charge, nil
}

func (f *Fake) CreateRefund(_ context.Context, req RefundRequest) (Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if refund, ok := f.refunds[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return refund, nil
	}
	charge, ok := f.charges[req.ChargeID]
	if !ok {
		return Refund{}, ErrChargeNotFound
	}
	if charge.Status != StatusSucceeded && charge.Status != StatusRefunded {
		return Refund{}, ErrProcessorRejected
	}
	charge.Status = StatusRefunded
	f.charges[req.ChargeID] = charge
	refund := Refund{ID: uuid.NewString(), Status: "succeeded"}
	if req.IdempotencyKey != "" {
		f.refunds[req.IdempotencyKey] = refund
	}
	return refund, nil
}

// Settle records a charge as paid with the given amount.
func (f *Fake) Settle(chargeID string, amountCents int64) {
	f.SetStatus(chargeID, StatusSucceeded, amountCents)
}

func (f *Fake) SetStatus(chargeID, status string, amountCents int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	charge := f.charges[chargeID]
	charge.ID = chargeID
	charge.Status = status
	charge.AmountCents = amountCents
	f.charges[chargeID] = charge
}

// Refunds returns how many distinct refunds were issued.
func (f *Fake) Refunds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refunds)
}
