package processor

import (
	"context"
	"time"
)

const defaultAttempts = 3

// Retrying retries transient processor failures with backoff.
type Retrying struct {
	next     Processor
	attempts int
	base     time.Duration
}

func NewRetrying(next Processor) *Retrying {
	return &Retrying{next: next, attempts: defaultAttempts, base: 200 * time.Millisecond}
}

func (r *Retrying) CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	var out Charge
	err := r.do(ctx, func() error {
		var err error
		out, err = r.next.CreateCharge(ctx, req)
		return err
	})
	return out, err
}

func (r *Retrying) GetCharge(ctx context.Context, chargeID string) (ChargeStatus, error) {
	var out ChargeStatus
	err := r.do(ctx, func() error {
		var err error
		out, err = r.next.GetCharge(ctx, chargeID)
		return err
	})
	return out, err
}

// CreateRefund relies on the idempotency key to make retries safe.
func (r *Retrying) CreateRefund(ctx context.Context, req RefundRequest) (Refund, error) {
	var out Refund
	err := r.do(ctx, func() error {
		var err error
		out, err = r.next.CreateRefund(ctx, req)
		return err
	})
	return out, err
}

func (r *Retrying) do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = fn()
		if err == nil || !IsTransient(err) || attempt == r.attempts {
			return err
		}
		timer := time.NewTimer(time.Duration(attempt*attempt) * r.base)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
