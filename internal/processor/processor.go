package processor

import (
	"context"
	"errors"
)

// Charge statuses reported by GetCharge.
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusRefunded  = "refunded"
)

var (
	ErrChargeNotFound     = errors.New("charge not found")
	ErrUnsupportedAmount  = errors.New("amount not supported by processor")
	ErrProcessorRejected  = errors.New("processor rejected request")
	ErrProcessorTransient = errors.New("processor temporarily unavailable")
)

// Processor is the external payment processor. Amounts are minor units.
type Processor interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error)
	GetCharge(ctx context.Context, chargeID string) (ChargeStatus, error)
	CreateRefund(ctx context.Context, req RefundRequest) (Refund, error)
}

type ChargeRequest struct {
	OrderID       string
	AmountCents   int64
	Currency      string
	CustomerEmail string
	Description   string
	Metadata      map[string]string
}

type Charge struct {
	ID           string
	ClientSecret string
	RedirectURL  string
}

type ChargeStatus struct {
	ID          string
	Status      string
	AmountCents int64
	Currency    string
	Metadata    map[string]string
}

type RefundRequest struct {
	ChargeID       string
	AmountCents    int64
	Reason         string
	IdempotencyKey string
}

type Refund struct {
	ID     string
	Status string
}

// IsTransient reports failures worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrProcessorTransient)
}
