package processor

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/shopspring/decimal"
)

// MidtransSettlementUnit is the smallest chargeable amount in minor units.
// Midtrans settles whole rupiah.
const MidtransSettlementUnit = 100

// Midtrans creates charges through Snap and reads status and refunds through
// the Core API. Amounts must be a multiple of MidtransSettlementUnit.
type Midtrans struct {
	snap snap.Client
	core coreapi.Client
}

func NewMidtrans(serverKey string, production bool) *Midtrans {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}
	m := &Midtrans{}
	m.snap.New(serverKey, env)
	m.core.New(serverKey, env)
	return m
}

func (m *Midtrans) CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	if err := ctx.Err(); err != nil {
		return Charge{}, err
	}
	gross, err := toGross(req.AmountCents)
	if err != nil {
		return Charge{}, err
	}
	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.OrderID,
			GrossAmt: gross,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			Email: req.CustomerEmail,
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:    req.OrderID,
				Price: gross,
				Qty:   1,
				Name:  truncate(req.Description, 50),
			},
		},
		CustomField1: truncate(req.Metadata["invoice_id"], 40),
	}
	resp, mErr := m.snap.CreateTransaction(snapReq)
	if mErr != nil {
		return Charge{}, classify(mErr)
	}
	return Charge{ID: req.OrderID, ClientSecret: resp.Token, RedirectURL: resp.RedirectURL}, nil
}

func (m *Midtrans) GetCharge(ctx context.Context, chargeID string) (ChargeStatus, error) {
	if err := ctx.Err(); err != nil {
		return ChargeStatus{}, err
	}
	resp, mErr := m.core.CheckTransaction(chargeID)
	if mErr != nil {
		if mErr.StatusCode == http.StatusNotFound {
			return ChargeStatus{}, ErrChargeNotFound
		}
		return ChargeStatus{}, classify(mErr)
	}
	amount, err := decimal.NewFromString(resp.GrossAmount)
	if err != nil {
		return ChargeStatus{}, fmt.Errorf("parse gross amount %q: %w", resp.GrossAmount, err)
	}
	return ChargeStatus{
		ID:          resp.OrderID,
		Status:      mapStatus(resp.TransactionStatus, resp.FraudStatus),
		AmountCents: amount.Shift(2).RoundBank(0).IntPart(),
		Currency:    strings.ToUpper(resp.Currency),
	}, nil
}

func (m *Midtrans) CreateRefund(ctx context.Context, req RefundRequest) (Refund, error) {
	if err := ctx.Err(); err != nil {
		return Refund{}, err
	}
	gross, err := toGross(req.AmountCents)
	if err != nil {
		return Refund{}, err
	}
	resp, mErr := m.core.RefundTransaction(req.ChargeID, &coreapi.RefundReq{
		RefundKey: req.IdempotencyKey,
		Amount:    gross,
		Reason:    req.Reason,
	})
	if mErr != nil {
		return Refund{}, classify(mErr)
	}
	return Refund{ID: resp.TransactionID, Status: resp.TransactionStatus}, nil
}

func mapStatus(transactionStatus, fraudStatus string) string {
	switch transactionStatus {
	case "settlement":
		return StatusSucceeded
	case "capture":
		if fraudStatus == "" || fraudStatus == "accept" {
			return StatusSucceeded
		}
		return StatusPending
	case "deny", "cancel", "expire", "failure":
		return StatusFailed
	case "refund", "partial_refund":
		return StatusRefunded
	default:
		return StatusPending
	}
}

func classify(mErr *midtrans.Error) error {
	if mErr.StatusCode == 0 || mErr.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s", ErrProcessorTransient, mErr.Error())
	}
	return fmt.Errorf("%w: %s", ErrProcessorRejected, mErr.Error())
}

func toGross(amountCents int64) (int64, error) {
	if amountCents <= 0 || amountCents%MidtransSettlementUnit != 0 {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedAmount, amountCents)
	}
	return amountCents / MidtransSettlementUnit, nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
