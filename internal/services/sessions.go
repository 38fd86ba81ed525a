package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"flightledger/internal/db"
	"flightledger/internal/models"
	"flightledger/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// RecordSessionBilling snapshots a completed flight session at the pair's
// current rate. Recording the same session twice returns the first snapshot.
func (s *BillingService) RecordSessionBilling(ctx context.Context, sessionID, processedBy string) (models.FlightSessionBilling, error) {
	var billing models.FlightSessionBilling
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		session, err := s.sessions.GetSession(ctx, tx, sessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		if session.Status != models.FlightSessionCompleted {
			return ErrSessionNotCompleted
		}
		existing, err := s.sessions.GetBySession(ctx, tx, sessionID)
		if err == nil {
			billing = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		rate, err := s.currentRate(ctx, tx, session.StudentID, session.InstructorID)
		if err != nil {
			return err
		}
		groundHours := session.PrebriefHours.Add(session.PostbriefHours)
		flightCost, groundCost := s.sessionCost(rate, session.FlightHours, groundHours)
		billing = models.FlightSessionBilling{
			ID:                    uuid.NewString(),
			FlightSessionID:       session.ID,
			StudentID:             session.StudentID,
			InstructorID:          session.InstructorID,
			FlightHours:           session.FlightHours,
			PrebriefHours:         session.PrebriefHours,
			PostbriefHours:        session.PostbriefHours,
			FlightInstructionRate: rate.FlightInstructionRate,
			GroundInstructionRate: rate.GroundInstructionRate,
			FlightCost:            flightCost,
			GroundCost:            groundCost,
			TotalCost:             flightCost + groundCost,
			BillingStatus:         models.BillingPending,
			LessonTitle:           session.LessonTitle,
			CreatedAt:             s.now().UTC(),
		}
		if err := s.sessions.Create(ctx, tx, billing); err != nil {
			return err
		}
		if err := s.publish(ctx, tx, models.EventFlightSessionCompleted, session.StudentID, models.EventPayload{
			SessionID:         session.ID,
			Amount:            billing.TotalCost,
			Reason:            derefString(session.LessonTitle),
			RelatedEntityID:   session.ID,
			RelatedEntityType: "flight_session",
		}); err != nil {
			return err
		}
		return s.logAudit(ctx, tx, processedBy, "session_billing_recorded", "flight_session", session.ID, map[string]any{
			"total_cost": billing.TotalCost,
		})
	})
	if db.IsUniqueViolation(err) {
		return s.sessions.GetBySession(ctx, nil, sessionID)
	}
	if err != nil {
		return models.FlightSessionBilling{}, err
	}
	return billing, nil
}

type AdjustSessionRequest struct {
	SessionID   string
	FlightHours decimal.Decimal
	GroundHours decimal.Decimal
	Reason      string
	ProcessedBy string
}

type SessionAdjustment struct {
	FlightHoursDiff  decimal.Decimal `json:"flight_hours_diff"`
	GroundHoursDiff  decimal.Decimal `json:"ground_hours_diff"`
	AmountDiff       int64           `json:"amount_diff"`
	RefundAmount     *int64          `json:"refund_amount,omitempty"`
	AdditionalCharge *int64          `json:"additional_charge,omitempty"`
}

type AdjustmentResult struct {
	Success        bool              `json:"success"`
	Adjustments    SessionAdjustment `json:"adjustments"`
	TransactionIDs []string          `json:"transaction_ids"`
	Message        string            `json:"message"`
}

// AdjustFlightSession re-prices a completed session with corrected hours at
// the current rate and settles the difference on the account. Flexible
// accounts get a cash refund or charge, which may take the balance negative;
// legacy accounts get hours returned or taken. A session still pending
// billing has not been charged yet, so only its billing row is re-priced.
func (s *BillingService) AdjustFlightSession(ctx context.Context, req AdjustSessionRequest) (AdjustmentResult, error) {
	if req.FlightHours.IsNegative() || req.GroundHours.IsNegative() {
		return AdjustmentResult{Message: ErrInvalidHours.Error()}, ErrInvalidHours
	}
	var result AdjustmentResult
	var account models.Account
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		result = AdjustmentResult{}
		session, err := s.sessions.GetSession(ctx, tx, req.SessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotAdjustable
		}
		if err != nil {
			return err
		}
		if session.Status != models.FlightSessionCompleted {
			return ErrSessionNotAdjustable
		}
		locked, err := s.lockAccount(ctx, tx, session.StudentID, session.InstructorID)
		if err != nil {
			return err
		}
		billing, err := s.sessions.GetForUpdate(ctx, tx, req.SessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrBillingRecordMissing
		}
		if err != nil {
			return err
		}
		rate, err := s.currentRate(ctx, tx, session.StudentID, session.InstructorID)
		if err != nil {
			return err
		}

		flightCost, groundCost := s.sessionCost(rate, req.FlightHours, req.GroundHours)
		delta := flightCost + groundCost - billing.TotalCost
		charged := billing.BillingStatus != models.BillingPending
		adjustment := SessionAdjustment{
			FlightHoursDiff: req.FlightHours.Sub(billing.FlightHours),
			GroundHoursDiff: req.GroundHours.Sub(billing.GroundHours()),
			AmountDiff:      delta,
		}
		if charged && delta < 0 {
			refund := -delta
			adjustment.RefundAmount = &refund
		} else if charged && delta > 0 {
			charge := delta
			adjustment.AdditionalCharge = &charge
		}

		billing.PrebriefHours, billing.PostbriefHours = splitGroundHours(billing, req.GroundHours)
		billing.FlightHours = req.FlightHours
		billing.FlightInstructionRate = rate.FlightInstructionRate
		billing.GroundInstructionRate = rate.GroundInstructionRate
		billing.FlightCost = flightCost
		billing.GroundCost = groundCost
		billing.TotalCost = flightCost + groundCost
		if err := s.sessions.UpdateHours(ctx, tx, billing); err != nil {
			return err
		}

		description := "Session adjustment"
		if req.Reason != "" {
			description = fmt.Sprintf("Session adjustment: %s", req.Reason)
		}
		var entries []TransactionRequest
		if charged {
			entries = adjustmentEntries(locked, adjustment, description)
		}
		for _, entry := range entries {
			entry.ReferenceType = models.ReferenceSessionAdjustment
			entry.ReferenceID = req.SessionID
			entry.ProcessedBy = req.ProcessedBy
			recorded, err := s.recordTransactionTx(ctx, tx, &locked, entry)
			if err != nil {
				return err
			}
			result.TransactionIDs = append(result.TransactionIDs, recorded.ID)
		}
		account = locked
		result.Success = true
		result.Adjustments = adjustment
		result.Message = "Session adjusted"

		payload := models.EventPayload{
			SessionID:         req.SessionID,
			Reason:            req.Reason,
			RelatedEntityID:   req.SessionID,
			RelatedEntityType: "flight_session",
		}
		if adjustment.RefundAmount != nil {
			payload.RefundAmount = *adjustment.RefundAmount
		}
		if adjustment.AdditionalCharge != nil {
			payload.AdditionalCharge = *adjustment.AdditionalCharge
		}
		if err := s.publish(ctx, tx, models.EventSessionAdjusted, session.StudentID, payload); err != nil {
			return err
		}
		if charged && delta > 0 {
			if err := s.checkLowBalance(ctx, tx, locked); err != nil {
				return err
			}
		}
		return s.logAudit(ctx, tx, req.ProcessedBy, "session_adjusted", "flight_session", req.SessionID, map[string]any{
			"amount_diff":       delta,
			"flight_hours_diff": adjustment.FlightHoursDiff.String(),
			"ground_hours_diff": adjustment.GroundHoursDiff.String(),
			"reason":            req.Reason,
		})
	})
	if err != nil {
		return AdjustmentResult{Message: err.Error()}, err
	}
	if len(result.TransactionIDs) > 0 {
		s.broadcast(account)
	}
	return result, nil
}

// adjustmentEntries turns an adjustment into ledger entries for the
// account's mode.
func adjustmentEntries(account models.Account, adj SessionAdjustment, description string) []TransactionRequest {
	switch account.Mode().(type) {
	case models.LegacyMode:
		var entries []TransactionRequest
		returnedFlight := decimal.Max(adj.FlightHoursDiff.Neg(), decimal.Zero)
		returnedGround := decimal.Max(adj.GroundHoursDiff.Neg(), decimal.Zero)
		if returnedFlight.IsPositive() || returnedGround.IsPositive() {
			entries = append(entries, TransactionRequest{
				Type:        models.TxRefund,
				FlightHours: returnedFlight,
				GroundHours: returnedGround,
				Description: description,
			})
		}
		takenFlight := decimal.Max(adj.FlightHoursDiff, decimal.Zero)
		takenGround := decimal.Max(adj.GroundHoursDiff, decimal.Zero)
		if takenFlight.IsPositive() || takenGround.IsPositive() {
			entries = append(entries, TransactionRequest{
				Type:        models.TxAdjustment,
				FlightHours: takenFlight,
				GroundHours: takenGround,
				Description: description,
			})
		}
		return entries
	default:
		switch {
		case adj.AmountDiff < 0:
			return []TransactionRequest{{
				Type:        models.TxRefund,
				FlightHours: decimal.Zero,
				GroundHours: decimal.Zero,
				CashAmount:  -adj.AmountDiff,
				Description: description,
			}}
		case adj.AmountDiff > 0:
			return []TransactionRequest{{
				Type:        models.TxAdjustment,
				FlightHours: decimal.Zero,
				GroundHours: decimal.Zero,
				CashAmount:  adj.AmountDiff,
				Description: description,
			}}
		}
		return nil
	}
}

// splitGroundHours keeps the session's prebrief/postbrief proportion for a
// new ground total.
func splitGroundHours(billing models.FlightSessionBilling, ground decimal.Decimal) (prebrief, postbrief decimal.Decimal) {
	current := billing.GroundHours()
	if !current.IsPositive() {
		return ground, decimal.Zero
	}
	prebrief = ground.Mul(billing.PrebriefHours).Div(current).Round(2)
	return prebrief, ground.Sub(prebrief)
}

// GetSessionAdjustments lists the ledger entries of a session's adjustments,
// newest first.
func (s *BillingService) GetSessionAdjustments(ctx context.Context, sessionID string) ([]models.BillingTransaction, error) {
	return s.ledger.ListByReference(ctx, models.ReferenceSessionAdjustment, sessionID)
}

func (s *BillingService) ApproveFlightSessionBilling(ctx context.Context, sessionID string, approved bool, actorID string) error {
	return s.setSessionFlag(ctx, sessionID, actorID, "session_billing_approved", approved, s.sessions.SetInstructorApproval)
}

func (s *BillingService) AcknowledgeFlightSessionBilling(ctx context.Context, sessionID string, acknowledged bool, actorID string) error {
	return s.setSessionFlag(ctx, sessionID, actorID, "session_billing_acknowledged", acknowledged, s.sessions.SetStudentAcknowledgment)
}

type sessionFlagSetter func(ctx context.Context, tx store.Execer, sessionID string, value bool, at time.Time) (int64, error)

func (s *BillingService) setSessionFlag(ctx context.Context, sessionID, actorID, action string, value bool, set sessionFlagSetter) error {
	return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		affected, err := set(ctx, tx, sessionID, value, s.now().UTC())
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrBillingRecordMissing
		}
		return s.logAudit(ctx, tx, actorID, action, "flight_session", sessionID, map[string]any{"value": value})
	})
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
