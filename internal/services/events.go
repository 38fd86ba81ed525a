package services

import (
	"context"

	"flightledger/internal/models"

	"github.com/jmoiron/sqlx"
)

// NotifyPINVerificationFailed queues an alert for a failed PIN check raised
// by the surrounding application, typically to the instructor of the flight.
func (s *BillingService) NotifyPINVerificationFailed(ctx context.Context, userID, sessionID, reason string) error {
	if userID == "" {
		return ErrRecipientRequired
	}
	payload := models.EventPayload{
		SessionID: sessionID,
		Reason:    reason,
	}
	if sessionID != "" {
		payload.RelatedEntityID = sessionID
		payload.RelatedEntityType = "flight_session"
	}
	return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.publish(ctx, tx, models.EventPINVerificationFailed, userID, payload)
	})
}
