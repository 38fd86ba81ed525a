package store

import (
	"context"
	"time"

	"flightledger/internal/models"

	"github.com/lib/pq"
)

type SessionBillingStore struct {
	db DB
}

func NewSessionBillingStore(db DB) *SessionBillingStore {
	return &SessionBillingStore{db: db}
}

const sessionBillingColumns = `b.id, b.flight_session_id, b.student_id, b.instructor_id, b.flight_hours, b.prebrief_hours,
		       b.postbrief_hours, b.flight_instruction_rate, b.ground_instruction_rate, b.flight_cost,
		       b.ground_cost, b.total_cost, b.billing_status, b.invoice_id, b.instructor_approved,
		       b.instructor_approved_at, b.student_acknowledged, b.student_acknowledged_at,
		       l.title AS lesson_title, b.created_at`

const sessionBillingFrom = `
		FROM flight_session_billing b
		JOIN flight_sessions fs ON fs.id = b.flight_session_id
		LEFT JOIN lessons l ON l.id = fs.lesson_id`

// GetSession reads the externally owned flight session with its lesson title.
func (s *SessionBillingStore) GetSession(ctx context.Context, q Getter, sessionID string) (models.FlightSession, error) {
	var row models.FlightSession
	err := orDB(q, s.db).GetContext(ctx, &row, `
		SELECT fs.id, fs.student_id, fs.instructor_id, fs.status, fs.flight_hours, fs.prebrief_hours,
		       fs.postbrief_hours, l.title AS lesson_title
		FROM flight_sessions fs
		LEFT JOIN lessons l ON l.id = fs.lesson_id
		WHERE fs.id = $1
	`, sessionID)
	if err != nil {
		return models.FlightSession{}, err
	}
	return row, nil
}

func (s *SessionBillingStore) GetBySession(ctx context.Context, q Getter, sessionID string) (models.FlightSessionBilling, error) {
	var row models.FlightSessionBilling
	err := orDB(q, s.db).GetContext(ctx, &row, `SELECT `+sessionBillingColumns+sessionBillingFrom+`
		WHERE b.flight_session_id = $1
	`, sessionID)
	if err != nil {
		return models.FlightSessionBilling{}, err
	}
	return row, nil
}

func (s *SessionBillingStore) GetForUpdate(ctx context.Context, tx Getter, sessionID string) (models.FlightSessionBilling, error) {
	var row models.FlightSessionBilling
	err := tx.GetContext(ctx, &row, `SELECT `+sessionBillingColumns+sessionBillingFrom+`
		WHERE b.flight_session_id = $1
		FOR UPDATE OF b
	`, sessionID)
	if err != nil {
		return models.FlightSessionBilling{}, err
	}
	return row, nil
}

func (s *SessionBillingStore) Create(ctx context.Context, tx Execer, billing models.FlightSessionBilling) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO flight_session_billing (id, flight_session_id, student_id, instructor_id, flight_hours, prebrief_hours,
		                                    postbrief_hours, flight_instruction_rate, ground_instruction_rate,
		                                    flight_cost, ground_cost, total_cost, billing_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, billing.ID, billing.FlightSessionID, billing.StudentID, billing.InstructorID, billing.FlightHours,
		billing.PrebriefHours, billing.PostbriefHours, billing.FlightInstructionRate, billing.GroundInstructionRate,
		billing.FlightCost, billing.GroundCost, billing.TotalCost, billing.BillingStatus)
	return err
}

// UpdateHours rewrites the hour, rate and cost snapshot of an adjusted session.
func (s *SessionBillingStore) UpdateHours(ctx context.Context, tx Execer, billing models.FlightSessionBilling) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE flight_session_billing
		SET flight_hours = $1, prebrief_hours = $2, postbrief_hours = $3,
		    flight_instruction_rate = $4, ground_instruction_rate = $5,
		    flight_cost = $6, ground_cost = $7, total_cost = $8, updated_at = NOW()
		WHERE id = $9
	`, billing.FlightHours, billing.PrebriefHours, billing.PostbriefHours,
		billing.FlightInstructionRate, billing.GroundInstructionRate,
		billing.FlightCost, billing.GroundCost, billing.TotalCost, billing.ID)
	return err
}

// ListPendingForUpdate locks the pending billing rows of the pair among sessionIDs.
func (s *SessionBillingStore) ListPendingForUpdate(ctx context.Context, tx Selecter, studentID, instructorID string, sessionIDs []string) ([]models.FlightSessionBilling, error) {
	var rows []models.FlightSessionBilling
	err := tx.SelectContext(ctx, &rows, `SELECT `+sessionBillingColumns+sessionBillingFrom+`
		WHERE b.student_id = $1
		  AND b.instructor_id = $2
		  AND b.flight_session_id = ANY($3)
		  AND b.billing_status = 'pending'
		ORDER BY b.created_at, b.id
		FOR UPDATE OF b
	`, studentID, instructorID, pq.Array(sessionIDs))
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *SessionBillingStore) MarkInvoiced(ctx context.Context, tx Execer, billingIDs []string, invoiceID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE flight_session_billing
		SET billing_status = 'invoiced', invoice_id = $1, updated_at = NOW()
		WHERE id = ANY($2) AND billing_status = 'pending'
	`, invoiceID, pq.Array(billingIDs))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SessionBillingStore) MarkPaidByInvoice(ctx context.Context, tx Execer, invoiceID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE flight_session_billing
		SET billing_status = 'paid', updated_at = NOW()
		WHERE invoice_id = $1
	`, invoiceID)
	return err
}

// MarkPaidDirect settles a pending row paid straight from the account
// balance, without an invoice.
func (s *SessionBillingStore) MarkPaidDirect(ctx context.Context, tx Execer, billingID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE flight_session_billing
		SET billing_status = 'paid', updated_at = NOW()
		WHERE id = $1 AND billing_status = 'pending'
	`, billingID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SessionBillingStore) SetInstructorApproval(ctx context.Context, tx Execer, sessionID string, approved bool, at time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE flight_session_billing
		SET instructor_approved = $1, instructor_approved_at = $2, updated_at = NOW()
		WHERE flight_session_id = $3
	`, approved, nullableTime(approved, at), sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SessionBillingStore) SetStudentAcknowledgment(ctx context.Context, tx Execer, sessionID string, acknowledged bool, at time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE flight_session_billing
		SET student_acknowledged = $1, student_acknowledged_at = $2, updated_at = NOW()
		WHERE flight_session_id = $3
	`, acknowledged, nullableTime(acknowledged, at), sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullableTime(set bool, at time.Time) *time.Time {
	if !set {
		return nil
	}
	return &at
}
