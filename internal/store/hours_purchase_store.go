package store

import (
	"context"

	"flightledger/internal/models"
)

type HoursPurchaseStore struct {
	db DB
}

func NewHoursPurchaseStore(db DB) *HoursPurchaseStore {
	return &HoursPurchaseStore{db: db}
}

func (s *HoursPurchaseStore) Create(ctx context.Context, tx Execer, purchase models.HoursPurchase) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO hours_purchases (id, student_id, instructor_id, flight_hours, ground_hours, amount_paid, payment_method, processed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, purchase.ID, purchase.StudentID, purchase.InstructorID, purchase.FlightHours, purchase.GroundHours,
		purchase.AmountPaid, purchase.PaymentMethod, purchase.ProcessedBy)
	return err
}

func (s *HoursPurchaseStore) ListByAccount(ctx context.Context, studentID, instructorID string) ([]models.HoursPurchase, error) {
	var rows []models.HoursPurchase
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, student_id, instructor_id, flight_hours, ground_hours, amount_paid, payment_method, processed_by, created_at
		FROM hours_purchases
		WHERE student_id = $1 AND instructor_id = $2
		ORDER BY created_at DESC
	`, studentID, instructorID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
