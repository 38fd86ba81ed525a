package store

import (
	"context"

	"flightledger/internal/models"
)

type RateStore struct {
	db DB
}

func NewRateStore(db DB) *RateStore {
	return &RateStore{db: db}
}

const rateColumns = `id, student_id, instructor_id, flight_instruction_rate, ground_instruction_rate, effective_date, is_active, created_at`

// List returns the pair's rate history, newest effective date first.
func (s *RateStore) List(ctx context.Context, studentID, instructorID string, active *bool) ([]models.RateSchedule, error) {
	query := `SELECT ` + rateColumns + `
		FROM rate_schedules
		WHERE student_id = $1 AND instructor_id = $2`
	args := []any{studentID, instructorID}
	if active != nil {
		query += ` AND is_active = $3`
		args = append(args, *active)
	}
	query += ` ORDER BY effective_date DESC, created_at DESC`
	var rows []models.RateSchedule
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *RateStore) GetActive(ctx context.Context, q Getter, studentID, instructorID string) (models.RateSchedule, error) {
	var row models.RateSchedule
	err := orDB(q, s.db).GetContext(ctx, &row, `
		SELECT `+rateColumns+`
		FROM rate_schedules
		WHERE student_id = $1 AND instructor_id = $2 AND is_active = TRUE
		ORDER BY effective_date DESC
		LIMIT 1
	`, studentID, instructorID)
	if err != nil {
		return models.RateSchedule{}, err
	}
	return row, nil
}

func (s *RateStore) GetByID(ctx context.Context, q Getter, rateID string) (models.RateSchedule, error) {
	var row models.RateSchedule
	err := orDB(q, s.db).GetContext(ctx, &row, `SELECT `+rateColumns+` FROM rate_schedules WHERE id = $1`, rateID)
	if err != nil {
		return models.RateSchedule{}, err
	}
	return row, nil
}

func (s *RateStore) Create(ctx context.Context, tx Execer, rate models.RateSchedule) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rate_schedules (id, student_id, instructor_id, flight_instruction_rate, ground_instruction_rate, effective_date, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rate.ID, rate.StudentID, rate.InstructorID, rate.FlightInstructionRate, rate.GroundInstructionRate, rate.EffectiveDate, rate.IsActive)
	return err
}

func (s *RateStore) Update(ctx context.Context, tx Execer, rate models.RateSchedule) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE rate_schedules
		SET flight_instruction_rate = $1, ground_instruction_rate = $2, effective_date = $3, is_active = $4
		WHERE id = $5
	`, rate.FlightInstructionRate, rate.GroundInstructionRate, rate.EffectiveDate, rate.IsActive, rate.ID)
	return err
}

// DeactivateOthers supersedes every other active rate of the pair.
func (s *RateStore) DeactivateOthers(ctx context.Context, tx Execer, studentID, instructorID, keepID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE rate_schedules
		SET is_active = FALSE
		WHERE student_id = $1 AND instructor_id = $2 AND id <> $3 AND is_active = TRUE
	`, studentID, instructorID, keepID)
	return err
}
