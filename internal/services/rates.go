package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"flightledger/internal/models"
	"flightledger/internal/money"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// GetRates returns the pair's rate history, newest effective date first.
func (s *BillingService) GetRates(ctx context.Context, studentID, instructorID string, active *bool) ([]models.RateSchedule, error) {
	return s.rates.List(ctx, studentID, instructorID, active)
}

// GetCurrentRate returns the single active rate of the pair.
func (s *BillingService) GetCurrentRate(ctx context.Context, studentID, instructorID string) (models.RateSchedule, error) {
	return s.currentRate(ctx, nil, studentID, instructorID)
}

type CreateRateRequest struct {
	StudentID     string
	InstructorID  string
	FlightRate    int64
	GroundRate    int64
	EffectiveDate time.Time
	IsActive      bool
	ActorID       string
}

// CreateRate stores a new rate. An active rate supersedes the pair's current one.
func (s *BillingService) CreateRate(ctx context.Context, req CreateRateRequest) (models.RateSchedule, error) {
	if req.StudentID == "" || req.InstructorID == "" || req.FlightRate < 0 || req.GroundRate < 0 {
		return models.RateSchedule{}, ErrInvalidRate
	}
	effective := req.EffectiveDate
	if effective.IsZero() {
		effective = s.now().UTC()
	}
	rate := models.RateSchedule{
		ID:                    uuid.NewString(),
		StudentID:             req.StudentID,
		InstructorID:          req.InstructorID,
		FlightInstructionRate: req.FlightRate,
		GroundInstructionRate: req.GroundRate,
		EffectiveDate:         effective,
		IsActive:              req.IsActive,
	}
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if rate.IsActive {
			if err := s.rates.DeactivateOthers(ctx, tx, rate.StudentID, rate.InstructorID, rate.ID); err != nil {
				return err
			}
		}
		if err := s.rates.Create(ctx, tx, rate); err != nil {
			return err
		}
		return s.logAudit(ctx, tx, req.ActorID, "rate_created", "rate_schedule", rate.ID, map[string]any{
			"flight_instruction_rate": rate.FlightInstructionRate,
			"ground_instruction_rate": rate.GroundInstructionRate,
			"is_active":               rate.IsActive,
		})
	})
	if err != nil {
		return models.RateSchedule{}, err
	}
	rate.CreatedAt = s.now().UTC()
	return rate, nil
}

type RateUpdate struct {
	FlightRate    *int64
	GroundRate    *int64
	EffectiveDate *time.Time
	IsActive      *bool
}

func (s *BillingService) UpdateRate(ctx context.Context, rateID string, update RateUpdate, actorID string) (models.RateSchedule, error) {
	if (update.FlightRate != nil && *update.FlightRate < 0) || (update.GroundRate != nil && *update.GroundRate < 0) {
		return models.RateSchedule{}, ErrInvalidRate
	}
	var rate models.RateSchedule
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.rates.GetByID(ctx, tx, rateID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRateNotFound
		}
		if err != nil {
			return err
		}
		if update.FlightRate != nil {
			current.FlightInstructionRate = *update.FlightRate
		}
		if update.GroundRate != nil {
			current.GroundInstructionRate = *update.GroundRate
		}
		if update.EffectiveDate != nil {
			current.EffectiveDate = *update.EffectiveDate
		}
		if update.IsActive != nil {
			current.IsActive = *update.IsActive
		}
		if current.IsActive {
			if err := s.rates.DeactivateOthers(ctx, tx, current.StudentID, current.InstructorID, current.ID); err != nil {
				return err
			}
		}
		if err := s.rates.Update(ctx, tx, current); err != nil {
			return err
		}
		rate = current
		return s.logAudit(ctx, tx, actorID, "rate_updated", "rate_schedule", current.ID, map[string]any{
			"flight_instruction_rate": current.FlightInstructionRate,
			"ground_instruction_rate": current.GroundInstructionRate,
			"is_active":               current.IsActive,
		})
	})
	if err != nil {
		return models.RateSchedule{}, err
	}
	return rate, nil
}

// sessionCost prices flight and ground hours at the given rate, rounded to
// the processor's settlement unit.
func (s *BillingService) sessionCost(rate models.RateSchedule, flightHours, groundHours decimal.Decimal) (flight, ground int64) {
	flight = money.RoundToUnit(money.HoursCost(flightHours, rate.FlightInstructionRate), s.opts.SettlementUnit)
	ground = money.RoundToUnit(money.HoursCost(groundHours, rate.GroundInstructionRate), s.opts.SettlementUnit)
	return flight, ground
}
