package money

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
	ErrInvalidHours    = errors.New("invalid hours")
)

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// ParseMinor parses a decimal money string such as "150.25" into minor
// units. Exponent notation and more than two decimals are rejected.
func ParseMinor(input string) (int64, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" || strings.ContainsAny(trimmed, "eE") {
		return 0, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if amount.Exponent() < -2 {
		return 0, ErrTooManyDecimals
	}
	minor := amount.Shift(2)
	if minor.Abs().GreaterThan(maxMinor) {
		return 0, ErrInvalidAmount
	}
	return minor.IntPart(), nil
}

func FormatMinor(value int64) string {
	return FromMinor(value).StringFixed(2)
}

// ParseHours parses a non-negative hour quantity with at most two decimals.
func ParseHours(input string) (decimal.Decimal, error) {
	hours, err := decimal.NewFromString(strings.TrimSpace(input))
	if err != nil {
		return decimal.Zero, ErrInvalidHours
	}
	if hours.IsNegative() || hours.Exponent() < -2 {
		return decimal.Zero, ErrInvalidHours
	}
	return hours, nil
}

// HoursCost prices hours at a per-hour rate given in minor units.
func HoursCost(hours decimal.Decimal, rateMinor int64) int64 {
	return hours.Mul(decimal.NewFromInt(rateMinor)).RoundBank(0).IntPart()
}

// RoundToUnit rounds an amount half-even to a multiple of unit minor units.
// A unit of 1 or less leaves the amount unchanged.
func RoundToUnit(amountMinor, unit int64) int64 {
	if unit <= 1 {
		return amountMinor
	}
	step := decimal.NewFromInt(unit)
	return decimal.NewFromInt(amountMinor).Div(step).RoundBank(0).Mul(step).IntPart()
}

// HoursFor converts a minor-unit amount into hours at rateMinor, rounded down
// to two decimals so the result never exceeds what the amount pays for.
func HoursFor(amountMinor, rateMinor int64) decimal.Decimal {
	if rateMinor <= 0 || amountMinor <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(amountMinor).Div(decimal.NewFromInt(rateMinor)).RoundDown(2)
}

// ToMinor converts a major-unit decimal (e.g. "150.25") to minor units.
func ToMinor(major decimal.Decimal) int64 {
	return major.Shift(2).RoundBank(0).IntPart()
}

// FromMinor converts minor units to a major-unit decimal.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
