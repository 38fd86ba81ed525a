package handlers

import (
	"time"

	"flightledger/internal/money"
	"flightledger/internal/validator"

	"github.com/shopspring/decimal"
)

// The helpers below run after struct validation, so parse errors only
// surface for values the validator did not see.

func parseMinor(raw string) int64 {
	if raw == "" {
		return 0
	}
	amount, _ := money.ParseMinor(raw)
	return amount
}

func parseMinorPtr(raw *string) *int64 {
	if raw == nil {
		return nil
	}
	amount := parseMinor(*raw)
	return &amount
}

func parseHours(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	hours, err := money.ParseHours(raw)
	if err != nil {
		return decimal.Zero
	}
	return hours
}

func parseDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	date, err := time.Parse(validator.DateLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return date
}

func parseDatePtr(raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	date := parseDate(*raw)
	return &date
}
