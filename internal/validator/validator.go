package validator

import (
	"errors"
	"reflect"
	"sort"
	"strings"
	"time"

	"flightledger/internal/money"

	playground "github.com/go-playground/validator/v10"
)

const DateLayout = "2006-01-02"

// FieldErrors maps a JSON field name to the rule it failed.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	fields := make([]string, 0, len(e))
	for field, rule := range e {
		fields = append(fields, field+": "+rule)
	}
	sort.Strings(fields)
	return "invalid fields: " + strings.Join(fields, ", ")
}

// Validator checks request payloads. Besides the stock rules it knows
// money (a non-negative amount with at most two decimals), positive_money,
// hours and date (YYYY-MM-DD).
type Validator struct {
	validate *playground.Validate
}

func New() *Validator {
	v := playground.New(playground.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("money", func(fl playground.FieldLevel) bool {
		amount, err := money.ParseMinor(fl.Field().String())
		return err == nil && amount >= 0
	})
	_ = v.RegisterValidation("positive_money", func(fl playground.FieldLevel) bool {
		amount, err := money.ParseMinor(fl.Field().String())
		return err == nil && amount > 0
	})
	_ = v.RegisterValidation("hours", func(fl playground.FieldLevel) bool {
		_, err := money.ParseHours(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("date", func(fl playground.FieldLevel) bool {
		_, err := time.Parse(DateLayout, fl.Field().String())
		return err == nil
	})
	return &Validator{validate: v}
}

// Struct validates payload and reports failures as FieldErrors.
func (v *Validator) Struct(payload any) error {
	err := v.validate.Struct(payload)
	if err == nil {
		return nil
	}
	var validationErrs playground.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}
	fields := make(FieldErrors, len(validationErrs))
	for _, fieldErr := range validationErrs {
		fields[fieldErr.Field()] = fieldErr.Tag()
	}
	return fields
}
