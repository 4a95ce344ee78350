package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// The checks below never touch state. Mutators run them before anything is
// written.

// NonNegative fails INVALID_ARGUMENT when x < 0.
func NonNegative(field string, x decimal.Decimal) error {
	if x.IsNegative() {
		return InvalidArgument("%s must be a non-negative number, got %s", field, x.String())
	}
	return nil
}

// Positive fails INVALID_ARGUMENT unless x > 0.
func Positive(field string, x decimal.Decimal) error {
	if !x.IsPositive() {
		return InvalidArgument("%s must be greater than zero, got %s", field, x.String())
	}
	return nil
}

// NonEmpty fails INVALID_ARGUMENT when s is blank.
func NonEmpty(field, s string) error {
	if strings.TrimSpace(s) == "" {
		return InvalidArgument("%s must not be empty", field)
	}
	return nil
}

// WithinBudget fails CONSTRAINT_VIOLATION when spent > budget or spent < 0.
func WithinBudget(spent, budget decimal.Decimal) error {
	if spent.IsNegative() {
		return ConstraintViolation("spent cannot be negative, got %s", spent.String())
	}
	if spent.GreaterThan(budget) {
		return ConstraintViolation("spent (%s) cannot exceed budget (%s)", spent.String(), budget.String())
	}
	return nil
}

// SufficientFunds fails INSUFFICIENT_FUNDS when available < amount.
func SufficientFunds(available, amount decimal.Decimal) error {
	if available.LessThan(amount) {
		return newError(ErrInsufficientFunds, "available %s is less than requested %s", available.String(), amount.String())
	}
	return nil
}
