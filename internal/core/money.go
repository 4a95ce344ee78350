// Package core holds the envelope ledger domain: entities, the error
// taxonomy, invariant checks and amount parsing.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	maxAmountLen      = 32
	minAmountExponent = -8
	maxAmountExponent = 15
)

// ParseAmount converts a user supplied string into a decimal amount.
//
// The decimal separator is a dot (12.34). A single comma followed by one or
// two digits is read as a decimal comma (12,34); any other comma, such as a
// thousands separator, is rejected. Values with a very large or very small
// exponent are rejected. Failures are INVALID_ARGUMENT. The sign is preserved
// so callers decide which range is valid.
func ParseAmount(field, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, InvalidArgument("%s is required", field)
	}
	if len(s) > maxAmountLen {
		return decimal.Zero, InvalidArgument("%s must be at most %d characters", field, maxAmountLen)
	}
	if strings.Contains(s, ",") {
		if !isDecimalComma(s) {
			return decimal.Zero, InvalidArgument("%s must be a number, got %q", field, s)
		}
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, InvalidArgument("%s must be a number, got %q", field, s)
	}
	if exp := d.Exponent(); exp < minAmountExponent || exp > maxAmountExponent {
		return decimal.Zero, InvalidArgument("%s is out of range, got %q", field, s)
	}
	return d, nil
}

// isDecimalComma reports whether s uses one comma as its decimal separator.
func isDecimalComma(s string) bool {
	if strings.Count(s, ",") != 1 || strings.ContainsAny(s, ".eE") {
		return false
	}
	frac := s[strings.Index(s, ",")+1:]
	if len(frac) < 1 || len(frac) > 2 {
		return false
	}
	for _, r := range frac {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
