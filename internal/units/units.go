// Package units converts between fixed-point decimal strings and integer
// amounts in a chain's smallest unit. It never goes through floating point.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// SpendLimitScale is the fractional precision of a stored spend limit.
	SpendLimitScale = 8
	// SpendLimitIntegerDigits bounds the integer part of a spend limit so it
	// fits DECIMAL(20,8).
	SpendLimitIntegerDigits = 12
)

var (
	ErrSyntax    = errors.New("units: not a plain decimal number")
	ErrNegative  = errors.New("units: amount must not be negative")
	ErrPrecision = errors.New("units: more fractional digits than the unit supports")
	ErrRange     = errors.New("units: value out of range")
)

// Parse converts a decimal such as "1.25" into base units with the given
// number of decimals, e.g. Parse("1.25", 9) == 1250000000. Signs, exponents
// and separators are rejected, as is any fraction finer than one base unit.
func Parse(value string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("units: negative decimals %d", decimals)
	}
	intPart, fracPart, err := split(value)
	if err != nil {
		return nil, err
	}
	fracPart = strings.TrimRight(fracPart, "0")
	if len(fracPart) > decimals {
		return nil, ErrPrecision
	}

	digits := intPart + fracPart + strings.Repeat("0", decimals-len(fracPart))
	if digits == "" {
		digits = "0"
	}
	out, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, ErrSyntax
	}
	return out, nil
}

func split(value string) (string, string, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return "", "", ErrSyntax
	}
	if s[0] == '-' {
		return "", "", ErrNegative
	}
	intPart, fracPart, hasDot := strings.Cut(s, ".")
	if hasDot && fracPart == "" && intPart == "" {
		return "", "", ErrSyntax
	}
	if !allDigits(intPart) || !allDigits(fracPart) {
		return "", "", ErrSyntax
	}
	if intPart == "" && fracPart == "" {
		return "", "", ErrSyntax
	}
	intPart = strings.TrimLeft(intPart, "0")
	return intPart, fracPart, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Format renders base units as a decimal string without trailing zeros.
func Format(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	neg := amount.Sign() < 0
	digits := new(big.Int).Abs(amount).String()
	if decimals > 0 {
		if len(digits) <= decimals {
			digits = strings.Repeat("0", decimals-len(digits)+1) + digits
		}
		cut := len(digits) - decimals
		intPart, fracPart := digits[:cut], strings.TrimRight(digits[cut:], "0")
		digits = intPart
		if fracPart != "" {
			digits += "." + fracPart
		}
	}
	if neg {
		return "-" + digits
	}
	return digits
}

// ValidateSpendLimit checks that value is a strictly positive decimal that
// fits DECIMAL(20,8) and returns its canonical form.
func ValidateSpendLimit(value string) (string, error) {
	scaled, err := Parse(value, SpendLimitScale)
	if err != nil {
		return "", err
	}
	if scaled.Sign() <= 0 {
		return "", fmt.Errorf("%w: spend limit must be greater than zero", ErrRange)
	}
	intPart, _, _ := split(value)
	if len(intPart) > SpendLimitIntegerDigits {
		return "", fmt.Errorf("%w: at most %d integer digits", ErrRange, SpendLimitIntegerDigits)
	}
	return Format(scaled, SpendLimitScale), nil
}
