// Package core provides the ledger domain types and their validation.
//
// This file contains helpers for parsing and rounding monetary amounts.
// Amounts are shopspring decimals; floats never touch a balance.
package core

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// AmountPlaces is the number of fractional digits kept for every amount.
const AmountPlaces = 2

// RoundAmount rounds d half away from zero to AmountPlaces digits.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountPlaces)
}

// ValidateAmount rejects zero and negative event amounts.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return Invalid("amount", ErrInvalidAmount)
	}
	return nil
}

// ParseAmount converts a user supplied decimal string to an amount rounded to
// AmountPlaces digits. Both dot (12.34) and comma (12,34) decimal separators
// are accepted, as is a leading minus sign. Exponents are rejected. Range
// checks are left to the entity's Validate.
//
// Examples:
//
//	ParseAmount("30000")   -> 30000
//	ParseAmount("12,345")  -> 12.35
//	ParseAmount("-250.5")  -> -250.5
func ParseAmount(s string) (decimal.Decimal, error) {
	return parseDecimal(s, true)
}

// Amount is a decimal read from request bodies. It decodes from a JSON number
// or a string; strings go through ParseAmount.
type Amount decimal.Decimal

// Decimal returns a as a decimal.Decimal.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.Decimal(a)
}

// DecimalPtr returns nil for a nil a.
func (a *Amount) DecimalPtr() *decimal.Decimal {
	if a == nil {
		return nil
	}
	d := a.Decimal()
	return &d
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return decimal.Decimal(a).MarshalJSON()
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return Invalid("amount", ErrInvalidAmount)
		}
		d, err := ParseAmount(s)
		if err != nil {
			return err
		}
		*a = Amount(d)
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return Invalid("amount", ErrInvalidAmount)
	}
	*a = Amount(RoundAmount(d))
	return nil
}

func parseDecimal(s string, signed bool) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	neg := false
	if signed && strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if s == "" {
		return decimal.Zero, Invalid("amount", ErrInvalidAmount)
	}
	s = strings.ReplaceAll(s, ",", ".")
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return decimal.Zero, Invalid("amount", ErrInvalidAmount)
	}
	for _, p := range parts {
		for _, r := range p {
			if !unicode.IsDigit(r) {
				return decimal.Zero, Invalid("amount", ErrInvalidAmount)
			}
		}
	}
	if parts[0] == "" {
		s = "0" + s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, Invalid("amount", ErrInvalidAmount)
	}
	if neg {
		d = d.Neg()
	}
	return RoundAmount(d), nil
}
