/*
Package money provides exact decimal amounts for payroll arithmetic.

PURPOSE:
  Every balance, line amount and salary component in the system flows through
  this type. Amounts are backed by decimal.Decimal - never float64 - so that
  comparisons against account balances are exact.

ROUNDING:
  Monetary values are rounded to 2 decimal places with banker's rounding at
  the point they are computed (see payroll.Compute). Once rounded, an amount
  is frozen: Add and Sub stay exact and never re-derive or re-round.
*/
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a fixed-point monetary value. The zero value is 0.00.
type Amount struct {
	value decimal.Decimal
}

// Zero is the 0.00 amount.
var Zero = Amount{}

// New builds an Amount from a decimal, rounding to 2 places with banker's
// rounding. This is the only place rounding happens.
func New(d decimal.Decimal) Amount {
	return Amount{value: d.RoundBank(2)}
}

// FromString parses a decimal string such as "250.50".
func FromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return New(d), nil
}

// MustParse is FromString for literals in tests and seed data. Panics on
// malformed input.
func MustParse(s string) Amount {
	a, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromFloat converts a float64. Only for ingress boundaries (JSON, flags);
// internal code passes Amount through unchanged.
func FromFloat(f float64) Amount {
	return New(decimal.NewFromFloat(f))
}

func (a Amount) Add(b Amount) Amount { return Amount{value: a.value.Add(b.value)} }
func (a Amount) Sub(b Amount) Amount { return Amount{value: a.value.Sub(b.value)} }
func (a Amount) Neg() Amount         { return Amount{value: a.value.Neg()} }

func (a Amount) IsZero() bool     { return a.value.IsZero() }
func (a Amount) IsNegative() bool { return a.value.IsNegative() }
func (a Amount) IsPositive() bool { return a.value.IsPositive() }

func (a Amount) Equal(b Amount) bool       { return a.value.Equal(b.value) }
func (a Amount) LessThan(b Amount) bool    { return a.value.LessThan(b.value) }
func (a Amount) GreaterThan(b Amount) bool { return a.value.GreaterThan(b.value) }

// Decimal returns the underlying exact decimal value.
func (a Amount) Decimal() decimal.Decimal { return a.value }

// String renders with exactly two decimal places, e.g. "100.00".
func (a Amount) String() string { return a.value.StringFixed(2) }

// MarshalJSON encodes the amount as a JSON string to avoid float precision
// loss in clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := FromString(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Sum adds a slice of amounts.
func Sum(amounts ...Amount) Amount {
	total := Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
