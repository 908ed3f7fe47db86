/*
Package payroll derives payable amounts for batch lines.

PURPOSE:
  A salary beneficiary is paid from a template (basic, HRA, allowances,
  deductions) with optional per-field overrides. A vendor beneficiary is paid
  a flat caller-supplied amount. Either way the result is a frozen Breakdown:
  the component snapshot that later becomes the payment record.

COMPUTATION:
  net = (override.basic  ?? template.basic)
      + (override.hra    ?? template.hra)
      + (override.allow  ?? template.allowances)
      - (override.deduct ?? template.deductions)

  Each component is rounded (banker's, 2dp) as it is resolved; the net is the
  exact sum of the rounded components and is never re-derived afterwards.
*/
package payroll

import (
	"errors"
	"fmt"

	"github.com/meridian/payrun/money"
)

var (
	// ErrNoSalaryTemplate is returned when a salary beneficiary has no
	// template assigned. This is a configuration error, not a payroll outcome.
	ErrNoSalaryTemplate = errors.New("no salary template assigned")

	// ErrNegativeAmount is returned when overrides push the computed net
	// below zero.
	ErrNegativeAmount = errors.New("computed net amount is negative")

	// ErrInvalidAmount is returned for vendor amounts that are not
	// strictly positive.
	ErrInvalidAmount = errors.New("amount must be greater than zero")
)

// SalaryTemplate is the per-role pay structure assigned to an employee.
type SalaryTemplate struct {
	ID         string
	Name       string
	Basic      money.Amount
	HRA        money.Amount
	Allowances money.Amount
	Deductions money.Amount
}

// Override replaces individual template fields for one employee.
// Nil fields fall back to the template.
type Override struct {
	Basic      *money.Amount
	HRA        *money.Amount
	Allowances *money.Amount
	Deductions *money.Amount
}

// Breakdown is the frozen component snapshot for one payment. For vendor
// payments only Net is set and Flat is true.
type Breakdown struct {
	Basic      money.Amount `json:"basic"`
	HRA        money.Amount `json:"hra"`
	Allowances money.Amount `json:"allowances"`
	Deductions money.Amount `json:"deductions"`
	Net        money.Amount `json:"net"`
	Flat       bool         `json:"flat,omitempty"`
}

// Compute resolves a salary beneficiary's breakdown from template plus
// overrides. The returned breakdown is final: callers persist it as-is.
func Compute(tmpl *SalaryTemplate, ov *Override) (Breakdown, error) {
	if tmpl == nil {
		return Breakdown{}, ErrNoSalaryTemplate
	}

	b := Breakdown{
		Basic:      resolve(tmpl.Basic, nil),
		HRA:        resolve(tmpl.HRA, nil),
		Allowances: resolve(tmpl.Allowances, nil),
		Deductions: resolve(tmpl.Deductions, nil),
	}
	if ov != nil {
		b.Basic = resolve(tmpl.Basic, ov.Basic)
		b.HRA = resolve(tmpl.HRA, ov.HRA)
		b.Allowances = resolve(tmpl.Allowances, ov.Allowances)
		b.Deductions = resolve(tmpl.Deductions, ov.Deductions)
	}

	b.Net = b.Basic.Add(b.HRA).Add(b.Allowances).Sub(b.Deductions)
	if b.Net.IsNegative() {
		return Breakdown{}, fmt.Errorf("%w: %s", ErrNegativeAmount, b.Net)
	}
	return b, nil
}

// FlatBreakdown wraps a caller-supplied vendor amount. The amount must be
// strictly positive.
func FlatBreakdown(amount money.Amount) (Breakdown, error) {
	if !amount.IsPositive() {
		return Breakdown{}, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return Breakdown{Net: amount, Flat: true}, nil
}

func resolve(base money.Amount, override *money.Amount) money.Amount {
	if override != nil {
		return *override
	}
	return base
}
