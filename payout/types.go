/*
Package payout implements the batch money-movement engine: building payment
batches, the approve/reject workflow that debits the funding account, and the
idempotent execution step that settles each line exactly once.

DESIGN:
  Entities reference each other by id only - no live object graphs. A Batch
  owns its BatchLines (created together, atomically); a PaymentRecord belongs
  to exactly one line and is never mutated after creation. The funding account
  balance is the only mutable shared state and is written solely by the
  Ledger.

STATE MACHINES:
  Batch: PENDING -> APPROVED | REJECTED, APPROVED -> COMPLETED. Monotonic;
  every transition is guarded by a precondition on the prior state that is
  consumed in the same storage transaction as the write.

  Line: QUEUED -> PAID, at most once. FAILED is reserved for lines an
  operator has manually voided; the engine itself leaves a line QUEUED when
  settlement hits a transient fault so a later run can finish it.

SEE ALSO:
  - builder.go:  batch assembly and total freezing
  - review.go:   approval workflow and debit-at-approval
  - executor.go: idempotent settlement
  - ledger.go:   funding account debits
*/
package payout

import (
	"fmt"
	"time"

	"github.com/meridian/payrun/money"
	"github.com/meridian/payrun/payroll"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	OrgID         string
	AccountID     string
	BeneficiaryID string
	BatchID       string
	LineID        string
	PaymentID     string
)

// =============================================================================
// STATUSES
// =============================================================================

type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchApproved  BatchStatus = "approved"
	BatchRejected  BatchStatus = "rejected"
	BatchCompleted BatchStatus = "completed"
)

type LineStatus string

const (
	LineQueued LineStatus = "queued"
	LinePaid   LineStatus = "paid"
	LineFailed LineStatus = "failed"
)

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

type BatchKind string

const (
	BatchSalary BatchKind = "salary"
	BatchVendor BatchKind = "vendor"
)

type BeneficiaryKind string

const (
	BeneficiaryEmployee BeneficiaryKind = "employee"
	BeneficiaryVendor   BeneficiaryKind = "vendor"
)

// =============================================================================
// PERIOD - One logical pay period (salary month / vendor payment month)
// =============================================================================

type Period struct {
	Year  int
	Month time.Month
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

// ParsePeriod parses "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	var year, month int
	if _, err := fmt.Sscanf(s, "%d-%d", &year, &month); err != nil {
		return Period{}, fmt.Errorf("invalid period %q (want YYYY-MM): %w", s, err)
	}
	if year < 1900 || month < 1 || month > 12 {
		return Period{}, fmt.Errorf("invalid period %q (want YYYY-MM)", s)
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

// =============================================================================
// FUNDING ACCOUNT
// =============================================================================

// FundingAccount is a bank account holding the funds a batch is paid from.
// Balance is written only by the Ledger; Version is the optimistic lock token
// bumped on every balance write.
type FundingAccount struct {
	ID           AccountID
	HolderID     OrgID
	Balance      money.Amount
	Verification VerificationStatus
	Version      int64
	CreatedAt    time.Time
}

// Usable reports whether the account may fund batches. KYC review happens
// elsewhere; this core only consults the outcome.
func (a *FundingAccount) Usable() bool {
	return a.Verification == VerificationVerified
}

// =============================================================================
// BENEFICIARY
// =============================================================================

// Beneficiary is the destination of one batch line: an employee paid from a
// salary template (plus optional overrides) or a vendor paid a flat amount.
type Beneficiary struct {
	ID       BeneficiaryID
	OrgID    OrgID
	Name     string
	Kind     BeneficiaryKind
	Active   bool
	Template *payroll.SalaryTemplate
	Override *payroll.Override
}

// =============================================================================
// BATCH + LINES
// =============================================================================

// Batch groups N beneficiary lines for one organization and one period.
// Total is frozen at creation and always equals the sum of line amounts.
type Batch struct {
	ID              BatchID
	OrgID           OrgID
	Kind            BatchKind
	Period          Period
	Total           money.Amount
	Status          BatchStatus
	RejectionReason string
	CreatedBy       string
	Reviewer        string
	CreatedAt       time.Time
	ReviewedAt      *time.Time
}

// BatchLine is one beneficiary's entry. Amount and Breakdown are fixed at
// creation; TxnRef is set exactly once, the first time the line is settled.
type BatchLine struct {
	ID              LineID
	BatchID         BatchID
	BeneficiaryID   BeneficiaryID
	BeneficiaryName string
	Amount          money.Amount
	Breakdown       payroll.Breakdown
	Status          LineStatus
	TxnRef          string
	ProcessedAt     *time.Time
}

// =============================================================================
// PAYMENT RECORD - Immutable proof-of-payment snapshot (payslip)
// =============================================================================

// PaymentRecord is created exactly once per line, atomically with the line
// turning PAID. It freezes the component breakdown so the amounts stay
// provable even if the template or overrides change later.
type PaymentRecord struct {
	ID            PaymentID
	BatchID       BatchID
	LineID        LineID
	BeneficiaryID BeneficiaryID
	Breakdown     payroll.Breakdown
	Net           money.Amount
	TxnRef        string
	GeneratedAt   time.Time
}

// =============================================================================
// EXECUTION SUMMARY
// =============================================================================

// ExecutionSummary is the result of one Execute run over a batch.
type ExecutionSummary struct {
	TotalLines   int         `json:"total_lines"`
	PaidLines    int         `json:"paid_lines"`
	SkippedLines int         `json:"skipped_lines"`
	BatchStatus  BatchStatus `json:"batch_status"`
}
