/*
errors.go - Centralized error types for the payout engine

CATEGORIES:
  1. Validation  - caller errors, fail fast before any mutation
  2. Not-found   - unknown batch/account/beneficiary/organization
  3. Conflict    - state-machine preconditions that did not hold
  4. Retryable   - optimistic lock conflicts; safe to retry

Insufficient funds at approval time is deliberately NOT in this file's
taxonomy of API errors: it is a defined outcome of the approval state machine
(see ReviewOutcome in review.go). InsufficientFundsError exists so the
Ledger can report the shortfall to the workflow, which converts it into an
auto-rejection rather than propagating it.
*/
package payout

import (
	"errors"
	"fmt"

	"github.com/meridian/payrun/money"
	"github.com/meridian/payrun/payroll"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrBatchNotFound is returned for an unknown batch id.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrAccountNotFound is returned for an unknown funding account id.
	ErrAccountNotFound = errors.New("funding account not found")

	// ErrBeneficiaryNotFound is returned for an unknown beneficiary id.
	ErrBeneficiaryNotFound = errors.New("beneficiary not found")

	// ErrOrgNotFound is returned for an unknown organization id.
	ErrOrgNotFound = errors.New("organization not found")

	// ErrLineNotFound is returned for an unknown batch line id.
	ErrLineNotFound = errors.New("batch line not found")

	// ErrOrgNotApproved is returned when creating a batch for an organization
	// that has not been approved by the bank-side admin.
	ErrOrgNotApproved = errors.New("organization is not approved")

	// ErrEmptyBatch is returned when the resolved beneficiary set is empty.
	ErrEmptyBatch = errors.New("batch has no beneficiaries")

	// ErrNoVerifiedAccount is returned when an organization has no single
	// VERIFIED funding account to debit.
	ErrNoVerifiedAccount = errors.New("no verified funding account")

	// ErrReasonRequired is returned when rejecting a batch without a reason.
	ErrReasonRequired = errors.New("rejection reason is required")

	// ErrInvalidState is the base of InvalidStateError.
	ErrInvalidState = errors.New("invalid batch state")

	// ErrLineAlreadyPaid is returned when marking a line PAID a second time.
	ErrLineAlreadyPaid = errors.New("line already paid")

	// ErrDuplicatePayment is returned when a second payment record is
	// created for the same line.
	ErrDuplicatePayment = errors.New("payment record already exists for line")

	// ErrInsufficientFunds is the base of InsufficientFundsError.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConcurrentModification is returned when the account version token
	// changed between read and write. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrBatchComputation is the base of ComputationError.
	ErrBatchComputation = errors.New("batch computation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidStateError reports a state-machine precondition failure.
type InvalidStateError struct {
	BatchID BatchID
	Current BatchStatus
	Want    BatchStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("batch %s is %s, only %s batches can be %s",
		e.BatchID, e.Current, e.Want, verbFor(e.Want))
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

func verbFor(want BatchStatus) string {
	if want == BatchApproved {
		return "executed"
	}
	return "reviewed"
}

// InsufficientFundsError reports the shortfall detected by a debit attempt.
type InsufficientFundsError struct {
	AccountID AccountID
	Required  money.Amount
	Available money.Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s, available %s",
		e.Required, e.Available)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// Reason renders the system-generated rejection reason recorded on the batch.
func (e *InsufficientFundsError) Reason() string {
	return fmt.Sprintf("Insufficient balance: required %s, available %s",
		e.Required, e.Available)
}

// ComputationError names the beneficiary whose amount could not be computed.
// Any such failure aborts the whole batch; no partial batch persists.
type ComputationError struct {
	BeneficiaryID BeneficiaryID
	Err           error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("cannot compute amount for beneficiary %s: %v", e.BeneficiaryID, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

func (e *ComputationError) Is(target error) bool { return target == ErrBatchComputation }

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// IsNotFound reports whether the error names a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBatchNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrBeneficiaryNotFound) ||
		errors.Is(err, ErrOrgNotFound) ||
		errors.Is(err, ErrLineNotFound)
}

// IsValidation reports whether the error is caller input that fails fast
// before any mutation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyBatch) ||
		errors.Is(err, ErrReasonRequired) ||
		errors.Is(err, ErrOrgNotApproved) ||
		errors.Is(err, ErrNoVerifiedAccount) ||
		errors.Is(err, ErrBatchComputation) ||
		errors.Is(err, payroll.ErrNoSalaryTemplate) ||
		errors.Is(err, payroll.ErrNegativeAmount) ||
		errors.Is(err, payroll.ErrInvalidAmount)
}

// IsConflict reports whether the error is a state conflict the caller may
// retry after inspecting current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrLineAlreadyPaid) ||
		errors.Is(err, ErrDuplicatePayment)
}

// IsRetryable reports whether the operation might succeed if retried as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
