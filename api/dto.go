// dto.go - JSON request/response shapes and domain conversions.
package api

import (
	"time"

	"github.com/meridian/payrun/money"
	"github.com/meridian/payrun/payout"
	"github.com/meridian/payrun/payroll"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CreateBatchRequest creates a batch for the org in the URL.
// Empty beneficiary_ids means "all eligible".
type CreateBatchRequest struct {
	Kind           string            `json:"kind"`   // "salary" | "vendor"
	Period         string            `json:"period"` // "YYYY-MM"
	BeneficiaryIDs []string          `json:"beneficiary_ids,omitempty"`
	VendorAmounts  map[string]string `json:"vendor_amounts,omitempty"`
	CreatedBy      string            `json:"created_by"`
}

// ReviewRequest decides a pending batch.
type ReviewRequest struct {
	Approve  bool   `json:"approve"`
	Reviewer string `json:"reviewer"`
	Reason   string `json:"reason,omitempty"`
}

// CreditRequest funds an account.
type CreditRequest struct {
	Amount string `json:"amount"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type BatchDTO struct {
	ID              string       `json:"id"`
	OrgID           string       `json:"org_id"`
	Kind            string       `json:"kind"`
	Period          string       `json:"period"`
	Total           money.Amount `json:"total"`
	Status          string       `json:"status"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
	CreatedBy       string       `json:"created_by,omitempty"`
	Reviewer        string       `json:"reviewer,omitempty"`
	CreatedAt       string       `json:"created_at"`
	ReviewedAt      string       `json:"reviewed_at,omitempty"`
	Lines           []LineDTO    `json:"lines,omitempty"`
}

type LineDTO struct {
	ID              string            `json:"id"`
	BeneficiaryID   string            `json:"beneficiary_id"`
	BeneficiaryName string            `json:"beneficiary_name,omitempty"`
	Amount          money.Amount      `json:"amount"`
	Status          string            `json:"status"`
	TxnRef          string            `json:"txn_ref,omitempty"`
	ProcessedAt     string            `json:"processed_at,omitempty"`
	Breakdown       payroll.Breakdown `json:"breakdown"`
}

type ReviewResponseDTO struct {
	Decision   string       `json:"decision"`
	Reason     string       `json:"reason,omitempty"`
	NewBalance money.Amount `json:"new_balance,omitempty"`
}

type AccountDTO struct {
	ID           string       `json:"id"`
	HolderID     string       `json:"holder_id"`
	Balance      money.Amount `json:"balance"`
	Verification string       `json:"verification"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toBatchDTO(b *payout.Batch, lines []payout.BatchLine) BatchDTO {
	dto := BatchDTO{
		ID:              string(b.ID),
		OrgID:           string(b.OrgID),
		Kind:            string(b.Kind),
		Period:          b.Period.String(),
		Total:           b.Total,
		Status:          string(b.Status),
		RejectionReason: b.RejectionReason,
		CreatedBy:       b.CreatedBy,
		Reviewer:        b.Reviewer,
		CreatedAt:       b.CreatedAt.Format(time.RFC3339),
	}
	if b.ReviewedAt != nil {
		dto.ReviewedAt = b.ReviewedAt.Format(time.RFC3339)
	}
	for _, line := range lines {
		dto.Lines = append(dto.Lines, toLineDTO(line))
	}
	return dto
}

func toLineDTO(line payout.BatchLine) LineDTO {
	dto := LineDTO{
		ID:              string(line.ID),
		BeneficiaryID:   string(line.BeneficiaryID),
		BeneficiaryName: line.BeneficiaryName,
		Amount:          line.Amount,
		Status:          string(line.Status),
		TxnRef:          line.TxnRef,
		Breakdown:       line.Breakdown,
	}
	if line.ProcessedAt != nil {
		dto.ProcessedAt = line.ProcessedAt.Format(time.RFC3339)
	}
	return dto
}

func toAccountDTO(acc *payout.FundingAccount) AccountDTO {
	return AccountDTO{
		ID:           string(acc.ID),
		HolderID:     string(acc.HolderID),
		Balance:      acc.Balance,
		Verification: string(acc.Verification),
	}
}
