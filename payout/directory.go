// directory.go - Read-only collaborator interfaces.
//
// Organization and beneficiary management (CRUD, KYC, sessions) live outside
// this engine; the workflow only needs these narrow lookups.
package payout

import "context"

// Organization is the slice of organization state the engine consults.
type Organization struct {
	ID       OrgID
	Name     string
	Approved bool
}

// OrgDirectory resolves organizations. Returns ErrOrgNotFound for unknown ids.
type OrgDirectory interface {
	GetOrganization(ctx context.Context, id OrgID) (*Organization, error)
}

// BeneficiaryDirectory resolves batch destinations.
type BeneficiaryDirectory interface {
	// GetBeneficiary returns one beneficiary or ErrBeneficiaryNotFound.
	GetBeneficiary(ctx context.Context, id BeneficiaryID) (*Beneficiary, error)

	// ListEligible returns the organization's beneficiaries eligible for a
	// batch of the given kind: active employees with a salary template
	// assigned, or active vendors.
	ListEligible(ctx context.Context, org OrgID, kind BatchKind) ([]Beneficiary, error)
}
