/*
directory.go - Organization/beneficiary lookups backed by the same database

The engine consumes these through the narrow payout.OrgDirectory and
payout.BeneficiaryDirectory interfaces; the create methods exist so the
server binary and the seeder can populate a working directory. Full
organization and employee management is another service's job.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridian/payrun/payout"
	"github.com/meridian/payrun/payroll"
)

// =============================================================================
// ORGANIZATIONS
// =============================================================================

func (s *Store) CreateOrganization(ctx context.Context, org *payout.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, approved, created_at)
		VALUES (?, ?, ?, ?)`,
		org.ID, org.Name, boolInt(org.Approved), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

func (s *Store) GetOrganization(ctx context.Context, id payout.OrgID) (*payout.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		org      payout.Organization
		approved int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, approved FROM organizations WHERE id = ?`, id,
	).Scan(&org.ID, &org.Name, &approved)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", payout.ErrOrgNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	org.Approved = approved != 0
	return &org, nil
}

// SetOrganizationApproved records the bank-side admin's decision.
func (s *Store) SetOrganizationApproved(ctx context.Context, id payout.OrgID, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET approved = ? WHERE id = ?`, boolInt(approved), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", payout.ErrOrgNotFound, id)
	}
	return nil
}

// =============================================================================
// BENEFICIARIES
// =============================================================================

func (s *Store) CreateBeneficiary(ctx context.Context, ben *payout.Beneficiary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	templateJSON, err := marshalNullable(ben.Template)
	if err != nil {
		return err
	}
	overrideJSON, err := marshalNullable(ben.Override)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO beneficiaries (id, org_id, name, kind, active, template_json, override_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ben.ID, ben.OrgID, ben.Name, ben.Kind, boolInt(ben.Active),
		templateJSON, overrideJSON, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create beneficiary: %w", err)
	}
	return nil
}

func (s *Store) GetBeneficiary(ctx context.Context, id payout.BeneficiaryID) (*payout.Beneficiary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, kind, active, template_json, override_json
		FROM beneficiaries WHERE id = ?`, id)

	ben, err := scanBeneficiary(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", payout.ErrBeneficiaryNotFound, id)
	}
	return ben, err
}

// ListEligible returns active employees with an assigned template for salary
// batches, or all active vendors for vendor batches.
func (s *Store) ListEligible(ctx context.Context, org payout.OrgID, kind payout.BatchKind) ([]payout.Beneficiary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	benKind := payout.BeneficiaryEmployee
	templateFilter := ` AND template_json IS NOT NULL`
	if kind == payout.BatchVendor {
		benKind = payout.BeneficiaryVendor
		templateFilter = ``
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, name, kind, active, template_json, override_json
		FROM beneficiaries
		WHERE org_id = ? AND kind = ? AND active = 1`+templateFilter+`
		ORDER BY created_at ASC, id ASC`, org, benKind)
	if err != nil {
		return nil, fmt.Errorf("failed to list beneficiaries: %w", err)
	}
	defer rows.Close()

	var out []payout.Beneficiary
	for rows.Next() {
		ben, err := scanBeneficiary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ben)
	}
	return out, rows.Err()
}

func scanBeneficiary(row scanner) (*payout.Beneficiary, error) {
	var (
		ben          payout.Beneficiary
		active       int
		templateJSON sql.NullString
		overrideJSON sql.NullString
	)
	if err := row.Scan(&ben.ID, &ben.OrgID, &ben.Name, &ben.Kind, &active, &templateJSON, &overrideJSON); err != nil {
		return nil, err
	}
	ben.Active = active != 0

	if templateJSON.Valid && templateJSON.String != "" {
		var tmpl payroll.SalaryTemplate
		if err := json.Unmarshal([]byte(templateJSON.String), &tmpl); err != nil {
			return nil, fmt.Errorf("corrupt template for beneficiary %s: %w", ben.ID, err)
		}
		ben.Template = &tmpl
	}
	if overrideJSON.Valid && overrideJSON.String != "" {
		var ov payroll.Override
		if err := json.Unmarshal([]byte(overrideJSON.String), &ov); err != nil {
			return nil, fmt.Errorf("corrupt override for beneficiary %s: %w", ben.ID, err)
		}
		ben.Override = &ov
	}
	return &ben, nil
}

func marshalNullable(v any) (any, error) {
	switch val := v.(type) {
	case *payroll.SalaryTemplate:
		if val == nil {
			return nil, nil
		}
	case *payroll.Override:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
