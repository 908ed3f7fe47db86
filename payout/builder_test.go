package payout_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/payrun/money"
	"github.com/meridian/payrun/payout"
	"github.com/meridian/payrun/payroll"
)

// =============================================================================
// SALARY BATCHES
// =============================================================================

func TestCreateBatch_TotalEqualsSumOfLines(t *testing.T) {
	// GIVEN: three eligible employees with nets 100.00, 250.50, 49.50
	// WHEN: creating a salary batch for all eligible beneficiaries
	// THEN: the batch is PENDING with total 400.00 and three QUEUED lines

	e := newEnv(t, "500.00")
	batch, lines := createSalaryBatch(t, e)

	assert.Equal(t, payout.BatchPending, batch.Status)
	assert.True(t, batch.Total.Equal(amt("400.00")), "total = %s", batch.Total)
	require.Len(t, lines, 3)

	sum := money.Zero
	for _, line := range lines {
		assert.Equal(t, payout.LineQueued, line.Status)
		assert.Equal(t, batch.ID, line.BatchID)
		assert.Empty(t, line.TxnRef)
		sum = sum.Add(line.Amount)
	}
	assert.True(t, batch.Total.Equal(sum), "total %s != sum of lines %s", batch.Total, sum)
}

func TestCreateBatch_PersistsBatchAndLines(t *testing.T) {
	// GIVEN: a freshly created batch
	// WHEN: reading it back from the store
	// THEN: batch and all lines are present and identical

	e := newEnv(t, "500.00")
	batch, lines := createSalaryBatch(t, e)
	ctx := context.Background()

	stored, err := e.store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, stored.Total.Equal(batch.Total))

	storedLines, err := e.store.GetLines(ctx, batch.ID)
	require.NoError(t, err)
	assert.Len(t, storedLines, len(lines))

	pending, err := e.store.ListPendingBatches(ctx, testOrg)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, batch.ID, pending[0].ID)
}

func TestCreateBatch_MissingTemplate_AbortsWholeBatch(t *testing.T) {
	// GIVEN: an explicit beneficiary set where one employee has no template
	// WHEN: creating the batch
	// THEN: creation fails as a computation error and nothing is persisted

	e := newEnv(t, "500.00")
	e.bens.bens = append(e.bens.bens, payout.Beneficiary{
		ID: "emp-bare", OrgID: testOrg, Name: "No Template",
		Kind: payout.BeneficiaryEmployee, Active: true,
	})

	_, _, err := e.builder.Create(context.Background(), payout.CreateParams{
		OrgID:          testOrg,
		Kind:           payout.BatchSalary,
		Period:         june2025(),
		BeneficiaryIDs: []payout.BeneficiaryID{"emp-1", "emp-bare"},
		CreatedBy:      "maker",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, payout.ErrBatchComputation)
	assert.ErrorIs(t, err, payroll.ErrNoSalaryTemplate)

	var compErr *payout.ComputationError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, payout.BeneficiaryID("emp-bare"), compErr.BeneficiaryID)

	// No partial batch: the store holds nothing pending.
	pending, listErr := e.store.ListPendingBatches(context.Background(), testOrg)
	require.NoError(t, listErr)
	assert.Empty(t, pending, "a failed creation must not leave a partial batch")
}

func TestCreateBatch_EmptySelection(t *testing.T) {
	// GIVEN: an organization with no eligible beneficiaries
	// WHEN: creating a salary batch for all eligible
	// THEN: ErrEmptyBatch

	e := newEnv(t, "500.00")
	e.bens.bens = nil

	_, _, err := e.builder.Create(context.Background(), payout.CreateParams{
		OrgID:     testOrg,
		Kind:      payout.BatchSalary,
		Period:    june2025(),
		CreatedBy: "maker",
	})
	assert.ErrorIs(t, err, payout.ErrEmptyBatch)
}

func TestCreateBatch_UnapprovedOrganization(t *testing.T) {
	e := newEnv(t, "500.00")
	e.orgs.orgs[testOrg] = payout.Organization{ID: testOrg, Name: "Test Org", Approved: false}

	_, _, err := e.builder.Create(context.Background(), payout.CreateParams{
		OrgID:     testOrg,
		Kind:      payout.BatchSalary,
		Period:    june2025(),
		CreatedBy: "maker",
	})
	assert.ErrorIs(t, err, payout.ErrOrgNotApproved)
}

func TestCreateBatch_InactiveBeneficiaryRejected(t *testing.T) {
	// GIVEN: an explicitly named beneficiary who has been deactivated
	// WHEN: creating the batch
	// THEN: creation fails; deactivated people are never paid silently

	e := newEnv(t, "500.00")
	e.bens.bens[0].Active = false

	_, _, err := e.builder.Create(context.Background(), payout.CreateParams{
		OrgID:          testOrg,
		Kind:           payout.BatchSalary,
		Period:         june2025(),
		BeneficiaryIDs: []payout.BeneficiaryID{"emp-1"},
		CreatedBy:      "maker",
	})
	assert.ErrorIs(t, err, payout.ErrBatchComputation)
}

func TestCreateBatch_ForeignBeneficiaryRejected(t *testing.T) {
	e := newEnv(t, "500.00")
	e.bens.bens = append(e.bens.bens, payout.Beneficiary{
		ID: "emp-other", OrgID: "org-other", Name: "Outsider",
		Kind: payout.BeneficiaryEmployee, Active: true, Template: netTemplate("tx", "10.00"),
	})

	_, _, err := e.builder.Create(context.Background(), payout.CreateParams{
		OrgID:          testOrg,
		Kind:           payout.BatchSalary,
		Period:         june2025(),
		BeneficiaryIDs: []payout.BeneficiaryID{"emp-other"},
		CreatedBy:      "maker",
	})
	assert.ErrorIs(t, err, payout.ErrBeneficiaryNotFound)
}

func TestCreateBatch_OverrideChangesLineAmount(t *testing.T) {
	// GIVEN: emp-1 carries an override raising basic from 100.00 to 150.00
	// WHEN: creating a batch for emp-1 only
	// THEN: the line amount reflects the override

	e := newEnv(t, "500.00")
	higher := amt("150.00")
	e.bens.bens[0].Override = &payroll.Override{Basic: &higher}

	_, lines, err := e.builder.Create(context.Background(), payout.CreateParams{
		OrgID:          testOrg,
		Kind:           payout.BatchSalary,
		Period:         june2025(),
		BeneficiaryIDs: []payout.BeneficiaryID{"emp-1"},
		CreatedBy:      "maker",
	})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].Amount.Equal(amt("150.00")), "amount = %s", lines[0].Amount)
}

// =============================================================================
// VENDOR BATCHES
// =============================================================================

func TestCreateBatch_VendorFlatAmounts(t *testing.T) {
	// GIVEN: two active vendors with supplied flat amounts
	// WHEN: creating a vendor batch for all eligible
	// THEN: each line carries the flat amount; total is their sum

	e := newEnv(t, "500.00")
	batch, lines, err := e.builder.Create(context.Background(), payout.CreateParams{
		OrgID:  testOrg,
		Kind:   payout.BatchVendor,
		Period: june2025(),
		VendorAmounts: map[payout.BeneficiaryID]money.Amount{
			"ven-1": amt("75.25"),
			"ven-2": amt("24.75"),
		},
		CreatedBy: "maker",
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.True(t, batch.Total.Equal(amt("100.00")), "total = %s", batch.Total)
	for _, line := range lines {
		assert.True(t, line.Breakdown.Flat, "vendor lines carry a flat breakdown")
		assert.True(t, line.Amount.Equal(line.Breakdown.Net))
	}
}

func TestCreateBatch_VendorMissingAmount(t *testing.T) {
	// GIVEN: a vendor batch where one vendor has no supplied amount
	// WHEN: creating it
	// THEN: the whole batch aborts

	e := newEnv(t, "500.00")
	_, _, err := e.builder.Create(context.Background(), payout.CreateParams{
		OrgID:  testOrg,
		Kind:   payout.BatchVendor,
		Period: june2025(),
		VendorAmounts: map[payout.BeneficiaryID]money.Amount{
			"ven-1": amt("75.25"),
		},
		CreatedBy: "maker",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, payout.ErrBatchComputation)

	pending, listErr := e.store.ListPendingBatches(context.Background(), testOrg)
	require.NoError(t, listErr)
	assert.Empty(t, pending)
}

func TestCreateBatch_UnknownKind(t *testing.T) {
	e := newEnv(t, "500.00")
	_, _, err := e.builder.Create(context.Background(), payout.CreateParams{
		OrgID:     testOrg,
		Kind:      "bonus",
		Period:    june2025(),
		CreatedBy: "maker",
	})
	assert.Error(t, err)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func TestCreateBatch_EmitsCreatedEvent(t *testing.T) {
	e := newEnv(t, "500.00")
	batch, _ := createSalaryBatch(t, e)

	created := e.notifier.ofType(payout.EventBatchCreated)
	require.Len(t, created, 1)
	assert.Equal(t, batch.ID, created[0].BatchID)
	assert.True(t, created[0].Amount.Equal(batch.Total))
}

func TestCreateBatch_NotifierFailureDoesNotFailCreation(t *testing.T) {
	// GIVEN: a notification gateway that always errors
	// WHEN: creating a batch
	// THEN: creation still succeeds; delivery is best-effort

	e := newEnv(t, "500.00")
	e.notifier.fail = true

	batch, _, err := e.builder.Create(context.Background(), payout.CreateParams{
		OrgID:     testOrg,
		Kind:      payout.BatchSalary,
		Period:    june2025(),
		CreatedBy: "maker",
	})
	require.NoError(t, err)
	assert.NotNil(t, batch)
}

func TestParsePeriod(t *testing.T) {
	p, err := payout.ParsePeriod("2025-06")
	require.NoError(t, err)
	assert.Equal(t, june2025(), p)
	assert.Equal(t, "2025-06", p.String())

	for _, bad := range []string{"", "june", "2025-13", "1200-01"} {
		_, err := payout.ParsePeriod(bad)
		assert.Error(t, err, "period %q should not parse", bad)
	}
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, payout.IsNotFound(payout.ErrBatchNotFound))
	assert.True(t, payout.IsValidation(payout.ErrEmptyBatch))
	assert.True(t, payout.IsValidation(&payout.ComputationError{BeneficiaryID: "b", Err: errors.New("x")}))
	assert.True(t, payout.IsConflict(&payout.InvalidStateError{BatchID: "b", Current: payout.BatchApproved, Want: payout.BatchPending}))
	assert.True(t, payout.IsRetryable(payout.ErrConcurrentModification))
	assert.False(t, payout.IsConflict(payout.ErrEmptyBatch))
}
