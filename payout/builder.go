/*
builder.go - Batch assembly

PURPOSE:
  Builds a salary-disbursal or vendor-payment batch: resolves the beneficiary
  set, computes every line amount, freezes total = sum of line amounts, and
  persists batch + lines in one transaction, status PENDING.

ALL-OR-NOTHING:
  Any single beneficiary whose amount cannot be computed (missing template,
  negative net, missing vendor amount) aborts the whole batch before anything
  is written. There are no partial batches.
*/
package payout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian/payrun/metrics"
	"github.com/meridian/payrun/money"
	"github.com/meridian/payrun/payroll"
)

// CreateParams describes the batch to build.
type CreateParams struct {
	OrgID  OrgID
	Kind   BatchKind
	Period Period

	// BeneficiaryIDs selects the lines. Empty means "all eligible":
	// active employees with an assigned template, or all active vendors.
	BeneficiaryIDs []BeneficiaryID

	// VendorAmounts supplies the flat amount per vendor line. Required for
	// every vendor in a vendor batch; ignored for salary batches.
	VendorAmounts map[BeneficiaryID]money.Amount

	CreatedBy string
}

// Builder assembles batches.
type Builder struct {
	store    Store
	orgs     OrgDirectory
	bens     BeneficiaryDirectory
	notifier Notifier
	now      func() time.Time
}

func NewBuilder(store Store, orgs OrgDirectory, bens BeneficiaryDirectory, notifier Notifier) *Builder {
	return &Builder{
		store:    store,
		orgs:     orgs,
		bens:     bens,
		notifier: notifier,
		now:      time.Now,
	}
}

// Create builds and persists a PENDING batch. Returns the batch and its
// lines as written.
func (b *Builder) Create(ctx context.Context, p CreateParams) (*Batch, []BatchLine, error) {
	if p.Kind != BatchSalary && p.Kind != BatchVendor {
		return nil, nil, fmt.Errorf("unknown batch kind %q", p.Kind)
	}
	if p.Period.IsZero() {
		return nil, nil, fmt.Errorf("period is required")
	}

	org, err := b.orgs.GetOrganization(ctx, p.OrgID)
	if err != nil {
		return nil, nil, err
	}
	if !org.Approved {
		return nil, nil, fmt.Errorf("%w: %s", ErrOrgNotApproved, p.OrgID)
	}

	beneficiaries, err := b.resolveBeneficiaries(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	if len(beneficiaries) == 0 {
		return nil, nil, ErrEmptyBatch
	}

	batchID := BatchID("bat-" + uuid.NewString())
	now := b.now().UTC()

	lines := make([]BatchLine, 0, len(beneficiaries))
	total := money.Zero
	for _, ben := range beneficiaries {
		breakdown, err := b.computeLine(p, ben)
		if err != nil {
			return nil, nil, &ComputationError{BeneficiaryID: ben.ID, Err: err}
		}
		lines = append(lines, BatchLine{
			ID:              LineID("line-" + uuid.NewString()),
			BatchID:         batchID,
			BeneficiaryID:   ben.ID,
			BeneficiaryName: ben.Name,
			Amount:          breakdown.Net,
			Breakdown:       breakdown,
			Status:          LineQueued,
		})
		total = total.Add(breakdown.Net)
	}

	batch := &Batch{
		ID:        batchID,
		OrgID:     p.OrgID,
		Kind:      p.Kind,
		Period:    p.Period,
		Total:     total,
		Status:    BatchPending,
		CreatedBy: p.CreatedBy,
		CreatedAt: now,
	}

	if err := b.store.CreateBatch(ctx, batch, lines); err != nil {
		return nil, nil, fmt.Errorf("persist batch: %w", err)
	}

	slog.Info("batch created",
		"batch", batch.ID,
		"org", batch.OrgID,
		"kind", batch.Kind,
		"period", batch.Period,
		"lines", len(lines),
		"total", batch.Total,
	)
	metrics.BatchesCreated.WithLabelValues(string(p.Kind)).Inc()

	notifyBestEffort(ctx, b.notifier, Event{
		Type:    EventBatchCreated,
		OrgID:   batch.OrgID,
		BatchID: batch.ID,
		Amount:  batch.Total,
		At:      now,
	})

	return batch, lines, nil
}

// resolveBeneficiaries expands an empty id list to all eligible
// beneficiaries, or loads and screens the explicitly named ones.
func (b *Builder) resolveBeneficiaries(ctx context.Context, p CreateParams) ([]Beneficiary, error) {
	if len(p.BeneficiaryIDs) == 0 {
		return b.bens.ListEligible(ctx, p.OrgID, p.Kind)
	}

	out := make([]Beneficiary, 0, len(p.BeneficiaryIDs))
	for _, id := range p.BeneficiaryIDs {
		ben, err := b.bens.GetBeneficiary(ctx, id)
		if err != nil {
			return nil, err
		}
		if ben.OrgID != p.OrgID {
			return nil, fmt.Errorf("%w: %s does not belong to %s", ErrBeneficiaryNotFound, id, p.OrgID)
		}
		if !ben.Active {
			return nil, &ComputationError{BeneficiaryID: id, Err: fmt.Errorf("beneficiary is inactive")}
		}
		out = append(out, *ben)
	}
	return out, nil
}

func (b *Builder) computeLine(p CreateParams, ben Beneficiary) (payroll.Breakdown, error) {
	switch p.Kind {
	case BatchVendor:
		amount, ok := p.VendorAmounts[ben.ID]
		if !ok {
			return payroll.Breakdown{}, fmt.Errorf("%w: no amount supplied for vendor", payroll.ErrInvalidAmount)
		}
		return payroll.FlatBreakdown(amount)
	default:
		return payroll.Compute(ben.Template, ben.Override)
	}
}
