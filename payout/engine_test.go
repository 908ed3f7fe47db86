package payout_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/meridian/payrun/money"
	"github.com/meridian/payrun/payout"
	"github.com/meridian/payrun/payout/store"
	"github.com/meridian/payrun/payroll"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func amt(s string) money.Amount {
	return money.MustParse(s)
}

// netTemplate builds a salary template whose computed net equals the given
// amount (everything in Basic, nothing else).
func netTemplate(id, net string) *payroll.SalaryTemplate {
	return &payroll.SalaryTemplate{
		ID:    id,
		Name:  "grade-" + id,
		Basic: amt(net),
	}
}

// fakeOrgDirectory serves organizations from a map.
type fakeOrgDirectory struct {
	orgs map[payout.OrgID]payout.Organization
}

func (d *fakeOrgDirectory) GetOrganization(_ context.Context, id payout.OrgID) (*payout.Organization, error) {
	org, ok := d.orgs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", payout.ErrOrgNotFound, id)
	}
	return &org, nil
}

// fakeBeneficiaryDirectory serves beneficiaries from an ordered slice, so
// eligible listings are deterministic.
type fakeBeneficiaryDirectory struct {
	bens []payout.Beneficiary
}

func (d *fakeBeneficiaryDirectory) GetBeneficiary(_ context.Context, id payout.BeneficiaryID) (*payout.Beneficiary, error) {
	for i := range d.bens {
		if d.bens[i].ID == id {
			ben := d.bens[i]
			return &ben, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", payout.ErrBeneficiaryNotFound, id)
}

func (d *fakeBeneficiaryDirectory) ListEligible(_ context.Context, org payout.OrgID, kind payout.BatchKind) ([]payout.Beneficiary, error) {
	var out []payout.Beneficiary
	for _, ben := range d.bens {
		if ben.OrgID != org || !ben.Active {
			continue
		}
		switch kind {
		case payout.BatchVendor:
			if ben.Kind == payout.BeneficiaryVendor {
				out = append(out, ben)
			}
		default:
			if ben.Kind == payout.BeneficiaryEmployee && ben.Template != nil {
				out = append(out, ben)
			}
		}
	}
	return out, nil
}

// captureNotifier records every delivered event; fail makes delivery error.
type captureNotifier struct {
	mu     sync.Mutex
	events []payout.Event
	fail   bool
}

func (n *captureNotifier) Notify(_ context.Context, ev payout.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return fmt.Errorf("gateway unavailable")
	}
	n.events = append(n.events, ev)
	return nil
}

func (n *captureNotifier) ofType(t payout.EventType) []payout.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []payout.Event
	for _, ev := range n.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// env wires a full engine over the in-memory store with one approved
// organization, a verified funded account and three salaried employees whose
// nets are 100.00, 250.50 and 49.50 (total 400.00).
type env struct {
	store    *store.Memory
	orgs     *fakeOrgDirectory
	bens     *fakeBeneficiaryDirectory
	notifier *captureNotifier
	ledger   *payout.Ledger
	builder  *payout.Builder
	review   *payout.Review
	executor *payout.Executor
}

const (
	testOrg     = payout.OrgID("org-1")
	testAccount = payout.AccountID("acc-1")
)

// newEnv builds the standard environment with a verified account holding the
// given balance.
func newEnv(t *testing.T, balance string) *env {
	t.Helper()
	e := newEnvBare(t)
	if err := e.store.CreateAccount(context.Background(), &payout.FundingAccount{
		ID:           testAccount,
		HolderID:     testOrg,
		Balance:      amt(balance),
		Verification: payout.VerificationVerified,
		CreatedAt:    time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return e
}

// newEnvBare builds the environment without any funding account.
func newEnvBare(t *testing.T) *env {
	t.Helper()

	mem := store.NewMemory()
	orgs := &fakeOrgDirectory{orgs: map[payout.OrgID]payout.Organization{
		testOrg: {ID: testOrg, Name: "Test Org", Approved: true},
	}}
	bens := &fakeBeneficiaryDirectory{bens: []payout.Beneficiary{
		{ID: "emp-1", OrgID: testOrg, Name: "Asha", Kind: payout.BeneficiaryEmployee, Active: true, Template: netTemplate("t1", "100.00")},
		{ID: "emp-2", OrgID: testOrg, Name: "Dev", Kind: payout.BeneficiaryEmployee, Active: true, Template: netTemplate("t2", "250.50")},
		{ID: "emp-3", OrgID: testOrg, Name: "Mira", Kind: payout.BeneficiaryEmployee, Active: true, Template: netTemplate("t3", "49.50")},
		{ID: "ven-1", OrgID: testOrg, Name: "Acme", Kind: payout.BeneficiaryVendor, Active: true},
		{ID: "ven-2", OrgID: testOrg, Name: "Globex", Kind: payout.BeneficiaryVendor, Active: true},
	}}
	notifier := &captureNotifier{}
	ledger := payout.NewLedger(mem)

	return &env{
		store:    mem,
		orgs:     orgs,
		bens:     bens,
		notifier: notifier,
		ledger:   ledger,
		builder:  payout.NewBuilder(mem, orgs, bens, notifier),
		review:   payout.NewReview(mem, ledger, notifier),
		executor: payout.NewExecutor(mem, notifier),
	}
}

func june2025() payout.Period {
	return payout.Period{Year: 2025, Month: time.June}
}

// createSalaryBatch builds the standard three-line salary batch (total 400.00).
func createSalaryBatch(t *testing.T, e *env) (*payout.Batch, []payout.BatchLine) {
	t.Helper()
	batch, lines, err := e.builder.Create(context.Background(), payout.CreateParams{
		OrgID:     testOrg,
		Kind:      payout.BatchSalary,
		Period:    june2025(),
		CreatedBy: "maker",
	})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	return batch, lines
}

func accountBalance(t *testing.T, e *env) money.Amount {
	t.Helper()
	acc, err := e.store.GetAccount(context.Background(), testAccount)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return acc.Balance
}
