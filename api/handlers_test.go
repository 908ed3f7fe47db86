package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/payrun/api"
	"github.com/meridian/payrun/money"
	"github.com/meridian/payrun/payout"
	"github.com/meridian/payrun/payroll"
	"github.com/meridian/payrun/store/sqlite"
)

// =============================================================================
// TEST SERVER
// =============================================================================

// newServer spins up the full router over an in-memory SQLite store seeded
// with one approved organization, a verified account holding 500.00 and three
// salaried employees (nets 100.00, 250.50, 49.50).
func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.CreateOrganization(ctx, &payout.Organization{
		ID: "org-1", Name: "Test Org", Approved: true,
	}))
	require.NoError(t, store.CreateAccount(ctx, &payout.FundingAccount{
		ID: "acc-1", HolderID: "org-1",
		Balance:      money.MustParse("500.00"),
		Verification: payout.VerificationVerified,
	}))
	for i, net := range []string{"100.00", "250.50", "49.50"} {
		require.NoError(t, store.CreateBeneficiary(ctx, &payout.Beneficiary{
			ID:     payout.BeneficiaryID(fmt.Sprintf("emp-%d", i+1)),
			OrgID:  "org-1",
			Name:   fmt.Sprintf("Employee %d", i+1),
			Kind:   payout.BeneficiaryEmployee,
			Active: true,
			Template: &payroll.SalaryTemplate{
				ID:    fmt.Sprintf("tpl-%d", i+1),
				Basic: money.MustParse(net),
			},
		}))
	}

	notifier := payout.LogNotifier{}
	ledger := payout.NewLedger(store)
	handler := api.NewHandler(
		store,
		payout.NewBuilder(store, store, store, notifier),
		payout.NewReview(store, ledger, notifier),
		payout.NewExecutor(store, notifier),
		ledger,
	)

	server := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func createBatch(t *testing.T, server *httptest.Server) api.BatchDTO {
	t.Helper()
	resp := postJSON(t, server.URL+"/api/orgs/org-1/batches", api.CreateBatchRequest{
		Kind:      "salary",
		Period:    "2025-06",
		CreatedBy: "maker",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[api.BatchDTO](t, resp)
}

// =============================================================================
// WORKFLOW
// =============================================================================

func TestAPI_CreateApproveExecute(t *testing.T) {
	// The full happy path: create -> approve -> execute, driven over HTTP.
	server := newServer(t)

	batch := createBatch(t, server)
	assert.Equal(t, "pending", batch.Status)
	assert.Len(t, batch.Lines, 3)

	// Approve: the account covers 400.00 out of 500.00.
	resp := postJSON(t, server.URL+"/api/batches/"+batch.ID+"/review", api.ReviewRequest{
		Approve:  true,
		Reviewer: "checker",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	review := decode[api.ReviewResponseDTO](t, resp)
	assert.Equal(t, "approved", review.Decision)
	assert.True(t, review.NewBalance.Equal(money.MustParse("100.00")))

	// Execute: all three lines settle.
	resp = postJSON(t, server.URL+"/api/batches/"+batch.ID+"/execute", struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[payout.ExecutionSummary](t, resp)
	assert.Equal(t, 3, summary.TotalLines)
	assert.Equal(t, 3, summary.PaidLines)
	assert.Equal(t, payout.BatchCompleted, summary.BatchStatus)

	// The batch view reflects settlement.
	getResp, err := http.Get(server.URL + "/api/batches/" + batch.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	view := decode[api.BatchDTO](t, getResp)
	assert.Equal(t, "completed", view.Status)
	for _, line := range view.Lines {
		assert.Equal(t, "paid", line.Status)
		assert.NotEmpty(t, line.TxnRef)
	}

	// The account view reflects the debit.
	accResp, err := http.Get(server.URL + "/api/accounts/acc-1")
	require.NoError(t, err)
	acc := decode[api.AccountDTO](t, accResp)
	assert.True(t, acc.Balance.Equal(money.MustParse("100.00")))
}

func TestAPI_AutoRejectionIsOK(t *testing.T) {
	// GIVEN: a batch totalling 400.00 but only 150.00 left on the account
	// WHEN: approving over HTTP
	// THEN: 200 with decision auto_rejected - a workflow outcome, not an error

	server := newServer(t)

	// Top up to 550.00, then let a first approved batch drain 400.00,
	// leaving 150.00 for the second attempt.
	resp := postJSON(t, server.URL+"/api/accounts/acc-1/credit", api.CreditRequest{Amount: "50.00"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	first := createBatch(t, server)
	resp = postJSON(t, server.URL+"/api/batches/"+first.ID+"/review", api.ReviewRequest{Approve: true, Reviewer: "checker"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	second := createBatch(t, server)
	resp = postJSON(t, server.URL+"/api/batches/"+second.ID+"/review", api.ReviewRequest{Approve: true, Reviewer: "checker"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	review := decode[api.ReviewResponseDTO](t, resp)
	assert.Equal(t, "auto_rejected", review.Decision)
	assert.Contains(t, review.Reason, "Insufficient balance")
}

func TestAPI_RejectBatch(t *testing.T) {
	server := newServer(t)
	batch := createBatch(t, server)

	resp := postJSON(t, server.URL+"/api/batches/"+batch.ID+"/review", api.ReviewRequest{
		Approve:  false,
		Reviewer: "checker",
		Reason:   "wrong period",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	review := decode[api.ReviewResponseDTO](t, resp)
	assert.Equal(t, "rejected", review.Decision)
}

func TestAPI_ListPending(t *testing.T) {
	server := newServer(t)
	batch := createBatch(t, server)

	resp, err := http.Get(server.URL + "/api/batches/pending?org=org-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pending := decode[[]api.BatchDTO](t, resp)
	require.Len(t, pending, 1)
	assert.Equal(t, batch.ID, pending[0].ID)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_ErrorStatusCodes(t *testing.T) {
	server := newServer(t)
	batch := createBatch(t, server)

	// 404: unknown batch.
	resp, err := http.Get(server.URL + "/api/batches/bat-missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// 400: bad period.
	resp = postJSON(t, server.URL+"/api/orgs/org-1/batches", api.CreateBatchRequest{
		Kind: "salary", Period: "junk", CreatedBy: "maker",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// 400: reject without a reason.
	resp = postJSON(t, server.URL+"/api/batches/"+batch.ID+"/review", api.ReviewRequest{
		Approve: false, Reviewer: "checker",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// 400: missing reviewer.
	resp = postJSON(t, server.URL+"/api/batches/"+batch.ID+"/review", api.ReviewRequest{Approve: true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// 409: executing a batch that was never approved.
	resp = postJSON(t, server.URL+"/api/batches/"+batch.ID+"/execute", struct{}{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// 409: reviewing twice.
	resp = postJSON(t, server.URL+"/api/batches/"+batch.ID+"/review", api.ReviewRequest{
		Approve: false, Reviewer: "checker", Reason: "first",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	resp = postJSON(t, server.URL+"/api/batches/"+batch.ID+"/review", api.ReviewRequest{
		Approve: false, Reviewer: "checker", Reason: "second",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// 404: unknown account.
	resp, err = http.Get(server.URL + "/api/accounts/acc-missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestAPI_CreditAccount(t *testing.T) {
	server := newServer(t)

	resp := postJSON(t, server.URL+"/api/accounts/acc-1/credit", api.CreditRequest{Amount: "25.50"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	acc := decode[api.AccountDTO](t, resp)
	assert.True(t, acc.Balance.Equal(money.MustParse("525.50")))

	// Non-positive credits are rejected.
	resp = postJSON(t, server.URL+"/api/accounts/acc-1/credit", api.CreditRequest{Amount: "-1.00"})
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestAPI_Healthz(t *testing.T) {
	server := newServer(t)
	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
