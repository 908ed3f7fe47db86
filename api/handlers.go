/*
handlers.go - HTTP handlers for the batch money-movement workflow

ENDPOINTS:
  POST /api/orgs/{id}/batches        Create a batch (PENDING)
  GET  /api/batches/pending          List pending batches (?org= filter)
  GET  /api/batches/{id}             Batch + line view
  POST /api/batches/{id}/review      Approve or reject
  POST /api/batches/{id}/execute     Settle an approved batch
  GET  /api/accounts/{id}            Funding account view
  POST /api/accounts/{id}/credit     Fund an account

ERROR HANDLING:
  Domain errors map onto status codes by class:
  - 400: validation (empty batch, missing template, bad input)
  - 404: unknown batch/account/beneficiary/organization
  - 409: state conflict (already reviewed, already executed) and
         optimistic-lock retries
  - 500: everything else
  Insufficient funds at approval is NOT an error: it returns 200 with
  decision "auto_rejected".
*/
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian/payrun/money"
	"github.com/meridian/payrun/payout"
)

// Handler holds the workflow services behind the routes.
type Handler struct {
	Store    payout.Store
	Builder  *payout.Builder
	Review   *payout.Review
	Executor *payout.Executor
	Ledger   *payout.Ledger
}

func NewHandler(store payout.Store, builder *payout.Builder, review *payout.Review, executor *payout.Executor, ledger *payout.Ledger) *Handler {
	return &Handler{
		Store:    store,
		Builder:  builder,
		Review:   review,
		Executor: executor,
		Ledger:   ledger,
	}
}

// =============================================================================
// BATCH ENDPOINTS
// =============================================================================

// CreateBatch builds a PENDING batch for the organization.
// POST /api/orgs/{id}/batches
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	orgID := payout.OrgID(chi.URLParam(r, "id"))

	var req CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	period, err := payout.ParsePeriod(req.Period)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	params := payout.CreateParams{
		OrgID:     orgID,
		Kind:      payout.BatchKind(req.Kind),
		Period:    period,
		CreatedBy: req.CreatedBy,
	}
	for _, id := range req.BeneficiaryIDs {
		params.BeneficiaryIDs = append(params.BeneficiaryIDs, payout.BeneficiaryID(id))
	}
	if len(req.VendorAmounts) > 0 {
		params.VendorAmounts = make(map[payout.BeneficiaryID]money.Amount, len(req.VendorAmounts))
		for id, raw := range req.VendorAmounts {
			amount, err := money.FromString(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid vendor amount", err)
				return
			}
			params.VendorAmounts[payout.BeneficiaryID(id)] = amount
		}
	}

	batch, lines, err := h.Builder.Create(r.Context(), params)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatchDTO(batch, lines))
}

// GetBatch returns the full batch + line view.
// GET /api/batches/{id}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := payout.BatchID(chi.URLParam(r, "id"))

	batch, err := h.Store.GetBatch(r.Context(), batchID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	lines, err := h.Store.GetLines(r.Context(), batchID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(batch, lines))
}

// ListPendingBatches returns PENDING batches awaiting review.
// GET /api/batches/pending?org=
func (h *Handler) ListPendingBatches(w http.ResponseWriter, r *http.Request) {
	org := payout.OrgID(r.URL.Query().Get("org"))

	batches, err := h.Store.ListPendingBatches(r.Context(), org)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]BatchDTO, 0, len(batches))
	for i := range batches {
		dtos = append(dtos, toBatchDTO(&batches[i], nil))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReviewBatch approves or rejects a PENDING batch. An approval that hits
// insufficient funds returns 200 with decision "auto_rejected".
// POST /api/batches/{id}/review
func (h *Handler) ReviewBatch(w http.ResponseWriter, r *http.Request) {
	batchID := payout.BatchID(chi.URLParam(r, "id"))

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Reviewer == "" {
		writeError(w, http.StatusBadRequest, "reviewer is required", nil)
		return
	}

	if !req.Approve {
		if err := h.Review.Reject(r.Context(), batchID, req.Reviewer, req.Reason); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ReviewResponseDTO{Decision: string(payout.DecisionRejected), Reason: req.Reason})
		return
	}

	outcome, err := h.Review.Approve(r.Context(), batchID, req.Reviewer)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReviewResponseDTO{
		Decision:   string(outcome.Decision),
		Reason:     outcome.Reason,
		NewBalance: outcome.NewBalance,
	})
}

// ExecuteBatch settles an APPROVED batch. Safe to re-invoke.
// POST /api/batches/{id}/execute
func (h *Handler) ExecuteBatch(w http.ResponseWriter, r *http.Request) {
	batchID := payout.BatchID(chi.URLParam(r, "id"))

	summary, err := h.Executor.Execute(r.Context(), batchID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// FUNDING ACCOUNT ENDPOINTS
// =============================================================================

// GetAccount returns a funding account view.
// GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := payout.AccountID(chi.URLParam(r, "id"))

	acc, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

// CreditAccount funds an account through the ledger.
// POST /api/accounts/{id}/credit
func (h *Handler) CreditAccount(w http.ResponseWriter, r *http.Request) {
	id := payout.AccountID(chi.URLParam(r, "id"))

	var req CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := money.FromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	newBalance, err := h.Ledger.Credit(r.Context(), id, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	acc, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dto := toAccountDTO(acc)
	dto.Balance = newBalance
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors onto HTTP status codes by class.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case payout.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case payout.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case payout.IsConflict(err), payout.IsRetryable(err):
		writeError(w, http.StatusConflict, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
