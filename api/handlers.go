/*
handlers.go - HTTP API handlers for the household ledger

PURPOSE:
  Exposes accounts, transactions and subscriptions over REST. Handles HTTP
  request/response and JSON, and delegates every balance change to the
  ledger engine inside one store transaction.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                  List accounts
    POST   /api/accounts                  Create account
    GET    /api/accounts/{id}             Get account
    PUT    /api/accounts/{id}             Update name/type/currency
    GET    /api/accounts/{id}/reconcile   Replay transactions, report drift

  Transactions:
    GET    /api/transactions              List (type, status, account_id,
                                          category_id, from, to, search, limit)
    POST   /api/transactions              Create + apply
    GET    /api/transactions/{id}         Get
    PUT    /api/transactions/{id}         Update + apply diff
    DELETE /api/transactions/{id}         Soft delete + reverse

  Subscriptions, admin, summary: see subscriptions.go and summary.go.

WRITE FLOW (every balance-changing request):
  1. Decode + validate the body
  2. WithTx: load original, write the row, ledger.Engine.ApplyForXxx
  3. Commit, reply with the transaction and the balances it moved

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Account / transaction / subscription not found
  - 409: Concurrent modification (safe to retry)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/household-ledger/finance"
	"github.com/warp/household-ledger/ledger"
	"github.com/warp/household-ledger/logger"
	"github.com/warp/household-ledger/recurring"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     finance.TxStore
	Scheduler *recurring.Scheduler

	// Runner serves the admin process-due endpoint. When nil the endpoint
	// calls the scheduler directly, without a batch lock.
	Runner *DueRunner

	validate *validator.Validate
}

// NewHandler creates a handler over store.
func NewHandler(store finance.TxStore, scheduler *recurring.Scheduler) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		Store:     store,
		Scheduler: scheduler,
		validate:  v,
	}
}

func (h *Handler) now() time.Time {
	return h.Scheduler.Now()
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns all accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.ListAccounts(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i := range accounts {
		dtos[i] = toAccountDTO(&accounts[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount returns a single account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.Store.GetAccount(r.Context(), finance.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

// CreateAccount creates an account whose current balance starts at the
// initial balance. The initial balance keeps its sign (credit lines and
// loans open negative).
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !h.decode(w, r, &req) {
		return
	}

	initial := decimal.Zero
	if req.InitialBalance != "" {
		d, err := decimal.NewFromString(req.InitialBalance)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid initial_balance", err)
			return
		}
		initial = d.Round(finance.MoneyPlaces)
	}

	acc := &finance.Account{
		ID:             finance.AccountID(req.ID),
		Name:           strings.TrimSpace(req.Name),
		Type:           finance.AccountType(req.Type),
		Currency:       strings.ToUpper(req.Currency),
		InitialBalance: initial,
		CurrentBalance: initial,
	}
	if err := h.Store.CreateAccount(r.Context(), acc); err != nil {
		h.fail(w, r, "Failed to create account", err)
		return
	}

	log := logger.FromContext(r.Context())
	log.Info().Str("account_id", string(acc.ID)).Msg("account created")
	writeJSON(w, http.StatusCreated, toAccountDTO(acc))
}

// UpdateAccount changes account metadata.
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req UpdateAccountRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	acc := &finance.Account{
		ID:       finance.AccountID(chi.URLParam(r, "id")),
		Name:     strings.TrimSpace(req.Name),
		Type:     finance.AccountType(req.Type),
		Currency: strings.ToUpper(req.Currency),
	}
	if err := h.Store.UpdateAccount(ctx, acc); err != nil {
		h.fail(w, r, "Failed to update account", err)
		return
	}

	updated, err := h.Store.GetAccount(ctx, acc.ID)
	if err != nil {
		h.fail(w, r, "Failed to reload account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(updated))
}

// ReconcileAccount replays the account's live transactions and reports
// whether the cached balance matches. Nothing is written.
func (h *Handler) ReconcileAccount(w http.ResponseWriter, r *http.Request) {
	drift, err := ledger.New(h.Store).Reconcile(r.Context(), finance.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to reconcile account", err)
		return
	}
	if !drift.InSync() {
		log := logger.FromContext(r.Context())
		log.Warn().Str("account_id", string(drift.AccountID)).
			Str("difference", drift.Difference.StringFixed(2)).Msg("balance drift detected")
	}
	writeJSON(w, http.StatusOK, toDriftDTO(drift))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns transactions matching the query filters, newest
// first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTransactionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	txs, err := h.Store.ListTransactions(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetTransaction returns a single live transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Store.GetTransaction(r.Context(), finance.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// CreateTransaction stores a transaction and applies it to balances.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if !h.decode(w, r, &req) {
		return
	}

	tx := &finance.Transaction{Source: finance.SourceManual}
	if err := h.applyRequest(tx, req); err != nil {
		h.fail(w, r, "Invalid transaction", err)
		return
	}

	res, err := h.createTransaction(r.Context(), tx)
	if err != nil {
		h.fail(w, r, "Failed to create transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toResultDTO(tx, res))
}

// UpdateTransaction rewrites a transaction and applies only the difference
// from its previous state.
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	id := finance.TransactionID(chi.URLParam(r, "id"))

	var (
		tx  *finance.Transaction
		res ledger.ApplyResult
	)
	err := h.Store.WithTx(ctx, func(st finance.Store) error {
		var err error
		tx, err = st.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		original := ledger.SnapshotOf(tx)

		if err := h.applyRequest(tx, req); err != nil {
			return err
		}
		if err := requireAccounts(ctx, st, tx); err != nil {
			return err
		}
		if err := st.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
		res, err = ledger.New(st).ApplyForUpdate(ctx, tx, original)
		return err
	})
	if err != nil {
		h.fail(w, r, "Failed to update transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(tx, res))
}

// DeleteTransaction soft-deletes a transaction and reverses its effect.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := finance.TransactionID(chi.URLParam(r, "id"))

	var res ledger.ApplyResult
	err := h.Store.WithTx(ctx, func(st finance.Store) error {
		tx, err := st.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if err := st.SoftDeleteTransaction(ctx, id, h.now()); err != nil {
			return err
		}
		res, err = ledger.New(st).ApplyForDelete(ctx, ledger.SnapshotOf(tx))
		return err
	})
	if err != nil {
		h.fail(w, r, "Failed to delete transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(nil, res))
}

// createTransaction is the create path shared by the API and the scenario
// loaders.
func (h *Handler) createTransaction(ctx context.Context, tx *finance.Transaction) (ledger.ApplyResult, error) {
	var res ledger.ApplyResult
	err := h.Store.WithTx(ctx, func(st finance.Store) error {
		if err := requireAccounts(ctx, st, tx); err != nil {
			return err
		}
		if err := st.CreateTransaction(ctx, tx); err != nil {
			return err
		}
		var err error
		res, err = ledger.New(st).ApplyForCreate(ctx, tx)
		return err
	})
	return res, err
}

// applyRequest copies req onto tx and validates the result. Omitted status
// and booked_at keep the values already on tx; a new tx gets posted, now.
func (h *Handler) applyRequest(tx *finance.Transaction, req TransactionRequest) error {
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return err
	}

	bookedAt := tx.BookedAt
	if bookedAt.IsZero() {
		bookedAt = h.now()
	}
	if req.BookedAt != "" {
		bookedAt, err = finance.ParseDate(req.BookedAt)
		if err != nil {
			return &finance.ValidationError{Field: "booked_at", Reason: err.Error(), Kind: finance.ErrInvalidTransaction}
		}
	}

	status := finance.TransactionStatus(req.Status)
	if status == "" {
		status = tx.Status
	}
	if status == "" {
		status = finance.StatusPosted
	}

	tx.AccountID = finance.AccountID(req.AccountID)
	tx.TransferAccountID = finance.AccountIDPtr(finance.AccountID(req.TransferAccountID))
	tx.CategoryID = finance.CategoryIDPtr(finance.CategoryID(req.CategoryID))
	tx.Type = finance.TransactionType(req.Type)
	tx.Amount = amount
	tx.BookedAt = bookedAt.UTC()
	tx.Description = strings.TrimSpace(req.Description)
	tx.Notes = req.Notes

	if status != tx.Status {
		tx.Status = status
		tx.PostedAt = nil
		if status == finance.StatusPosted || status == finance.StatusReconciled {
			tx.PostedAt = finance.TimePtr(tx.BookedAt)
		}
	}

	return tx.Validate()
}

// requireAccounts rejects writes that reference an account that does not
// exist. The ledger itself tolerates missing accounts; the API does not.
func requireAccounts(ctx context.Context, st finance.AccountStore, tx *finance.Transaction) error {
	if _, err := st.GetAccount(ctx, tx.AccountID); err != nil {
		return err
	}
	if cp := tx.Counterparty(); cp != "" {
		if _, err := st.GetAccount(ctx, cp); err != nil {
			return err
		}
	}
	return nil
}

func parseTransactionFilter(r *http.Request) (finance.TransactionFilter, error) {
	q := r.URL.Query()
	f := finance.TransactionFilter{
		Type:       finance.TransactionType(q.Get("type")),
		Status:     finance.TransactionStatus(q.Get("status")),
		AccountID:  finance.AccountID(q.Get("account_id")),
		CategoryID: finance.CategoryID(q.Get("category_id")),
		Search:     strings.TrimSpace(q.Get("search")),
	}
	if f.Type != "" && !f.Type.Valid() {
		return f, errors.New("type must be income, expense or transfer")
	}

	if s := q.Get("from"); s != "" {
		t, err := finance.ParseDate(s)
		if err != nil {
			return f, err
		}
		from := finance.StartOfDay(t)
		f.From = &from
	}
	if s := q.Get("to"); s != "" {
		t, err := finance.ParseDate(s)
		if err != nil {
			return f, err
		}
		to := finance.EndOfDay(t)
		f.To = &to
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads the JSON body into dst and validates it. On failure it has
// already written the response.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeValidationError(w, verrs)
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// fail maps a domain or store error to a status code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case finance.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case finance.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case finance.IsRetryable(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

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

func writeValidationError(w http.ResponseWriter, verrs validator.ValidationErrors) {
	resp := ErrorResponse{Error: "Validation failed", Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		if fe.Param() != "" {
			resp.Fields[fe.Field()] = fe.Tag() + "=" + fe.Param()
		} else {
			resp.Fields[fe.Field()] = fe.Tag()
		}
	}
	writeJSON(w, http.StatusBadRequest, resp)
}
