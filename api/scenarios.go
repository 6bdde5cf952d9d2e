/*
scenarios.go - Demo data loaders

PURPOSE:
  Populates an empty store with a realistic household so the API can be
  explored without typing in accounts by hand. Every row goes through the
  same write paths as the API (ledger for transactions, priming for
  subscriptions), so loaded balances satisfy the balance invariant.

AVAILABLE SCENARIOS:
  starter-household: checking, savings and a credit card with a month of
                     activity and three subscriptions
  missed-runs:       a subscription whose runner was offline for three
                     months; each process-due pass catches up one occurrence

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "starter-household"}

NOTE:
  Scenarios use fixed ids and do not reset the store. Load into an empty
  database (driver "memory" works well).
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/household-ledger/finance"
	"github.com/warp/household-ledger/logger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "starter-household",
		Name:        "Starter Household",
		Description: "Checking, savings and credit card with salary, rent and a streaming subscription",
	},
	{
		ID:          "missed-runs",
		Name:        "Missed Runs",
		Description: "Gym membership overdue by three months; process-due catches up one occurrence per pass",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	var err error
	switch req.ScenarioID {
	case "starter-household":
		err = h.loadStarterHousehold(ctx)
	case "missed-runs":
		err = h.loadMissedRuns(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	if err != nil {
		h.fail(w, r, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}

	log := logger.FromContext(ctx)
	log.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadStarterHousehold(ctx context.Context) error {
	accounts := []finance.Account{
		{ID: "acc-checking", Name: "Checking", Type: finance.AccountChecking, Currency: "EUR", InitialBalance: money("2500.00")},
		{ID: "acc-savings", Name: "Savings", Type: finance.AccountSavings, Currency: "EUR", InitialBalance: money("8000.00")},
		{ID: "acc-card", Name: "Credit Card", Type: finance.AccountCredit, Currency: "EUR", InitialBalance: money("0.00")},
	}
	if err := h.createAccounts(ctx, accounts); err != nil {
		return err
	}

	month := finance.StartOfMonth(h.now())
	txs := []*finance.Transaction{
		{
			ID: "tx-salary", AccountID: "acc-checking", CategoryID: finance.CategoryIDPtr("salary"),
			Type: finance.TxIncome, Status: finance.StatusPosted, Amount: money("3200.00"),
			BookedAt: month, Description: "Salary",
		},
		{
			ID: "tx-groceries", AccountID: "acc-checking", CategoryID: finance.CategoryIDPtr("groceries"),
			Type: finance.TxExpense, Status: finance.StatusPosted, Amount: money("184.35"),
			BookedAt: month.AddDate(0, 0, 2), Description: "Weekly groceries",
		},
		{
			ID: "tx-dinner", AccountID: "acc-card", CategoryID: finance.CategoryIDPtr("dining"),
			Type: finance.TxExpense, Status: finance.StatusPosted, Amount: money("42.99"),
			BookedAt: month.AddDate(0, 0, 3), Description: "Dinner out",
		},
		{
			ID: "tx-save", AccountID: "acc-checking", TransferAccountID: finance.AccountIDPtr("acc-savings"),
			Type: finance.TxTransfer, Status: finance.StatusPosted, Amount: money("500.00"),
			BookedAt: month.AddDate(0, 0, 4), Description: "Move to savings",
		},
	}
	for _, tx := range txs {
		tx.Source = finance.SourceManual
		if tx.Status == finance.StatusPosted {
			tx.PostedAt = finance.TimePtr(tx.BookedAt)
		}
		if _, err := h.createTransaction(ctx, tx); err != nil {
			return fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
	}

	nextMonth := month.AddDate(0, 1, 0)
	schedules := []*finance.Schedule{
		{
			ID: "sub-rent", Name: "Rent", AccountID: "acc-checking", CategoryID: finance.CategoryIDPtr("housing"),
			Type: finance.TxExpense, Amount: money("950.00"), Frequency: finance.FrequencyMonthly, Interval: 1,
			StartsOn: &nextMonth, AutoCommit: true,
		},
		{
			ID: "sub-salary", Name: "Salary", AccountID: "acc-checking", CategoryID: finance.CategoryIDPtr("salary"),
			Type: finance.TxIncome, Amount: money("3200.00"), Frequency: finance.FrequencyMonthly, Interval: 1,
			StartsOn: &nextMonth, AutoCommit: true,
		},
		{
			ID: "sub-streaming", Name: "Streaming", AccountID: "acc-card", CategoryID: finance.CategoryIDPtr("entertainment"),
			Type: finance.TxExpense, Amount: money("15.99"), Frequency: finance.FrequencyMonthly, Interval: 1,
			StartsOn: &nextMonth, Memo: "family plan",
		},
	}
	for _, s := range schedules {
		s.Status = finance.ScheduleActive
		if err := h.createSchedule(ctx, s); err != nil {
			return fmt.Errorf("subscription %s: %w", s.ID, err)
		}
	}
	return nil
}

// loadMissedRuns stores the schedule as a runner that went offline would
// have left it: primed, with next occurrence three months back. Priming is
// skipped on purpose; it would move next past the missed dates.
func (h *Handler) loadMissedRuns(ctx context.Context) error {
	if err := h.createAccounts(ctx, []finance.Account{
		{ID: "acc-main", Name: "Main", Type: finance.AccountChecking, Currency: "EUR", InitialBalance: money("1000.00")},
	}); err != nil {
		return err
	}

	start := finance.StartOfMonth(h.now()).AddDate(0, -3, 0)
	s := &finance.Schedule{
		ID: "sub-gym", Name: "Gym membership", AccountID: "acc-main", CategoryID: finance.CategoryIDPtr("health"),
		Type: finance.TxExpense, Amount: money("45.00"), Frequency: finance.FrequencyMonthly, Interval: 1,
		StartsOn: &start, NextOccurrenceAt: &start, Status: finance.ScheduleActive, AutoCommit: true,
	}
	if err := s.Validate(); err != nil {
		return err
	}
	return h.Store.CreateSchedule(ctx, s)
}

func (h *Handler) createAccounts(ctx context.Context, accounts []finance.Account) error {
	for i := range accounts {
		a := &accounts[i]
		a.CurrentBalance = a.InitialBalance
		if err := h.Store.CreateAccount(ctx, a); err != nil {
			return fmt.Errorf("account %s: %w", a.ID, err)
		}
	}
	return nil
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
