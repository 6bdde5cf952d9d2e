package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/household-ledger/finance"
)

const (
	topCategoryLimit = 5
	upcomingLimit    = 5
)

var hundred = decimal.NewFromInt(100)

// GetSummary returns the dashboard metrics for the month containing ?at=
// (default today).
// GET /api/summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	at := h.now()
	if s := r.URL.Query().Get("at"); s != "" {
		t, err := parseReference(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid at", err)
			return
		}
		at = t
	}

	monthStart, monthEnd := finance.StartOfMonth(at), finance.EndOfMonth(at)
	prevStart := monthStart.AddDate(0, -1, 0)
	prevEnd := finance.EndOfMonth(prevStart)
	today := finance.StartOfDay(at)

	accounts, err := h.Store.ListAccounts(ctx)
	if err != nil {
		h.fail(w, r, "Failed to load accounts", err)
		return
	}
	current, err := h.Store.ListTransactions(ctx, finance.TransactionFilter{From: &monthStart, To: &monthEnd})
	if err != nil {
		h.fail(w, r, "Failed to load transactions", err)
		return
	}
	previous, err := h.Store.ListTransactions(ctx, finance.TransactionFilter{
		Type: finance.TxExpense, From: &prevStart, To: &prevEnd,
	})
	if err != nil {
		h.fail(w, r, "Failed to load transactions", err)
		return
	}
	upcoming, err := h.Store.ListTransactions(ctx, finance.TransactionFilter{
		Status: finance.StatusPending, From: &today,
	})
	if err != nil {
		h.fail(w, r, "Failed to load transactions", err)
		return
	}

	writeJSON(w, http.StatusOK, buildSummary(at, accounts, current, previous, upcoming))
}

// buildSummary aggregates income and expense totals. Transfers move money
// between the household's own accounts and count as neither.
func buildSummary(at time.Time, accounts []finance.Account, current, previous, upcoming []finance.Transaction) SummaryDTO {
	total := decimal.Zero
	for _, a := range accounts {
		total = total.Add(a.CurrentBalance)
	}

	inflow, outflow := decimal.Zero, decimal.Zero
	byCategory := make(map[finance.CategoryID]decimal.Decimal)
	for _, tx := range current {
		switch tx.Type {
		case finance.TxIncome:
			inflow = inflow.Add(tx.Amount)
		case finance.TxExpense:
			outflow = outflow.Add(tx.Amount)
			var cat finance.CategoryID
			if tx.CategoryID != nil {
				cat = *tx.CategoryID
			}
			byCategory[cat] = byCategory[cat].Add(tx.Amount)
		}
	}

	prevOutflow := decimal.Zero
	for _, tx := range previous {
		if tx.Type == finance.TxExpense {
			prevOutflow = prevOutflow.Add(tx.Amount)
		}
	}

	trend := decimal.Zero
	if prevOutflow.IsPositive() {
		trend = outflow.Sub(prevOutflow).Div(prevOutflow).Mul(hundred).Round(2)
	}

	return SummaryDTO{
		AsOf:           formatTime(at),
		TotalBalance:   total.Round(finance.MoneyPlaces),
		AccountsCount:  len(accounts),
		MonthlyInflow:  inflow,
		MonthlyOutflow: outflow,
		NetCashFlow:    inflow.Sub(outflow),
		OutflowTrend:   trend,
		TopCategories:  topCategories(byCategory, outflow),
		Upcoming:       soonest(upcoming),
	}
}

func topCategories(totals map[finance.CategoryID]decimal.Decimal, outflow decimal.Decimal) []CategorySpendDTO {
	ids := make([]finance.CategoryID, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := totals[ids[i]], totals[ids[j]]
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		return ids[i] < ids[j]
	})
	if len(ids) > topCategoryLimit {
		ids = ids[:topCategoryLimit]
	}

	out := make([]CategorySpendDTO, 0, len(ids))
	for _, id := range ids {
		share := decimal.Zero
		if outflow.IsPositive() {
			share = totals[id].Div(outflow).Mul(hundred).Round(2)
		}
		out = append(out, CategorySpendDTO{
			CategoryID: idString(finance.CategoryIDPtr(id)),
			Amount:     totals[id],
			Share:      share,
		})
	}
	return out
}

// soonest picks the earliest pending transactions. txs arrive newest first.
func soonest(txs []finance.Transaction) []TransactionDTO {
	sorted := append([]finance.Transaction(nil), txs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].BookedAt.Before(sorted[j].BookedAt) })
	if len(sorted) > upcomingLimit {
		sorted = sorted[:upcomingLimit]
	}
	return toTransactionDTOs(sorted)
}
