/*
Package ledger keeps cached account balances consistent with transactions.

PURPOSE:
  Every create, update and delete of a transaction goes through the Engine,
  which turns the change into per-account deltas and persists them under
  row locks. Nothing else writes Account.CurrentBalance.

KEY CONCEPTS:
  - Snapshot: the balance-relevant projection of a transaction
  - Impacts:  account -> signed amount a snapshot contributes
  - Diff:     new impacts minus original impacts, zero entries dropped

SIGN RULES:
  income   +A on the primary account
  expense  -A on the primary account
  transfer -A on the primary, +A on the counterparty (when set)
  other    no effect

  A transfer without a counterparty only debits the primary account.

APPLY:
  1. Compute the diff
  2. Lock the touched accounts in ascending id order
  3. Add each delta, round to 2 places, persist
  4. On create/update, stamp the primary account's new balance on the
     transaction (running balance)

  An account that no longer exists is skipped and reported in
  ApplyResult.Skipped. The caller decides whether that is fatal.

  The Engine must run inside the caller's store transaction (WithTx) so
  the balance writes commit or roll back together with the transaction row.
*/
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/household-ledger/finance"
	"github.com/warp/household-ledger/logger"
)

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is the subset of a transaction that drives balances.
type Snapshot struct {
	Type              finance.TransactionType
	Amount            decimal.Decimal
	AccountID         finance.AccountID
	TransferAccountID finance.AccountID // "" when none
}

// SnapshotOf projects tx. Take it before mutating a transaction so the
// original state can be diffed against the new one.
func SnapshotOf(tx *finance.Transaction) Snapshot {
	return Snapshot{
		Type:              tx.Type,
		Amount:            tx.Amount,
		AccountID:         tx.AccountID,
		TransferAccountID: tx.Counterparty(),
	}
}

// Impacts returns the signed balance effect of s per account.
func Impacts(s Snapshot) map[finance.AccountID]decimal.Decimal {
	out := make(map[finance.AccountID]decimal.Decimal, 2)
	if s.Type == "" || s.AccountID == "" {
		return out
	}

	amount := NormalizeAmount(s.Amount)
	add := func(id finance.AccountID, d decimal.Decimal) {
		out[id] = out[id].Add(d)
	}

	switch s.Type {
	case finance.TxIncome:
		add(s.AccountID, amount)
	case finance.TxExpense:
		add(s.AccountID, amount.Neg())
	case finance.TxTransfer:
		add(s.AccountID, amount.Neg())
		if s.TransferAccountID != "" {
			add(s.TransferAccountID, amount)
		}
	}
	return out
}

// Diff returns Impacts(next) - Impacts(prev) over the union of accounts,
// rounded to 2 places. Accounts whose delta rounds to zero are omitted.
func Diff(next, prev Snapshot) map[finance.AccountID]decimal.Decimal {
	a, b := Impacts(next), Impacts(prev)
	out := make(map[finance.AccountID]decimal.Decimal, len(a)+len(b))

	for id, v := range a {
		out[id] = v.Sub(b[id])
	}
	for id, v := range b {
		if _, seen := a[id]; !seen {
			out[id] = v.Neg()
		}
	}
	for id, v := range out {
		v = v.Round(finance.MoneyPlaces)
		if v.IsZero() {
			delete(out, id)
			continue
		}
		out[id] = v
	}
	return out
}

// =============================================================================
// AMOUNTS
// =============================================================================

// NormalizeAmount returns |raw| rounded half away from zero to 2 places.
func NormalizeAmount(raw decimal.Decimal) decimal.Decimal {
	return raw.Abs().Round(finance.MoneyPlaces)
}

// ParseAmount parses user input and normalizes it.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount %q is not a number", finance.ErrInvalidTransaction, s)
	}
	return NormalizeAmount(d), nil
}

// SignedAmount is the display value of tx: income positive, expense and
// transfer negative. Unknown types are shown as stored.
func SignedAmount(tx *finance.Transaction) decimal.Decimal {
	switch tx.Type {
	case finance.TxExpense, finance.TxTransfer:
		return tx.Amount.Neg()
	default:
		return tx.Amount
	}
}

// =============================================================================
// ENGINE
// =============================================================================

// Store is what the Engine needs from persistence. finance.Store satisfies it.
type Store interface {
	GetAccount(ctx context.Context, id finance.AccountID) (*finance.Account, error)
	FindAccountsForUpdate(ctx context.Context, ids []finance.AccountID) (map[finance.AccountID]*finance.Account, error)
	PersistBalance(ctx context.Context, id finance.AccountID, balance decimal.Decimal) error
	StampRunningBalance(ctx context.Context, id finance.TransactionID, balance decimal.Decimal) error
	LiveTransactionsForAccount(ctx context.Context, id finance.AccountID) ([]finance.Transaction, error)
}

type Engine struct {
	store Store
}

// New binds an engine to store. Pass the transactional view from WithTx.
func New(store Store) *Engine {
	return &Engine{store: store}
}

// ApplyResult reports what an apply call did.
type ApplyResult struct {
	Deltas   map[finance.AccountID]decimal.Decimal // requested deltas
	Balances map[finance.AccountID]decimal.Decimal // new balances of updated accounts
	Skipped  []finance.AccountID                   // deltas dropped because the account is gone
}

// Touched is the number of accounts whose balance was written.
func (r ApplyResult) Touched() int {
	return len(r.Balances)
}

// ApplyForCreate applies the full effect of a newly created transaction.
func (e *Engine) ApplyForCreate(ctx context.Context, tx *finance.Transaction) (ApplyResult, error) {
	return e.apply(ctx, Diff(SnapshotOf(tx), Snapshot{}), tx)
}

// ApplyForUpdate applies the difference between original and tx.
func (e *Engine) ApplyForUpdate(ctx context.Context, tx *finance.Transaction, original Snapshot) (ApplyResult, error) {
	return e.apply(ctx, Diff(SnapshotOf(tx), original), tx)
}

// ApplyForDelete reverses the effect of a deleted transaction. No running
// balance is stamped.
func (e *Engine) ApplyForDelete(ctx context.Context, original Snapshot) (ApplyResult, error) {
	return e.apply(ctx, Diff(Snapshot{}, original), nil)
}

func (e *Engine) apply(ctx context.Context, deltas map[finance.AccountID]decimal.Decimal, tx *finance.Transaction) (ApplyResult, error) {
	res := ApplyResult{
		Deltas:   deltas,
		Balances: make(map[finance.AccountID]decimal.Decimal, len(deltas)),
	}
	if len(deltas) == 0 {
		return res, nil
	}

	ids := make([]finance.AccountID, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	accounts, err := e.store.FindAccountsForUpdate(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("lock accounts: %w", err)
	}

	log := logger.FromContext(ctx)
	for _, id := range ids {
		acc, ok := accounts[id]
		if !ok {
			res.Skipped = append(res.Skipped, id)
			log.Warn().Str("account_id", string(id)).Str("delta", deltas[id].StringFixed(2)).
				Msg("account missing, balance delta skipped")
			continue
		}
		next := acc.CurrentBalance.Add(deltas[id]).Round(finance.MoneyPlaces)
		if err := e.store.PersistBalance(ctx, id, next); err != nil {
			return res, fmt.Errorf("persist balance for %s: %w", id, err)
		}
		acc.CurrentBalance = next
		res.Balances[id] = next
	}

	if tx != nil {
		if bal, ok := res.Balances[tx.AccountID]; ok {
			if err := e.store.StampRunningBalance(ctx, tx.ID, bal); err != nil {
				return res, fmt.Errorf("stamp running balance: %w", err)
			}
			tx.RunningBalance = decimal.NullDecimal{Decimal: bal, Valid: true}
		}
	}

	log.Debug().Int("touched", res.Touched()).Int("skipped", len(res.Skipped)).Msg("balances applied")
	return res, nil
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Drift compares an account's cached balance with a full replay.
type Drift struct {
	AccountID  finance.AccountID
	Cached     decimal.Decimal
	Expected   decimal.Decimal
	Difference decimal.Decimal // Cached - Expected
	Replayed   int
}

func (d Drift) InSync() bool {
	return d.Difference.IsZero()
}

// Reconcile replays every live transaction touching the account on top of
// its initial balance. It never writes.
func (e *Engine) Reconcile(ctx context.Context, id finance.AccountID) (Drift, error) {
	acc, err := e.store.GetAccount(ctx, id)
	if err != nil {
		return Drift{}, err
	}
	txs, err := e.store.LiveTransactionsForAccount(ctx, id)
	if err != nil {
		return Drift{}, fmt.Errorf("load transactions: %w", err)
	}

	expected := acc.InitialBalance
	for i := range txs {
		expected = expected.Add(Impacts(SnapshotOf(&txs[i]))[id])
	}
	expected = expected.Round(finance.MoneyPlaces)

	return Drift{
		AccountID:  id,
		Cached:     acc.CurrentBalance,
		Expected:   expected,
		Difference: acc.CurrentBalance.Sub(expected).Round(finance.MoneyPlaces),
		Replayed:   len(txs),
	}, nil
}
