/*
store.go - Persistence contracts for accounts, transactions and schedules

KEY INTERFACES:
  AccountStore:      Accounts + the locked read / balance write used by the ledger
  TransactionStore:  Transaction CRUD (soft delete) + running balance stamp
  SubscriptionStore: Recurring schedules, due selection for the scheduler
  TxStore:           All of the above plus a transaction boundary

BALANCE WRITES:
  PersistBalance is the only method that writes current_balance. It is
  called by ledger.Engine and nothing else. UpdateAccount never touches it.

LOCKING:
  FindAccountsForUpdate must give exclusive-lock semantics for the
  enclosing WithTx and acquire locks in ascending id order so two
  transfers over the same pair of accounts cannot deadlock.

IMPLEMENTATIONS:
  - store/sqlite:   default, single writer
  - store/postgres: SELECT ... FOR UPDATE row locks
  - store/memory:   tests and demos
*/
package finance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type AccountStore interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)

	// UpdateAccount saves name/type/currency. Balances are ignored.
	UpdateAccount(ctx context.Context, a *Account) error

	// FindAccountsForUpdate loads and locks the given accounts.
	// Missing ids are simply absent from the result.
	FindAccountsForUpdate(ctx context.Context, ids []AccountID) (map[AccountID]*Account, error)

	// PersistBalance writes current_balance.
	PersistBalance(ctx context.Context, id AccountID, balance decimal.Decimal) error
}

type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	UpdateTransaction(ctx context.Context, tx *Transaction) error
	SoftDeleteTransaction(ctx context.Context, id TransactionID, at time.Time) error
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)

	// LiveTransactionsForAccount returns non-deleted transactions where the
	// account is primary or transfer counterparty.
	LiveTransactionsForAccount(ctx context.Context, id AccountID) ([]Transaction, error)

	StampRunningBalance(ctx context.Context, id TransactionID, balance decimal.Decimal) error
}

type SubscriptionStore interface {
	CreateSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, id ScheduleID) (*Schedule, error)
	ListSchedules(ctx context.Context) ([]Schedule, error)

	// FindDueSchedules returns active schedules whose next occurrence is
	// unset or <= ref. Unset first, then ascending next occurrence.
	FindDueSchedules(ctx context.Context, ref time.Time) ([]Schedule, error)

	SaveSchedule(ctx context.Context, s *Schedule) error
}

type Store interface {
	AccountStore
	TransactionStore
	SubscriptionStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
