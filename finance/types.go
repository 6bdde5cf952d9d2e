/*
Package finance holds the household ledger's domain model.

PURPOSE:
  Accounts, transactions and recurring schedules shared by the balance
  engine (ledger), the occurrence scheduler (recurring), the stores and
  the HTTP layer. Nothing in this package talks to a database.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal with 2 fraction digits, never float64
  - Account: running balance cached on the row (current_balance)
  - Transaction: stored magnitude + type; sign is derived from the type
  - Schedule: recurring template that materializes transactions

BALANCE INVARIANT:
  current_balance = initial_balance + Σ signed effect of every live
  transaction referencing the account (as primary or transfer counterparty).
  Only the ledger package writes current_balance.

SEE ALSO:
  - store.go: Persistence contracts
  - schedule.go: Schedule state machine
  - ledger/balance.go: The single write path for balances
*/
package finance

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type TransactionID string
type ScheduleID string
type CategoryID string

// NewID returns a fresh opaque identifier.
func NewID() string {
	return uuid.NewString()
}

// MoneyPlaces is the number of fraction digits kept for every stored amount.
const MoneyPlaces = 2

// =============================================================================
// ACCOUNT
// =============================================================================

type AccountType string

const (
	AccountCash       AccountType = "cash"
	AccountChecking   AccountType = "checking"
	AccountSavings    AccountType = "savings"
	AccountCredit     AccountType = "credit"
	AccountInvestment AccountType = "investment"
	AccountLoan       AccountType = "loan"
	AccountWallet     AccountType = "wallet"
	AccountOther      AccountType = "other"
)

type Account struct {
	ID             AccountID
	Name           string
	Type           AccountType
	Currency       string // ISO code, informational only
	InitialBalance decimal.Decimal
	CurrentBalance decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// =============================================================================
// TRANSACTION
// =============================================================================

type TransactionType string

const (
	TxIncome   TransactionType = "income"
	TxExpense  TransactionType = "expense"
	TxTransfer TransactionType = "transfer"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TxIncome, TxExpense, TxTransfer:
		return true
	}
	return false
}

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusPosted     TransactionStatus = "posted"
	StatusReconciled TransactionStatus = "reconciled"
	StatusVoid       TransactionStatus = "void"
)

// Source values recorded on transactions.
const (
	SourceManual       = "manual"
	SourceSubscription = "subscription"
)

type Transaction struct {
	ID                TransactionID
	AccountID         AccountID
	TransferAccountID *AccountID // set only for transfers
	CategoryID        *CategoryID
	ScheduleID        *ScheduleID // set when materialized from a schedule
	Type              TransactionType
	Status            TransactionStatus
	Amount            decimal.Decimal // magnitude, never negative

	// RunningBalance is the primary account's balance right after this
	// transaction was applied. Display only.
	RunningBalance decimal.NullDecimal

	BookedAt    time.Time
	PostedAt    *time.Time
	Description string
	Notes       string
	Source      string

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Counterparty returns the transfer account id, or "" when there is none.
func (t *Transaction) Counterparty() AccountID {
	if t.TransferAccountID == nil {
		return ""
	}
	return *t.TransferAccountID
}

// TransactionFilter narrows ListTransactions. Zero values mean "any".
type TransactionFilter struct {
	Type       TransactionType
	Status     TransactionStatus
	AccountID  AccountID
	CategoryID CategoryID
	From       *time.Time
	To         *time.Time
	Search     string
	Limit      int
}

// =============================================================================
// HELPERS
// =============================================================================

// AccountIDPtr returns a pointer to id, or nil for the empty id.
func AccountIDPtr(id AccountID) *AccountID {
	if id == "" {
		return nil
	}
	return &id
}

// CategoryIDPtr returns a pointer to id, or nil for the empty id.
func CategoryIDPtr(id CategoryID) *CategoryID {
	if id == "" {
		return nil
	}
	return &id
}

func TimePtr(t time.Time) *time.Time { return &t }
