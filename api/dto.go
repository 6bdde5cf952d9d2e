/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the finance domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts travel as decimal strings ("120.25"), never JSON numbers.
  Request amounts may carry a sign or extra digits; they are normalized to
  a non-negative 2-dp magnitude before reaching the ledger.

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  h.validate.Struct before touching the store; domain rules that need more
  than one field (transfer counterparty, date order) stay in finance.Validate.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/household-ledger/finance"
	"github.com/warp/household-ledger/ledger"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountDTO struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	Currency       string          `json:"currency"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

type CreateAccountRequest struct {
	ID             string `json:"id,omitempty" validate:"omitempty,max=64"`
	Name           string `json:"name" validate:"required,max=120"`
	Type           string `json:"type" validate:"required,oneof=cash checking savings credit investment loan wallet other"`
	Currency       string `json:"currency" validate:"omitempty,len=3,alpha"`
	InitialBalance string `json:"initial_balance" validate:"omitempty,numeric"`
}

// UpdateAccountRequest changes metadata only. Balances move through
// transactions.
type UpdateAccountRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Type     string `json:"type" validate:"required,oneof=cash checking savings credit investment loan wallet other"`
	Currency string `json:"currency" validate:"omitempty,len=3,alpha"`
}

// DriftDTO is the reconcile report for one account.
type DriftDTO struct {
	AccountID  string          `json:"account_id"`
	Cached     decimal.Decimal `json:"cached_balance"`
	Expected   decimal.Decimal `json:"expected_balance"`
	Difference decimal.Decimal `json:"difference"`
	Replayed   int             `json:"replayed_transactions"`
	InSync     bool            `json:"in_sync"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionDTO struct {
	ID                string           `json:"id"`
	AccountID         string           `json:"account_id"`
	TransferAccountID *string          `json:"transfer_account_id,omitempty"`
	CategoryID        *string          `json:"category_id,omitempty"`
	ScheduleID        *string          `json:"schedule_id,omitempty"`
	Type              string           `json:"type"`
	Status            string           `json:"status"`
	Amount            decimal.Decimal  `json:"amount"`
	SignedAmount      decimal.Decimal  `json:"signed_amount"`
	RunningBalance    *decimal.Decimal `json:"running_balance,omitempty"`
	BookedAt          string           `json:"booked_at"`
	PostedAt          *string          `json:"posted_at,omitempty"`
	Description       string           `json:"description"`
	Notes             string           `json:"notes,omitempty"`
	Source            string           `json:"source"`
	CreatedAt         string           `json:"created_at"`
	UpdatedAt         string           `json:"updated_at"`
}

// TransactionRequest is the body of both create and update.
type TransactionRequest struct {
	AccountID         string `json:"account_id" validate:"required"`
	TransferAccountID string `json:"transfer_account_id,omitempty" validate:"omitempty,nefield=AccountID"`
	CategoryID        string `json:"category_id,omitempty"`
	Type              string `json:"type" validate:"required,oneof=income expense transfer"`
	Status            string `json:"status,omitempty" validate:"omitempty,oneof=pending posted reconciled void"`
	Amount            string `json:"amount" validate:"required,numeric"`
	BookedAt          string `json:"booked_at,omitempty"`
	Description       string `json:"description" validate:"required,max=255"`
	Notes             string `json:"notes,omitempty" validate:"max=2000"`
}

// TransactionResultDTO pairs a written transaction with the balances the
// write moved.
type TransactionResultDTO struct {
	Transaction *TransactionDTO            `json:"transaction,omitempty"`
	Balances    map[string]decimal.Decimal `json:"balances"`
	Skipped     []string                   `json:"skipped_accounts,omitempty"`
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

type SubscriptionDTO struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	AccountID         string          `json:"account_id"`
	TransferAccountID *string         `json:"transfer_account_id,omitempty"`
	CategoryID        *string         `json:"category_id,omitempty"`
	Type              string          `json:"type"`
	Amount            decimal.Decimal `json:"amount"`
	Frequency         string          `json:"frequency"`
	Interval          int             `json:"interval"`
	StartsOn          *string         `json:"starts_on,omitempty"`
	EndsOn            *string         `json:"ends_on,omitempty"`
	LastOccurrenceAt  *string         `json:"last_occurrence_at,omitempty"`
	NextOccurrenceAt  *string         `json:"next_occurrence_at,omitempty"`
	Status            string          `json:"status"`
	State             string          `json:"state"`
	AutoCommit        bool            `json:"auto_commit"`
	Memo              string          `json:"memo,omitempty"`
}

type CreateSubscriptionRequest struct {
	Name              string `json:"name" validate:"required,max=120"`
	AccountID         string `json:"account_id" validate:"required"`
	TransferAccountID string `json:"transfer_account_id,omitempty" validate:"required_if=Type transfer,omitempty,nefield=AccountID"`
	CategoryID        string `json:"category_id,omitempty"`
	Type              string `json:"type" validate:"required,oneof=income expense transfer"`
	Amount            string `json:"amount" validate:"required,numeric"`
	Frequency         string `json:"frequency" validate:"required,oneof=daily weekly biweekly monthly quarterly semiannual annual"`
	Interval          int    `json:"interval" validate:"omitempty,min=1,max=365"`
	StartsOn          string `json:"starts_on,omitempty"`
	EndsOn            string `json:"ends_on,omitempty"`
	AutoCommit        bool   `json:"auto_commit"`
	Memo              string `json:"memo,omitempty" validate:"max=2000"`
}

type ProcessDueDTO struct {
	Reference string `json:"reference"`
	Processed int    `json:"processed"`
}

// =============================================================================
// SUMMARY
// =============================================================================

type SummaryDTO struct {
	AsOf           string             `json:"as_of"`
	TotalBalance   decimal.Decimal    `json:"total_balance"`
	AccountsCount  int                `json:"accounts_count"`
	MonthlyInflow  decimal.Decimal    `json:"monthly_inflow"`
	MonthlyOutflow decimal.Decimal    `json:"monthly_outflow"`
	NetCashFlow    decimal.Decimal    `json:"net_cash_flow"`
	OutflowTrend   decimal.Decimal    `json:"outflow_trend_pct"`
	TopCategories  []CategorySpendDTO `json:"top_categories"`
	Upcoming       []TransactionDTO   `json:"upcoming"`
}

type CategorySpendDTO struct {
	CategoryID *string         `json:"category_id"`
	Amount     decimal.Decimal `json:"amount"`
	Share      decimal.Decimal `json:"share_pct"`
}

// =============================================================================
// MISC
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(finance.DateLayout)
	return &s
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func idString[T ~string](id *T) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}

func toAccountDTO(a *finance.Account) AccountDTO {
	return AccountDTO{
		ID:             string(a.ID),
		Name:           a.Name,
		Type:           string(a.Type),
		Currency:       a.Currency,
		InitialBalance: a.InitialBalance,
		CurrentBalance: a.CurrentBalance,
		CreatedAt:      formatTime(a.CreatedAt),
		UpdatedAt:      formatTime(a.UpdatedAt),
	}
}

func toTransactionDTO(tx *finance.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:                string(tx.ID),
		AccountID:         string(tx.AccountID),
		TransferAccountID: idString(tx.TransferAccountID),
		CategoryID:        idString(tx.CategoryID),
		ScheduleID:        idString(tx.ScheduleID),
		Type:              string(tx.Type),
		Status:            string(tx.Status),
		Amount:            tx.Amount,
		SignedAmount:      ledger.SignedAmount(tx),
		BookedAt:          formatTime(tx.BookedAt),
		PostedAt:          formatTimePtr(tx.PostedAt),
		Description:       tx.Description,
		Notes:             tx.Notes,
		Source:            tx.Source,
		CreatedAt:         formatTime(tx.CreatedAt),
		UpdatedAt:         formatTime(tx.UpdatedAt),
	}
	if tx.RunningBalance.Valid {
		rb := tx.RunningBalance.Decimal
		dto.RunningBalance = &rb
	}
	return dto
}

func toTransactionDTOs(txs []finance.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, len(txs))
	for i := range txs {
		out[i] = toTransactionDTO(&txs[i])
	}
	return out
}

func toSubscriptionDTO(s *finance.Schedule) SubscriptionDTO {
	return SubscriptionDTO{
		ID:                string(s.ID),
		Name:              s.Name,
		AccountID:         string(s.AccountID),
		TransferAccountID: idString(s.TransferAccountID),
		CategoryID:        idString(s.CategoryID),
		Type:              string(s.Type),
		Amount:            s.Amount,
		Frequency:         string(s.Frequency),
		Interval:          s.Interval,
		StartsOn:          formatDate(s.StartsOn),
		EndsOn:            formatDate(s.EndsOn),
		LastOccurrenceAt:  formatTimePtr(s.LastOccurrenceAt),
		NextOccurrenceAt:  formatTimePtr(s.NextOccurrenceAt),
		Status:            string(s.Status),
		State:             s.State().Kind.String(),
		AutoCommit:        s.AutoCommit,
		Memo:              s.Memo,
	}
}

func toResultDTO(tx *finance.Transaction, res ledger.ApplyResult) TransactionResultDTO {
	out := TransactionResultDTO{Balances: make(map[string]decimal.Decimal, len(res.Balances))}
	if tx != nil {
		dto := toTransactionDTO(tx)
		out.Transaction = &dto
	}
	for id, bal := range res.Balances {
		out.Balances[string(id)] = bal
	}
	for _, id := range res.Skipped {
		out.Skipped = append(out.Skipped, string(id))
	}
	return out
}

func toDriftDTO(d ledger.Drift) DriftDTO {
	return DriftDTO{
		AccountID:  string(d.AccountID),
		Cached:     d.Cached,
		Expected:   d.Expected,
		Difference: d.Difference,
		Replayed:   d.Replayed,
		InSync:     d.InSync(),
	}
}
