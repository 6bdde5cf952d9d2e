// Package memory provides an in-memory finance.TxStore for tests and demos.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/household-ledger/finance"
)

// =============================================================================
// FAULT INJECTION
// =============================================================================

// Operations that can be made to fail with InjectFault.
const (
	OpFindAccountsForUpdate = "find_accounts_for_update"
	OpPersistBalance        = "persist_balance"
	OpCreateTransaction     = "create_transaction"
	OpSaveSchedule          = "save_schedule"
)

type faultKey struct {
	op string
	id string
}

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	state

	faults map[faultKey]error
	locks  []finance.AccountID
}

type state struct {
	accounts     map[finance.AccountID]finance.Account
	transactions map[finance.TransactionID]finance.Transaction
	schedules    map[finance.ScheduleID]finance.Schedule
}

func New() *Memory {
	return &Memory{
		state: state{
			accounts:     make(map[finance.AccountID]finance.Account),
			transactions: make(map[finance.TransactionID]finance.Transaction),
			schedules:    make(map[finance.ScheduleID]finance.Schedule),
		},
		faults: make(map[faultKey]error),
	}
}

// InjectFault makes op fail with err for the given id ("" matches any id).
func (m *Memory) InjectFault(op, id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[faultKey{op: op, id: id}] = err
}

// ClearFaults removes every injected fault.
func (m *Memory) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = make(map[faultKey]error)
}

// LockOrder returns the account ids in the order they were locked.
func (m *Memory) LockOrder() []finance.AccountID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]finance.AccountID(nil), m.locks...)
}

func (m *Memory) fault(op, id string) error {
	if err, ok := m.faults[faultKey{op: op, id: id}]; ok {
		return err
	}
	return m.faults[faultKey{op: op}]
}

// =============================================================================
// TRANSACTIONS (WithTx)
// =============================================================================

// WithTx runs fn against a locked view. State is restored when fn fails.
func (m *Memory) WithTx(ctx context.Context, fn func(finance.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := m.snapshot()
	if err := fn(&view{m: m}); err != nil {
		m.state = saved
		return err
	}
	return nil
}

func (m *Memory) snapshot() state {
	s := state{
		accounts:     make(map[finance.AccountID]finance.Account, len(m.accounts)),
		transactions: make(map[finance.TransactionID]finance.Transaction, len(m.transactions)),
		schedules:    make(map[finance.ScheduleID]finance.Schedule, len(m.schedules)),
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.transactions {
		s.transactions[k] = v
	}
	for k, v := range m.schedules {
		s.schedules[k] = v
	}
	return s
}

// =============================================================================
// LOCKED PUBLIC API - each call is its own transaction
// =============================================================================

func (m *Memory) CreateAccount(ctx context.Context, a *finance.Account) error {
	return m.WithTx(ctx, func(s finance.Store) error { return s.CreateAccount(ctx, a) })
}

func (m *Memory) GetAccount(_ context.Context, id finance.AccountID) (*finance.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccount(id)
}

func (m *Memory) ListAccounts(_ context.Context) ([]finance.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAccounts(), nil
}

func (m *Memory) UpdateAccount(ctx context.Context, a *finance.Account) error {
	return m.WithTx(ctx, func(s finance.Store) error { return s.UpdateAccount(ctx, a) })
}

func (m *Memory) FindAccountsForUpdate(ctx context.Context, ids []finance.AccountID) (map[finance.AccountID]*finance.Account, error) {
	var out map[finance.AccountID]*finance.Account
	err := m.WithTx(ctx, func(s finance.Store) error {
		var err error
		out, err = s.FindAccountsForUpdate(ctx, ids)
		return err
	})
	return out, err
}

func (m *Memory) PersistBalance(ctx context.Context, id finance.AccountID, balance decimal.Decimal) error {
	return m.WithTx(ctx, func(s finance.Store) error { return s.PersistBalance(ctx, id, balance) })
}

func (m *Memory) CreateTransaction(ctx context.Context, tx *finance.Transaction) error {
	return m.WithTx(ctx, func(s finance.Store) error { return s.CreateTransaction(ctx, tx) })
}

func (m *Memory) GetTransaction(_ context.Context, id finance.TransactionID) (*finance.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransaction(id)
}

func (m *Memory) UpdateTransaction(ctx context.Context, tx *finance.Transaction) error {
	return m.WithTx(ctx, func(s finance.Store) error { return s.UpdateTransaction(ctx, tx) })
}

func (m *Memory) SoftDeleteTransaction(ctx context.Context, id finance.TransactionID, at time.Time) error {
	return m.WithTx(ctx, func(s finance.Store) error { return s.SoftDeleteTransaction(ctx, id, at) })
}

func (m *Memory) ListTransactions(_ context.Context, filter finance.TransactionFilter) ([]finance.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTransactions(filter), nil
}

func (m *Memory) LiveTransactionsForAccount(_ context.Context, id finance.AccountID) ([]finance.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.liveForAccount(id), nil
}

func (m *Memory) StampRunningBalance(ctx context.Context, id finance.TransactionID, balance decimal.Decimal) error {
	return m.WithTx(ctx, func(s finance.Store) error { return s.StampRunningBalance(ctx, id, balance) })
}

func (m *Memory) CreateSchedule(ctx context.Context, sc *finance.Schedule) error {
	return m.WithTx(ctx, func(s finance.Store) error { return s.CreateSchedule(ctx, sc) })
}

func (m *Memory) GetSchedule(_ context.Context, id finance.ScheduleID) (*finance.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSchedule(id)
}

func (m *Memory) ListSchedules(_ context.Context) ([]finance.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSchedules(), nil
}

func (m *Memory) FindDueSchedules(_ context.Context, ref time.Time) ([]finance.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dueSchedules(ref), nil
}

func (m *Memory) SaveSchedule(ctx context.Context, sc *finance.Schedule) error {
	return m.WithTx(ctx, func(s finance.Store) error { return s.SaveSchedule(ctx, sc) })
}

// =============================================================================
// UNLOCKED READS (caller holds mu)
// =============================================================================

func (st *state) getAccount(id finance.AccountID) (*finance.Account, error) {
	a, ok := st.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", finance.ErrAccountNotFound, id)
	}
	return &a, nil
}

func (st *state) listAccounts() []finance.Account {
	out := make([]finance.Account, 0, len(st.accounts))
	for _, a := range st.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (st *state) getTransaction(id finance.TransactionID) (*finance.Transaction, error) {
	tx, ok := st.transactions[id]
	if !ok || tx.DeletedAt != nil {
		return nil, fmt.Errorf("%w: %s", finance.ErrTransactionNotFound, id)
	}
	return &tx, nil
}

func (st *state) listTransactions(f finance.TransactionFilter) []finance.Transaction {
	var out []finance.Transaction
	for _, tx := range st.transactions {
		if tx.DeletedAt != nil || !matches(tx, f) {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BookedAt.Equal(out[j].BookedAt) {
			return out[i].BookedAt.After(out[j].BookedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func matches(tx finance.Transaction, f finance.TransactionFilter) bool {
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if f.AccountID != "" && tx.AccountID != f.AccountID && tx.Counterparty() != f.AccountID {
		return false
	}
	if f.CategoryID != "" && (tx.CategoryID == nil || *tx.CategoryID != f.CategoryID) {
		return false
	}
	if f.From != nil && tx.BookedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && tx.BookedAt.After(*f.To) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(tx.Description), q) &&
			!strings.Contains(strings.ToLower(tx.Notes), q) {
			return false
		}
	}
	return true
}

func (st *state) liveForAccount(id finance.AccountID) []finance.Transaction {
	var out []finance.Transaction
	for _, tx := range st.transactions {
		if tx.DeletedAt != nil {
			continue
		}
		if tx.AccountID == id || tx.Counterparty() == id {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookedAt.Before(out[j].BookedAt) })
	return out
}

func (st *state) getSchedule(id finance.ScheduleID) (*finance.Schedule, error) {
	s, ok := st.schedules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", finance.ErrScheduleNotFound, id)
	}
	return &s, nil
}

func (st *state) listSchedules() []finance.Schedule {
	out := make([]finance.Schedule, 0, len(st.schedules))
	for _, s := range st.schedules {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (st *state) dueSchedules(ref time.Time) []finance.Schedule {
	var out []finance.Schedule
	for _, s := range st.schedules {
		if s.Status != finance.ScheduleActive {
			continue
		}
		if s.NextOccurrenceAt != nil && s.NextOccurrenceAt.After(ref) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].NextOccurrenceAt, out[j].NextOccurrenceAt
		switch {
		case a == nil && b == nil:
			return out[i].ID < out[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

type view struct {
	m *Memory
}

func now() time.Time { return time.Now().UTC() }

func (v *view) CreateAccount(_ context.Context, a *finance.Account) error {
	if a.ID == "" {
		a.ID = finance.AccountID(finance.NewID())
	}
	if _, exists := v.m.accounts[a.ID]; exists {
		return fmt.Errorf("account %s already exists", a.ID)
	}
	a.CreatedAt, a.UpdatedAt = now(), now()
	v.m.accounts[a.ID] = *a
	return nil
}

func (v *view) GetAccount(_ context.Context, id finance.AccountID) (*finance.Account, error) {
	return v.m.getAccount(id)
}

func (v *view) ListAccounts(_ context.Context) ([]finance.Account, error) {
	return v.m.listAccounts(), nil
}

func (v *view) UpdateAccount(_ context.Context, a *finance.Account) error {
	cur, ok := v.m.accounts[a.ID]
	if !ok {
		return fmt.Errorf("%w: %s", finance.ErrAccountNotFound, a.ID)
	}
	cur.Name, cur.Type, cur.Currency = a.Name, a.Type, a.Currency
	cur.UpdatedAt = now()
	v.m.accounts[a.ID] = cur
	*a = cur
	return nil
}

func (v *view) FindAccountsForUpdate(_ context.Context, ids []finance.AccountID) (map[finance.AccountID]*finance.Account, error) {
	sorted := append([]finance.AccountID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	out := make(map[finance.AccountID]*finance.Account, len(sorted))
	for _, id := range sorted {
		if err := v.m.fault(OpFindAccountsForUpdate, string(id)); err != nil {
			return nil, err
		}
		a, ok := v.m.accounts[id]
		if !ok {
			continue
		}
		v.m.locks = append(v.m.locks, id)
		out[id] = &a
	}
	return out, nil
}

func (v *view) PersistBalance(_ context.Context, id finance.AccountID, balance decimal.Decimal) error {
	if err := v.m.fault(OpPersistBalance, string(id)); err != nil {
		return err
	}
	a, ok := v.m.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", finance.ErrAccountNotFound, id)
	}
	a.CurrentBalance = balance
	a.UpdatedAt = now()
	v.m.accounts[id] = a
	return nil
}

func (v *view) CreateTransaction(_ context.Context, tx *finance.Transaction) error {
	if tx.ID == "" {
		tx.ID = finance.TransactionID(finance.NewID())
	}
	if err := v.m.fault(OpCreateTransaction, string(tx.AccountID)); err != nil {
		return err
	}
	tx.CreatedAt, tx.UpdatedAt = now(), now()
	v.m.transactions[tx.ID] = *tx
	return nil
}

func (v *view) GetTransaction(_ context.Context, id finance.TransactionID) (*finance.Transaction, error) {
	return v.m.getTransaction(id)
}

func (v *view) UpdateTransaction(_ context.Context, tx *finance.Transaction) error {
	cur, err := v.m.getTransaction(tx.ID)
	if err != nil {
		return err
	}
	tx.CreatedAt = cur.CreatedAt
	tx.UpdatedAt = now()
	v.m.transactions[tx.ID] = *tx
	return nil
}

func (v *view) SoftDeleteTransaction(_ context.Context, id finance.TransactionID, at time.Time) error {
	cur, err := v.m.getTransaction(id)
	if err != nil {
		return err
	}
	cur.DeletedAt = &at
	v.m.transactions[id] = *cur
	return nil
}

func (v *view) ListTransactions(_ context.Context, filter finance.TransactionFilter) ([]finance.Transaction, error) {
	return v.m.listTransactions(filter), nil
}

func (v *view) LiveTransactionsForAccount(_ context.Context, id finance.AccountID) ([]finance.Transaction, error) {
	return v.m.liveForAccount(id), nil
}

func (v *view) StampRunningBalance(_ context.Context, id finance.TransactionID, balance decimal.Decimal) error {
	cur, ok := v.m.transactions[id]
	if !ok {
		return fmt.Errorf("%w: %s", finance.ErrTransactionNotFound, id)
	}
	cur.RunningBalance = decimal.NullDecimal{Decimal: balance, Valid: true}
	v.m.transactions[id] = cur
	return nil
}

func (v *view) CreateSchedule(_ context.Context, s *finance.Schedule) error {
	if s.ID == "" {
		s.ID = finance.ScheduleID(finance.NewID())
	}
	s.CreatedAt, s.UpdatedAt = now(), now()
	v.m.schedules[s.ID] = *s
	return nil
}

func (v *view) GetSchedule(_ context.Context, id finance.ScheduleID) (*finance.Schedule, error) {
	return v.m.getSchedule(id)
}

func (v *view) ListSchedules(_ context.Context) ([]finance.Schedule, error) {
	return v.m.listSchedules(), nil
}

func (v *view) FindDueSchedules(_ context.Context, ref time.Time) ([]finance.Schedule, error) {
	return v.m.dueSchedules(ref), nil
}

func (v *view) SaveSchedule(_ context.Context, s *finance.Schedule) error {
	if err := v.m.fault(OpSaveSchedule, string(s.ID)); err != nil {
		return err
	}
	if _, ok := v.m.schedules[s.ID]; !ok {
		return fmt.Errorf("%w: %s", finance.ErrScheduleNotFound, s.ID)
	}
	s.UpdatedAt = now()
	v.m.schedules[s.ID] = *s
	return nil
}
