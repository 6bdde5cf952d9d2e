/*
Package sqlite provides a SQLite-backed implementation of finance.TxStore.

PURPOSE:
  Default persistence for the household ledger. The same contract is
  implemented for PostgreSQL in store/postgres; only the dialect differs.

KEY TABLES:
  accounts:               Accounts with their cached current_balance
  transactions:           Income/expense/transfer rows, soft deleted via deleted_at
  recurring_transactions: Subscription schedules

STORAGE FORMAT:
  Amounts are TEXT with exactly 2 fraction digits ("1234.50").
  Timestamps are TEXT in UTC RFC3339, so string order is time order.
  SQLite sorts NULL first in ascending order, which FindDueSchedules relies on.

CONCURRENCY:
  A single connection is kept open (SQLite has one writer anyway, and an
  in-memory database only exists per connection). Non-transactional calls
  take sync.RWMutex. WithTx holds the write lock for its whole duration and
  hands the callback a view bound to the *sql.Tx, so FindAccountsForUpdate
  inside WithTx is exclusive.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/household-ledger/finance"
)

// Store implements finance.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT '',
		initial_balance TEXT NOT NULL,
		current_balance TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		transfer_account_id TEXT,
		category_id TEXT,
		schedule_id TEXT,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		amount TEXT NOT NULL,
		running_balance TEXT,
		booked_at TEXT NOT NULL,
		posted_at TEXT,
		description TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT 'manual',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT
	);

	-- Replay and per-account listings (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_account_booked
		ON transactions(account_id, booked_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_transfer_account
		ON transactions(transfer_account_id) WHERE transfer_account_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_schedule
		ON transactions(schedule_id) WHERE schedule_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_booked
		ON transactions(booked_at DESC);

	CREATE TABLE IF NOT EXISTS recurring_transactions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		account_id TEXT NOT NULL,
		transfer_account_id TEXT,
		category_id TEXT,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		frequency TEXT NOT NULL,
		interval_count INTEGER NOT NULL DEFAULT 1,
		starts_on TEXT,
		ends_on TEXT,
		last_occurrence_at TEXT,
		next_occurrence_at TEXT,
		status TEXT NOT NULL,
		auto_commit INTEGER NOT NULL DEFAULT 0,
		memo TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Due selection
	CREATE INDEX IF NOT EXISTS idx_recurring_status_next
		ON recurring_transactions(status, next_occurrence_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// QUERIER - shared by *sql.DB and *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// ops implements finance.Store on top of a querier without any locking.
type ops struct {
	q querier
}

// =============================================================================
// TRANSACTIONAL STORE (finance.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store finance.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(ops{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

func (s *Store) read() ops {
	return ops{q: s.db}
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a *finance.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().CreateAccount(ctx, a)
}

func (s *Store) GetAccount(ctx context.Context, id finance.AccountID) (*finance.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetAccount(ctx, id)
}

func (s *Store) ListAccounts(ctx context.Context) ([]finance.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListAccounts(ctx)
}

func (s *Store) UpdateAccount(ctx context.Context, a *finance.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateAccount(ctx, a)
}

// FindAccountsForUpdate outside WithTx is a plain read. Use the view passed
// to WithTx to get exclusive locking.
func (s *Store) FindAccountsForUpdate(ctx context.Context, ids []finance.AccountID) (map[finance.AccountID]*finance.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().FindAccountsForUpdate(ctx, ids)
}

func (s *Store) PersistBalance(ctx context.Context, id finance.AccountID, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().PersistBalance(ctx, id, balance)
}

const accountColumns = `id, name, type, currency, initial_balance, current_balance, created_at, updated_at`

func (o ops) CreateAccount(ctx context.Context, a *finance.Account) error {
	if a.ID == "" {
		a.ID = finance.AccountID(finance.NewID())
	}
	now := time.Now().UTC().Truncate(time.Second)
	a.CreatedAt, a.UpdatedAt = now, now

	_, err := o.q.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Type, a.Currency,
		money(a.InitialBalance), money(a.CurrentBalance),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (o ops) GetAccount(ctx context.Context, id finance.AccountID) (*finance.Account, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", finance.ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (o ops) ListAccounts(ctx context.Context) ([]finance.Account, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []finance.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (o ops) UpdateAccount(ctx context.Context, a *finance.Account) error {
	res, err := o.q.ExecContext(ctx, `
		UPDATE accounts SET name = ?, type = ?, currency = ?, updated_at = ?
		WHERE id = ?`,
		a.Name, a.Type, a.Currency, formatTime(time.Now()), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if err := expectOne(res, finance.ErrAccountNotFound, string(a.ID)); err != nil {
		return err
	}

	fresh, err := o.GetAccount(ctx, a.ID)
	if err != nil {
		return err
	}
	*a = *fresh
	return nil
}

func (o ops) FindAccountsForUpdate(ctx context.Context, ids []finance.AccountID) (map[finance.AccountID]*finance.Account, error) {
	out := make(map[finance.AccountID]*finance.Account, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY id ASC`

	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to lock accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = &a
	}
	return out, rows.Err()
}

func (o ops) PersistBalance(ctx context.Context, id finance.AccountID, balance decimal.Decimal) error {
	res, err := o.q.ExecContext(ctx,
		`UPDATE accounts SET current_balance = ?, updated_at = ? WHERE id = ?`,
		money(balance), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to persist balance: %w", err)
	}
	return expectOne(res, finance.ErrAccountNotFound, string(id))
}

func scanAccount(row scanner) (finance.Account, error) {
	var (
		a                    finance.Account
		createdAt, updatedAt string
	)
	err := row.Scan(&a.ID, &a.Name, &a.Type, &a.Currency,
		&a.InitialBalance, &a.CurrentBalance, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return a, err
		}
		return a, fmt.Errorf("failed to scan account: %w", err)
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

func (s *Store) CreateTransaction(ctx context.Context, tx *finance.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().CreateTransaction(ctx, tx)
}

func (s *Store) GetTransaction(ctx context.Context, id finance.TransactionID) (*finance.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetTransaction(ctx, id)
}

func (s *Store) UpdateTransaction(ctx context.Context, tx *finance.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateTransaction(ctx, tx)
}

func (s *Store) SoftDeleteTransaction(ctx context.Context, id finance.TransactionID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().SoftDeleteTransaction(ctx, id, at)
}

func (s *Store) ListTransactions(ctx context.Context, filter finance.TransactionFilter) ([]finance.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListTransactions(ctx, filter)
}

func (s *Store) LiveTransactionsForAccount(ctx context.Context, id finance.AccountID) ([]finance.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().LiveTransactionsForAccount(ctx, id)
}

func (s *Store) StampRunningBalance(ctx context.Context, id finance.TransactionID, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().StampRunningBalance(ctx, id, balance)
}

const transactionColumns = `id, account_id, transfer_account_id, category_id, schedule_id,
	type, status, amount, running_balance, booked_at, posted_at,
	description, notes, source, created_at, updated_at, deleted_at`

func (o ops) CreateTransaction(ctx context.Context, tx *finance.Transaction) error {
	if tx.ID == "" {
		tx.ID = finance.TransactionID(finance.NewID())
	}
	if tx.Source == "" {
		tx.Source = finance.SourceManual
	}
	now := time.Now().UTC().Truncate(time.Second)
	tx.CreatedAt, tx.UpdatedAt = now, now

	_, err := o.q.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.AccountID, nullID(tx.TransferAccountID), nullID(tx.CategoryID), nullID(tx.ScheduleID),
		tx.Type, tx.Status, money(tx.Amount), nullMoney(tx.RunningBalance),
		formatTime(tx.BookedAt), nullTime(tx.PostedAt),
		tx.Description, tx.Notes, tx.Source,
		formatTime(tx.CreatedAt), formatTime(tx.UpdatedAt), nullTime(tx.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (o ops) GetTransaction(ctx context.Context, id finance.TransactionID) (*finance.Transaction, error) {
	row := o.q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND deleted_at IS NULL`, id)
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", finance.ErrTransactionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (o ops) UpdateTransaction(ctx context.Context, tx *finance.Transaction) error {
	tx.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	res, err := o.q.ExecContext(ctx, `
		UPDATE transactions SET
			account_id = ?, transfer_account_id = ?, category_id = ?, schedule_id = ?,
			type = ?, status = ?, amount = ?, running_balance = ?,
			booked_at = ?, posted_at = ?, description = ?, notes = ?, source = ?,
			updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		tx.AccountID, nullID(tx.TransferAccountID), nullID(tx.CategoryID), nullID(tx.ScheduleID),
		tx.Type, tx.Status, money(tx.Amount), nullMoney(tx.RunningBalance),
		formatTime(tx.BookedAt), nullTime(tx.PostedAt), tx.Description, tx.Notes, tx.Source,
		formatTime(tx.UpdatedAt), tx.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return expectOne(res, finance.ErrTransactionNotFound, string(tx.ID))
}

func (o ops) SoftDeleteTransaction(ctx context.Context, id finance.TransactionID, at time.Time) error {
	res, err := o.q.ExecContext(ctx,
		`UPDATE transactions SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		formatTime(at), formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return expectOne(res, finance.ErrTransactionNotFound, string(id))
}

func (o ops) ListTransactions(ctx context.Context, f finance.TransactionFilter) ([]finance.Transaction, error) {
	where := []string{"deleted_at IS NULL"}
	var args []any

	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.AccountID != "" {
		where = append(where, "(account_id = ? OR transfer_account_id = ?)")
		args = append(args, f.AccountID, f.AccountID)
	}
	if f.CategoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.From != nil {
		where = append(where, "booked_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where = append(where, "booked_at <= ?")
		args = append(args, formatTime(*f.To))
	}
	if f.Search != "" {
		where = append(where, "(description LIKE ? OR notes LIKE ?)")
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY booked_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	return o.queryTransactions(ctx, query, args...)
}

func (o ops) LiveTransactionsForAccount(ctx context.Context, id finance.AccountID) ([]finance.Transaction, error) {
	return o.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE deleted_at IS NULL AND (account_id = ? OR transfer_account_id = ?)
		ORDER BY booked_at ASC, created_at ASC`,
		id, id)
}

func (o ops) StampRunningBalance(ctx context.Context, id finance.TransactionID, balance decimal.Decimal) error {
	res, err := o.q.ExecContext(ctx,
		`UPDATE transactions SET running_balance = ? WHERE id = ?`, money(balance), id)
	if err != nil {
		return fmt.Errorf("failed to stamp running balance: %w", err)
	}
	return expectOne(res, finance.ErrTransactionNotFound, string(id))
}

func (o ops) queryTransactions(ctx context.Context, query string, args ...any) ([]finance.Transaction, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []finance.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(row scanner) (finance.Transaction, error) {
	var (
		tx                                 finance.Transaction
		transferID, categoryID, scheduleID sql.NullString
		bookedAt, createdAt, updatedAt     string
		postedAt, deletedAt                sql.NullString
	)

	err := row.Scan(
		&tx.ID, &tx.AccountID, &transferID, &categoryID, &scheduleID,
		&tx.Type, &tx.Status, &tx.Amount, &tx.RunningBalance, &bookedAt, &postedAt,
		&tx.Description, &tx.Notes, &tx.Source, &createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return tx, err
		}
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if transferID.Valid {
		tx.TransferAccountID = finance.AccountIDPtr(finance.AccountID(transferID.String))
	}
	if categoryID.Valid {
		tx.CategoryID = finance.CategoryIDPtr(finance.CategoryID(categoryID.String))
	}
	if scheduleID.Valid {
		id := finance.ScheduleID(scheduleID.String)
		tx.ScheduleID = &id
	}
	tx.BookedAt = parseTime(bookedAt)
	tx.PostedAt = parseNullTime(postedAt)
	tx.CreatedAt = parseTime(createdAt)
	tx.UpdatedAt = parseTime(updatedAt)
	tx.DeletedAt = parseNullTime(deletedAt)

	return tx, nil
}

// =============================================================================
// SUBSCRIPTION STORE
// =============================================================================

func (s *Store) CreateSchedule(ctx context.Context, sc *finance.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().CreateSchedule(ctx, sc)
}

func (s *Store) GetSchedule(ctx context.Context, id finance.ScheduleID) (*finance.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetSchedule(ctx, id)
}

func (s *Store) ListSchedules(ctx context.Context) ([]finance.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListSchedules(ctx)
}

func (s *Store) FindDueSchedules(ctx context.Context, ref time.Time) ([]finance.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().FindDueSchedules(ctx, ref)
}

func (s *Store) SaveSchedule(ctx context.Context, sc *finance.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().SaveSchedule(ctx, sc)
}

const scheduleColumns = `id, name, account_id, transfer_account_id, category_id, type, amount,
	frequency, interval_count, starts_on, ends_on, last_occurrence_at, next_occurrence_at,
	status, auto_commit, memo, created_at, updated_at`

func (o ops) CreateSchedule(ctx context.Context, sc *finance.Schedule) error {
	if sc.ID == "" {
		sc.ID = finance.ScheduleID(finance.NewID())
	}
	now := time.Now().UTC().Truncate(time.Second)
	sc.CreatedAt, sc.UpdatedAt = now, now

	_, err := o.q.ExecContext(ctx, `
		INSERT INTO recurring_transactions (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Name, sc.AccountID, nullID(sc.TransferAccountID), nullID(sc.CategoryID),
		sc.Type, money(sc.Amount), sc.Frequency, sc.Interval,
		nullTime(sc.StartsOn), nullTime(sc.EndsOn), nullTime(sc.LastOccurrenceAt), nullTime(sc.NextOccurrenceAt),
		sc.Status, sc.AutoCommit, sc.Memo, formatTime(sc.CreatedAt), formatTime(sc.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert schedule: %w", err)
	}
	return nil
}

func (o ops) GetSchedule(ctx context.Context, id finance.ScheduleID) (*finance.Schedule, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM recurring_transactions WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", finance.ErrScheduleNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (o ops) ListSchedules(ctx context.Context) ([]finance.Schedule, error) {
	return o.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM recurring_transactions ORDER BY name ASC, id ASC`)
}

func (o ops) FindDueSchedules(ctx context.Context, ref time.Time) ([]finance.Schedule, error) {
	return o.querySchedules(ctx, `
		SELECT `+scheduleColumns+` FROM recurring_transactions
		WHERE status = ? AND (next_occurrence_at IS NULL OR next_occurrence_at <= ?)
		ORDER BY next_occurrence_at ASC, id ASC`,
		finance.ScheduleActive, formatTime(ref))
}

func (o ops) SaveSchedule(ctx context.Context, sc *finance.Schedule) error {
	sc.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	res, err := o.q.ExecContext(ctx, `
		UPDATE recurring_transactions SET
			name = ?, account_id = ?, transfer_account_id = ?, category_id = ?, type = ?,
			amount = ?, frequency = ?, interval_count = ?, starts_on = ?, ends_on = ?,
			last_occurrence_at = ?, next_occurrence_at = ?, status = ?, auto_commit = ?,
			memo = ?, updated_at = ?
		WHERE id = ?`,
		sc.Name, sc.AccountID, nullID(sc.TransferAccountID), nullID(sc.CategoryID), sc.Type,
		money(sc.Amount), sc.Frequency, sc.Interval, nullTime(sc.StartsOn), nullTime(sc.EndsOn),
		nullTime(sc.LastOccurrenceAt), nullTime(sc.NextOccurrenceAt), sc.Status, sc.AutoCommit,
		sc.Memo, formatTime(sc.UpdatedAt), sc.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return expectOne(res, finance.ErrScheduleNotFound, string(sc.ID))
}

func (o ops) querySchedules(ctx context.Context, query string, args ...any) ([]finance.Schedule, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var out []finance.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func scanSchedule(row scanner) (finance.Schedule, error) {
	var (
		sc                     finance.Schedule
		transferID, categoryID sql.NullString
		startsOn, endsOn       sql.NullString
		lastAt, nextAt         sql.NullString
		createdAt, updatedAt   string
	)

	err := row.Scan(
		&sc.ID, &sc.Name, &sc.AccountID, &transferID, &categoryID, &sc.Type, &sc.Amount,
		&sc.Frequency, &sc.Interval, &startsOn, &endsOn, &lastAt, &nextAt,
		&sc.Status, &sc.AutoCommit, &sc.Memo, &createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return sc, err
		}
		return sc, fmt.Errorf("failed to scan schedule: %w", err)
	}

	if transferID.Valid {
		sc.TransferAccountID = finance.AccountIDPtr(finance.AccountID(transferID.String))
	}
	if categoryID.Valid {
		sc.CategoryID = finance.CategoryIDPtr(finance.CategoryID(categoryID.String))
	}
	sc.StartsOn = parseNullTime(startsOn)
	sc.EndsOn = parseNullTime(endsOn)
	sc.LastOccurrenceAt = parseNullTime(lastAt)
	sc.NextOccurrenceAt = parseNullTime(nextAt)
	sc.CreatedAt = parseTime(createdAt)
	sc.UpdatedAt = parseTime(updatedAt)

	return sc, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(finance.MoneyPlaces)
}

func nullMoney(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return money(d.Decimal)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t.UTC()
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullID[T ~string](id *T) any {
	if id == nil || *id == "" {
		return nil
	}
	return string(*id)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func expectOne(res sql.Result, notFound error, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return nil
}
