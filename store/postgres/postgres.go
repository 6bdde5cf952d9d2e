/*
Package postgres provides a PostgreSQL implementation of finance.TxStore.

PURPOSE:
  Production persistence. Same contract as store/sqlite, with real row
  locks: FindAccountsForUpdate issues SELECT ... FOR UPDATE ordered by id,
  so concurrent appliers serialize per account and always lock in the
  same order.

TYPES:
  Amounts are NUMERIC(14,2), instants TIMESTAMPTZ, schedule bounds DATE.

ERRORS:
  serialization_failure (40001) and deadlock_detected (40P01) surface as
  finance.ErrConcurrentModification so callers can retry the whole write.

USAGE:
  store, err := postgres.Open(postgres.Config{DSN: dsn, MaxOpenConns: 25})
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  if err := store.Migrate(ctx); err != nil { ... }
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/warp/household-ledger/finance"
)

// Config holds connection pool settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Store struct {
	db *sql.DB
}

// Open connects, pings and configures the pool.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT '',
		initial_balance NUMERIC(14,2) NOT NULL DEFAULT 0,
		current_balance NUMERIC(14,2) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		transfer_account_id TEXT,
		category_id TEXT,
		schedule_id TEXT,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		amount NUMERIC(14,2) NOT NULL,
		running_balance NUMERIC(14,2),
		booked_at TIMESTAMPTZ NOT NULL,
		posted_at TIMESTAMPTZ,
		description TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT 'manual',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_account_booked ON transactions(account_id, booked_at)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_transfer_account ON transactions(transfer_account_id) WHERE transfer_account_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_live ON transactions(booked_at DESC) WHERE deleted_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS recurring_transactions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		account_id TEXT NOT NULL,
		transfer_account_id TEXT,
		category_id TEXT,
		type TEXT NOT NULL,
		amount NUMERIC(14,2) NOT NULL,
		frequency TEXT NOT NULL,
		interval_count INTEGER NOT NULL DEFAULT 1,
		starts_on DATE,
		ends_on DATE,
		last_occurrence_at TIMESTAMPTZ,
		next_occurrence_at TIMESTAMPTZ,
		status TEXT NOT NULL,
		auto_commit BOOLEAN NOT NULL DEFAULT FALSE,
		memo TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recurring_due ON recurring_transactions(next_occurrence_at NULLS FIRST) WHERE status = 'active'`,
}

// =============================================================================
// QUERIER
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// ops runs queries on the pool or on one transaction. Inside a transaction
// single-row reads take the row lock, so a read-modify-write on a
// transaction or schedule cannot interleave with another writer.
type ops struct {
	q    querier
	inTx bool
}

func (o ops) forUpdate() string {
	if o.inTx {
		return " FOR UPDATE"
	}
	return ""
}

func (s *Store) pool() ops {
	return ops{q: s.db}
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store finance.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err))
	}
	defer sqlTx.Rollback()

	if err := fn(ops{q: sqlTx, inTx: true}); err != nil {
		return classify(err)
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}

// classify maps retryable postgres errors onto ErrConcurrentModification.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", finance.ErrConcurrentModification, pqErr.Message)
		}
	}
	return err
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a *finance.Account) error {
	return s.pool().CreateAccount(ctx, a)
}

func (s *Store) GetAccount(ctx context.Context, id finance.AccountID) (*finance.Account, error) {
	return s.pool().GetAccount(ctx, id)
}

func (s *Store) ListAccounts(ctx context.Context) ([]finance.Account, error) {
	return s.pool().ListAccounts(ctx)
}

func (s *Store) UpdateAccount(ctx context.Context, a *finance.Account) error {
	return s.pool().UpdateAccount(ctx, a)
}

func (s *Store) FindAccountsForUpdate(ctx context.Context, ids []finance.AccountID) (map[finance.AccountID]*finance.Account, error) {
	return s.pool().FindAccountsForUpdate(ctx, ids)
}

func (s *Store) PersistBalance(ctx context.Context, id finance.AccountID, balance decimal.Decimal) error {
	return s.pool().PersistBalance(ctx, id, balance)
}

const accountColumns = `id, name, type, currency, initial_balance, current_balance, created_at, updated_at`

func (o ops) CreateAccount(ctx context.Context, a *finance.Account) error {
	if a.ID == "" {
		a.ID = finance.AccountID(finance.NewID())
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	_, err := o.q.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(a.ID), a.Name, string(a.Type), a.Currency,
		a.InitialBalance.Round(finance.MoneyPlaces), a.CurrentBalance.Round(finance.MoneyPlaces),
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (o ops) GetAccount(ctx context.Context, id finance.AccountID) (*finance.Account, error) {
	a, err := scanAccount(o.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", finance.ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (o ops) ListAccounts(ctx context.Context) ([]finance.Account, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
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
	a2, err := scanAccount(o.q.QueryRowContext(ctx, `
		UPDATE accounts SET name = $1, type = $2, currency = $3, updated_at = $4
		WHERE id = $5
		RETURNING `+accountColumns,
		a.Name, string(a.Type), a.Currency, time.Now().UTC(), string(a.ID),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", finance.ErrAccountNotFound, a.ID)
	}
	if err != nil {
		return err
	}
	*a = a2
	return nil
}

// FindAccountsForUpdate row-locks the accounts in ascending id order.
func (o ops) FindAccountsForUpdate(ctx context.Context, ids []finance.AccountID) (map[finance.AccountID]*finance.Account, error) {
	out := make(map[finance.AccountID]*finance.Account, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}

	rows, err := o.q.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
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
		`UPDATE accounts SET current_balance = $1, updated_at = $2 WHERE id = $3`,
		balance.Round(finance.MoneyPlaces), time.Now().UTC(), string(id))
	if err != nil {
		return fmt.Errorf("persist balance: %w", err)
	}
	return expectOne(res, finance.ErrAccountNotFound, string(id))
}

func scanAccount(row scanner) (finance.Account, error) {
	var a finance.Account
	err := row.Scan(&a.ID, &a.Name, &a.Type, &a.Currency,
		&a.InitialBalance, &a.CurrentBalance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("scan account: %w", err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

func (s *Store) CreateTransaction(ctx context.Context, tx *finance.Transaction) error {
	return s.pool().CreateTransaction(ctx, tx)
}

func (s *Store) GetTransaction(ctx context.Context, id finance.TransactionID) (*finance.Transaction, error) {
	return s.pool().GetTransaction(ctx, id)
}

func (s *Store) UpdateTransaction(ctx context.Context, tx *finance.Transaction) error {
	return s.pool().UpdateTransaction(ctx, tx)
}

func (s *Store) SoftDeleteTransaction(ctx context.Context, id finance.TransactionID, at time.Time) error {
	return s.pool().SoftDeleteTransaction(ctx, id, at)
}

func (s *Store) ListTransactions(ctx context.Context, filter finance.TransactionFilter) ([]finance.Transaction, error) {
	return s.pool().ListTransactions(ctx, filter)
}

func (s *Store) LiveTransactionsForAccount(ctx context.Context, id finance.AccountID) ([]finance.Transaction, error) {
	return s.pool().LiveTransactionsForAccount(ctx, id)
}

func (s *Store) StampRunningBalance(ctx context.Context, id finance.TransactionID, balance decimal.Decimal) error {
	return s.pool().StampRunningBalance(ctx, id, balance)
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
	now := time.Now().UTC()
	tx.CreatedAt, tx.UpdatedAt = now, now

	_, err := o.q.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		string(tx.ID), string(tx.AccountID), nullID(tx.TransferAccountID), nullID(tx.CategoryID), nullID(tx.ScheduleID),
		string(tx.Type), string(tx.Status), tx.Amount.Round(finance.MoneyPlaces), tx.RunningBalance,
		tx.BookedAt.UTC(), nullTime(tx.PostedAt),
		tx.Description, tx.Notes, tx.Source,
		tx.CreatedAt, tx.UpdatedAt, nullTime(tx.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (o ops) GetTransaction(ctx context.Context, id finance.TransactionID) (*finance.Transaction, error) {
	tx, err := scanTransaction(o.q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 AND deleted_at IS NULL`+o.forUpdate(), string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", finance.ErrTransactionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (o ops) UpdateTransaction(ctx context.Context, tx *finance.Transaction) error {
	tx.UpdatedAt = time.Now().UTC()
	res, err := o.q.ExecContext(ctx, `
		UPDATE transactions SET
			account_id = $1, transfer_account_id = $2, category_id = $3, schedule_id = $4,
			type = $5, status = $6, amount = $7, running_balance = $8,
			booked_at = $9, posted_at = $10, description = $11, notes = $12, source = $13,
			updated_at = $14
		WHERE id = $15 AND deleted_at IS NULL`,
		string(tx.AccountID), nullID(tx.TransferAccountID), nullID(tx.CategoryID), nullID(tx.ScheduleID),
		string(tx.Type), string(tx.Status), tx.Amount.Round(finance.MoneyPlaces), tx.RunningBalance,
		tx.BookedAt.UTC(), nullTime(tx.PostedAt), tx.Description, tx.Notes, tx.Source,
		tx.UpdatedAt, string(tx.ID),
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return expectOne(res, finance.ErrTransactionNotFound, string(tx.ID))
}

func (o ops) SoftDeleteTransaction(ctx context.Context, id finance.TransactionID, at time.Time) error {
	res, err := o.q.ExecContext(ctx,
		`UPDATE transactions SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		at.UTC(), string(id))
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return expectOne(res, finance.ErrTransactionNotFound, string(id))
}

func (o ops) ListTransactions(ctx context.Context, f finance.TransactionFilter) ([]finance.Transaction, error) {
	var (
		where = []string{"deleted_at IS NULL"}
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Type != "" {
		where = append(where, "type = "+arg(string(f.Type)))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.AccountID != "" {
		p := arg(string(f.AccountID))
		where = append(where, "(account_id = "+p+" OR transfer_account_id = "+p+")")
	}
	if f.CategoryID != "" {
		where = append(where, "category_id = "+arg(string(f.CategoryID)))
	}
	if f.From != nil {
		where = append(where, "booked_at >= "+arg(f.From.UTC()))
	}
	if f.To != nil {
		where = append(where, "booked_at <= "+arg(f.To.UTC()))
	}
	if f.Search != "" {
		p := arg("%" + f.Search + "%")
		where = append(where, "(description ILIKE "+p+" OR notes ILIKE "+p+")")
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY booked_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}

	return o.queryTransactions(ctx, query, args...)
}

func (o ops) LiveTransactionsForAccount(ctx context.Context, id finance.AccountID) ([]finance.Transaction, error) {
	return o.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE deleted_at IS NULL AND (account_id = $1 OR transfer_account_id = $1)
		ORDER BY booked_at, created_at`,
		string(id))
}

func (o ops) StampRunningBalance(ctx context.Context, id finance.TransactionID, balance decimal.Decimal) error {
	res, err := o.q.ExecContext(ctx,
		`UPDATE transactions SET running_balance = $1 WHERE id = $2`,
		balance.Round(finance.MoneyPlaces), string(id))
	if err != nil {
		return fmt.Errorf("stamp running balance: %w", err)
	}
	return expectOne(res, finance.ErrTransactionNotFound, string(id))
}

func (o ops) queryTransactions(ctx context.Context, query string, args ...any) ([]finance.Transaction, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
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
		postedAt, deletedAt                sql.NullTime
	)

	err := row.Scan(
		&tx.ID, &tx.AccountID, &transferID, &categoryID, &scheduleID,
		&tx.Type, &tx.Status, &tx.Amount, &tx.RunningBalance, &tx.BookedAt, &postedAt,
		&tx.Description, &tx.Notes, &tx.Source, &tx.CreatedAt, &tx.UpdatedAt, &deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tx, err
		}
		return tx, fmt.Errorf("scan transaction: %w", err)
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
	tx.BookedAt = tx.BookedAt.UTC()
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	tx.PostedAt = fromNullTime(postedAt)
	tx.DeletedAt = fromNullTime(deletedAt)

	return tx, nil
}

// =============================================================================
// SUBSCRIPTION STORE
// =============================================================================

func (s *Store) CreateSchedule(ctx context.Context, sc *finance.Schedule) error {
	return s.pool().CreateSchedule(ctx, sc)
}

func (s *Store) GetSchedule(ctx context.Context, id finance.ScheduleID) (*finance.Schedule, error) {
	return s.pool().GetSchedule(ctx, id)
}

func (s *Store) ListSchedules(ctx context.Context) ([]finance.Schedule, error) {
	return s.pool().ListSchedules(ctx)
}

func (s *Store) FindDueSchedules(ctx context.Context, ref time.Time) ([]finance.Schedule, error) {
	return s.pool().FindDueSchedules(ctx, ref)
}

func (s *Store) SaveSchedule(ctx context.Context, sc *finance.Schedule) error {
	return s.pool().SaveSchedule(ctx, sc)
}

const scheduleColumns = `id, name, account_id, transfer_account_id, category_id, type, amount,
	frequency, interval_count, starts_on, ends_on, last_occurrence_at, next_occurrence_at,
	status, auto_commit, memo, created_at, updated_at`

func (o ops) CreateSchedule(ctx context.Context, sc *finance.Schedule) error {
	if sc.ID == "" {
		sc.ID = finance.ScheduleID(finance.NewID())
	}
	now := time.Now().UTC()
	sc.CreatedAt, sc.UpdatedAt = now, now

	_, err := o.q.ExecContext(ctx, `
		INSERT INTO recurring_transactions (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		string(sc.ID), sc.Name, string(sc.AccountID), nullID(sc.TransferAccountID), nullID(sc.CategoryID),
		string(sc.Type), sc.Amount.Round(finance.MoneyPlaces), string(sc.Frequency), sc.Interval,
		nullTime(sc.StartsOn), nullTime(sc.EndsOn), nullTime(sc.LastOccurrenceAt), nullTime(sc.NextOccurrenceAt),
		string(sc.Status), sc.AutoCommit, sc.Memo, sc.CreatedAt, sc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (o ops) GetSchedule(ctx context.Context, id finance.ScheduleID) (*finance.Schedule, error) {
	sc, err := scanSchedule(o.q.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM recurring_transactions WHERE id = $1`+o.forUpdate(), string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", finance.ErrScheduleNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (o ops) ListSchedules(ctx context.Context) ([]finance.Schedule, error) {
	return o.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM recurring_transactions ORDER BY name, id`)
}

func (o ops) FindDueSchedules(ctx context.Context, ref time.Time) ([]finance.Schedule, error) {
	return o.querySchedules(ctx, `
		SELECT `+scheduleColumns+` FROM recurring_transactions
		WHERE status = $1 AND (next_occurrence_at IS NULL OR next_occurrence_at <= $2)
		ORDER BY next_occurrence_at ASC NULLS FIRST, id ASC`,
		string(finance.ScheduleActive), ref.UTC())
}

func (o ops) SaveSchedule(ctx context.Context, sc *finance.Schedule) error {
	sc.UpdatedAt = time.Now().UTC()
	res, err := o.q.ExecContext(ctx, `
		UPDATE recurring_transactions SET
			name = $1, account_id = $2, transfer_account_id = $3, category_id = $4, type = $5,
			amount = $6, frequency = $7, interval_count = $8, starts_on = $9, ends_on = $10,
			last_occurrence_at = $11, next_occurrence_at = $12, status = $13, auto_commit = $14,
			memo = $15, updated_at = $16
		WHERE id = $17`,
		sc.Name, string(sc.AccountID), nullID(sc.TransferAccountID), nullID(sc.CategoryID), string(sc.Type),
		sc.Amount.Round(finance.MoneyPlaces), string(sc.Frequency), sc.Interval, nullTime(sc.StartsOn), nullTime(sc.EndsOn),
		nullTime(sc.LastOccurrenceAt), nullTime(sc.NextOccurrenceAt), string(sc.Status), sc.AutoCommit,
		sc.Memo, sc.UpdatedAt, string(sc.ID),
	)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return expectOne(res, finance.ErrScheduleNotFound, string(sc.ID))
}

func (o ops) querySchedules(ctx context.Context, query string, args ...any) ([]finance.Schedule, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
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
		startsOn, endsOn       sql.NullTime
		lastAt, nextAt         sql.NullTime
	)

	err := row.Scan(
		&sc.ID, &sc.Name, &sc.AccountID, &transferID, &categoryID, &sc.Type, &sc.Amount,
		&sc.Frequency, &sc.Interval, &startsOn, &endsOn, &lastAt, &nextAt,
		&sc.Status, &sc.AutoCommit, &sc.Memo, &sc.CreatedAt, &sc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sc, err
		}
		return sc, fmt.Errorf("scan schedule: %w", err)
	}

	if transferID.Valid {
		sc.TransferAccountID = finance.AccountIDPtr(finance.AccountID(transferID.String))
	}
	if categoryID.Valid {
		sc.CategoryID = finance.CategoryIDPtr(finance.CategoryID(categoryID.String))
	}
	sc.StartsOn = fromNullTime(startsOn)
	sc.EndsOn = fromNullTime(endsOn)
	sc.LastOccurrenceAt = fromNullTime(lastAt)
	sc.NextOccurrenceAt = fromNullTime(nextAt)
	sc.CreatedAt = sc.CreatedAt.UTC()
	sc.UpdatedAt = sc.UpdatedAt.UTC()

	return sc, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullID[T ~string](id *T) sql.NullString {
	if id == nil || *id == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
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
