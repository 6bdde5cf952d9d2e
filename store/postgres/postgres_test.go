package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/household-ledger/finance"
	"github.com/warp/household-ledger/ledger"
)

var (
	accountCols = []string{"id", "name", "type", "currency", "initial_balance", "current_balance", "created_at", "updated_at"}
	txCols      = []string{"id", "account_id", "transfer_account_id", "category_id", "schedule_id", "type", "status",
		"amount", "running_balance", "booked_at", "posted_at", "description", "notes", "source",
		"created_at", "updated_at", "deleted_at"}
	scheduleCols = []string{"id", "name", "account_id", "transfer_account_id", "category_id", "type", "amount",
		"frequency", "interval_count", "starts_on", "ends_on", "last_occurrence_at", "next_occurrence_at",
		"status", "auto_commit", "memo", "created_at", "updated_at"}
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestMigrate(t *testing.T) {
	store, mock := newMockStore(t)
	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccount_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .+ FROM accounts WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(accountCols))

	_, err := store.GetAccount(context.Background(), "missing")

	assert.ErrorIs(t, err, finance.ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_TransferLocksAndPersists(t *testing.T) {
	// GIVEN: both accounts are locked in one ordered query
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM accounts WHERE id = ANY\(\$1\) ORDER BY id FOR UPDATE`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(accountCols).
			AddRow("a", "Checking", "checking", "EUR", "500.00", "500.00", now, now).
			AddRow("b", "Savings", "savings", "EUR", "0.00", "0.00", now, now))
	mock.ExpectExec(`UPDATE accounts SET current_balance = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("379.75", sqlmock.AnyArg(), "a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE accounts SET current_balance = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("120.25", sqlmock.AnyArg(), "b").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE transactions SET running_balance = \$1 WHERE id = \$2`).
		WithArgs("379.75", "tx-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// WHEN
	tx := &finance.Transaction{
		ID: "tx-1", AccountID: "a", TransferAccountID: finance.AccountIDPtr("b"),
		Type: finance.TxTransfer, Amount: decimal.RequireFromString("120.25"),
	}
	err := store.WithTx(context.Background(), func(st finance.Store) error {
		_, err := ledger.New(st).ApplyForCreate(context.Background(), tx)
		return err
	})

	// THEN
	require.NoError(t, err)
	assert.Equal(t, "379.75", tx.RunningBalance.Decimal.StringFixed(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_DeadlockIsRetryable(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "40P01", Message: "deadlock detected"})
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(st finance.Store) error {
		_, err := ledger.New(st).ApplyForDelete(context.Background(), ledger.Snapshot{
			Type: finance.TxExpense, Amount: decimal.NewFromInt(5), AccountID: "a",
		})
		return err
	})

	assert.ErrorIs(t, err, finance.ErrConcurrentModification)
	assert.True(t, finance.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_DomainErrorPassesThrough(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()
	boom := errors.New("boom")

	err := store.WithTx(context.Background(), func(finance.Store) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.False(t, finance.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_TransactionReadTakesRowLock(t *testing.T) {
	// GIVEN: an update re-reads the stored transaction before diffing
	store, mock := newMockStore(t)
	booked := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM transactions WHERE id = \$1 AND deleted_at IS NULL FOR UPDATE$`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(txCols).
			AddRow("t1", "a", nil, nil, nil, "expense", "posted", "10.00", nil, booked, nil,
				"Groceries", "", "manual", booked, booked, nil))
	mock.ExpectCommit()

	// WHEN
	var amount string
	err := store.WithTx(context.Background(), func(st finance.Store) error {
		tx, err := st.GetTransaction(context.Background(), "t1")
		if err != nil {
			return err
		}
		amount = tx.Amount.StringFixed(2)
		return nil
	})

	// THEN
	require.NoError(t, err)
	assert.Equal(t, "10.00", amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_ScheduleReadTakesRowLock(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	next := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM recurring_transactions WHERE id = \$1 FOR UPDATE$`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(scheduleCols).
			AddRow("s1", "rent", "a", nil, nil, "expense", "900.00", "monthly", int64(1),
				nil, nil, nil, next, "active", true, "", now, now))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(st finance.Store) error {
		_, err := st.GetSchedule(context.Background(), "s1")
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSchedule_PoolReadDoesNotLock(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`FROM recurring_transactions WHERE id = \$1$`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(scheduleCols).
			AddRow("s1", "rent", "a", nil, nil, "expense", "900.00", "monthly", int64(1),
				nil, nil, nil, nil, "active", true, "", now, now))

	s, err := store.GetSchedule(context.Background(), "s1")

	require.NoError(t, err)
	assert.Equal(t, finance.StateUnprimed, s.State().Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTransactions_BuildsNumberedFilters(t *testing.T) {
	store, mock := newMockStore(t)
	booked := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`WHERE deleted_at IS NULL AND type = \$1 AND \(account_id = \$2 OR transfer_account_id = \$2\) ORDER BY booked_at DESC, id DESC LIMIT \$3`).
		WithArgs("expense", "a", 10).
		WillReturnRows(sqlmock.NewRows(txCols).
			AddRow("t1", "a", nil, "food", nil, "expense", "posted", "12.50", nil, booked, nil,
				"Groceries", "", "manual", booked, booked, nil))

	txs, err := store.ListTransactions(context.Background(), finance.TransactionFilter{
		Type: finance.TxExpense, AccountID: "a", Limit: 10,
	})

	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "12.50", txs[0].Amount.StringFixed(2))
	assert.Equal(t, finance.CategoryID("food"), *txs[0].CategoryID)
	assert.Nil(t, txs[0].TransferAccountID)
	assert.False(t, txs[0].RunningBalance.Valid)
	assert.Nil(t, txs[0].PostedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindDueSchedules_NullsFirst(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	next := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`ORDER BY next_occurrence_at ASC NULLS FIRST, id ASC`).
		WithArgs("active", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(scheduleCols).
			AddRow("s1", "new", "a", nil, nil, "income", "5.00", "monthly", int64(1),
				nil, nil, nil, nil, "active", false, "", now, now).
			AddRow("s2", "rent", "a", nil, nil, "expense", "900.00", "monthly", int64(1),
				next, nil, nil, next, "active", true, "landlord", now, now))

	due, err := store.FindDueSchedules(context.Background(), time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, finance.StateUnprimed, due[0].State().Kind)
	assert.Equal(t, finance.StatePrimed, due[1].State().Kind)
	assert.Equal(t, next, *due[1].NextOccurrenceAt)
	assert.True(t, due[1].AutoCommit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSchedule_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE recurring_transactions SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SaveSchedule(context.Background(), &finance.Schedule{ID: "gone", Status: finance.ScheduleActive})

	assert.ErrorIs(t, err, finance.ErrScheduleNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify(&pq.Error{Code: "40001"}), finance.ErrConcurrentModification)
	assert.ErrorIs(t, classify(&pq.Error{Code: "55P03"}), finance.ErrConcurrentModification)

	other := &pq.Error{Code: "23505"}
	assert.Equal(t, other, classify(other))
}
