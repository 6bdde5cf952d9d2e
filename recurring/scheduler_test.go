package recurring_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/household-ledger/finance"
	"github.com/warp/household-ledger/logger"
	"github.com/warp/household-ledger/recurring"
	"github.com/warp/household-ledger/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func day(y int, m time.Month, d int) time.Time {
	return finance.Date(y, m, d)
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := day(y, m, d)
	return &t
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	store *memory.Memory
	sched *recurring.Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memory.New()
	return &harness{t: t, ctx: context.Background(), store: st, sched: recurring.New(st)}
}

func (h *harness) account(id, initial string) finance.AccountID {
	h.t.Helper()
	bal := decimal.RequireFromString(initial)
	a := &finance.Account{ID: finance.AccountID(id), Name: id, Type: finance.AccountChecking, InitialBalance: bal, CurrentBalance: bal}
	require.NoError(h.t, h.store.CreateAccount(h.ctx, a))
	return a.ID
}

func (h *harness) schedule(s *finance.Schedule) *finance.Schedule {
	h.t.Helper()
	if s.Status == "" {
		s.Status = finance.ScheduleActive
	}
	if s.Interval == 0 {
		s.Interval = 1
	}
	require.NoError(h.t, h.store.CreateSchedule(h.ctx, s))
	return s
}

func (h *harness) reload(id finance.ScheduleID) *finance.Schedule {
	h.t.Helper()
	s, err := h.store.GetSchedule(h.ctx, id)
	require.NoError(h.t, err)
	return s
}

func (h *harness) balance(id finance.AccountID) string {
	h.t.Helper()
	a, err := h.store.GetAccount(h.ctx, id)
	require.NoError(h.t, err)
	return a.CurrentBalance.StringFixed(2)
}

func (h *harness) transactions() []finance.Transaction {
	h.t.Helper()
	txs, err := h.store.ListTransactions(h.ctx, finance.TransactionFilter{})
	require.NoError(h.t, err)
	return txs
}

// =============================================================================
// NEXT OCCURRENCE
// =============================================================================

func TestNextOccurrence(t *testing.T) {
	from := day(2025, 1, 31)
	tests := []struct {
		freq     finance.Frequency
		interval int
		want     time.Time
	}{
		{finance.FrequencyDaily, 3, day(2025, 2, 3)},
		{finance.FrequencyWeekly, 1, day(2025, 2, 7)},
		{finance.FrequencyBiweekly, 1, day(2025, 2, 14)},
		{finance.FrequencyMonthly, 1, day(2025, 3, 3)}, // Feb 31 overflows
		{finance.FrequencyQuarterly, 1, day(2025, 5, 1)},
		{finance.FrequencySemiannual, 1, day(2025, 7, 31)},
		{finance.FrequencyAnnual, 2, day(2027, 1, 31)},
		{finance.FrequencyWeekly, 0, day(2025, 2, 7)},   // clamped to 1
		{finance.FrequencyDaily, -4, day(2025, 2, 1)},   // clamped to 1
		{finance.FrequencyBiweekly, 2, day(2025, 2, 28)}, // 4 weeks
	}

	for _, tt := range tests {
		t.Run(string(tt.freq), func(t *testing.T) {
			s := &finance.Schedule{Frequency: tt.freq, Interval: tt.interval}
			got, ok := recurring.NextOccurrence(s, from)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextOccurrence_UnknownFrequency(t *testing.T) {
	_, ok := recurring.NextOccurrence(&finance.Schedule{Frequency: "fortnightly"}, day(2025, 1, 1))
	assert.False(t, ok)
}

// =============================================================================
// FIRST OCCURRENCE / PRIME
// =============================================================================

func TestFirstOccurrence_StepsPastReference(t *testing.T) {
	// GIVEN: monthly from 2025-01-01
	s := &finance.Schedule{Frequency: finance.FrequencyMonthly, Interval: 1, StartsOn: datePtr(2025, 1, 1)}

	// WHEN: resolved mid-month
	got, ok := recurring.FirstOccurrence(s, day(2025, 1, 15).Add(9*time.Hour))

	// THEN: the start is in the past, so the next month is first
	require.True(t, ok)
	assert.Equal(t, day(2025, 2, 1), got)
}

func TestFirstOccurrence_ReferenceDayCounts(t *testing.T) {
	s := &finance.Schedule{Frequency: finance.FrequencyWeekly, Interval: 1, StartsOn: datePtr(2025, 1, 3)}

	got, ok := recurring.FirstOccurrence(s, day(2025, 1, 10).Add(18*time.Hour))

	require.True(t, ok)
	assert.Equal(t, day(2025, 1, 10), got)
}

func TestFirstOccurrence_UnboundedUsesReferenceDay(t *testing.T) {
	s := &finance.Schedule{Frequency: finance.FrequencyMonthly, Interval: 1}

	got, ok := recurring.FirstOccurrence(s, day(2025, 6, 9).Add(13*time.Hour))

	require.True(t, ok)
	assert.Equal(t, day(2025, 6, 9), got)
}

func TestFirstOccurrence_EndsOnIsInclusive(t *testing.T) {
	s := &finance.Schedule{
		Frequency: finance.FrequencyWeekly, Interval: 1,
		StartsOn: datePtr(2025, 1, 3), EndsOn: datePtr(2025, 1, 10),
	}

	got, ok := recurring.FirstOccurrence(s, day(2025, 1, 9))
	require.True(t, ok)
	assert.Equal(t, day(2025, 1, 10), got)

	_, ok = recurring.FirstOccurrence(s, day(2025, 1, 11))
	assert.False(t, ok)
}

func TestPrimeNextRun_SetsFirstOccurrence(t *testing.T) {
	h := newHarness(t)
	acc := h.account("checking", "0")
	s := h.schedule(&finance.Schedule{
		Name: "rent", AccountID: acc, Type: finance.TxExpense, Amount: decimal.NewFromInt(900),
		Frequency: finance.FrequencyMonthly, StartsOn: datePtr(2025, 1, 1),
	})

	require.NoError(t, h.sched.PrimeNextRun(h.ctx, h.store, s, day(2025, 1, 15)))

	stored := h.reload(s.ID)
	require.NotNil(t, stored.NextOccurrenceAt)
	assert.Equal(t, day(2025, 2, 1), *stored.NextOccurrenceAt)
	assert.Equal(t, finance.StatePrimed, stored.State().Kind)
}

func TestPrimeNextRun_IdempotentWithFutureNext(t *testing.T) {
	s := &finance.Schedule{
		Status: finance.ScheduleActive, Frequency: finance.FrequencyMonthly, Interval: 1,
		NextOccurrenceAt: datePtr(2025, 3, 1),
	}

	changed := recurring.Prime(s, day(2025, 1, 15))

	assert.False(t, changed)
	assert.Equal(t, day(2025, 3, 1), *s.NextOccurrenceAt)
}

func TestPrimeNextRun_ArchivesWhenNothingFits(t *testing.T) {
	// GIVEN: a schedule that ended before the reference
	h := newHarness(t)
	acc := h.account("checking", "0")
	s := h.schedule(&finance.Schedule{
		Name: "gym", AccountID: acc, Type: finance.TxExpense, Amount: decimal.NewFromInt(30),
		Frequency: finance.FrequencyMonthly, StartsOn: datePtr(2024, 1, 1), EndsOn: datePtr(2024, 6, 30),
	})

	// WHEN
	require.NoError(t, h.sched.PrimeNextRun(h.ctx, h.store, s, day(2025, 1, 15)))

	// THEN
	stored := h.reload(s.ID)
	assert.Equal(t, finance.ScheduleArchived, stored.Status)
	assert.Nil(t, stored.NextOccurrenceAt)
}

func TestPrimeNextRun_IgnoresPaused(t *testing.T) {
	s := &finance.Schedule{Status: finance.SchedulePaused, Frequency: finance.FrequencyDaily}
	assert.False(t, recurring.Prime(s, day(2025, 1, 1)))
	assert.Nil(t, s.NextOccurrenceAt)
}

// =============================================================================
// PROCESS DUE
// =============================================================================

func TestProcessDue_MaterializesAndAdvances(t *testing.T) {
	// GIVEN: an auto-committed monthly salary due on the 1st
	h := newHarness(t)
	acc := h.account("checking", "100")
	cat := finance.CategoryID("salary")
	s := h.schedule(&finance.Schedule{
		Name: "Salary", AccountID: acc, CategoryID: &cat, Type: finance.TxIncome,
		Amount: decimal.RequireFromString("2500.00"), Frequency: finance.FrequencyMonthly,
		StartsOn: datePtr(2025, 1, 1), NextOccurrenceAt: datePtr(2025, 2, 1),
		AutoCommit: true, Memo: "employer",
	})

	// WHEN
	n, err := h.sched.ProcessDue(h.ctx, day(2025, 2, 1).Add(6*time.Hour))

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "2600.00", h.balance(acc))

	txs := h.transactions()
	require.Len(t, txs, 1)
	tx := txs[0]
	assert.Equal(t, finance.StatusPosted, tx.Status)
	assert.Equal(t, day(2025, 2, 1), tx.BookedAt)
	require.NotNil(t, tx.PostedAt)
	assert.Equal(t, day(2025, 2, 1), *tx.PostedAt)
	assert.Equal(t, "Salary", tx.Description)
	assert.Equal(t, "employer", tx.Notes)
	assert.Equal(t, finance.SourceSubscription, tx.Source)
	require.NotNil(t, tx.ScheduleID)
	assert.Equal(t, s.ID, *tx.ScheduleID)
	assert.Equal(t, "2600.00", tx.RunningBalance.Decimal.StringFixed(2))

	stored := h.reload(s.ID)
	assert.Equal(t, day(2025, 2, 1), *stored.LastOccurrenceAt)
	assert.Equal(t, day(2025, 3, 1), *stored.NextOccurrenceAt)
	assert.Equal(t, finance.ScheduleActive, stored.Status)
}

func TestProcessDue_PendingWithoutAutoCommit(t *testing.T) {
	h := newHarness(t)
	acc := h.account("checking", "100")
	h.schedule(&finance.Schedule{
		Name: "Streaming", AccountID: acc, Type: finance.TxExpense, Amount: decimal.RequireFromString("12.99"),
		Frequency: finance.FrequencyMonthly, NextOccurrenceAt: datePtr(2025, 2, 1),
	})

	_, err := h.sched.ProcessDue(h.ctx, day(2025, 2, 2))
	require.NoError(t, err)

	txs := h.transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, finance.StatusPending, txs[0].Status)
	assert.Nil(t, txs[0].PostedAt)
	// pending transactions still move the cached balance
	assert.Equal(t, "87.01", h.balance(acc))
}

func TestProcessDue_TransferKeepsCounterparty(t *testing.T) {
	h := newHarness(t)
	checking := h.account("checking", "1000")
	savings := h.account("savings", "0")
	h.schedule(&finance.Schedule{
		Name: "Save", AccountID: checking, TransferAccountID: finance.AccountIDPtr(savings),
		Type: finance.TxTransfer, Amount: decimal.NewFromInt(250),
		Frequency: finance.FrequencyBiweekly, NextOccurrenceAt: datePtr(2025, 1, 3),
	})

	n, err := h.sched.ProcessDue(h.ctx, day(2025, 1, 3))

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "750.00", h.balance(checking))
	assert.Equal(t, "250.00", h.balance(savings))
}

func TestProcessDue_ArchivesPastEndBoundary(t *testing.T) {
	// GIVEN: weekly ending 2025-01-10 with a stored next of 2025-01-17
	h := newHarness(t)
	acc := h.account("checking", "100")
	s := h.schedule(&finance.Schedule{
		Name: "Lessons", AccountID: acc, Type: finance.TxExpense, Amount: decimal.NewFromInt(40),
		Frequency: finance.FrequencyWeekly, StartsOn: datePtr(2025, 1, 3), EndsOn: datePtr(2025, 1, 10),
		NextOccurrenceAt: datePtr(2025, 1, 17),
	})

	// WHEN
	n, err := h.sched.ProcessDue(h.ctx, day(2025, 1, 20))

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	stored := h.reload(s.ID)
	assert.Equal(t, finance.ScheduleArchived, stored.Status)
	assert.Nil(t, stored.NextOccurrenceAt)
	assert.Empty(t, h.transactions())
	assert.Equal(t, "100.00", h.balance(acc))
}

func TestProcessDue_LastInBoundsOccurrenceArchivesAfterward(t *testing.T) {
	h := newHarness(t)
	acc := h.account("checking", "100")
	s := h.schedule(&finance.Schedule{
		Name: "Lessons", AccountID: acc, Type: finance.TxExpense, Amount: decimal.NewFromInt(40),
		Frequency: finance.FrequencyWeekly, StartsOn: datePtr(2025, 1, 3), EndsOn: datePtr(2025, 1, 10),
		NextOccurrenceAt: datePtr(2025, 1, 10),
	})

	n, err := h.sched.ProcessDue(h.ctx, day(2025, 1, 10))

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	stored := h.reload(s.ID)
	assert.Equal(t, finance.ScheduleArchived, stored.Status)
	assert.Equal(t, day(2025, 1, 10), *stored.LastOccurrenceAt)
	assert.Equal(t, "60.00", h.balance(acc))
}

func TestProcessDue_PartialProgressOnFailure(t *testing.T) {
	// GIVEN: three due schedules; saving the second fails
	h := newHarness(t)
	a := h.account("a", "0")
	b := h.account("b", "0")
	c := h.account("c", "0")
	mk := func(name string, acc finance.AccountID, next time.Time) *finance.Schedule {
		return h.schedule(&finance.Schedule{
			Name: name, AccountID: acc, Type: finance.TxIncome, Amount: decimal.NewFromInt(10),
			Frequency: finance.FrequencyMonthly, NextOccurrenceAt: &next,
		})
	}
	first := mk("first", a, day(2025, 1, 1))
	second := mk("second", b, day(2025, 1, 2))
	third := mk("third", c, day(2025, 1, 3))
	h.store.InjectFault(memory.OpSaveSchedule, string(second.ID), errors.New("lock wait timeout"))

	// WHEN
	n, err := h.sched.ProcessDue(h.ctx, day(2025, 1, 5))

	// THEN: the others committed, the failing one rolled back entirely
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "10.00", h.balance(a))
	assert.Equal(t, "0.00", h.balance(b))
	assert.Equal(t, "10.00", h.balance(c))
	assert.Len(t, h.transactions(), 2)

	assert.Equal(t, day(2025, 2, 1), *h.reload(first.ID).NextOccurrenceAt)
	assert.Equal(t, day(2025, 1, 2), *h.reload(second.ID).NextOccurrenceAt)
	assert.Equal(t, day(2025, 2, 3), *h.reload(third.ID).NextOccurrenceAt)
}

func TestProcessDue_UnprimedFirst(t *testing.T) {
	// GIVEN: one unprimed and one primed schedule on the same account
	h := newHarness(t)
	acc := h.account("checking", "0")
	unprimed := h.schedule(&finance.Schedule{
		Name: "new", AccountID: acc, Type: finance.TxIncome, Amount: decimal.NewFromInt(1),
		Frequency: finance.FrequencyDaily,
	})
	h.schedule(&finance.Schedule{
		Name: "old", AccountID: acc, Type: finance.TxIncome, Amount: decimal.NewFromInt(2),
		Frequency: finance.FrequencyDaily, NextOccurrenceAt: datePtr(2025, 1, 1),
	})

	due, err := h.store.FindDueSchedules(h.ctx, day(2025, 1, 5))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, unprimed.ID, due[0].ID)

	// WHEN
	n, err := h.sched.ProcessDue(h.ctx, day(2025, 1, 5).Add(8*time.Hour))

	// THEN: the unprimed one fires for the reference day
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, day(2025, 1, 6), *h.reload(unprimed.ID).NextOccurrenceAt)
	assert.Equal(t, "3.00", h.balance(acc))
}

func TestProcessDue_UnprimedFutureStartMaterializesFirstOccurrence(t *testing.T) {
	// GIVEN: never run, starts after the reference
	h := newHarness(t)
	acc := h.account("checking", "0")
	s := h.schedule(&finance.Schedule{
		Name: "later", AccountID: acc, Type: finance.TxIncome, Amount: decimal.NewFromInt(5),
		Frequency: finance.FrequencyMonthly, StartsOn: datePtr(2025, 3, 1),
	})

	// WHEN
	n, err := h.sched.ProcessDue(h.ctx, day(2025, 1, 15))

	// THEN: the first occurrence is the due one
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	txs := h.transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, day(2025, 3, 1), txs[0].BookedAt)
	assert.Equal(t, "5.00", h.balance(acc))
	assert.Equal(t, day(2025, 4, 1), *h.reload(s.ID).NextOccurrenceAt)
}

func TestProcessDue_UnprimedStepsPastReferenceThenMaterializes(t *testing.T) {
	// GIVEN: started on Jan 1, never run, pass mid-month
	h := newHarness(t)
	acc := h.account("checking", "0")
	s := h.schedule(&finance.Schedule{
		Name: "monthly", AccountID: acc, Type: finance.TxIncome, Amount: decimal.NewFromInt(5),
		Frequency: finance.FrequencyMonthly, StartsOn: datePtr(2025, 1, 1),
	})

	// WHEN
	n, err := h.sched.ProcessDue(h.ctx, day(2025, 1, 15).Add(10*time.Hour))

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	txs := h.transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, day(2025, 2, 1), txs[0].BookedAt)
	assert.Equal(t, "5.00", h.balance(acc))

	reloaded := h.reload(s.ID)
	assert.Equal(t, day(2025, 3, 1), *reloaded.NextOccurrenceAt)
	assert.Equal(t, day(2025, 2, 1), *reloaded.LastOccurrenceAt)
}

func TestProcessDue_SkipsPaused(t *testing.T) {
	h := newHarness(t)
	acc := h.account("checking", "0")
	h.schedule(&finance.Schedule{
		Name: "paused", AccountID: acc, Type: finance.TxIncome, Amount: decimal.NewFromInt(5),
		Frequency: finance.FrequencyDaily, Status: finance.SchedulePaused, NextOccurrenceAt: datePtr(2025, 1, 1),
	})

	n, err := h.sched.ProcessDue(h.ctx, day(2025, 1, 5))

	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, h.transactions())
}

func TestProcessDue_OneOccurrencePerPass(t *testing.T) {
	h := newHarness(t)
	acc := h.account("checking", "0")
	s := h.schedule(&finance.Schedule{
		Name: "behind", AccountID: acc, Type: finance.TxIncome, Amount: decimal.NewFromInt(1),
		Frequency: finance.FrequencyMonthly, NextOccurrenceAt: datePtr(2025, 1, 1),
	})
	ref := day(2025, 3, 15)

	for i := 0; i < 3; i++ {
		n, err := h.sched.ProcessDue(h.ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
	n, err := h.sched.ProcessDue(h.ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Equal(t, day(2025, 4, 1), *h.reload(s.ID).NextOccurrenceAt)
	assert.Equal(t, "3.00", h.balance(acc))
}

func TestProcessDue_UnknownFrequencyFiresOnceThenArchives(t *testing.T) {
	h := newHarness(t)
	acc := h.account("checking", "0")
	s := h.schedule(&finance.Schedule{
		Name: "odd", AccountID: acc, Type: finance.TxIncome, Amount: decimal.NewFromInt(7),
		Frequency: "lunar", NextOccurrenceAt: datePtr(2025, 1, 1),
	})

	n, err := h.sched.ProcessDue(h.ctx, day(2025, 1, 2))

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	stored := h.reload(s.ID)
	assert.Equal(t, finance.ScheduleArchived, stored.Status)
	assert.Nil(t, stored.NextOccurrenceAt)
}

func TestProcessDue_MissingAccountStillAdvances(t *testing.T) {
	h := newHarness(t)
	s := h.schedule(&finance.Schedule{
		Name: "orphan", AccountID: "closed", Type: finance.TxExpense, Amount: decimal.NewFromInt(7),
		Frequency: finance.FrequencyWeekly, NextOccurrenceAt: datePtr(2025, 1, 1),
	})

	n, err := h.sched.ProcessDue(h.ctx, day(2025, 1, 2))

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, h.transactions())
	assert.Equal(t, day(2025, 1, 8), *h.reload(s.ID).NextOccurrenceAt)
}

func TestProcessDue_MissingAccountLogsThroughContext(t *testing.T) {
	h := newHarness(t)
	h.schedule(&finance.Schedule{
		Name: "orphan", AccountID: "closed", Type: finance.TxExpense, Amount: decimal.NewFromInt(7),
		Frequency: finance.FrequencyWeekly, NextOccurrenceAt: datePtr(2025, 1, 1),
	})
	buf := &bytes.Buffer{}
	ctx := logger.WithContext(h.ctx, logger.NewWithWriter(buf))

	_, err := h.sched.ProcessDue(ctx, day(2025, 1, 2))

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "schedule account missing")
	assert.Contains(t, buf.String(), `"account_id":"closed"`)
	assert.Contains(t, buf.String(), "due schedules processed")
}

func TestPrimeNextRun_LogsArchive(t *testing.T) {
	h := newHarness(t)
	s := h.schedule(&finance.Schedule{
		Name: "gone", AccountID: "a", Type: finance.TxExpense, Amount: decimal.NewFromInt(1),
		Frequency: finance.FrequencyMonthly, StartsOn: datePtr(2024, 1, 1), EndsOn: datePtr(2024, 6, 30),
	})
	buf := &bytes.Buffer{}
	ctx := logger.WithContext(h.ctx, logger.NewWithWriter(buf))

	require.NoError(t, h.sched.PrimeNextRun(ctx, h.store, s, day(2025, 1, 1)))

	assert.Equal(t, finance.ScheduleArchived, h.reload(s.ID).Status)
	assert.Contains(t, buf.String(), "no occurrence within its bounds")
}

// =============================================================================
// PAUSE / RESUME
// =============================================================================

func TestPauseResume(t *testing.T) {
	// GIVEN: a primed weekly schedule
	h := newHarness(t)
	acc := h.account("checking", "0")
	s := h.schedule(&finance.Schedule{
		Name: "cleaner", AccountID: acc, Type: finance.TxExpense, Amount: decimal.NewFromInt(60),
		Frequency: finance.FrequencyWeekly, StartsOn: datePtr(2025, 1, 6), NextOccurrenceAt: datePtr(2025, 1, 6),
	})

	// WHEN: paused across several due dates
	require.NoError(t, h.sched.Pause(h.ctx, h.store, s))
	n, err := h.sched.ProcessDue(h.ctx, day(2025, 1, 25))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// AND: resumed
	require.NoError(t, h.sched.Resume(h.ctx, h.store, s, day(2025, 1, 25)))

	// THEN: missed weeks are not back-filled
	stored := h.reload(s.ID)
	assert.Equal(t, finance.ScheduleActive, stored.Status)
	assert.Equal(t, day(2025, 1, 27), *stored.NextOccurrenceAt)
}

func TestResume_ArchivedIsRejected(t *testing.T) {
	h := newHarness(t)
	s := &finance.Schedule{Status: finance.ScheduleArchived}

	err := h.sched.Resume(h.ctx, h.store, s, day(2025, 1, 1))

	assert.ErrorIs(t, err, finance.ErrInvalidSchedule)
}

// =============================================================================
// MATERIALIZE
// =============================================================================

func TestMaterialize_DropsCounterpartyForNonTransfer(t *testing.T) {
	s := &finance.Schedule{
		ID: "s1", Name: "Refund", AccountID: "a", TransferAccountID: finance.AccountIDPtr("b"),
		Type: finance.TxIncome, Amount: decimal.RequireFromString("-9.999"),
	}

	tx := recurring.Materialize(s, day(2025, 1, 1))

	assert.Nil(t, tx.TransferAccountID)
	assert.Equal(t, "10.00", tx.Amount.StringFixed(2))
	assert.Equal(t, finance.StatusPending, tx.Status)
}
