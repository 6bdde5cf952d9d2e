/*
Package recurring turns subscription schedules into transactions.

PURPOSE:
  Decides whether a schedule has an occurrence due at a reference instant,
  materializes it through the ledger, and advances the schedule. Enforces
  the start and end boundaries of each schedule.

STATE MACHINE (finance.ScheduleState):
  Unprimed --prime--> Primed(next) --process--> Primed(next') ...
      |                    |
      +--------------------+--> Archived   (next candidate after ends_on,
                                            or frequency cannot advance)
  Paused is set from outside and is never selected for processing.

STEPPING:
  daily +n days, weekly +n weeks, biweekly +2n weeks, monthly +n months,
  quarterly +3n months, semiannual +6n months, annual +n years.
  Months overflow the way time.AddDate does (Jan 31 + 1 month = Mar 3).

BATCH RUN:
  ProcessDue gives every due schedule its own WithTx. A failure rolls back
  that schedule only; the count covers committed advances.
*/
package recurring

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/household-ledger/finance"
	"github.com/warp/household-ledger/ledger"
	"github.com/warp/household-ledger/logger"
)

// =============================================================================
// OCCURRENCE MATH
// =============================================================================

// NextOccurrence steps from by one period of s. It returns false for an
// unknown frequency.
func NextOccurrence(s *finance.Schedule, from time.Time) (time.Time, bool) {
	n := s.EffectiveInterval()
	switch s.Frequency {
	case finance.FrequencyDaily:
		return from.AddDate(0, 0, n), true
	case finance.FrequencyWeekly:
		return from.AddDate(0, 0, 7*n), true
	case finance.FrequencyBiweekly:
		return from.AddDate(0, 0, 14*n), true
	case finance.FrequencyMonthly:
		return from.AddDate(0, n, 0), true
	case finance.FrequencyQuarterly:
		return from.AddDate(0, 3*n, 0), true
	case finance.FrequencySemiannual:
		return from.AddDate(0, 6*n, 0), true
	case finance.FrequencyAnnual:
		return from.AddDate(n, 0, 0), true
	}
	return time.Time{}, false
}

// FirstOccurrence finds the first occurrence on or after the start of ref's
// day, walking from the start bound. It returns false when that candidate
// lies outside the schedule's bounds.
func FirstOccurrence(s *finance.Schedule, ref time.Time) (time.Time, bool) {
	target := finance.StartOfDay(ref)
	cursor, bounded := s.StartBoundary()
	if !bounded {
		cursor = target
	}

	for cursor.Before(target) {
		next, ok := NextOccurrence(s, cursor)
		if !ok {
			break
		}
		cursor = next
	}

	if !withinSchedule(s, cursor) {
		return time.Time{}, false
	}
	return cursor, true
}

func withinSchedule(s *finance.Schedule, t time.Time) bool {
	if start, ok := s.StartBoundary(); ok && t.Before(start) {
		return false
	}
	return !beyondEnd(s, t)
}

func beyondEnd(s *finance.Schedule, t time.Time) bool {
	end, ok := s.EndBoundary()
	return ok && t.After(end)
}

// =============================================================================
// STATE TRANSITIONS (pure, no persistence)
// =============================================================================

// Prime sets the first next occurrence of an active schedule whose next
// occurrence is unset or before ref. When no occurrence fits the bounds the
// schedule is archived. It reports whether s changed.
func Prime(s *finance.Schedule, ref time.Time) bool {
	if s.Status != finance.ScheduleActive {
		return false
	}
	if s.NextOccurrenceAt != nil && !s.NextOccurrenceAt.Before(ref) {
		return false
	}

	first, ok := FirstOccurrence(s, ref)
	if !ok {
		s.Archive()
		return true
	}
	s.NextOccurrenceAt = &first
	return true
}

// ResolveDueOccurrence returns the occurrence due at ref, if any. An
// unprimed schedule is due at its first occurrence, even one after ref. An
// occurrence past the end bound archives s in place.
func ResolveDueOccurrence(s *finance.Schedule, ref time.Time) (time.Time, bool) {
	var occurrence time.Time
	switch {
	case s.NextOccurrenceAt == nil:
		first, ok := FirstOccurrence(s, ref)
		if !ok {
			// the walk starts at the start bound, so a miss is past the end
			s.Archive()
			return time.Time{}, false
		}
		occurrence = first
	case !s.NextOccurrenceAt.After(ref):
		occurrence = *s.NextOccurrenceAt
	default:
		return time.Time{}, false
	}

	if beyondEnd(s, occurrence) {
		s.Archive()
		return time.Time{}, false
	}
	return occurrence, true
}

// Advance records occurrence as the last run and moves next forward,
// archiving when the following candidate is out of bounds or cannot be
// computed.
func Advance(s *finance.Schedule, occurrence time.Time) {
	s.LastOccurrenceAt = &occurrence

	next, ok := NextOccurrence(s, occurrence)
	if !ok || beyondEnd(s, next) {
		s.Archive()
		return
	}
	s.NextOccurrenceAt = &next
}

// Materialize builds the transaction for one occurrence of s.
func Materialize(s *finance.Schedule, occurrence time.Time) *finance.Transaction {
	id := s.ID
	tx := &finance.Transaction{
		AccountID:   s.AccountID,
		CategoryID:  s.CategoryID,
		ScheduleID:  &id,
		Type:        s.Type,
		Status:      finance.StatusPending,
		Amount:      ledger.NormalizeAmount(s.Amount),
		BookedAt:    occurrence,
		Description: s.Name,
		Notes:       s.Memo,
		Source:      finance.SourceSubscription,
	}
	if s.Type == finance.TxTransfer && s.TransferAccountID != nil {
		to := *s.TransferAccountID
		tx.TransferAccountID = &to
	}
	if s.AutoCommit {
		tx.Status = finance.StatusPosted
		tx.PostedAt = finance.TimePtr(occurrence)
	}
	return tx
}

// =============================================================================
// SCHEDULER
// =============================================================================

type Scheduler struct {
	store finance.TxStore
	now   func() time.Time
}

func New(store finance.TxStore) *Scheduler {
	return &Scheduler{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used when no reference instant is given.
func (sc *Scheduler) WithClock(now func() time.Time) *Scheduler {
	sc.now = now
	return sc
}

// Now returns the scheduler's current instant.
func (sc *Scheduler) Now() time.Time {
	return sc.now()
}

// PrimeNextRun primes s against ref and persists it through st.
func (sc *Scheduler) PrimeNextRun(ctx context.Context, st finance.SubscriptionStore, s *finance.Schedule, ref time.Time) error {
	if !Prime(s, ref) {
		return nil
	}
	if s.Status == finance.ScheduleArchived {
		log := logger.FromContext(ctx)
		log.Info().Str("schedule_id", string(s.ID)).
			Msg("schedule has no occurrence within its bounds, archived")
	}
	return st.SaveSchedule(ctx, s)
}

// Pause makes s inert until resumed.
func (sc *Scheduler) Pause(ctx context.Context, st finance.SubscriptionStore, s *finance.Schedule) error {
	if s.Status == finance.ScheduleArchived {
		return &finance.ValidationError{Field: "status", Reason: "archived schedules cannot be paused", Kind: finance.ErrInvalidSchedule}
	}
	s.Status = finance.SchedulePaused
	return st.SaveSchedule(ctx, s)
}

// Resume reactivates a paused schedule and primes it against ref, so
// occurrences missed while paused are not back-filled.
func (sc *Scheduler) Resume(ctx context.Context, st finance.SubscriptionStore, s *finance.Schedule, ref time.Time) error {
	if s.Status == finance.ScheduleArchived {
		return &finance.ValidationError{Field: "status", Reason: "archived schedules cannot be resumed", Kind: finance.ErrInvalidSchedule}
	}
	s.Status = finance.ScheduleActive
	Prime(s, ref)
	return st.SaveSchedule(ctx, s)
}

// ProcessDue materializes every occurrence due at ref and returns the
// number of schedules advanced. Per-schedule failures are logged and
// skipped; only a failure to list due schedules is returned.
func (sc *Scheduler) ProcessDue(ctx context.Context, ref time.Time) (int, error) {
	log := logger.FromContext(ctx)

	due, err := sc.store.FindDueSchedules(ctx, ref)
	if err != nil {
		return 0, fmt.Errorf("find due schedules: %w", err)
	}

	processed := 0
	for _, candidate := range due {
		id := candidate.ID
		var advanced bool
		err := sc.store.WithTx(ctx, func(st finance.Store) error {
			var err error
			advanced, err = sc.processOne(ctx, st, id, ref)
			return err
		})
		if err != nil {
			log.Error().Err(err).Str("schedule_id", string(id)).Msg("processing schedule failed")
			continue
		}
		if advanced {
			processed++
		}
	}

	log.Info().Int("due", len(due)).Int("processed", processed).Time("reference", ref).Msg("due schedules processed")
	return processed, nil
}

func (sc *Scheduler) processOne(ctx context.Context, st finance.Store, id finance.ScheduleID, ref time.Time) (bool, error) {
	log := logger.FromContext(ctx).With().Str("schedule_id", string(id)).Logger()

	s, err := st.GetSchedule(ctx, id)
	if err != nil {
		return false, err
	}
	if s.Status != finance.ScheduleActive {
		return false, nil
	}

	before := s.State()
	occurrence, ok := ResolveDueOccurrence(s, ref)
	if !ok {
		if s.State() == before {
			return false, nil
		}
		if s.Status == finance.ScheduleArchived {
			log.Info().Msg("schedule passed its end date, archived")
		}
		return false, st.SaveSchedule(ctx, s)
	}

	if err := sc.materialize(ctx, st, s, occurrence); err != nil {
		return false, err
	}

	Advance(s, occurrence)
	if err := st.SaveSchedule(ctx, s); err != nil {
		return false, fmt.Errorf("save schedule: %w", err)
	}

	ev := log.Debug().Time("occurrence", occurrence).Str("status", string(s.Status))
	if s.NextOccurrenceAt != nil {
		ev = ev.Time("next", *s.NextOccurrenceAt)
	}
	ev.Msg("schedule advanced")
	return true, nil
}

// materialize persists the occurrence and applies it to balances. A schedule
// whose account is gone still advances, without a transaction.
func (sc *Scheduler) materialize(ctx context.Context, st finance.Store, s *finance.Schedule, occurrence time.Time) error {
	if _, err := st.GetAccount(ctx, s.AccountID); err != nil {
		if finance.IsNotFound(err) {
			log := logger.FromContext(ctx)
			log.Warn().Str("schedule_id", string(s.ID)).
				Str("account_id", string(s.AccountID)).Msg("schedule account missing, occurrence not materialized")
			return nil
		}
		return err
	}

	tx := Materialize(s, occurrence)
	if err := st.CreateTransaction(ctx, tx); err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	if _, err := ledger.New(st).ApplyForCreate(ctx, tx); err != nil {
		return fmt.Errorf("apply balances: %w", err)
	}
	return nil
}
