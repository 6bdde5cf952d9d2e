package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RECURRING SCHEDULE
// =============================================================================

type Frequency string

const (
	FrequencyDaily      Frequency = "daily"
	FrequencyWeekly     Frequency = "weekly"
	FrequencyBiweekly   Frequency = "biweekly"
	FrequencyMonthly    Frequency = "monthly"
	FrequencyQuarterly  Frequency = "quarterly"
	FrequencySemiannual Frequency = "semiannual"
	FrequencyAnnual     Frequency = "annual"
)

type ScheduleStatus string

const (
	ScheduleActive   ScheduleStatus = "active"
	SchedulePaused   ScheduleStatus = "paused"
	ScheduleArchived ScheduleStatus = "archived"
)

// Schedule is a recurring transaction template (a "subscription").
//
// INVARIANT (status = active):
//   NextOccurrenceAt is nil (unprimed) or within [StartsOn, end of EndsOn].
//   Once a candidate falls after EndsOn the schedule is archived for good.
type Schedule struct {
	ID                ScheduleID
	Name              string
	AccountID         AccountID
	TransferAccountID *AccountID
	CategoryID        *CategoryID
	Type              TransactionType
	Amount            decimal.Decimal
	Frequency         Frequency
	Interval          int

	StartsOn *time.Time // date, start of day UTC
	EndsOn   *time.Time // date, inclusive

	LastOccurrenceAt *time.Time
	NextOccurrenceAt *time.Time

	Status     ScheduleStatus
	AutoCommit bool
	Memo       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveInterval is Interval clamped to at least 1.
func (s *Schedule) EffectiveInterval() int {
	if s.Interval < 1 {
		return 1
	}
	return s.Interval
}

// StartBoundary is the start of StartsOn, or zero when unbounded.
func (s *Schedule) StartBoundary() (time.Time, bool) {
	if s.StartsOn == nil {
		return time.Time{}, false
	}
	return StartOfDay(*s.StartsOn), true
}

// EndBoundary is the last instant of EndsOn, or zero when unbounded.
func (s *Schedule) EndBoundary() (time.Time, bool) {
	if s.EndsOn == nil {
		return time.Time{}, false
	}
	return EndOfDay(*s.EndsOn), true
}

// Archive moves the schedule to its terminal state.
func (s *Schedule) Archive() {
	s.Status = ScheduleArchived
	s.NextOccurrenceAt = nil
}

// =============================================================================
// STATE VARIANT
// =============================================================================

type StateKind int

const (
	StateUnprimed StateKind = iota // active, no next occurrence yet
	StatePrimed                    // active, Next is set
	StatePaused
	StateArchived
)

func (k StateKind) String() string {
	switch k {
	case StateUnprimed:
		return "unprimed"
	case StatePrimed:
		return "primed"
	case StatePaused:
		return "paused"
	case StateArchived:
		return "archived"
	}
	return "unknown"
}

// ScheduleState is the explicit form of the status + next_occurrence pair.
// Next is only meaningful for StatePrimed.
type ScheduleState struct {
	Kind StateKind
	Next time.Time
}

// State folds Status and NextOccurrenceAt into a single variant.
func (s *Schedule) State() ScheduleState {
	switch s.Status {
	case SchedulePaused:
		return ScheduleState{Kind: StatePaused}
	case ScheduleActive:
		if s.NextOccurrenceAt == nil {
			return ScheduleState{Kind: StateUnprimed}
		}
		return ScheduleState{Kind: StatePrimed, Next: *s.NextOccurrenceAt}
	default:
		return ScheduleState{Kind: StateArchived}
	}
}
