package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/household-ledger/finance"
	"github.com/warp/household-ledger/ledger"
	"github.com/warp/household-ledger/logger"
)

// =============================================================================
// SUBSCRIPTION HANDLERS
// =============================================================================

// ListSubscriptions returns every schedule, archived included.
// GET /api/subscriptions
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.Store.ListSchedules(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list subscriptions", err)
		return
	}

	dtos := make([]SubscriptionDTO, len(schedules))
	for i := range schedules {
		dtos[i] = toSubscriptionDTO(&schedules[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSubscription returns one schedule.
// GET /api/subscriptions/{id}
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.GetSchedule(r.Context(), finance.ScheduleID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get subscription", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionDTO(s))
}

// CreateSubscription stores a schedule and primes its first occurrence.
// POST /api/subscriptions
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriptionRequest
	if !h.decode(w, r, &req) {
		return
	}

	s, err := scheduleFromRequest(req)
	if err != nil {
		h.fail(w, r, "Invalid subscription", err)
		return
	}

	if err := h.createSchedule(r.Context(), s); err != nil {
		h.fail(w, r, "Failed to create subscription", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubscriptionDTO(s))
}

// PauseSubscription makes a schedule inert.
// POST /api/subscriptions/{id}/pause
func (h *Handler) PauseSubscription(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, st finance.Store, s *finance.Schedule) error {
		return h.Scheduler.Pause(ctx, st, s)
	})
}

// ResumeSubscription reactivates a paused schedule from today onwards.
// POST /api/subscriptions/{id}/resume
func (h *Handler) ResumeSubscription(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, st finance.Store, s *finance.Schedule) error {
		return h.Scheduler.Resume(ctx, st, s, h.now())
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, finance.Store, *finance.Schedule) error) {
	ctx := r.Context()
	id := finance.ScheduleID(chi.URLParam(r, "id"))

	var s *finance.Schedule
	err := h.Store.WithTx(ctx, func(st finance.Store) error {
		var err error
		s, err = st.GetSchedule(ctx, id)
		if err != nil {
			return err
		}
		return fn(ctx, st, s)
	})
	if err != nil {
		h.fail(w, r, "Failed to update subscription", err)
		return
	}

	log := logger.FromContext(ctx)
	log.Info().Str("schedule_id", string(id)).Str("state", s.State().Kind.String()).
		Msg("subscription state changed")
	writeJSON(w, http.StatusOK, toSubscriptionDTO(s))
}

// createSchedule is shared by the API and the scenario loaders.
func (h *Handler) createSchedule(ctx context.Context, s *finance.Schedule) error {
	return h.Store.WithTx(ctx, func(st finance.Store) error {
		if _, err := st.GetAccount(ctx, s.AccountID); err != nil {
			return err
		}
		if s.TransferAccountID != nil {
			if _, err := st.GetAccount(ctx, *s.TransferAccountID); err != nil {
				return err
			}
		}
		if err := st.CreateSchedule(ctx, s); err != nil {
			return err
		}
		return h.Scheduler.PrimeNextRun(ctx, st, s, h.now())
	})
}

func scheduleFromRequest(req CreateSubscriptionRequest) (*finance.Schedule, error) {
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return nil, &finance.ValidationError{Field: "amount", Reason: "is not a number", Kind: finance.ErrInvalidSchedule}
	}

	interval := req.Interval
	if interval == 0 {
		interval = 1
	}

	s := &finance.Schedule{
		Name:              strings.TrimSpace(req.Name),
		AccountID:         finance.AccountID(req.AccountID),
		TransferAccountID: finance.AccountIDPtr(finance.AccountID(req.TransferAccountID)),
		CategoryID:        finance.CategoryIDPtr(finance.CategoryID(req.CategoryID)),
		Type:              finance.TransactionType(req.Type),
		Amount:            amount,
		Frequency:         finance.Frequency(req.Frequency),
		Interval:          interval,
		Status:            finance.ScheduleActive,
		AutoCommit:        req.AutoCommit,
		Memo:              req.Memo,
	}
	if s.Type != finance.TxTransfer {
		s.TransferAccountID = nil
	}

	if req.StartsOn != "" {
		t, err := finance.ParseDate(req.StartsOn)
		if err != nil {
			return nil, &finance.ValidationError{Field: "starts_on", Reason: err.Error(), Kind: finance.ErrInvalidSchedule}
		}
		d := finance.StartOfDay(t)
		s.StartsOn = &d
	}
	if req.EndsOn != "" {
		t, err := finance.ParseDate(req.EndsOn)
		if err != nil {
			return nil, &finance.ValidationError{Field: "ends_on", Reason: err.Error(), Kind: finance.ErrInvalidSchedule}
		}
		d := finance.StartOfDay(t)
		s.EndsOn = &d
	}

	return s, s.Validate()
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ProcessDue runs one due-processing pass. ?at= overrides the reference
// instant (YYYY-MM-DD means end of that day).
// POST /api/admin/process-due
func (h *Handler) ProcessDue(w http.ResponseWriter, r *http.Request) {
	ref := h.now()
	if s := r.URL.Query().Get("at"); s != "" {
		t, err := parseReference(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid at", err)
			return
		}
		ref = t
	}

	var (
		n   int
		err error
	)
	if h.Runner != nil {
		n, err = h.Runner.RunAt(r.Context(), ref)
	} else {
		n, err = h.Scheduler.ProcessDue(r.Context(), ref)
	}
	switch {
	case errors.Is(err, ErrRunInProgress):
		writeError(w, http.StatusConflict, "A due-processing pass is already running", err)
		return
	case errors.Is(err, ErrLockUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Batch lock unavailable", err)
		return
	case err != nil:
		h.fail(w, r, "Failed to process due subscriptions", err)
		return
	}

	writeJSON(w, http.StatusOK, ProcessDueDTO{Reference: formatTime(ref), Processed: n})
}

// ListRuns returns the most recent due-processing passes, newest first.
// GET /api/admin/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.Runner == nil {
		writeJSON(w, http.StatusOK, []RunRecord{})
		return
	}
	writeJSON(w, http.StatusOK, h.Runner.Runs())
}

func parseReference(s string) (time.Time, error) {
	t, err := finance.ParseDate(s)
	if err != nil {
		return time.Time{}, err
	}
	if len(s) == len(finance.DateLayout) {
		return finance.EndOfDay(t), nil
	}
	return t, nil
}
