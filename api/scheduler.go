/*
scheduler.go - Background due-processing runner

PURPOSE:
  Periodically materializes due subscription occurrences by calling
  recurring.Scheduler.ProcessDue, and serves the manual admin trigger.

DESIGN:
  - One background goroutine with a configurable check interval
  - Runs once immediately on Start
  - A local mutex keeps passes in this process from overlapping
  - An optional Locker (Redis) keeps passes across instances from
    overlapping; when the lock cannot be reached the pass is skipped
  - The last passes are kept in memory for GET /api/admin/runs

CONFIGURATION:
  - Interval: How often to run (default: 1 hour)
  - LockTTL:  Lifetime of the cross-instance lock (default: 5 minutes)
  - Enabled:  Whether the ticker runs (manual trigger always works)

USAGE:
  runner := NewDueRunner(scheduler, log)
  runner.Locker = redislock.New(rdb)
  runner.Start()
  // ... later
  runner.Stop()

SEE ALSO:
  - recurring/scheduler.go: ProcessDue
  - store/redislock: Locker implementation
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/household-ledger/logger"
	"github.com/warp/household-ledger/recurring"
	"github.com/warp/household-ledger/store/redislock"
)

const (
	processDueLockKey = "process-due"
	maxRunHistory     = 20
)

var (
	// ErrRunInProgress is returned when a pass is already running here or
	// on another instance.
	ErrRunInProgress = errors.New("due-processing pass already running")

	// ErrLockUnavailable is returned when the batch lock backend failed.
	ErrLockUnavailable = errors.New("batch lock unavailable")
)

// Locker is a cross-instance mutex. *redislock.Locker satisfies it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (redislock.ReleaseFunc, bool, error)
}

// RunRecord describes one due-processing pass.
type RunRecord struct {
	ID          string    `json:"id"`
	Trigger     string    `json:"trigger"` // "ticker" or "manual"
	Reference   time.Time `json:"reference"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Processed   int       `json:"processed"`
	Status      string    `json:"status"` // completed, skipped, failed
	Error       string    `json:"error,omitempty"`
}

// DueRunner drives recurring.Scheduler.ProcessDue on a ticker.
type DueRunner struct {
	Scheduler *recurring.Scheduler
	Locker    Locker
	Interval  time.Duration
	LockTTL   time.Duration
	Enabled   bool
	Log       zerolog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	running sync.Mutex

	historyMu sync.Mutex
	history   []RunRecord
}

// NewDueRunner creates a runner with the default interval.
func NewDueRunner(scheduler *recurring.Scheduler, log zerolog.Logger) *DueRunner {
	return &DueRunner{
		Scheduler: scheduler,
		Interval:  time.Hour,
		LockTTL:   5 * time.Minute,
		Enabled:   true,
		Log:       log,
	}
}

// Start begins the ticker loop.
func (dr *DueRunner) Start() {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	if !dr.Enabled {
		dr.Log.Info().Msg("due runner disabled, not starting")
		return
	}
	if dr.ticker != nil {
		return
	}

	dr.ticker = time.NewTicker(dr.Interval)
	dr.stop = make(chan struct{})
	dr.wg.Add(1)

	go dr.run()

	dr.Log.Info().Dur("interval", dr.Interval).Bool("distributed_lock", dr.Locker != nil).Msg("due runner started")
}

// Stop ends the loop and waits for an in-flight pass.
func (dr *DueRunner) Stop() {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	if dr.ticker == nil {
		return
	}
	dr.ticker.Stop()
	close(dr.stop)
	dr.wg.Wait()
	dr.ticker = nil
	dr.Log.Info().Msg("due runner stopped")
}

func (dr *DueRunner) run() {
	defer dr.wg.Done()

	dr.tick()

	for {
		select {
		case <-dr.ticker.C:
			dr.tick()
		case <-dr.stop:
			return
		}
	}
}

func (dr *DueRunner) tick() {
	ctx := context.Background()
	if _, err := dr.runAt(ctx, dr.Scheduler.Now(), "ticker"); err != nil && !errors.Is(err, ErrRunInProgress) {
		dr.Log.Error().Err(err).Msg("due-processing pass failed")
	}
}

// RunNow runs a pass at the scheduler's current instant.
func (dr *DueRunner) RunNow(ctx context.Context) (int, error) {
	return dr.runAt(ctx, dr.Scheduler.Now(), "manual")
}

// RunAt runs a pass against ref.
func (dr *DueRunner) RunAt(ctx context.Context, ref time.Time) (int, error) {
	return dr.runAt(ctx, ref, "manual")
}

func (dr *DueRunner) runAt(ctx context.Context, ref time.Time, trigger string) (int, error) {
	rec := RunRecord{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Reference: ref,
		StartedAt: time.Now().UTC(),
	}
	log := dr.Log.With().Str("run_id", rec.ID).Str("trigger", trigger).Logger()
	ctx = logger.WithContext(ctx, log)

	if !dr.running.TryLock() {
		log.Debug().Msg("pass already running in this process, skipped")
		return 0, ErrRunInProgress
	}
	defer dr.running.Unlock()

	if dr.Locker != nil {
		release, ok, err := dr.Locker.TryLock(ctx, processDueLockKey, dr.LockTTL)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrLockUnavailable, err)
			dr.finish(&rec, 0, err)
			return 0, err
		}
		if !ok {
			log.Info().Msg("another instance holds the batch lock, pass skipped")
			rec.Status = "skipped"
			dr.finish(&rec, 0, nil)
			return 0, ErrRunInProgress
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				log.Warn().Err(err).Msg("releasing batch lock failed")
			}
		}()
	}

	n, err := dr.Scheduler.ProcessDue(ctx, ref)
	dr.finish(&rec, n, err)
	return n, err
}

func (dr *DueRunner) finish(rec *RunRecord, processed int, err error) {
	rec.CompletedAt = time.Now().UTC()
	rec.Processed = processed
	switch {
	case err != nil:
		rec.Status = "failed"
		rec.Error = err.Error()
	case rec.Status == "":
		rec.Status = "completed"
	}

	dr.historyMu.Lock()
	defer dr.historyMu.Unlock()
	dr.history = append(dr.history, *rec)
	if len(dr.history) > maxRunHistory {
		dr.history = dr.history[len(dr.history)-maxRunHistory:]
	}
}

// Runs returns the recorded passes, newest first.
func (dr *DueRunner) Runs() []RunRecord {
	dr.historyMu.Lock()
	defer dr.historyMu.Unlock()

	out := make([]RunRecord, len(dr.history))
	for i, rec := range dr.history {
		out[len(dr.history)-1-i] = rec
	}
	return out
}
