// Package scheduler drives reconciliation runs on a fixed interval and on demand.
//
// The scheduler tracks two independent flags. The scheduling state tells whether the
// periodic ticker is armed, the execution state tells whether a run is in progress.
// At most one run executes at any time, whatever triggered it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wdullaer/cf-ddns/reconciler"
	"github.com/wdullaer/cf-ddns/types"
	"go.uber.org/zap"
)

// DefaultInterval is used when Start is called without a positive interval
const DefaultInterval = 5 * time.Minute

// ErrUpdateInProgress is returned when a run is requested while another one is executing
var ErrUpdateInProgress = errors.New("an update is already in progress")

// Runner executes one reconciliation run
type Runner interface {
	Run(ctx context.Context, trigger types.TriggerType, apiKeyID int64) (*reconciler.Summary, error)
}

// LastRun describes the most recently finished run
type LastRun struct {
	RunID      string            `json:"runId,omitempty"`
	Trigger    types.TriggerType `json:"triggerType"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	CurrentIP  string            `json:"currentIP,omitempty"`
	Total      int               `json:"total"`
	Updated    int               `json:"updated"`
	Skipped    int               `json:"skipped"`
	Errored    int               `json:"errored"`
	Error      string            `json:"error,omitempty"`
}

// Status is a snapshot of the scheduler
type Status struct {
	IsRunning             bool     `json:"isRunning"`
	IsUpdateInProgress    bool     `json:"isUpdating"`
	UpdateIntervalMinutes int      `json:"updateInterval"`
	LastRun               *LastRun `json:"lastRun,omitempty"`
}

// Scheduler owns the run guard and the periodic ticker
type Scheduler struct {
	runner Runner
	clock  Clock
	logger *zap.SugaredLogger

	busy atomic.Bool

	mu       sync.Mutex
	ticker   Ticker
	done     chan struct{}
	interval time.Duration
	lastRun  *LastRun
}

// Option customizes a Scheduler
type Option func(*Scheduler)

// WithClock replaces the real clock
func WithClock(clock Clock) Option {
	return func(scheduler *Scheduler) {
		scheduler.clock = clock
	}
}

// New returns a stopped Scheduler
func New(runner Runner, logger *zap.SugaredLogger, opts ...Option) *Scheduler {
	scheduler := &Scheduler{
		runner:   runner,
		clock:    RealClock{},
		logger:   logger.Named("scheduler"),
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(scheduler)
	}
	return scheduler
}

// Start triggers an immediate automatic run and arms the periodic ticker.
// It returns false without doing anything when the scheduler is already running.
func (scheduler *Scheduler) Start(interval time.Duration) bool {
	if interval <= 0 {
		interval = DefaultInterval
	}

	scheduler.mu.Lock()
	if scheduler.ticker != nil {
		scheduler.mu.Unlock()
		scheduler.logger.Infow("Scheduler already running")
		return false
	}
	scheduler.interval = interval
	scheduler.ticker = scheduler.clock.NewTicker(interval)
	scheduler.done = make(chan struct{})
	go scheduler.loop(scheduler.ticker, scheduler.done)
	scheduler.mu.Unlock()

	scheduler.logger.Infow("Scheduler started", "interval", interval)
	scheduler.trigger(types.TriggerAuto)
	return true
}

// Stop disarms the ticker. A run in progress is not cancelled.
// It returns false when the scheduler was not running.
func (scheduler *Scheduler) Stop() bool {
	scheduler.mu.Lock()
	defer scheduler.mu.Unlock()
	if scheduler.ticker == nil {
		return false
	}
	scheduler.ticker.Stop()
	close(scheduler.done)
	scheduler.ticker = nil
	scheduler.done = nil
	scheduler.logger.Infow("Scheduler stopped")
	return true
}

// RunNow executes a manual run and waits for it. It returns ErrUpdateInProgress
// when another run holds the guard. Cancelling ctx does not abort the run.
func (scheduler *Scheduler) RunNow(ctx context.Context, apiKeyID int64) (*reconciler.Summary, error) {
	if !scheduler.busy.CompareAndSwap(false, true) {
		return nil, ErrUpdateInProgress
	}
	return scheduler.execute(context.WithoutCancel(ctx), types.TriggerManual, apiKeyID)
}

// TriggerNow starts a manual run in the background. It returns false when a run
// is already in progress.
func (scheduler *Scheduler) TriggerNow() bool {
	return scheduler.trigger(types.TriggerManual)
}

// Exclusive runs fn while holding the run guard, so no reconciliation overlaps it.
// It returns ErrUpdateInProgress without calling fn when a run is in progress.
// Ticks arriving while fn runs are skipped.
func (scheduler *Scheduler) Exclusive(fn func() error) error {
	if !scheduler.busy.CompareAndSwap(false, true) {
		return ErrUpdateInProgress
	}
	defer scheduler.busy.Store(false)
	return fn()
}

// IsRunning reports the scheduling state
func (scheduler *Scheduler) IsRunning() bool {
	scheduler.mu.Lock()
	defer scheduler.mu.Unlock()
	return scheduler.ticker != nil
}

// IsUpdateInProgress reports the execution state
func (scheduler *Scheduler) IsUpdateInProgress() bool {
	return scheduler.busy.Load()
}

func (scheduler *Scheduler) Status() Status {
	scheduler.mu.Lock()
	defer scheduler.mu.Unlock()
	status := Status{
		IsRunning:             scheduler.ticker != nil,
		IsUpdateInProgress:    scheduler.busy.Load(),
		UpdateIntervalMinutes: int(scheduler.interval / time.Minute),
	}
	if scheduler.lastRun != nil {
		lastRun := *scheduler.lastRun
		status.LastRun = &lastRun
	}
	return status
}

func (scheduler *Scheduler) loop(ticker Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C():
			if !scheduler.trigger(types.TriggerAuto) {
				scheduler.logger.Infow("Skipping scheduled update, previous update still in progress")
			}
		}
	}
}

// trigger claims the guard and runs in the background
func (scheduler *Scheduler) trigger(trigger types.TriggerType) bool {
	if !scheduler.busy.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		if _, err := scheduler.execute(context.Background(), trigger, 0); err != nil {
			scheduler.logger.Errorw("Update run failed", "trigger", trigger, "err", err)
		}
	}()
	return true
}

// execute runs the engine. The caller must hold the guard, it is released on return.
func (scheduler *Scheduler) execute(ctx context.Context, trigger types.TriggerType, apiKeyID int64) (summary *reconciler.Summary, err error) {
	startedAt := scheduler.clock.Now().UTC()
	defer func() {
		if recovered := recover(); recovered != nil {
			scheduler.logger.Errorw("Update run panicked", "trigger", trigger, "panic", recovered)
			summary = nil
			err = fmt.Errorf("update run panicked: %v", recovered)
		}
		scheduler.record(trigger, startedAt, summary, err)
		scheduler.busy.Store(false)
	}()

	return scheduler.runner.Run(ctx, trigger, apiKeyID)
}

func (scheduler *Scheduler) record(trigger types.TriggerType, startedAt time.Time, summary *reconciler.Summary, err error) {
	lastRun := &LastRun{
		Trigger:    trigger,
		StartedAt:  startedAt,
		FinishedAt: scheduler.clock.Now().UTC(),
	}
	if err != nil {
		lastRun.Error = err.Error()
	}
	if summary != nil {
		lastRun.RunID = summary.RunID
		lastRun.CurrentIP = summary.CurrentIP
		lastRun.Total = summary.TotalEligible
		lastRun.Updated = summary.Updated
		lastRun.Skipped = summary.Skipped
		lastRun.Errored = summary.Errored
	}

	scheduler.mu.Lock()
	scheduler.lastRun = lastRun
	scheduler.mu.Unlock()
}
