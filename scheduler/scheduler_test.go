package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wdullaer/cf-ddns/reconciler"
	"github.com/wdullaer/cf-ddns/types"
	"go.uber.org/zap"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	periods []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	ticker := &fakeTicker{ch: make(chan time.Time)}
	c.tickers = append(c.tickers, ticker)
	c.periods = append(c.periods, d)
	return ticker
}

func (c *fakeClock) tickerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

// Advance fires the latest ticker once and blocks until the scheduler loop received it
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	ticker := c.tickers[len(c.tickers)-1]
	now := c.now
	c.mu.Unlock()
	ticker.ch <- now
}

type fakeRunner struct {
	mu       sync.Mutex
	triggers []types.TriggerType
	keys     []int64
	block    chan struct{}
	started  chan struct{}
	err      error
	panics   bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan struct{}, 16)}
}

func (r *fakeRunner) Run(_ context.Context, trigger types.TriggerType, apiKeyID int64) (*reconciler.Summary, error) {
	r.mu.Lock()
	r.triggers = append(r.triggers, trigger)
	r.keys = append(r.keys, apiKeyID)
	block, err, panics := r.block, r.err, r.panics
	r.mu.Unlock()

	r.started <- struct{}{}
	if block != nil {
		<-block
	}
	if panics {
		panic("engine exploded")
	}
	if err != nil {
		return nil, err
	}
	return &reconciler.Summary{RunID: "run", Trigger: trigger, CurrentIP: "203.0.113.5", TotalEligible: 2, Updated: 1, Skipped: 1}, nil
}

func (r *fakeRunner) runs() []types.TriggerType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.TriggerType(nil), r.triggers...)
}

func newScheduler(runner Runner) (*Scheduler, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return New(runner, zap.NewNop().Sugar(), WithClock(clock)), clock
}

func waitIdle(t *testing.T, scheduler *Scheduler) {
	t.Helper()
	require.Eventually(t, func() bool { return !scheduler.IsUpdateInProgress() }, waitFor, tick)
}

func TestStartRunsImmediately(t *testing.T) {
	runner := newFakeRunner()
	scheduler, clock := newScheduler(runner)

	assert.True(t, scheduler.Start(10*time.Minute))
	<-runner.started
	waitIdle(t, scheduler)

	assert.Equal(t, []types.TriggerType{types.TriggerAuto}, runner.runs())
	assert.True(t, scheduler.IsRunning())
	assert.Equal(t, []time.Duration{10 * time.Minute}, clock.periods)
	assert.Equal(t, 10, scheduler.Status().UpdateIntervalMinutes)
}

func TestStartIsIdempotent(t *testing.T) {
	runner := newFakeRunner()
	scheduler, clock := newScheduler(runner)

	assert.True(t, scheduler.Start(time.Minute))
	<-runner.started
	waitIdle(t, scheduler)
	assert.False(t, scheduler.Start(time.Minute))
	assert.Equal(t, 1, clock.tickerCount())

	clock.Advance(time.Minute)
	<-runner.started
	waitIdle(t, scheduler)

	assert.Equal(t, []types.TriggerType{types.TriggerAuto, types.TriggerAuto}, runner.runs())
	assert.Never(t, func() bool { return len(runner.runs()) > 2 }, 50*time.Millisecond, tick)
}

func TestStartDefaultsInterval(t *testing.T) {
	scheduler, clock := newScheduler(newFakeRunner())

	scheduler.Start(0)
	waitIdle(t, scheduler)
	assert.Equal(t, []time.Duration{DefaultInterval}, clock.periods)
	assert.Equal(t, 5, scheduler.Status().UpdateIntervalMinutes)
}

func TestTickSkippedWhileBusy(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	scheduler, clock := newScheduler(runner)

	scheduler.Start(time.Minute)
	<-runner.started
	require.True(t, scheduler.IsUpdateInProgress())

	// The loop only receives the third tick once it has handled the second one
	clock.Advance(time.Minute)
	clock.Advance(time.Minute)
	clock.Advance(time.Minute)
	assert.Len(t, runner.runs(), 1, "ticks while busy are dropped, not queued")

	scheduler.Stop()
	close(runner.block)
	waitIdle(t, scheduler)
}

func TestExclusive(t *testing.T) {
	runner := newFakeRunner()
	scheduler, clock := newScheduler(runner)
	scheduler.Start(time.Minute)
	<-runner.started
	waitIdle(t, scheduler)

	calls := 0
	err := scheduler.Exclusive(func() error {
		calls++
		assert.True(t, scheduler.IsUpdateInProgress())

		_, err := scheduler.RunNow(context.Background(), 0)
		assert.ErrorIs(t, err, ErrUpdateInProgress)
		assert.False(t, scheduler.TriggerNow())
		clock.Advance(time.Minute)
		clock.Advance(time.Minute)
		assert.Len(t, runner.runs(), 1, "ticks during fn are skipped")
		return errors.New("sync failed")
	})
	scheduler.Stop()
	assert.EqualError(t, err, "sync failed")
	assert.Equal(t, 1, calls)
	waitIdle(t, scheduler)
}

func TestExclusiveWaitsForNoRun(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	scheduler, _ := newScheduler(runner)

	require.True(t, scheduler.TriggerNow())
	<-runner.started
	called := false
	err := scheduler.Exclusive(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrUpdateInProgress)
	assert.False(t, called)

	close(runner.block)
	waitIdle(t, scheduler)
	assert.NoError(t, scheduler.Exclusive(func() error { return nil }))
	assert.False(t, scheduler.IsUpdateInProgress())
}

func TestRunNowRejectsConcurrentRuns(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	scheduler, _ := newScheduler(runner)

	type outcome struct {
		summary *reconciler.Summary
		err     error
	}
	first := make(chan outcome, 1)
	go func() {
		summary, err := scheduler.RunNow(context.Background(), 0)
		first <- outcome{summary, err}
	}()
	<-runner.started

	summary, err := scheduler.RunNow(context.Background(), 0)
	assert.ErrorIs(t, err, ErrUpdateInProgress)
	assert.Nil(t, summary)
	assert.False(t, scheduler.TriggerNow())

	close(runner.block)
	result := <-first
	require.NoError(t, result.err)
	assert.Equal(t, types.TriggerManual, result.summary.Trigger)
	assert.Len(t, runner.runs(), 1)
	assert.False(t, scheduler.IsUpdateInProgress())
}

func TestRunNowIgnoresCallerCancellation(t *testing.T) {
	runner := newFakeRunner()
	scheduler, _ := newScheduler(runner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := scheduler.RunNow(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, runner.keys)
}

func TestTriggerNow(t *testing.T) {
	runner := newFakeRunner()
	scheduler, _ := newScheduler(runner)

	assert.True(t, scheduler.TriggerNow())
	<-runner.started
	waitIdle(t, scheduler)

	assert.Equal(t, []types.TriggerType{types.TriggerManual}, runner.runs())
	assert.False(t, scheduler.IsRunning(), "a manual run does not arm the scheduler")
}

func TestStopKeepsRunInFlight(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	scheduler, clock := newScheduler(runner)

	scheduler.Start(time.Minute)
	<-runner.started

	assert.True(t, scheduler.Stop())
	assert.False(t, scheduler.Stop())
	assert.False(t, scheduler.IsRunning())
	assert.True(t, scheduler.IsUpdateInProgress())
	assert.True(t, clock.tickers[0].stopped.Load())

	close(runner.block)
	waitIdle(t, scheduler)

	assert.True(t, scheduler.Start(time.Minute), "a stopped scheduler can be started again")
	waitIdle(t, scheduler)
	assert.Equal(t, 2, clock.tickerCount())
}

func TestRunFailureReleasesGuard(t *testing.T) {
	runner := newFakeRunner()
	runner.err = errors.New("all mirrors failed")
	scheduler, _ := newScheduler(runner)

	_, err := scheduler.RunNow(context.Background(), 0)
	require.Error(t, err)
	assert.False(t, scheduler.IsUpdateInProgress())

	status := scheduler.Status()
	require.NotNil(t, status.LastRun)
	assert.Equal(t, "all mirrors failed", status.LastRun.Error)
	assert.Equal(t, types.TriggerManual, status.LastRun.Trigger)
}

func TestRunPanicReleasesGuard(t *testing.T) {
	runner := newFakeRunner()
	runner.panics = true
	scheduler, _ := newScheduler(runner)

	_, err := scheduler.RunNow(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine exploded")
	assert.False(t, scheduler.IsUpdateInProgress())

	runner.mu.Lock()
	runner.panics = false
	runner.mu.Unlock()
	_, err = scheduler.RunNow(context.Background(), 0)
	assert.NoError(t, err)
}

func TestStatusReportsLastRun(t *testing.T) {
	scheduler, _ := newScheduler(newFakeRunner())
	assert.Nil(t, scheduler.Status().LastRun)

	_, err := scheduler.RunNow(context.Background(), 0)
	require.NoError(t, err)

	expected := &LastRun{
		RunID:      "run",
		Trigger:    types.TriggerManual,
		StartedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		CurrentIP:  "203.0.113.5",
		Total:      2,
		Updated:    1,
		Skipped:    1,
	}
	assert.Equal(t, Status{UpdateIntervalMinutes: 5, LastRun: expected}, scheduler.Status())
}
