package imports

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hireloop/mailroom/logger"
)

// DaemonConfig controls the dispatch loop.
type DaemonConfig struct {
	// DispatchInterval is the periodic tick. It is the backstop that keeps
	// work moving if a continue signal is ever lost.
	DispatchInterval time.Duration
	// StaleAfter is the reaper threshold for stuck running runs.
	StaleAfter time.Duration
}

// Daemon runs the dispatch loop: on every tick (or continue signal) it sweeps
// stale runs, promotes queued work, and executes one slice. A slice ending in
// OutcomeContinue signals the loop again immediately, so an active run is
// processed as a chain of back-to-back slices rather than once per tick.
type Daemon struct {
	dispatcher *Dispatcher
	slices     *SliceProcessor
	reaper     *Reaper
	config     DaemonConfig
	logger     *zap.SugaredLogger

	signal chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDaemon wires the dispatch loop over an existing slice processor and
// stores. The dispatcher is created here so its trigger feeds the loop's
// continue signal.
func NewDaemon(ctx context.Context, runs *RunStore, items *ItemStore, slices *SliceProcessor, config DaemonConfig, log *zap.SugaredLogger) *Daemon {
	if log == nil {
		log = logger.Named("daemon")
	}

	dctx, cancel := context.WithCancel(ctx)
	d := &Daemon{
		slices: slices,
		reaper: NewReaper(runs, items, log),
		config: config,
		logger: log,
		signal: make(chan struct{}, 1),
		ctx:    dctx,
		cancel: cancel,
	}
	d.dispatcher = NewDispatcher(runs, func(*Run) { d.Notify() }, log)
	return d
}

// Notify wakes the loop for an immediate pass. Non-blocking; a pending
// signal absorbs duplicates.
func (d *Daemon) Notify() {
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// Dispatcher exposes the daemon's dispatcher for trigger surfaces (enqueue
// handlers) that want to kick the loop directly.
func (d *Daemon) Dispatcher() *Dispatcher {
	return d.dispatcher
}

// Start launches the loop in a goroutine.
func (d *Daemon) Start() {
	d.wg.Add(1)
	go d.loop()
	d.logger.Infow("Dispatch loop started",
		"interval", d.config.DispatchInterval, "stale_after", d.config.StaleAfter)
}

// Stop shuts the loop down and waits for the in-flight pass to finish.
func (d *Daemon) Stop() {
	d.cancel()
	d.wg.Wait()
	d.logger.Infow("Dispatch loop stopped")
}

func (d *Daemon) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DispatchInterval)
	defer ticker.Stop()

	// Initial pass picks up work left over from a previous process.
	d.pass(true)

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.pass(true)
		case <-d.signal:
			d.pass(false)
		}
	}
}

// pass runs one dispatch cycle. The reaper only runs on periodic ticks, not
// on continue signals, to keep the hot path cheap.
func (d *Daemon) pass(sweep bool) {
	if sweep {
		if reaped, err := d.reaper.SweepStale(d.config.StaleAfter); err != nil {
			d.logger.Errorw("Stale sweep failed", "error", err)
		} else if len(reaped) > 0 {
			d.logger.Warnw("Stale runs reaped", "count", len(reaped))
		}
	}

	if _, err := d.dispatcher.Dispatch(); err != nil {
		d.logger.Errorw("Dispatch failed", "error", err)
		return
	}

	outcome, err := d.slices.RunSlice(d.ctx)
	if err != nil {
		d.logger.Errorw("Slice failed", "outcome", outcome, "error", err)
	}

	switch outcome {
	case OutcomeContinue:
		d.Notify()
	case OutcomeCompleted, OutcomeFailed, OutcomeCanceled:
		// The finalized run may have been blocking another job's queue.
		d.Notify()
	case OutcomeWaiting:
		// Abandoned items stay locked until the reclaim window elapses;
		// re-signaling now would spin. The periodic tick retries the run.
	}
}
