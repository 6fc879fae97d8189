package imports

import (
	"time"

	"go.uber.org/zap"

	"github.com/hireloop/mailroom/logger"
)

// TriggerFunc requests a slice invocation for the promoted run. It must not
// block; the dispatcher fires it and returns.
type TriggerFunc func(run *Run)

// Dispatcher promotes queued runs to running under the global
// mutual-exclusion guarantee and triggers slice execution.
//
// It is stateless and safe to invoke concurrently and repeatedly: from the
// periodic tick, immediately after an enqueue, and as the self-trigger at
// the end of a slice. All racing is absorbed by the conditional promotion
// update; losers simply no-op.
type Dispatcher struct {
	runs    *RunStore
	trigger TriggerFunc
	logger  *zap.SugaredLogger
}

// NewDispatcher creates a dispatcher that starts slices via trigger.
func NewDispatcher(runs *RunStore, trigger TriggerFunc, log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = logger.Named("dispatcher")
	}
	return &Dispatcher{runs: runs, trigger: trigger, logger: log}
}

// Dispatch promotes the oldest enqueued run if nothing is running, then
// triggers a slice for it. Returns the promoted run, or nil when there was
// nothing to do.
func (d *Dispatcher) Dispatch() (*Run, error) {
	running, err := d.runs.GetRunningRun()
	if err != nil {
		return nil, err
	}
	if running != nil {
		// A slice chain is already in flight; it self-triggers.
		return nil, nil
	}

	promoted, err := d.runs.PromoteOldestEnqueued()
	if err != nil {
		return nil, err
	}
	if promoted == nil {
		return nil, nil
	}

	d.logger.Infow("Promoted run", "run_id", promoted.ID, "job_id", promoted.JobID)

	if d.trigger != nil {
		d.trigger(promoted)
	}

	return promoted, nil
}

// Reaper force-fails runs stuck in running past a staleness threshold. A
// healthy slice chain keeps updated_at fresh; a gap this large means the
// chain broke (crash past the hard limit, lost trigger), and the run must be
// cleared so the next enqueued run can proceed.
type Reaper struct {
	runs   *RunStore
	items  *ItemStore
	logger *zap.SugaredLogger
}

// NewReaper creates a reaper over the given stores.
func NewReaper(runs *RunStore, items *ItemStore, log *zap.SugaredLogger) *Reaper {
	if log == nil {
		log = logger.Named("reaper")
	}
	return &Reaper{runs: runs, items: items, logger: log}
}

// SweepStale fails every running run idle longer than threshold, with a
// diagnostic error and a best-effort summary. Returns the runs it reaped.
func (r *Reaper) SweepStale(threshold time.Duration) ([]*Run, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	stale, err := r.runs.ListStaleRunning(cutoff)
	if err != nil {
		return nil, err
	}

	var reaped []*Run
	for _, run := range stale {
		summary := r.bestEffortSummary(run.ID)

		finalized, err := r.runs.Finalize(run.ID, RunStatusFailed, summary,
			"run stalled: no slice activity past staleness threshold")
		if err != nil {
			r.logger.Errorw("Failed to reap stale run", "run_id", run.ID, "error", err)
			continue
		}
		if !finalized {
			continue
		}

		r.logger.Warnw("Reaped stale run",
			"run_id", run.ID, "job_id", run.JobID, "started_at", run.StartedAt)
		reaped = append(reaped, run)
	}

	return reaped, nil
}

func (r *Reaper) bestEffortSummary(runID string) *Summary {
	counts, err := r.items.CountByRun(runID)
	if err != nil {
		r.logger.Warnw("Failed to count items for reaped run", "run_id", runID, "error", err)
		return nil
	}
	failures, err := r.items.FailureSamples(runID, maxFailureSamples)
	if err != nil {
		failures = nil
	}
	return BuildSummary(counts, failures)
}
