package imports

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hireloop/mailroom/errors"
	"github.com/hireloop/mailroom/logger"
)

// SliceOutcome is the result of one slice invocation.
type SliceOutcome string

const (
	// OutcomeNoWork means no run was running; the slice did nothing.
	OutcomeNoWork SliceOutcome = "no_work"
	// OutcomeContinue means work remains; the run stays running and another
	// slice should follow.
	OutcomeContinue SliceOutcome = "continue"
	// OutcomeWaiting means the run stays running but the only remaining items
	// are processing claims abandoned by a dead slice, which stay locked until
	// the reclaim window elapses. Another slice right now would find nothing
	// to do; the periodic tick picks the run back up.
	OutcomeWaiting SliceOutcome = "waiting"
	// OutcomeCompleted means the run was finalized succeeded.
	OutcomeCompleted SliceOutcome = "completed"
	// OutcomeFailed means the run was finalized failed.
	OutcomeFailed SliceOutcome = "failed"
	// OutcomeCanceled means the run was finalized canceled.
	OutcomeCanceled SliceOutcome = "canceled"
)

// SliceConfig bounds one slice invocation.
type SliceConfig struct {
	// HardLimit is the platform ceiling on invocation duration.
	HardLimit time.Duration
	// SoftMargin is reserved under the hard limit for bookkeeping; the
	// slice aims to return by HardLimit - SoftMargin.
	SoftMargin time.Duration
	// ItemAllowance is the per-item processing budget. Claiming stops once
	// less than one allowance remains before the soft limit.
	ItemAllowance time.Duration
	// EnumerationMin is the minimum remaining budget required to enter an
	// enumeration phase at all.
	EnumerationMin time.Duration
	// Concurrency is the worker pool size for item processing.
	Concurrency int
	// BatchSize is the maximum number of items claimed per batch.
	BatchSize int
	// RetentionRuns is how many terminal runs to keep per job when pruning
	// at finalization.
	RetentionRuns int
}

// SoftLimit returns the effective slice budget.
func (c SliceConfig) SoftLimit() time.Duration {
	return c.HardLimit - c.SoftMargin
}

// SliceProcessor executes one time-boxed slice of the running run: reclaim
// abandoned items, advance enumeration, process a bounded batch of items
// with a worker pool, then either finalize the run or yield for another
// slice. It holds no state between invocations; everything it needs is read
// back from the stores.
type SliceProcessor struct {
	runs      *RunStore
	items     *ItemStore
	enum      *Enumerator
	processor *ItemProcessor
	config    SliceConfig
	logger    *zap.SugaredLogger
}

// NewSliceProcessor creates a slice processor.
func NewSliceProcessor(runs *RunStore, items *ItemStore, enum *Enumerator, processor *ItemProcessor, config SliceConfig, log *zap.SugaredLogger) *SliceProcessor {
	if log == nil {
		log = logger.Named("slice")
	}
	return &SliceProcessor{
		runs:      runs,
		items:     items,
		enum:      enum,
		processor: processor,
		config:    config,
		logger:    log,
	}
}

// RunSlice executes one slice and reports its outcome.
func (sp *SliceProcessor) RunSlice(ctx context.Context) (SliceOutcome, error) {
	start := time.Now()
	softDeadline := start.Add(sp.config.SoftLimit())

	// A canceled run that was never finalized blocks everything else.
	if canceled, err := sp.runs.GetCanceledUnfinalized(); err != nil {
		return OutcomeNoWork, err
	} else if canceled != nil {
		if err := sp.finalizeCanceled(canceled); err != nil {
			return OutcomeNoWork, err
		}
		return OutcomeCanceled, nil
	}

	run, err := sp.runs.GetRunningRun()
	if err != nil {
		return OutcomeNoWork, err
	}
	if run == nil {
		return OutcomeNoWork, nil
	}

	// Items still marked processing from a slice that died past the hard
	// limit are ownerless; put them back in the pool.
	reclaimed, err := sp.items.ReclaimStalled(run.ID, start.Add(-sp.config.HardLimit))
	if err != nil {
		return OutcomeContinue, err
	}
	if reclaimed > 0 {
		sp.logger.Infow("Reclaimed stalled items", "run_id", run.ID, "count", reclaimed)
	}

	// Enumeration and processing interleave across slices; the checkpoint
	// alone determines what remains.
	cp := run.Checkpoint
	if !cp.EnumerationComplete() {
		if time.Until(softDeadline) > sp.config.EnumerationMin {
			cp, err = sp.enum.Enumerate(ctx, run, softDeadline)
			if err != nil {
				return sp.failRun(run, errors.Wrap(err, "enumeration failed"))
			}
		}
	}

	outcome, err := sp.processItems(ctx, run, softDeadline)
	if err != nil || outcome != "" {
		return outcome, err
	}

	return sp.decide(run, cp)
}

// processItems claims and processes batches until the budget or the work
// runs out. A non-empty returned outcome short-circuits the slice (for
// cancellation); empty means fall through to the finalization decision.
func (sp *SliceProcessor) processItems(ctx context.Context, run *Run, softDeadline time.Time) (SliceOutcome, error) {
	for {
		// Cancellation is observed between batches, never mid-batch.
		current, err := sp.runs.GetRun(run.ID)
		if err != nil {
			return OutcomeContinue, err
		}
		if current.Status == RunStatusCanceled {
			if err := sp.finalizeCanceled(current); err != nil {
				return OutcomeCanceled, err
			}
			return OutcomeCanceled, nil
		}

		if time.Until(softDeadline) < sp.config.ItemAllowance {
			return "", nil
		}

		batch, err := sp.items.ClaimPending(run.ID, sp.config.BatchSize)
		if err != nil {
			return OutcomeContinue, err
		}
		if len(batch) == 0 {
			return "", nil
		}

		unprocessed := sp.runPool(ctx, batch, softDeadline)
		if err := sp.items.ReleaseItems(unprocessed); err != nil {
			sp.logger.Warnw("Failed to release unprocessed items",
				"run_id", run.ID, "count", len(unprocessed), "error", err)
		}

		// Best-effort progress refresh; a failure here is logged and the
		// slice moves on.
		if err := sp.refreshProgress(run.ID); err != nil {
			sp.logger.Warnw("Failed to refresh progress", "run_id", run.ID, "error", err)
		}
	}
}

// runPool processes a claimed batch with a shared-channel worker pool.
// Workers steal from the channel rather than owning a static partition, so a
// slow item never strands its neighbors. Returns the seqs of items no worker
// got to before the claim deadline.
func (sp *SliceProcessor) runPool(ctx context.Context, batch []*Item, softDeadline time.Time) []int64 {
	claimDeadline := softDeadline.Add(-sp.config.ItemAllowance)

	work := make(chan *Item, len(batch))
	for _, item := range batch {
		work <- item
	}
	close(work)

	var mu sync.Mutex
	var unprocessed []int64

	var wg sync.WaitGroup
	for i := 0; i < sp.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				if time.Now().After(claimDeadline) {
					mu.Lock()
					unprocessed = append(unprocessed, item.Seq)
					mu.Unlock()
					continue
				}

				if err := sp.processor.Advance(ctx, item); err != nil {
					if errors.Is(err, errors.ErrTimeout) {
						// Left processing for a later slice to reclaim.
						continue
					}
					sp.logger.Errorw("Item processing error",
						"seq", item.Seq, "external_id", item.ExternalID, "error", err)
				}
			}
		}()
	}
	wg.Wait()

	return unprocessed
}

// decide picks the slice outcome once the budget or the work is exhausted.
func (sp *SliceProcessor) decide(run *Run, cp *Checkpoint) (SliceOutcome, error) {
	counts, err := sp.items.CountByRun(run.ID)
	if err != nil {
		return OutcomeContinue, err
	}

	if !cp.EnumerationComplete() || counts.Pending > 0 {
		sp.logger.Infow("Slice yielding, work remains",
			"run_id", run.ID,
			"pending", counts.Pending,
			"processing", counts.Processing,
			"enumeration_complete", cp.EnumerationComplete())
		return OutcomeContinue, nil
	}

	// Nothing pending and enumeration done, but items are still marked
	// processing. This slice's own claims are terminal or released by now, so
	// those items were abandoned by a dead slice and stay untouchable until
	// the reclaim window passes. Chaining another slice immediately would just
	// spin on them.
	if counts.Processing > 0 {
		sp.logger.Infow("Slice waiting on abandoned items",
			"run_id", run.ID, "processing", counts.Processing)
		return OutcomeWaiting, nil
	}

	status := RunStatusSucceeded
	var runErr string
	if counts.Total() > 0 && counts.Done == 0 {
		status = RunStatusFailed
		runErr = "no items completed"
	}

	if err := sp.finalize(run, status, counts, runErr); err != nil {
		return OutcomeContinue, err
	}

	if status == RunStatusFailed {
		return OutcomeFailed, nil
	}
	return OutcomeCompleted, nil
}

// finalize closes out the run with a summary and prunes old terminal runs
// for the job.
func (sp *SliceProcessor) finalize(run *Run, status RunStatus, counts ItemCounts, runErr string) error {
	failures, err := sp.items.FailureSamples(run.ID, maxFailureSamples)
	if err != nil {
		return err
	}
	summary := BuildSummary(counts, failures)

	if err := sp.refreshProgress(run.ID); err != nil {
		sp.logger.Warnw("Failed to refresh final progress", "run_id", run.ID, "error", err)
	}

	finalized, err := sp.runs.Finalize(run.ID, status, summary, runErr)
	if err != nil {
		return err
	}
	if !finalized {
		sp.logger.Warnw("Run was already finalized", "run_id", run.ID)
		return nil
	}

	sp.logger.Infow("Run finalized",
		"run_id", run.ID, "job_id", run.JobID, "status", status,
		"done", counts.Done, "failed", counts.Failed, "total", counts.Total())

	pruned, err := sp.runs.PruneTerminal(run.JobID, sp.config.RetentionRuns)
	if err != nil {
		sp.logger.Warnw("Failed to prune terminal runs", "job_id", run.JobID, "error", err)
	} else if pruned > 0 {
		sp.logger.Infow("Pruned old terminal runs", "job_id", run.JobID, "count", pruned)
	}

	return nil
}

// finalizeCanceled closes out a canceled run: remaining items flip to
// canceled and the run gets its finished_at and summary.
func (sp *SliceProcessor) finalizeCanceled(run *Run) error {
	if _, err := sp.items.CancelRemaining(run.ID); err != nil {
		return err
	}

	counts, err := sp.items.CountByRun(run.ID)
	if err != nil {
		return err
	}

	return sp.finalize(run, RunStatusCanceled, counts, "run canceled")
}

// failRun finalizes the run failed with the given cause.
func (sp *SliceProcessor) failRun(run *Run, cause error) (SliceOutcome, error) {
	counts, countErr := sp.items.CountByRun(run.ID)
	if countErr != nil {
		sp.logger.Warnw("Failed to count items while failing run",
			"run_id", run.ID, "error", countErr)
	}

	if err := sp.finalize(run, RunStatusFailed, counts, cause.Error()); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeFailed, cause
}

// refreshProgress recomputes processed counts and the progress ratio from
// item counts and persists them monotonically.
func (sp *SliceProcessor) refreshProgress(runID string) error {
	counts, err := sp.items.CountByRun(runID)
	if err != nil {
		return err
	}
	progress := ComputeProgress(counts.Total(), counts.Processed(), 0, 0)
	return sp.runs.RecordProgress(runID, counts.Processed(), progress)
}
