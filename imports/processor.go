package imports

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hireloop/mailroom/errors"
	"github.com/hireloop/mailroom/logger"
)

// ItemProcessor drives one item through the remaining pipeline steps.
//
// Every completed step is persisted before the next begins, so a crash
// mid-item resumes exactly where it left off. There is no automatic retry
// here: a handler failure marks the item failed and stops. An item that runs
// out of its per-item allowance is abandoned in place (still processing) for
// a later slice to reclaim.
type ItemProcessor struct {
	items     *ItemStore
	registry  *HandlerRegistry
	allowance time.Duration
	logger    *zap.SugaredLogger
}

// NewItemProcessor creates an item processor with the given per-item time
// allowance.
func NewItemProcessor(items *ItemStore, registry *HandlerRegistry, allowance time.Duration, log *zap.SugaredLogger) *ItemProcessor {
	if log == nil {
		log = logger.Named("processor")
	}
	return &ItemProcessor{
		items:     items,
		registry:  registry,
		allowance: allowance,
		logger:    log,
	}
}

// Advance walks the item from its current step to completion, its failure,
// or allowance exhaustion. The item must already be claimed (processing).
//
// Returns ErrTimeout (wrapped) when the allowance ran out; the item is left
// processing for reclamation. All other outcomes, including handler failure,
// return nil with the outcome persisted on the item.
func (p *ItemProcessor) Advance(ctx context.Context, item *Item) error {
	ictx, cancel := context.WithTimeout(ctx, p.allowance)
	defer cancel()

	sc := &StepContext{
		Item:      item,
		Artifacts: make(map[string]interface{}),
	}

	for step := NextStep(item.Step); step != ""; step = NextStep(item.Step) {
		if err := ictx.Err(); err != nil {
			p.logger.Warnw("Item abandoned at allowance",
				"seq", item.Seq, "external_id", item.ExternalID, "step", step)
			return errors.Wrapf(errors.ErrTimeout, "item %d out of time before step %s", item.Seq, step)
		}

		handler := p.registry.Get(step)
		if handler == nil {
			msg := "no handler registered for step " + string(step)
			if err := p.items.MarkFailed(item.Seq, msg); err != nil {
				return err
			}
			item.Status = ItemStatusFailed
			return nil
		}

		if err := handler.Execute(ictx, sc); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ictx.Err(), context.DeadlineExceeded) {
				p.logger.Warnw("Item abandoned mid-step at allowance",
					"seq", item.Seq, "external_id", item.ExternalID, "step", step)
				return errors.Wrapf(errors.ErrTimeout, "item %d timed out during step %s", item.Seq, step)
			}

			p.logger.Warnw("Step handler failed",
				"seq", item.Seq, "external_id", item.ExternalID, "step", step, "error", err)
			if markErr := p.items.MarkFailed(item.Seq, err.Error()); markErr != nil {
				return markErr
			}
			item.Status = ItemStatusFailed
			item.Error = err.Error()
			return nil
		}

		if err := p.items.MarkStep(item.Seq, step); err != nil {
			return err
		}
		item.Step = step
	}

	if err := p.items.MarkDone(item.Seq); err != nil {
		return err
	}
	item.Status = ItemStatusDone
	return nil
}
