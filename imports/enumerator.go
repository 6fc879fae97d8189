package imports

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hireloop/mailroom/errors"
	"github.com/hireloop/mailroom/logger"
)

const (
	enumerationPageRetries = 3
	enumerationRetryBase   = 500 * time.Millisecond
)

// Enumerator discovers a run's messages in two phases and records them as
// pending items.
//
// The inbox phase pages forward through the mailbox with the provider's
// opaque cursor. The search phase then walks backward in time from now until
// the lookback horizon. Discovery is idempotent end to end: both phases may
// revisit messages already recorded, and a resumed run continues from the
// persisted checkpoint rather than from scratch.
type Enumerator struct {
	runs     *RunStore
	items    *ItemStore
	provider Provider
	mailbox  string
	pageSize int
	lookback time.Duration
	logger   *zap.SugaredLogger
}

// NewEnumerator creates an enumerator over the given stores and provider.
func NewEnumerator(runs *RunStore, items *ItemStore, provider Provider, mailbox string, pageSize int, lookback time.Duration, log *zap.SugaredLogger) *Enumerator {
	if log == nil {
		log = logger.Named("enumerator")
	}
	return &Enumerator{
		runs:     runs,
		items:    items,
		provider: provider,
		mailbox:  mailbox,
		pageSize: pageSize,
		lookback: lookback,
		logger:   log,
	}
}

// Enumerate advances discovery for the run until both phases complete or the
// soft deadline passes. The returned checkpoint reflects exactly what has
// been persisted; callers decide from EnumerationComplete whether another
// slice is needed.
func (e *Enumerator) Enumerate(ctx context.Context, run *Run, deadline time.Time) (*Checkpoint, error) {
	cp := run.Checkpoint
	if cp == nil {
		cp = &Checkpoint{}
	}

	if !cp.InboxDone {
		if err := e.enumerateInbox(ctx, run, cp, deadline); err != nil {
			return cp, err
		}
	}

	if cp.InboxDone && !cp.SearchDone {
		if err := e.enumerateSearch(ctx, run, cp, deadline); err != nil {
			return cp, err
		}
	}

	return cp, nil
}

// enumerateInbox pages forward through the mailbox. The provider cursor is
// not durable across slices, so an interrupted inbox phase restarts from the
// first page; INSERT OR IGNORE makes the re-walk free of duplicates.
func (e *Enumerator) enumerateInbox(ctx context.Context, run *Run, cp *Checkpoint, deadline time.Time) error {
	cursor := ""
	for {
		if time.Now().After(deadline) {
			e.logger.Infow("Inbox enumeration deferred to next slice", "run_id", run.ID)
			return nil
		}

		page, err := e.listInboxWithRetry(ctx, cursor)
		if err != nil {
			return errors.Wrap(err, "inbox enumeration failed")
		}

		if err := e.recordPage(run, cp, page.Messages); err != nil {
			return err
		}

		if page.NextCursor == "" {
			cp.InboxDone = true
			if err := e.runs.SaveCheckpoint(run.ID, cp); err != nil {
				return err
			}
			e.logger.Infow("Inbox enumeration complete", "run_id", run.ID)
			return nil
		}
		cursor = page.NextCursor
	}
}

// enumerateSearch walks backward in time from the checkpoint cursor (or now)
// to the lookback horizon. The cursor is durable, so this phase resumes
// mid-walk across slices.
func (e *Enumerator) enumerateSearch(ctx context.Context, run *Run, cp *Checkpoint, deadline time.Time) error {
	horizon := time.Now().UTC().Add(-e.lookback)

	before := time.Now().UTC()
	if cp.SearchBefore != nil {
		before = *cp.SearchBefore
	}

	for {
		if time.Now().After(deadline) {
			e.logger.Infow("Search enumeration deferred to next slice",
				"run_id", run.ID, "before", before)
			return nil
		}
		if !before.After(horizon) {
			break
		}

		msgs, err := e.searchWithRetry(ctx, before)
		if err != nil {
			return errors.Wrap(err, "search enumeration failed")
		}
		if len(msgs) == 0 {
			break
		}

		if err := e.recordPage(run, cp, msgs); err != nil {
			return err
		}

		// Advance strictly backward to the oldest timestamp seen. A page
		// of identical timestamps would otherwise loop forever.
		oldest := msgs[0].ReceivedAt
		for _, m := range msgs[1:] {
			if m.ReceivedAt.Before(oldest) {
				oldest = m.ReceivedAt
			}
		}
		if !oldest.Before(before) {
			oldest = before.Add(-time.Second)
		}
		before = oldest
		cp.SearchBefore = &before
		if err := e.runs.SaveCheckpoint(run.ID, cp); err != nil {
			return err
		}
	}

	cp.SearchDone = true
	cp.SearchBefore = nil
	if err := e.runs.SaveCheckpoint(run.ID, cp); err != nil {
		return err
	}
	e.logger.Infow("Search enumeration complete", "run_id", run.ID)
	return nil
}

// recordPage inserts a page of descriptors and refreshes the run's total.
func (e *Enumerator) recordPage(run *Run, cp *Checkpoint, msgs []MessageDescriptor) error {
	inserted, err := e.items.InsertDiscovered(run, msgs)
	if err != nil {
		return err
	}
	if inserted == 0 {
		return nil
	}

	counts, err := e.items.CountByRun(run.ID)
	if err != nil {
		return err
	}
	return e.runs.SetTotalMessages(run.ID, counts.Total())
}

func (e *Enumerator) listInboxWithRetry(ctx context.Context, cursor string) (*MessagePage, error) {
	var page *MessagePage
	err := withRetry(ctx, enumerationPageRetries, func() error {
		var err error
		page, err = e.provider.ListInbox(ctx, e.mailbox, cursor, e.pageSize)
		return err
	})
	return page, err
}

func (e *Enumerator) searchWithRetry(ctx context.Context, before time.Time) ([]MessageDescriptor, error) {
	var msgs []MessageDescriptor
	err := withRetry(ctx, enumerationPageRetries, func() error {
		var err error
		msgs, err = e.provider.SearchBefore(ctx, e.mailbox, before, e.pageSize)
		return err
	})
	return msgs, err
}

// withRetry runs fn up to attempts times with doubling backoff, aborting
// early on context cancellation.
func withRetry(ctx context.Context, attempts int, fn func() error) error {
	var lastErr error
	backoff := enumerationRetryBase
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if i+1 < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return lastErr
}
