package imports

import (
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireloop/mailroom/errors"
	mailroomtest "github.com/hireloop/mailroom/internal/testing"
)

func setupRun(t *testing.T) (*RunStore, *ItemStore, *Run) {
	t.Helper()
	db := mailroomtest.CreateTestDB(t)
	runs := NewRunStore(db)
	items := NewItemStore(db)

	_, _, err := runs.Enqueue("job-1")
	require.NoError(t, err)
	promoted, err := runs.PromoteOldestEnqueued()
	require.NoError(t, err)
	require.NotNil(t, promoted)

	return runs, items, promoted
}

func descriptors(ids ...string) []MessageDescriptor {
	msgs := make([]MessageDescriptor, 0, len(ids))
	for i, id := range ids {
		msgs = append(msgs, MessageDescriptor{
			ExternalID: id,
			ReceivedAt: time.Now().UTC().Add(-time.Duration(i) * time.Hour),
		})
	}
	return msgs
}

func TestInsertDiscoveredIsIdempotent(t *testing.T) {
	_, items, run := setupRun(t)

	inserted, err := items.InsertDiscovered(run, descriptors("m1", "m2", "m3"))
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)

	// Re-enumerating the same page creates nothing new.
	inserted, err = items.InsertDiscovered(run, descriptors("m2", "m3", "m4"))
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	counts, err := items.CountByRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, counts.Total())
	assert.Equal(t, 4, counts.Pending)
}

func TestClaimPendingFollowsDiscoveryOrder(t *testing.T) {
	_, items, run := setupRun(t)

	_, err := items.InsertDiscovered(run, descriptors("m1", "m2", "m3", "m4", "m5"))
	require.NoError(t, err)

	batch, err := items.ClaimPending(run.ID, 3)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, "m1", batch[0].ExternalID)
	assert.Equal(t, "m2", batch[1].ExternalID)
	assert.Equal(t, "m3", batch[2].ExternalID)
	for _, item := range batch {
		assert.Equal(t, ItemStatusProcessing, item.Status)
	}

	// Claimed items are not claimable again.
	rest, err := items.ClaimPending(run.ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "m4", rest[0].ExternalID)

	empty, err := items.ClaimPending(run.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMarkStepOnlyAdvances(t *testing.T) {
	_, items, run := setupRun(t)

	_, err := items.InsertDiscovered(run, descriptors("m1"))
	require.NoError(t, err)
	batch, err := items.ClaimPending(run.ID, 1)
	require.NoError(t, err)
	item := batch[0]

	require.NoError(t, items.MarkStep(item.Seq, StepFetched))
	require.NoError(t, items.MarkStep(item.Seq, StepSaved))
	require.NoError(t, items.MarkStep(item.Seq, StepParsed))

	// Regression attempts are conflicts.
	err = items.MarkStep(item.Seq, StepFetched)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	current, err := items.GetItem(item.Seq)
	require.NoError(t, err)
	assert.Equal(t, StepParsed, current.Step)
}

func TestMarkDoneAndFailed(t *testing.T) {
	_, items, run := setupRun(t)

	_, err := items.InsertDiscovered(run, descriptors("m1", "m2"))
	require.NoError(t, err)
	batch, err := items.ClaimPending(run.ID, 2)
	require.NoError(t, err)

	require.NoError(t, items.MarkStep(batch[0].Seq, StepFetched))
	require.NoError(t, items.MarkDone(batch[0].Seq))

	require.NoError(t, items.MarkStep(batch[1].Seq, StepFetched))
	require.NoError(t, items.MarkFailed(batch[1].Seq, "parse exploded"))

	done, err := items.GetItem(batch[0].Seq)
	require.NoError(t, err)
	assert.Equal(t, ItemStatusDone, done.Status)
	assert.Equal(t, StepPersisted, done.Step)

	failed, err := items.GetItem(batch[1].Seq)
	require.NoError(t, err)
	assert.Equal(t, ItemStatusFailed, failed.Status)
	// Failed items keep their last successful step for diagnosis.
	assert.Equal(t, StepFetched, failed.Step)
	assert.Equal(t, "parse exploded", failed.Error)
	assert.Equal(t, 1, failed.Attempts)

	counts, err := items.CountByRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Done)
	assert.Equal(t, 1, counts.Failed)
	assert.Equal(t, 2, counts.Processed())
}

func TestReclaimStalled(t *testing.T) {
	_, items, run := setupRun(t)

	_, err := items.InsertDiscovered(run, descriptors("m1", "m2"))
	require.NoError(t, err)
	batch, err := items.ClaimPending(run.ID, 2)
	require.NoError(t, err)
	require.NoError(t, items.MarkStep(batch[0].Seq, StepFetched))
	require.NoError(t, items.MarkStep(batch[0].Seq, StepSaved))

	// Nothing is stalled yet.
	reclaimed, err := items.ReclaimStalled(run.ID, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)

	// Everything older than a future cutoff counts as stalled.
	reclaimed, err = items.ReclaimStalled(run.ID, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, reclaimed)

	// Reclaimed items resume from their persisted step, not from scratch.
	again, err := items.ClaimPending(run.ID, 2)
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Equal(t, StepSaved, again[0].Step)
	assert.Equal(t, StepNone, again[1].Step)
}

func TestReleaseItems(t *testing.T) {
	_, items, run := setupRun(t)

	_, err := items.InsertDiscovered(run, descriptors("m1", "m2", "m3"))
	require.NoError(t, err)
	batch, err := items.ClaimPending(run.ID, 3)
	require.NoError(t, err)

	require.NoError(t, items.ReleaseItems([]int64{batch[1].Seq, batch[2].Seq}))

	counts, err := items.CountByRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Pending)
	assert.Equal(t, 1, counts.Processing)
}

func TestCancelRemaining(t *testing.T) {
	_, items, run := setupRun(t)

	_, err := items.InsertDiscovered(run, descriptors("m1", "m2", "m3"))
	require.NoError(t, err)
	batch, err := items.ClaimPending(run.ID, 1)
	require.NoError(t, err)
	require.NoError(t, items.MarkDone(batch[0].Seq))

	canceled, err := items.CancelRemaining(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, canceled)

	counts, err := items.CountByRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Done)
	assert.Equal(t, 2, counts.Canceled)
	assert.Equal(t, 0, counts.Pending)
}

func TestFailureSamples(t *testing.T) {
	_, items, run := setupRun(t)

	_, err := items.InsertDiscovered(run, descriptors("m1", "m2", "m3"))
	require.NoError(t, err)
	batch, err := items.ClaimPending(run.ID, 3)
	require.NoError(t, err)

	require.NoError(t, items.MarkFailed(batch[0].Seq, "boom 1"))
	require.NoError(t, items.MarkDone(batch[1].Seq))
	require.NoError(t, items.MarkFailed(batch[2].Seq, "boom 3"))

	samples, err := items.FailureSamples(run.ID, 10)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, "m1", samples[0].ExternalID)
	assert.Equal(t, "m3", samples[1].ExternalID)

	limited, err := items.FailureSamples(run.ID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
