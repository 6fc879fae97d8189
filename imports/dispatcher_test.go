package imports

import (
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mailroomtest "github.com/hireloop/mailroom/internal/testing"
)

func TestDispatchPromotesAndTriggers(t *testing.T) {
	db := mailroomtest.CreateTestDB(t)
	runs := NewRunStore(db)

	var triggered atomic.Int32
	dispatcher := NewDispatcher(runs, func(run *Run) { triggered.Add(1) }, nil)

	enqueued, _, err := runs.Enqueue("job-1")
	require.NoError(t, err)

	promoted, err := dispatcher.Dispatch()
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, enqueued.ID, promoted.ID)
	assert.Equal(t, RunStatusRunning, promoted.Status)
	assert.Equal(t, int32(1), triggered.Load())

	// While a run is running, dispatch is a no-op and does not trigger.
	again, err := dispatcher.Dispatch()
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.Equal(t, int32(1), triggered.Load())
}

func TestDispatchWithEmptyQueue(t *testing.T) {
	db := mailroomtest.CreateTestDB(t)
	runs := NewRunStore(db)
	dispatcher := NewDispatcher(runs, nil, nil)

	promoted, err := dispatcher.Dispatch()
	require.NoError(t, err)
	assert.Nil(t, promoted)
}

// Two jobs queued: the second waits until the first finalizes.
func TestSecondJobWaitsForFirst(t *testing.T) {
	db := mailroomtest.CreateTestDB(t)
	runs := NewRunStore(db)
	dispatcher := NewDispatcher(runs, nil, nil)

	first, _, err := runs.Enqueue("job-1")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, _, err := runs.Enqueue("job-2")
	require.NoError(t, err)

	promoted, err := dispatcher.Dispatch()
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, first.ID, promoted.ID)

	// job-2 stays enqueued while job-1 runs.
	waiting, err := runs.GetRun(second.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusEnqueued, waiting.Status)

	_, err = runs.Finalize(first.ID, RunStatusSucceeded, nil, "")
	require.NoError(t, err)

	promoted, err = dispatcher.Dispatch()
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, second.ID, promoted.ID)
}

// A run stuck running past the staleness threshold is reaped, clearing the
// way for the next queued run.
func TestReaperClearsStuckRun(t *testing.T) {
	db := mailroomtest.CreateTestDB(t)
	runs := NewRunStore(db)
	items := NewItemStore(db)
	dispatcher := NewDispatcher(runs, nil, nil)
	reaper := NewReaper(runs, items, nil)

	stuck, _, err := runs.Enqueue("job-1")
	require.NoError(t, err)
	_, err = dispatcher.Dispatch()
	require.NoError(t, err)

	next, _, err := runs.Enqueue("job-2")
	require.NoError(t, err)

	// Simulate a broken slice chain: no activity for half an hour.
	old := time.Now().UTC().Add(-30 * time.Minute)
	_, err = db.Exec(`UPDATE import_runs SET started_at = ?, updated_at = ? WHERE id = ?`, old, old, stuck.ID)
	require.NoError(t, err)

	reaped, err := reaper.SweepStale(10 * time.Minute)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, stuck.ID, reaped[0].ID)

	failed, err := runs.GetRun(stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, failed.Status)
	assert.NotNil(t, failed.FinishedAt)
	assert.NotNil(t, failed.DurationMs)
	assert.Contains(t, failed.Error, "stalled")
	require.NotNil(t, failed.Summary)

	promoted, err := dispatcher.Dispatch()
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, next.ID, promoted.ID)
}

func TestReaperIgnoresHealthyRuns(t *testing.T) {
	db := mailroomtest.CreateTestDB(t)
	runs := NewRunStore(db)
	items := NewItemStore(db)
	reaper := NewReaper(runs, items, nil)

	_, _, err := runs.Enqueue("job-1")
	require.NoError(t, err)
	_, err = runs.PromoteOldestEnqueued()
	require.NoError(t, err)

	reaped, err := reaper.SweepStale(10 * time.Minute)
	require.NoError(t, err)
	assert.Empty(t, reaped)
}
