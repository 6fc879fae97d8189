package imports

import (
	"database/sql"
	"time"

	"github.com/hireloop/mailroom/db"
	"github.com/hireloop/mailroom/errors"
)

// RunStore handles persistence of import runs.
//
// All coordination between concurrent invocations (who may promote a run,
// who may finalize it) is expressed as conditional updates guarded by the
// partial unique indexes on import_runs. There are no advisory locks and no
// in-process mutexes, because none would be visible across invocations.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new run store
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// Enqueue creates a new enqueued run for the job. If the job already has an
// enqueued or running run, the existing run is returned with created=false,
// giving callers idempotent enqueue semantics.
func (s *RunStore) Enqueue(jobID string) (run *Run, created bool, err error) {
	existing, err := s.GetActiveRunForJob(jobID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	run, err = NewRun(jobID)
	if err != nil {
		return nil, false, err
	}

	query := `
		INSERT INTO import_runs (id, job_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query, run.ID, run.JobID, run.Status, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		// Lost a race with a concurrent enqueue for the same job; the
		// per-job active index rejected the insert. Return the winner.
		if db.IsConstraintViolation(err) {
			existing, lookupErr := s.GetActiveRunForJob(jobID)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, errors.Wrap(err, "failed to enqueue run")
	}

	return run, true, nil
}

// GetRun retrieves a run by ID
func (s *RunStore) GetRun(id string) (*Run, error) {
	query := `SELECT ` + StandardRunSelectColumns() + ` FROM import_runs WHERE id = ?`

	var run Run
	err := ScanRunFromRow(s.db.QueryRow(query, id), &run)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("run not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get run")
	}

	return &run, nil
}

// GetActiveRunForJob returns the job's enqueued or running run, or nil if
// the job has no active run.
func (s *RunStore) GetActiveRunForJob(jobID string) (*Run, error) {
	query := `SELECT ` + StandardRunSelectColumns() + `
		FROM import_runs
		WHERE job_id = ? AND status IN ('enqueued', 'running')
		LIMIT 1`

	var run Run
	err := ScanRunFromRow(s.db.QueryRow(query, jobID), &run)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find active run for job")
	}

	return &run, nil
}

// GetRunningRun returns the single running run, or nil when no run is
// running. The single-running index guarantees at most one row qualifies.
func (s *RunStore) GetRunningRun() (*Run, error) {
	query := `SELECT ` + StandardRunSelectColumns() + `
		FROM import_runs
		WHERE status = 'running'
		LIMIT 1`

	var run Run
	err := ScanRunFromRow(s.db.QueryRow(query), &run)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get running run")
	}

	return &run, nil
}

// PromoteOldestEnqueued atomically flips the earliest-created enqueued run to
// running, guarded by the single-running unique index.
//
// Exactly one of any set of concurrent callers succeeds; the rest observe
// (nil, nil) rather than an error. This is the system's only mutual-exclusion
// mechanism for starting work.
func (s *RunStore) PromoteOldestEnqueued() (*Run, error) {
	now := time.Now().UTC()

	query := `
		UPDATE import_runs
		SET status = 'running', started_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM import_runs
			WHERE status = 'enqueued'
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		)
		AND NOT EXISTS (SELECT 1 FROM import_runs WHERE status = 'running')
	`

	result, err := s.db.Exec(query, now, now)
	if err != nil {
		// A racing promoter beat us to the single-running index.
		if db.IsConstraintViolation(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to promote enqueued run")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		// Nothing enqueued, or another run is already running.
		return nil, nil
	}

	return s.GetRunningRun()
}

// Finalize sets a terminal state exactly once. A second finalize of the same
// run is a silent no-op (finalized=false). The summary column is write-once:
// an existing summary is never overwritten.
func (s *RunStore) Finalize(runID string, status RunStatus, summary *Summary, runErr string) (finalized bool, err error) {
	if !status.IsTerminal() {
		return false, errors.Newf("finalize requires a terminal status, got %s", status)
	}

	run, err := s.GetRun(runID)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	var durationMs interface{}
	if run.StartedAt != nil {
		durationMs = now.Sub(*run.StartedAt).Milliseconds()
	}

	summaryJSON, err := MarshalSummary(summary)
	if err != nil {
		return false, err
	}
	summaryVal := sql.NullString{String: summaryJSON, Valid: summaryJSON != ""}
	errVal := sql.NullString{String: runErr, Valid: runErr != ""}

	query := `
		UPDATE import_runs
		SET status = ?,
		    error = COALESCE(error, ?),
		    summary = COALESCE(summary, ?),
		    duration_ms = ?,
		    finished_at = ?,
		    updated_at = ?
		WHERE id = ? AND finished_at IS NULL
	`

	result, err := s.db.Exec(query, status, errVal, summaryVal, durationMs, now, now, runID)
	if err != nil {
		return false, errors.Wrap(err, "failed to finalize run")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}

	return rows > 0, nil
}

// Cancel requests cancellation of a run. An enqueued run is finalized
// immediately (nothing will ever pick it up); a running run is only marked
// canceled and left for the slice processor to finalize between batches.
// Runs already terminal are left untouched (canceled=false).
func (s *RunStore) Cancel(runID string) (canceled bool, err error) {
	now := time.Now().UTC()

	// Enqueued: terminal right away.
	result, err := s.db.Exec(`
		UPDATE import_runs
		SET status = 'canceled', finished_at = ?, updated_at = ?
		WHERE id = ? AND status = 'enqueued'
	`, now, now, runID)
	if err != nil {
		return false, errors.Wrap(err, "failed to cancel enqueued run")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	if rows > 0 {
		return true, nil
	}

	// Running: flag only; the slice processor observes the flag between
	// batches and finalizes promptly.
	result, err = s.db.Exec(`
		UPDATE import_runs
		SET status = 'canceled', updated_at = ?
		WHERE id = ? AND status = 'running'
	`, now, runID)
	if err != nil {
		return false, errors.Wrap(err, "failed to cancel running run")
	}
	rows, err = result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}

	return rows > 0, nil
}

// CancelActiveForJob cancels the job's active run, if any.
func (s *RunStore) CancelActiveForJob(jobID string) (*Run, bool, error) {
	run, err := s.GetActiveRunForJob(jobID)
	if err != nil {
		return nil, false, err
	}
	if run == nil {
		return nil, false, nil
	}
	canceled, err := s.Cancel(run.ID)
	if err != nil {
		return nil, false, err
	}
	return run, canceled, nil
}

// GetCanceledUnfinalized returns the canceled-but-not-finalized run, if any.
// This is the run a canceled slice must close out before new work proceeds.
func (s *RunStore) GetCanceledUnfinalized() (*Run, error) {
	query := `SELECT ` + StandardRunSelectColumns() + `
		FROM import_runs
		WHERE status = 'canceled' AND finished_at IS NULL
		LIMIT 1`

	var run Run
	err := ScanRunFromRow(s.db.QueryRow(query), &run)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get canceled run")
	}

	return &run, nil
}

// SaveCheckpoint persists the run's enumeration checkpoint.
func (s *RunStore) SaveCheckpoint(runID string, cp *Checkpoint) error {
	cpJSON, err := MarshalCheckpoint(cp)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		UPDATE import_runs
		SET checkpoint = ?, updated_at = ?
		WHERE id = ?
	`, cpJSON, time.Now().UTC(), runID)
	if err != nil {
		return errors.Wrap(err, "failed to save checkpoint")
	}

	return nil
}

// SetTotalMessages updates the run's discovered-message total.
func (s *RunStore) SetTotalMessages(runID string, total int) error {
	_, err := s.db.Exec(`
		UPDATE import_runs
		SET total_messages = ?, updated_at = ?
		WHERE id = ?
	`, total, time.Now().UTC(), runID)
	if err != nil {
		return errors.Wrap(err, "failed to set total messages")
	}

	return nil
}

// RecordProgress persists processed count and progress ratio. Progress is
// clamped monotonic: MAX(progress, ?) keeps it non-decreasing even if counts
// are refreshed from a stale read.
func (s *RunStore) RecordProgress(runID string, processed int, progress float64) error {
	_, err := s.db.Exec(`
		UPDATE import_runs
		SET processed_messages = ?,
		    progress = MAX(progress, ?),
		    updated_at = ?
		WHERE id = ?
	`, processed, progress, time.Now().UTC(), runID)
	if err != nil {
		return errors.Wrap(err, "failed to record progress")
	}

	return nil
}

// ListStaleRunning returns runs still marked running whose slice chain went
// quiet: started before the cutoff with no update since the cutoff either.
func (s *RunStore) ListStaleRunning(cutoff time.Time) ([]*Run, error) {
	query := `SELECT ` + StandardRunSelectColumns() + `
		FROM import_runs
		WHERE status = 'running' AND started_at < ? AND updated_at < ?
		ORDER BY started_at ASC`

	rows, err := s.db.Query(query, cutoff, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stale runs")
	}
	defer rows.Close()

	return scanRuns(rows, "stale runs")
}

// ListRuns returns runs for a job ordered newest first, optionally filtered
// by status.
func (s *RunStore) ListRuns(jobID string, status *RunStatus, limit int) ([]*Run, error) {
	var query string
	var args []interface{}

	baseQuery := `SELECT ` + StandardRunSelectColumns() + ` FROM import_runs WHERE job_id = ?`
	if status != nil {
		query = baseQuery + ` AND status = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{jobID, *status, limit}
	} else {
		query = baseQuery + ` ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{jobID, limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	return scanRuns(rows, "runs")
}

// PruneTerminal deletes the job's terminal runs beyond the newest keep,
// cascading to their items. Returns the number of runs removed.
func (s *RunStore) PruneTerminal(jobID string, keep int) (int, error) {
	query := `
		DELETE FROM import_runs
		WHERE job_id = ?
		  AND status IN ('succeeded', 'failed', 'canceled')
		  AND id NOT IN (
			SELECT id FROM import_runs
			WHERE job_id = ? AND status IN ('succeeded', 'failed', 'canceled')
			ORDER BY created_at DESC
			LIMIT ?
		  )
	`

	result, err := s.db.Exec(query, jobID, jobID, keep)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune terminal runs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}

// scanRuns is a helper that scans multiple runs from query rows
func scanRuns(rows *sql.Rows, context string) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		var run Run
		if err := ScanRunFromRows(rows, &run); err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}

	return runs, nil
}
