package imports

import (
	"database/sql"
	"time"

	"github.com/hireloop/mailroom/errors"
)

// ItemStore handles persistence of per-message import items.
type ItemStore struct {
	db *sql.DB
}

// NewItemStore creates a new item store
func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db}
}

// InsertDiscovered records newly enumerated messages for a run. Duplicates
// (same run, same external ID) are silently ignored so enumeration phases may
// overlap and slices may re-walk pages after a resume. Returns the number of
// rows actually inserted.
func (s *ItemStore) InsertDiscovered(run *Run, msgs []MessageDescriptor) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO import_items
			(run_id, job_id, external_id, thread_id, received_at, status, step, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'pending', 'none', ?, ?)
	`)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prepare insert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	inserted := 0
	for _, m := range msgs {
		threadID := sql.NullString{String: m.ThreadID, Valid: m.ThreadID != ""}
		var receivedAt interface{}
		if !m.ReceivedAt.IsZero() {
			receivedAt = m.ReceivedAt.UTC()
		}

		result, err := stmt.Exec(run.ID, run.JobID, m.ExternalID, threadID, receivedAt, now, now)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to insert item %s", m.ExternalID)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return 0, errors.Wrap(err, "failed to get rows affected")
		}
		inserted += int(rows)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit discovered items")
	}

	return inserted, nil
}

// ClaimPending atomically claims up to limit pending items in discovery
// order, marking them processing. Claim order is the item sequence number,
// so the oldest discovered work is always drained first.
func (s *ItemStore) ClaimPending(runID string, limit int) ([]*Item, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT `+StandardItemSelectColumns()+`
		FROM import_items
		WHERE run_id = ? AND status = 'pending'
		ORDER BY seq ASC
		LIMIT ?
	`, runID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select pending items")
	}

	items, err := scanItems(rows, "pending items")
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, tx.Commit()
	}

	now := time.Now().UTC()
	for _, item := range items {
		_, err := tx.Exec(`
			UPDATE import_items
			SET status = 'processing', updated_at = ?
			WHERE seq = ? AND status = 'pending'
		`, now, item.Seq)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to claim item %d", item.Seq)
		}
		item.Status = ItemStatusProcessing
		item.UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit claim")
	}

	return items, nil
}

// ReleaseItems returns claimed-but-unprocessed items to the pending pool.
// Used when a slice runs out of budget with part of its batch untouched.
func (s *ItemStore) ReleaseItems(seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, seq := range seqs {
		_, err := s.db.Exec(`
			UPDATE import_items
			SET status = 'pending', updated_at = ?
			WHERE seq = ? AND status = 'processing'
		`, now, seq)
		if err != nil {
			return errors.Wrapf(err, "failed to release item %d", seq)
		}
	}

	return nil
}

// ReclaimStalled flips processing items not touched since the cutoff back to
// pending. These are items abandoned by a slice that died mid-flight; their
// step column preserves completed work, so reprocessing resumes rather than
// restarts.
func (s *ItemStore) ReclaimStalled(runID string, cutoff time.Time) (int, error) {
	result, err := s.db.Exec(`
		UPDATE import_items
		SET status = 'pending', updated_at = ?
		WHERE run_id = ? AND status = 'processing' AND updated_at < ?
	`, time.Now().UTC(), runID, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to reclaim stalled items")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}

// MarkStep persists a completed pipeline step. Steps only move forward; a
// write that would regress the step is rejected in SQL and reported as a
// conflict.
func (s *ItemStore) MarkStep(seq int64, step ItemStep) error {
	newIdx := StepIndex(step)
	if newIdx < 0 {
		return errors.Newf("invalid step %q", step)
	}

	// CASE mapping mirrors StepSequence so the comparison happens inside
	// the UPDATE itself, not against a possibly stale in-memory item.
	result, err := s.db.Exec(`
		UPDATE import_items
		SET step = ?, updated_at = ?
		WHERE seq = ?
		  AND CASE step
			WHEN 'none' THEN -1
			WHEN 'fetched' THEN 0
			WHEN 'saved' THEN 1
			WHEN 'parsed' THEN 2
			WHEN 'classified' THEN 3
			WHEN 'persisted' THEN 4
		  END < ?
	`, step, time.Now().UTC(), seq, newIdx)
	if err != nil {
		return errors.Wrapf(err, "failed to mark step %s for item %d", step, seq)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrConflict, "step %s would not advance item %d", step, seq)
	}

	return nil
}

// MarkDone marks an item fully processed.
func (s *ItemStore) MarkDone(seq int64) error {
	_, err := s.db.Exec(`
		UPDATE import_items
		SET status = 'done', step = 'persisted', error = NULL, updated_at = ?
		WHERE seq = ?
	`, time.Now().UTC(), seq)
	if err != nil {
		return errors.Wrapf(err, "failed to mark item %d done", seq)
	}
	return nil
}

// MarkFailed records a terminal failure for the item within this run and
// increments its attempt counter.
func (s *ItemStore) MarkFailed(seq int64, itemErr string) error {
	_, err := s.db.Exec(`
		UPDATE import_items
		SET status = 'failed', attempts = attempts + 1, error = ?, updated_at = ?
		WHERE seq = ?
	`, itemErr, time.Now().UTC(), seq)
	if err != nil {
		return errors.Wrapf(err, "failed to mark item %d failed", seq)
	}
	return nil
}

// CancelRemaining flips every pending or processing item of the run to
// canceled. Used when a run is canceled so the counts reconcile.
func (s *ItemStore) CancelRemaining(runID string) (int, error) {
	result, err := s.db.Exec(`
		UPDATE import_items
		SET status = 'canceled', updated_at = ?
		WHERE run_id = ? AND status IN ('pending', 'processing')
	`, time.Now().UTC(), runID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cancel remaining items")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}

// CountByRun aggregates item statuses for the run.
func (s *ItemStore) CountByRun(runID string) (ItemCounts, error) {
	rows, err := s.db.Query(`
		SELECT status, COUNT(*)
		FROM import_items
		WHERE run_id = ?
		GROUP BY status
	`, runID)
	if err != nil {
		return ItemCounts{}, errors.Wrap(err, "failed to count items")
	}
	defer rows.Close()

	var counts ItemCounts
	for rows.Next() {
		var status ItemStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return ItemCounts{}, errors.Wrap(err, "failed to scan item count")
		}
		switch status {
		case ItemStatusPending:
			counts.Pending = n
		case ItemStatusProcessing:
			counts.Processing = n
		case ItemStatusDone:
			counts.Done = n
		case ItemStatusFailed:
			counts.Failed = n
		case ItemStatusCanceled:
			counts.Canceled = n
		}
	}
	if err := rows.Err(); err != nil {
		return ItemCounts{}, errors.Wrap(err, "error iterating item counts")
	}

	return counts, nil
}

// FailureSamples returns up to limit failed items in discovery order, for
// inclusion in the run summary.
func (s *ItemStore) FailureSamples(runID string, limit int) ([]*Item, error) {
	rows, err := s.db.Query(`
		SELECT `+StandardItemSelectColumns()+`
		FROM import_items
		WHERE run_id = ? AND status = 'failed'
		ORDER BY seq ASC
		LIMIT ?
	`, runID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list failure samples")
	}
	defer rows.Close()

	return scanItems(rows, "failure samples")
}

// GetItem retrieves a single item by sequence number
func (s *ItemStore) GetItem(seq int64) (*Item, error) {
	query := `SELECT ` + StandardItemSelectColumns() + ` FROM import_items WHERE seq = ?`

	var item Item
	err := ScanItemFromRow(s.db.QueryRow(query, seq), &item)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("item not found: %d", seq)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get item")
	}

	return &item, nil
}

// scanItems is a helper that scans multiple items from query rows
func scanItems(rows *sql.Rows, context string) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		var item Item
		if err := ScanItemFromRows(rows, &item); err != nil {
			return nil, errors.Wrap(err, "failed to scan item")
		}
		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}

	return items, nil
}
