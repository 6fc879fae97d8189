package imports

import (
	"database/sql"
	"fmt"
)

// RunScanArgs holds the nullable column targets needed when scanning a run
// from a database row.
type RunScanArgs struct {
	CheckpointJSON sql.NullString
	SummaryJSON    sql.NullString
	ErrorMsg       sql.NullString
	DurationMs     sql.NullInt64
	StartedAt      sql.NullTime
	FinishedAt     sql.NullTime
}

// GetRunScanArgs returns a RunScanArgs struct with all variables ready for scanning
func GetRunScanArgs() *RunScanArgs {
	return &RunScanArgs{}
}

// GetRunScanTargets returns scan destinations for the run and its nullable
// columns, in the order produced by StandardRunSelectColumns.
func GetRunScanTargets(run *Run, args *RunScanArgs) []interface{} {
	return []interface{}{
		&run.ID,
		&run.JobID,
		&run.Status,
		&run.Progress,
		&run.TotalMessages,
		&run.ProcessedMessages,
		&args.CheckpointJSON,
		&args.SummaryJSON,
		&args.ErrorMsg,
		&args.DurationMs,
		&run.CreatedAt,
		&args.StartedAt,
		&args.FinishedAt,
		&run.UpdatedAt,
	}
}

// ProcessRunScanArgs populates the run from its scanned nullable columns.
func ProcessRunScanArgs(run *Run, args *RunScanArgs) error {
	if args.CheckpointJSON.Valid {
		cp, err := UnmarshalCheckpoint(args.CheckpointJSON.String)
		if err != nil {
			return fmt.Errorf("failed to unmarshal checkpoint for run %s: %w", run.ID, err)
		}
		run.Checkpoint = cp
	}

	if args.SummaryJSON.Valid {
		s, err := UnmarshalSummary(args.SummaryJSON.String)
		if err != nil {
			return fmt.Errorf("failed to unmarshal summary for run %s: %w", run.ID, err)
		}
		run.Summary = s
	}

	if args.ErrorMsg.Valid {
		run.Error = args.ErrorMsg.String
	}
	if args.DurationMs.Valid {
		run.DurationMs = &args.DurationMs.Int64
	}
	if args.StartedAt.Valid {
		run.StartedAt = &args.StartedAt.Time
	}
	if args.FinishedAt.Valid {
		run.FinishedAt = &args.FinishedAt.Time
	}

	return nil
}

// ScanRunFromRow scans a single run from a sql.Row
func ScanRunFromRow(row *sql.Row, run *Run) error {
	args := GetRunScanArgs()
	targets := GetRunScanTargets(run, args)

	if err := row.Scan(targets...); err != nil {
		return err
	}

	return ProcessRunScanArgs(run, args)
}

// ScanRunFromRows scans a single run from sql.Rows (for use in loops)
func ScanRunFromRows(rows *sql.Rows, run *Run) error {
	args := GetRunScanArgs()
	targets := GetRunScanTargets(run, args)

	if err := rows.Scan(targets...); err != nil {
		return err
	}

	return ProcessRunScanArgs(run, args)
}

// StandardRunSelectColumns returns the standard column list for run SELECT queries
func StandardRunSelectColumns() string {
	return `id, job_id, status, progress,
		total_messages, processed_messages,
		checkpoint, summary, error, duration_ms,
		created_at, started_at, finished_at, updated_at`
}
