// Package imports implements the email import orchestrator: durable run and
// item state machines, time-boxed slice processing, dispatching, and stuck-run
// recovery, all coordinated through database invariants rather than an
// in-process lock.
package imports

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop/mailroom/errors"
)

// RunStatus represents the current state of an import run
type RunStatus string

const (
	RunStatusEnqueued  RunStatus = "enqueued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// IsValidRunStatus returns true if the status string is a valid RunStatus
func IsValidRunStatus(s string) bool {
	switch RunStatus(s) {
	case RunStatusEnqueued, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is one of the terminal states.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// Checkpoint records enumeration progress so a resumed run continues exactly
// where the previous slice stopped instead of restarting.
//
// The inbox phase pages forward through the recent mailbox window; the search
// phase walks strictly backward in time using SearchBefore as its cursor.
type Checkpoint struct {
	InboxDone    bool       `json:"inbox_done,omitempty"`
	SearchDone   bool       `json:"search_done,omitempty"`
	SearchBefore *time.Time `json:"search_before,omitempty"`
}

// EnumerationComplete reports whether both enumeration phases have finished.
func (c *Checkpoint) EnumerationComplete() bool {
	return c != nil && c.InboxDone && c.SearchDone
}

// Run represents one import attempt for one job. It is the unit of mutual
// exclusion: at most one run is running system-wide, and at most one run per
// job is enqueued or running.
type Run struct {
	ID                string      `json:"id"`
	JobID             string      `json:"job_id"`
	Status            RunStatus   `json:"status"`
	Progress          float64     `json:"progress"`
	TotalMessages     int         `json:"total_messages"`
	ProcessedMessages int         `json:"processed_messages"`
	Checkpoint        *Checkpoint `json:"checkpoint,omitempty"`
	Summary           *Summary    `json:"summary,omitempty"`
	Error             string      `json:"error,omitempty"`
	DurationMs        *int64      `json:"duration_ms,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	StartedAt         *time.Time  `json:"started_at,omitempty"`
	FinishedAt        *time.Time  `json:"finished_at,omitempty"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// NewRun creates a new enqueued run for the given job.
func NewRun(jobID string) (*Run, error) {
	if jobID == "" {
		return nil, errors.Wrap(errors.ErrInvalidRun, "jobID cannot be empty")
	}

	now := time.Now().UTC()
	return &Run{
		ID:        "RUN_" + uuid.NewString(),
		JobID:     jobID,
		Status:    RunStatusEnqueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// MarshalCheckpoint converts a Checkpoint to its JSON string form
func MarshalCheckpoint(cp *Checkpoint) (string, error) {
	if cp == nil {
		return "", nil
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal checkpoint")
	}
	return string(data), nil
}

// UnmarshalCheckpoint converts a JSON string to a Checkpoint
func UnmarshalCheckpoint(data string) (*Checkpoint, error) {
	if data == "" {
		return nil, nil
	}
	var cp Checkpoint
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal checkpoint")
	}
	return &cp, nil
}

// MarshalSummary converts a Summary to its JSON string form
func MarshalSummary(s *Summary) (string, error) {
	if s == nil {
		return "", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal summary")
	}
	return string(data), nil
}

// UnmarshalSummary converts a JSON string to a Summary
func UnmarshalSummary(data string) (*Summary, error) {
	if data == "" {
		return nil, nil
	}
	var s Summary
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal summary")
	}
	return &s, nil
}
