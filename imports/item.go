package imports

import "time"

// ItemStatus represents the current state of an import item
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusDone       ItemStatus = "done"
	ItemStatusFailed     ItemStatus = "failed"
	ItemStatusCanceled   ItemStatus = "canceled"
)

// ItemStep identifies the last completed pipeline step for an item.
// Steps only ever advance forward along StepSequence.
type ItemStep string

const (
	StepNone       ItemStep = "none"
	StepFetched    ItemStep = "fetched"
	StepSaved      ItemStep = "saved"
	StepParsed     ItemStep = "parsed"
	StepClassified ItemStep = "classified"
	StepPersisted  ItemStep = "persisted"
)

// StepSequence is the fixed pipeline order. An item is done once it has
// completed the final step.
var StepSequence = []ItemStep{
	StepFetched,
	StepSaved,
	StepParsed,
	StepClassified,
	StepPersisted,
}

// NextStep returns the step that follows the given one, or "" when the
// sequence is exhausted.
func NextStep(current ItemStep) ItemStep {
	if current == StepNone {
		return StepSequence[0]
	}
	for i, s := range StepSequence {
		if s == current && i+1 < len(StepSequence) {
			return StepSequence[i+1]
		}
	}
	return ""
}

// StepIndex returns the position of a step in the sequence, with StepNone at
// -1. Used to assert forward-only transitions.
func StepIndex(step ItemStep) int {
	if step == StepNone {
		return -1
	}
	for i, s := range StepSequence {
		if s == step {
			return i
		}
	}
	return -1
}

// Item represents one message discovered for a run, with its per-step
// processing state. Items are created only by the enumerator and mutated
// only by the item processor.
type Item struct {
	Seq        int64      `json:"seq"`
	RunID      string     `json:"run_id"`
	JobID      string     `json:"job_id"`
	ExternalID string     `json:"external_id"`
	ThreadID   string     `json:"thread_id,omitempty"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
	Status     ItemStatus `json:"status"`
	Step       ItemStep   `json:"step"`
	Attempts   int        `json:"attempts"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ItemCounts aggregates item statuses for one run. Run totals are always
// recomputed from these counts rather than maintained independently.
type ItemCounts struct {
	Pending    int
	Processing int
	Done       int
	Failed     int
	Canceled   int
}

// Total returns the number of discovered items.
func (c ItemCounts) Total() int {
	return c.Pending + c.Processing + c.Done + c.Failed + c.Canceled
}

// Processed returns the number of items that reached a terminal state.
func (c ItemCounts) Processed() int {
	return c.Done + c.Failed + c.Canceled
}
