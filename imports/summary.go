package imports

// maxFailureSamples bounds how many per-item failures a summary carries.
const maxFailureSamples = 20

// FailureDetail describes one failed item in a run summary.
type FailureDetail struct {
	ExternalID string `json:"external_id"`
	Step       string `json:"step"`
	Error      string `json:"error"`
	Attempts   int    `json:"attempts"`
}

// Summary is the immutable record of what a run accomplished, written once
// at finalization.
type Summary struct {
	TotalDiscovered int             `json:"total_discovered"`
	Done            int             `json:"done"`
	Failed          int             `json:"failed"`
	Canceled        int             `json:"canceled"`
	Unprocessed     int             `json:"unprocessed"`
	Failures        []FailureDetail `json:"failures,omitempty"`
}

// BuildSummary assembles a run summary from final item counts and a bounded
// sample of failures.
func BuildSummary(counts ItemCounts, failures []*Item) *Summary {
	summary := &Summary{
		TotalDiscovered: counts.Total(),
		Done:            counts.Done,
		Failed:          counts.Failed,
		Canceled:        counts.Canceled,
		Unprocessed:     counts.Pending + counts.Processing,
	}

	for i, item := range failures {
		if i >= maxFailureSamples {
			break
		}
		summary.Failures = append(summary.Failures, FailureDetail{
			ExternalID: item.ExternalID,
			Step:       string(item.Step),
			Error:      item.Error,
			Attempts:   item.Attempts,
		})
	}

	return summary
}

// ComputeProgress maps completion counts to a [0,1] ratio, blending
// message-level completion with any downstream asynchronous backlog (for
// example classification jobs queued by the persist step) so progress does
// not read 1.0 while dependent work is still outstanding.
func ComputeProgress(totalMessages, processedMessages, auxTotal, auxCompleted int) float64 {
	total := totalMessages + auxTotal
	if total == 0 {
		return 0
	}
	processed := processedMessages + auxCompleted
	ratio := float64(processed) / float64(total)
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}
