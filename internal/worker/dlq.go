package worker

// Jobs that exhaust their attempts are moved to a dead-letter list for
// manual inspection: dlq:{original_queue}.

import (
	"encoding/json"
	"time"
)

const DLQPrefix = "dlq:"

// DLQEntry wraps a failed job with metadata for debugging.
type DLQEntry struct {
	OriginalQueue string          `json:"original_queue"`
	JobID         string          `json:"job_id"`
	JobType       string          `json:"job_type"`
	Payload       json.RawMessage `json:"payload"`
	Reason        string          `json:"reason"`
	FailedAt      string          `json:"failed_at"` // RFC 3339
	Attempts      int             `json:"attempts"`
}

func newDLQEntry(queue string, job Job, reason string) DLQEntry {
	return DLQEntry{
		OriginalQueue: queue,
		JobID:         job.ID,
		JobType:       job.Type,
		Payload:       job.Payload,
		Reason:        reason,
		FailedAt:      time.Now().UTC().Format(time.RFC3339),
		Attempts:      job.Attempts,
	}
}
