package models

import "time"

// JobStatus represents the lifecycle state of an analysis job or batch
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo enforces the forward-only lifecycle:
// pending -> processing -> completed|failed, with pending -> failed
// allowed for jobs rejected before they start.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// ErrorDetails captures where in the pipeline a job failed
type ErrorDetails struct {
	Kind              ErrorKind `json:"kind"`
	Step              string    `json:"step,omitempty"`
	ProgressAtFailure int       `json:"progress_at_failure"`
}

// AnalysisJob represents a single-URL analysis run through the
// crawl -> rule scoring -> semantic scoring -> persistence pipeline.
// Progress is monotonic 0-100 and reaches exactly 100 only on completion.
type AnalysisJob struct {
	ID           string        `json:"id"`
	URL          string        `json:"url"`
	Status       JobStatus     `json:"status"`
	Progress     int           `json:"progress"`
	CurrentStep  string        `json:"current_step,omitempty"`
	BatchID      string        `json:"batch_id,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorDetails *ErrorDetails `json:"error_details,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    time.Time     `json:"started_at,omitempty"`
	CompletedAt  time.Time     `json:"completed_at,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at,omitempty"`
}
