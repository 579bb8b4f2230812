package models

import "time"

// EntityKind distinguishes progress streams for jobs and batches
type EntityKind string

const (
	EntityKindJob   EntityKind = "job"
	EntityKindBatch EntityKind = "batch"
)

// ProgressEvent is a point-in-time observation pushed to subscribers.
// Delivery is at-most-once per subscriber and in publish order; slow
// subscribers lose intermediate events, never ordering.
type ProgressEvent struct {
	Kind           EntityKind `json:"kind"`
	EntityID       string     `json:"entity_id"`
	Status         JobStatus  `json:"status"`
	Progress       int        `json:"progress"`
	CurrentStep    string     `json:"current_step,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CompletedCount int        `json:"completed_count,omitempty"`
	FailedCount    int        `json:"failed_count,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
}

// IsTerminal reports whether this event closes the stream
func (e ProgressEvent) IsTerminal() bool {
	return e.Status.IsTerminal()
}
