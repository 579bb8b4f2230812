package models

import "time"

// Batch size bounds for comparison sets
const (
	MinBatchSize = 2
	MaxBatchSize = 5
)

// Batch groups 2-5 analysis jobs into a comparison run. Aggregate
// progress is the floor of the mean child progress, clamped at 99
// until the batch itself reaches a terminal state.
type Batch struct {
	ID             string    `json:"id"`
	Name           string    `json:"name,omitempty"`
	Status         JobStatus `json:"status"`
	Progress       int       `json:"progress"`
	Total          int       `json:"total"`
	CompletedCount int       `json:"completed_count"`
	FailedCount    int       `json:"failed_count"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// BatchMember links a job into a batch. Membership is immutable after
// creation: exactly one member is primary and OrderIndex runs 0..N-1.
type BatchMember struct {
	ID         string `json:"id" badgerhold:"key"`
	BatchID    string `json:"batch_id" badgerhold:"index"`
	JobID      string `json:"job_id"`
	Label      string `json:"label"`
	IsPrimary  bool   `json:"is_primary"`
	OrderIndex int    `json:"order_index"`
}
