package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/specto/internal/models"
)

// Storage sentinel errors, mapped to HTTP statuses by the handlers
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvariantViolation = errors.New("invariant violation")
)

// JobStorage persists analysis jobs and their artifacts. Every mutation
// runs in a single transaction and enforces lifecycle invariants:
// forward-only status, monotonic progress, artifact written together
// with the completion record.
type JobStorage interface {
	// CreateJob stores a new pending job
	CreateJob(ctx context.Context, job *models.AnalysisJob) error

	// GetJob returns the job or ErrNotFound
	GetJob(ctx context.Context, id string) (*models.AnalysisJob, error)

	// StartJob moves a pending job to processing and stamps StartedAt
	StartJob(ctx context.Context, id string) (*models.AnalysisJob, error)

	// UpdateJobProgress advances progress on a processing job. Progress
	// below the stored value or at 100 is rejected with
	// ErrInvariantViolation; 100 is reserved for CompleteJob.
	UpdateJobProgress(ctx context.Context, id string, progress int, step string) (*models.AnalysisJob, error)

	// CompleteJob moves a processing job to completed at progress 100 and
	// writes the artifact in the same transaction
	CompleteJob(ctx context.Context, id string, artifact *models.Artifact) (*models.AnalysisJob, error)

	// FailJob moves a job to failed, preserving its last progress value
	FailJob(ctx context.Context, id string, message string, details *models.ErrorDetails) (*models.AnalysisJob, error)

	// GetArtifact returns the artifact for a completed job or ErrNotFound
	GetArtifact(ctx context.Context, jobID string) (*models.Artifact, error)

	// ListJobsByBatch returns the batch's child jobs in member order
	ListJobsByBatch(ctx context.Context, batchID string) ([]*models.AnalysisJob, error)

	// ListStaleProcessingJobs returns processing jobs not updated since the cutoff
	ListStaleProcessingJobs(ctx context.Context, cutoff time.Time) ([]*models.AnalysisJob, error)
}

// BatchStorage persists comparison batches, their membership and results
type BatchStorage interface {
	// CreateBatch atomically stores the batch, its members and the child
	// jobs. Membership is validated here: 2-5 members, exactly one
	// primary, contiguous order indexes.
	CreateBatch(ctx context.Context, batch *models.Batch, members []*models.BatchMember, jobs []*models.AnalysisJob) error

	// GetBatch returns the batch or ErrNotFound
	GetBatch(ctx context.Context, id string) (*models.Batch, error)

	// GetBatchMembers returns members ordered by OrderIndex
	GetBatchMembers(ctx context.Context, batchID string) ([]*models.BatchMember, error)

	// StartBatch moves a pending batch to processing
	StartBatch(ctx context.Context, id string) (*models.Batch, error)

	// UpdateBatchProgress advances aggregate progress and counters on a
	// processing batch. Aggregate progress is capped at 99 here; 100 is
	// reserved for CompleteBatch.
	UpdateBatchProgress(ctx context.Context, id string, progress, completed, failed int) (*models.Batch, error)

	// CompleteBatch moves a processing batch to completed at progress 100
	// and writes the comparison in the same transaction
	CompleteBatch(ctx context.Context, id string, comparison *models.Comparison) (*models.Batch, error)

	// FailBatch moves a batch to failed
	FailBatch(ctx context.Context, id string, message string) (*models.Batch, error)

	// GetComparison returns the comparison for a completed batch or ErrNotFound
	GetComparison(ctx context.Context, batchID string) (*models.Comparison, error)

	// ListStaleProcessingBatches returns processing batches not updated since the cutoff
	ListStaleProcessingBatches(ctx context.Context, cutoff time.Time) ([]*models.Batch, error)
}

// StorageManager aggregates the typed storages over one backing store
type StorageManager interface {
	Jobs() JobStorage
	Batches() BatchStorage

	// Ping verifies the store is reachable
	Ping(ctx context.Context) error

	Close() error
}
