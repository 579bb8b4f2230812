package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// JobStorage implements interfaces.JobStorage over Badger. Lifecycle
// invariants are enforced inside a single badger transaction so a
// crashed process can never leave a completed job without its artifact.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) CreateJob(ctx context.Context, job *models.AnalysisJob) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("%w: job ID is required", interfaces.ErrInvalidArgument)
	}
	if job.URL == "" {
		return fmt.Errorf("%w: job URL is required", interfaces.ErrInvalidArgument)
	}

	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.Status != models.JobStatusPending {
		return fmt.Errorf("%w: new jobs must be pending, got %s", interfaces.ErrInvalidArgument, job.Status)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now()
	}
	job.UpdatedAt = job.CreatedAt

	if err := s.db.Store().Insert(job.ID, job); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("%w: job %s already exists", interfaces.ErrConflict, job.ID)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: job %s", interfaces.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) StartJob(ctx context.Context, id string) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		if err := s.db.Store().TxGet(txn, id, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: job %s", interfaces.ErrNotFound, id)
			}
			return err
		}
		if !job.Status.CanTransitionTo(models.JobStatusProcessing) {
			return fmt.Errorf("%w: cannot start job in status %s", interfaces.ErrInvariantViolation, job.Status)
		}
		job.Status = models.JobStatusProcessing
		job.StartedAt = now()
		job.UpdatedAt = job.StartedAt
		return s.db.Store().TxUpdate(txn, id, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *JobStorage) UpdateJobProgress(ctx context.Context, id string, progress int, step string) (*models.AnalysisJob, error) {
	if progress < 0 || progress >= 100 {
		return nil, fmt.Errorf("%w: progress %d out of range for a running job", interfaces.ErrInvariantViolation, progress)
	}

	var job models.AnalysisJob
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		if err := s.db.Store().TxGet(txn, id, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: job %s", interfaces.ErrNotFound, id)
			}
			return err
		}
		if job.Status != models.JobStatusProcessing {
			return fmt.Errorf("%w: cannot update progress of %s job", interfaces.ErrInvariantViolation, job.Status)
		}
		if progress < job.Progress {
			return fmt.Errorf("%w: progress cannot regress from %d to %d", interfaces.ErrInvariantViolation, job.Progress, progress)
		}
		job.Progress = progress
		job.CurrentStep = step
		job.UpdatedAt = now()
		return s.db.Store().TxUpdate(txn, id, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *JobStorage) CompleteJob(ctx context.Context, id string, artifact *models.Artifact) (*models.AnalysisJob, error) {
	if artifact == nil {
		return nil, fmt.Errorf("%w: completion requires an artifact", interfaces.ErrInvalidArgument)
	}

	var job models.AnalysisJob
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		if err := s.db.Store().TxGet(txn, id, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: job %s", interfaces.ErrNotFound, id)
			}
			return err
		}
		if !job.Status.CanTransitionTo(models.JobStatusCompleted) {
			return fmt.Errorf("%w: cannot complete job in status %s", interfaces.ErrInvariantViolation, job.Status)
		}

		job.Status = models.JobStatusCompleted
		job.Progress = 100
		job.CurrentStep = "Analysis completed"
		job.CompletedAt = now()
		job.UpdatedAt = job.CompletedAt
		if err := s.db.Store().TxUpdate(txn, id, &job); err != nil {
			return err
		}

		artifact.JobID = id
		if artifact.CreatedAt.IsZero() {
			artifact.CreatedAt = job.CompletedAt
		}
		// Artifact written in the same transaction as the terminal status
		return s.db.Store().TxUpsert(txn, id, artifact)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *JobStorage) FailJob(ctx context.Context, id string, message string, details *models.ErrorDetails) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		if err := s.db.Store().TxGet(txn, id, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: job %s", interfaces.ErrNotFound, id)
			}
			return err
		}
		if !job.Status.CanTransitionTo(models.JobStatusFailed) {
			return fmt.Errorf("%w: cannot fail job in status %s", interfaces.ErrInvariantViolation, job.Status)
		}
		// Terminal states always land on 100; where the work stopped is
		// preserved in ErrorDetails.ProgressAtFailure.
		job.Status = models.JobStatusFailed
		job.Progress = 100
		job.ErrorMessage = message
		job.ErrorDetails = details
		job.CompletedAt = now()
		job.UpdatedAt = job.CompletedAt
		return s.db.Store().TxUpdate(txn, id, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *JobStorage) GetArtifact(ctx context.Context, jobID string) (*models.Artifact, error) {
	var artifact models.Artifact
	if err := s.db.Store().Get(jobID, &artifact); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: artifact for job %s", interfaces.ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return &artifact, nil
}

func (s *JobStorage) ListJobsByBatch(ctx context.Context, batchID string) ([]*models.AnalysisJob, error) {
	var jobs []models.AnalysisJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("BatchID").Eq(batchID).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list batch jobs: %w", err)
	}

	result := make([]*models.AnalysisJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) ListStaleProcessingJobs(ctx context.Context, cutoff time.Time) ([]*models.AnalysisJob, error) {
	var jobs []models.AnalysisJob
	query := badgerhold.Where("Status").Eq(models.JobStatusProcessing).And("UpdatedAt").Lt(cutoff)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	result := make([]*models.AnalysisJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}
