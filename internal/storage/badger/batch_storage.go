package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// MaxBatchNameLength caps user-supplied batch names
const MaxBatchNameLength = 255

// BatchStorage implements interfaces.BatchStorage over Badger
type BatchStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewBatchStorage creates a new BatchStorage instance
func NewBatchStorage(db *BadgerDB, logger arbor.ILogger) interfaces.BatchStorage {
	return &BatchStorage{
		db:     db,
		logger: logger,
	}
}

// CreateBatch stores the batch, its members and its child jobs in one
// transaction. Membership is immutable afterwards, so all the shape
// checks happen here.
func (s *BatchStorage) CreateBatch(ctx context.Context, batch *models.Batch, members []*models.BatchMember, jobs []*models.AnalysisJob) error {
	if batch == nil || batch.ID == "" {
		return fmt.Errorf("%w: batch ID is required", interfaces.ErrInvalidArgument)
	}
	if len(batch.Name) > MaxBatchNameLength {
		return fmt.Errorf("%w: batch name exceeds %d characters", interfaces.ErrInvalidArgument, MaxBatchNameLength)
	}
	if err := validateMembership(batch.ID, members, jobs); err != nil {
		return err
	}

	if batch.Status == "" {
		batch.Status = models.JobStatusPending
	}
	batch.Total = len(members)
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now()
	}
	batch.UpdatedAt = batch.CreatedAt

	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		if err := s.db.Store().TxInsert(txn, batch.ID, batch); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				return fmt.Errorf("%w: batch %s already exists", interfaces.ErrConflict, batch.ID)
			}
			return err
		}
		for _, member := range members {
			if err := s.db.Store().TxInsert(txn, member.ID, member); err != nil {
				return err
			}
		}
		for _, job := range jobs {
			job.BatchID = batch.ID
			if job.Status == "" {
				job.Status = models.JobStatusPending
			}
			if job.CreatedAt.IsZero() {
				job.CreatedAt = batch.CreatedAt
			}
			job.UpdatedAt = job.CreatedAt
			if err := s.db.Store().TxInsert(txn, job.ID, job); err != nil {
				if errors.Is(err, badgerhold.ErrKeyExists) {
					return fmt.Errorf("%w: job %s already exists", interfaces.ErrConflict, job.ID)
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

// validateMembership enforces the batch shape: 2-5 members, exactly one
// primary, contiguous order indexes and a one-to-one member/job mapping.
func validateMembership(batchID string, members []*models.BatchMember, jobs []*models.AnalysisJob) error {
	if len(members) < models.MinBatchSize || len(members) > models.MaxBatchSize {
		return fmt.Errorf("%w: batch requires %d to %d members, got %d",
			interfaces.ErrInvalidArgument, models.MinBatchSize, models.MaxBatchSize, len(members))
	}
	if len(jobs) != len(members) {
		return fmt.Errorf("%w: member count %d does not match job count %d",
			interfaces.ErrInvalidArgument, len(members), len(jobs))
	}

	jobIDs := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		if job == nil || job.ID == "" {
			return fmt.Errorf("%w: job ID is required", interfaces.ErrInvalidArgument)
		}
		jobIDs[job.ID] = true
	}

	primaries := 0
	seenOrder := make(map[int]bool, len(members))
	for _, member := range members {
		if member == nil || member.ID == "" {
			return fmt.Errorf("%w: member ID is required", interfaces.ErrInvalidArgument)
		}
		member.BatchID = batchID
		if member.IsPrimary {
			primaries++
		}
		if member.OrderIndex < 0 || member.OrderIndex >= len(members) {
			return fmt.Errorf("%w: member order index %d out of range", interfaces.ErrInvariantViolation, member.OrderIndex)
		}
		if seenOrder[member.OrderIndex] {
			return fmt.Errorf("%w: duplicate member order index %d", interfaces.ErrInvariantViolation, member.OrderIndex)
		}
		seenOrder[member.OrderIndex] = true
		if !jobIDs[member.JobID] {
			return fmt.Errorf("%w: member references unknown job %s", interfaces.ErrInvariantViolation, member.JobID)
		}
	}
	if primaries != 1 {
		return fmt.Errorf("%w: batch requires exactly one primary member, got %d", interfaces.ErrInvariantViolation, primaries)
	}
	return nil
}

func (s *BatchStorage) GetBatch(ctx context.Context, id string) (*models.Batch, error) {
	var batch models.Batch
	if err := s.db.Store().Get(id, &batch); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: batch %s", interfaces.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &batch, nil
}

func (s *BatchStorage) GetBatchMembers(ctx context.Context, batchID string) ([]*models.BatchMember, error) {
	var members []models.BatchMember
	if err := s.db.Store().Find(&members, badgerhold.Where("BatchID").Eq(batchID)); err != nil {
		return nil, fmt.Errorf("failed to get batch members: %w", err)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].OrderIndex < members[j].OrderIndex
	})

	result := make([]*models.BatchMember, len(members))
	for i := range members {
		result[i] = &members[i]
	}
	return result, nil
}

func (s *BatchStorage) StartBatch(ctx context.Context, id string) (*models.Batch, error) {
	var batch models.Batch
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		if err := s.db.Store().TxGet(txn, id, &batch); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: batch %s", interfaces.ErrNotFound, id)
			}
			return err
		}
		if !batch.Status.CanTransitionTo(models.JobStatusProcessing) {
			return fmt.Errorf("%w: cannot start batch in status %s", interfaces.ErrInvariantViolation, batch.Status)
		}
		batch.Status = models.JobStatusProcessing
		batch.StartedAt = now()
		batch.UpdatedAt = batch.StartedAt
		return s.db.Store().TxUpdate(txn, id, &batch)
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *BatchStorage) UpdateBatchProgress(ctx context.Context, id string, progress, completed, failed int) (*models.Batch, error) {
	// 100 is reserved for CompleteBatch; aggregate writers clamp at 99
	if progress > 99 {
		progress = 99
	}
	if progress < 0 {
		return nil, fmt.Errorf("%w: negative progress", interfaces.ErrInvariantViolation)
	}

	var batch models.Batch
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		if err := s.db.Store().TxGet(txn, id, &batch); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: batch %s", interfaces.ErrNotFound, id)
			}
			return err
		}
		if batch.Status != models.JobStatusProcessing {
			return fmt.Errorf("%w: cannot update progress of %s batch", interfaces.ErrInvariantViolation, batch.Status)
		}
		if progress < batch.Progress {
			return fmt.Errorf("%w: batch progress cannot regress from %d to %d", interfaces.ErrInvariantViolation, batch.Progress, progress)
		}
		if completed+failed > batch.Total {
			return fmt.Errorf("%w: %d completions and %d failures exceed batch total %d",
				interfaces.ErrInvariantViolation, completed, failed, batch.Total)
		}
		if completed < batch.CompletedCount || failed < batch.FailedCount {
			return fmt.Errorf("%w: completion counters cannot decrease", interfaces.ErrInvariantViolation)
		}
		batch.Progress = progress
		batch.CompletedCount = completed
		batch.FailedCount = failed
		batch.UpdatedAt = now()
		return s.db.Store().TxUpdate(txn, id, &batch)
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *BatchStorage) CompleteBatch(ctx context.Context, id string, comparison *models.Comparison) (*models.Batch, error) {
	if comparison == nil {
		return nil, fmt.Errorf("%w: batch completion requires a comparison", interfaces.ErrInvalidArgument)
	}

	var batch models.Batch
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		if err := s.db.Store().TxGet(txn, id, &batch); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: batch %s", interfaces.ErrNotFound, id)
			}
			return err
		}
		if !batch.Status.CanTransitionTo(models.JobStatusCompleted) {
			return fmt.Errorf("%w: cannot complete batch in status %s", interfaces.ErrInvariantViolation, batch.Status)
		}
		if batch.CompletedCount < 2 {
			return fmt.Errorf("%w: batch completion requires at least 2 successful analyses, got %d",
				interfaces.ErrInvariantViolation, batch.CompletedCount)
		}

		batch.Status = models.JobStatusCompleted
		batch.Progress = 100
		batch.CompletedAt = now()
		batch.UpdatedAt = batch.CompletedAt
		if err := s.db.Store().TxUpdate(txn, id, &batch); err != nil {
			return err
		}

		comparison.BatchID = id
		if comparison.CreatedAt.IsZero() {
			comparison.CreatedAt = batch.CompletedAt
		}
		// Comparison written in the same transaction as the terminal status
		return s.db.Store().TxUpsert(txn, id, comparison)
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *BatchStorage) FailBatch(ctx context.Context, id string, message string) (*models.Batch, error) {
	var batch models.Batch
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		if err := s.db.Store().TxGet(txn, id, &batch); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: batch %s", interfaces.ErrNotFound, id)
			}
			return err
		}
		if !batch.Status.CanTransitionTo(models.JobStatusFailed) {
			return fmt.Errorf("%w: cannot fail batch in status %s", interfaces.ErrInvariantViolation, batch.Status)
		}
		// Terminal states land on 100 with reconciled counters: every
		// member that did not complete counts as failed.
		batch.Status = models.JobStatusFailed
		batch.Progress = 100
		batch.FailedCount = batch.Total - batch.CompletedCount
		batch.ErrorMessage = message
		batch.CompletedAt = now()
		batch.UpdatedAt = batch.CompletedAt
		return s.db.Store().TxUpdate(txn, id, &batch)
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *BatchStorage) GetComparison(ctx context.Context, batchID string) (*models.Comparison, error) {
	var comparison models.Comparison
	if err := s.db.Store().Get(batchID, &comparison); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: comparison for batch %s", interfaces.ErrNotFound, batchID)
		}
		return nil, fmt.Errorf("failed to get comparison: %w", err)
	}
	return &comparison, nil
}

func (s *BatchStorage) ListStaleProcessingBatches(ctx context.Context, cutoff time.Time) ([]*models.Batch, error) {
	var batches []models.Batch
	query := badgerhold.Where("Status").Eq(models.JobStatusProcessing).And("UpdatedAt").Lt(cutoff)
	if err := s.db.Store().Find(&batches, query); err != nil {
		return nil, fmt.Errorf("failed to list stale batches: %w", err)
	}

	result := make([]*models.Batch, len(batches))
	for i := range batches {
		result[i] = &batches[i]
	}
	return result, nil
}
