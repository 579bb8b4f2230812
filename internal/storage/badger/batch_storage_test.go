package badger

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

func batchFixture(size int) (*models.Batch, []*models.BatchMember, []*models.AnalysisJob) {
	batch := &models.Batch{
		ID:     "batch_a",
		Name:   "Comparison",
		Status: models.JobStatusPending,
		Total:  size,
	}
	members := make([]*models.BatchMember, size)
	jobs := make([]*models.AnalysisJob, size)
	for i := 0; i < size; i++ {
		jobs[i] = &models.AnalysisJob{
			ID:     fmt.Sprintf("job_%d", i),
			URL:    fmt.Sprintf("https://site%d.example", i),
			Status: models.JobStatusPending,
		}
		label := fmt.Sprintf("Competitor %d", i)
		if i == 0 {
			label = "Primary"
		}
		members[i] = &models.BatchMember{
			ID:         fmt.Sprintf("member_%d", i),
			BatchID:    batch.ID,
			JobID:      jobs[i].ID,
			Label:      label,
			IsPrimary:  i == 0,
			OrderIndex: i,
		}
	}
	return batch, members, jobs
}

func TestCreateBatchStoresMembersAndJobs(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	batch, members, jobs := batchFixture(3)
	require.NoError(t, manager.Batches().CreateBatch(ctx, batch, members, jobs))

	stored, err := manager.Batches().GetBatch(ctx, "batch_a")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Total)

	storedMembers, err := manager.Batches().GetBatchMembers(ctx, "batch_a")
	require.NoError(t, err)
	require.Len(t, storedMembers, 3)
	assert.Equal(t, "Primary", storedMembers[0].Label)
	assert.True(t, storedMembers[0].IsPrimary)
	assert.Equal(t, 2, storedMembers[2].OrderIndex)

	childJobs, err := manager.Jobs().ListJobsByBatch(ctx, "batch_a")
	require.NoError(t, err)
	assert.Len(t, childJobs, 3)
	for _, job := range childJobs {
		assert.Equal(t, "batch_a", job.BatchID)
	}
}

func TestCreateBatchSizeBounds(t *testing.T) {
	tests := []struct {
		size    int
		wantErr bool
	}{
		{1, true},
		{2, false},
		{5, false},
		{6, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("size %d", tt.size), func(t *testing.T) {
			manager := newTestManager(t)
			batch, members, jobs := batchFixture(tt.size)
			err := manager.Batches().CreateBatch(context.Background(), batch, members, jobs)
			if tt.wantErr {
				assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreateBatchRequiresOnePrimary(t *testing.T) {
	manager := newTestManager(t)

	batch, members, jobs := batchFixture(3)
	members[1].IsPrimary = true
	err := manager.Batches().CreateBatch(context.Background(), batch, members, jobs)
	assert.ErrorIs(t, err, interfaces.ErrInvariantViolation)

	batch, members, jobs = batchFixture(3)
	members[0].IsPrimary = false
	err = manager.Batches().CreateBatch(context.Background(), batch, members, jobs)
	assert.ErrorIs(t, err, interfaces.ErrInvariantViolation)
}

func TestCreateBatchRequiresContiguousOrder(t *testing.T) {
	manager := newTestManager(t)

	batch, members, jobs := batchFixture(3)
	members[2].OrderIndex = 5
	err := manager.Batches().CreateBatch(context.Background(), batch, members, jobs)
	assert.ErrorIs(t, err, interfaces.ErrInvariantViolation)

	batch, members, jobs = batchFixture(3)
	members[2].OrderIndex = members[1].OrderIndex
	err = manager.Batches().CreateBatch(context.Background(), batch, members, jobs)
	assert.ErrorIs(t, err, interfaces.ErrInvariantViolation)
}

func TestBatchProgressInvariants(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	batch, members, jobs := batchFixture(3)
	require.NoError(t, manager.Batches().CreateBatch(ctx, batch, members, jobs))

	_, err := manager.Batches().StartBatch(ctx, "batch_a")
	require.NoError(t, err)

	updated, err := manager.Batches().UpdateBatchProgress(ctx, "batch_a", 40, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 40, updated.Progress)
	assert.Equal(t, 1, updated.CompletedCount)

	// Aggregate progress is capped at 99 before completion
	updated, err = manager.Batches().UpdateBatchProgress(ctx, "batch_a", 150, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 99, updated.Progress)

	// Progress never regresses
	_, err = manager.Batches().UpdateBatchProgress(ctx, "batch_a", 10, 2, 0)
	assert.ErrorIs(t, err, interfaces.ErrInvariantViolation)

	// Counters never decrease
	_, err = manager.Batches().UpdateBatchProgress(ctx, "batch_a", 99, 1, 0)
	assert.ErrorIs(t, err, interfaces.ErrInvariantViolation)

	// Counters never exceed the batch total
	_, err = manager.Batches().UpdateBatchProgress(ctx, "batch_a", 99, 3, 1)
	assert.ErrorIs(t, err, interfaces.ErrInvariantViolation)
}

func TestCompleteBatchEnforcesQuorum(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	batch, members, jobs := batchFixture(3)
	require.NoError(t, manager.Batches().CreateBatch(ctx, batch, members, jobs))
	_, err := manager.Batches().StartBatch(ctx, "batch_a")
	require.NoError(t, err)

	comparison := &models.Comparison{BatchID: "batch_a"}

	// One completion is below the quorum floor
	_, err = manager.Batches().UpdateBatchProgress(ctx, "batch_a", 50, 1, 2)
	require.NoError(t, err)
	_, err = manager.Batches().CompleteBatch(ctx, "batch_a", comparison)
	assert.ErrorIs(t, err, interfaces.ErrInvariantViolation)

	_, err = manager.Batches().UpdateBatchProgress(ctx, "batch_a", 99, 2, 1)
	require.NoError(t, err)

	completed, err := manager.Batches().CompleteBatch(ctx, "batch_a", comparison)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, completed.Status)
	assert.Equal(t, 100, completed.Progress)

	stored, err := manager.Batches().GetComparison(ctx, "batch_a")
	require.NoError(t, err)
	assert.Equal(t, "batch_a", stored.BatchID)
}

func TestCompleteBatchRequiresComparison(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	batch, members, jobs := batchFixture(2)
	require.NoError(t, manager.Batches().CreateBatch(ctx, batch, members, jobs))
	_, err := manager.Batches().StartBatch(ctx, "batch_a")
	require.NoError(t, err)

	_, err = manager.Batches().CompleteBatch(ctx, "batch_a", nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}

func TestFailBatchIsTerminal(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	batch, members, jobs := batchFixture(2)
	require.NoError(t, manager.Batches().CreateBatch(ctx, batch, members, jobs))
	_, err := manager.Batches().StartBatch(ctx, "batch_a")
	require.NoError(t, err)

	failed, err := manager.Batches().FailBatch(ctx, "batch_a", "all analyses failed")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	assert.Equal(t, "all analyses failed", failed.ErrorMessage)
	assert.Equal(t, 100, failed.Progress)
	assert.Equal(t, failed.Total, failed.CompletedCount+failed.FailedCount)

	_, err = manager.Batches().StartBatch(ctx, "batch_a")
	assert.ErrorIs(t, err, interfaces.ErrInvariantViolation)

	_, err = manager.Batches().UpdateBatchProgress(ctx, "batch_a", 50, 0, 2)
	assert.ErrorIs(t, err, interfaces.ErrInvariantViolation)
}

func TestFailBatchReconcilesCounters(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	batch, members, jobs := batchFixture(3)
	require.NoError(t, manager.Batches().CreateBatch(ctx, batch, members, jobs))
	_, err := manager.Batches().StartBatch(ctx, "batch_a")
	require.NoError(t, err)

	_, err = manager.Batches().UpdateBatchProgress(ctx, "batch_a", 40, 1, 1)
	require.NoError(t, err)

	failed, err := manager.Batches().FailBatch(ctx, "batch_a", "insufficient successful analyses (minimum 2 required)")
	require.NoError(t, err)
	assert.Equal(t, 100, failed.Progress)
	assert.Equal(t, 1, failed.CompletedCount)
	// The member that never finished counts as failed
	assert.Equal(t, 2, failed.FailedCount)
}

func TestCreateBatchRejectsLongName(t *testing.T) {
	manager := newTestManager(t)

	batch, members, jobs := batchFixture(2)
	for len(batch.Name) <= MaxBatchNameLength {
		batch.Name += "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	}
	err := manager.Batches().CreateBatch(context.Background(), batch, members, jobs)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}
