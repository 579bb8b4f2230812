package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/semaphore"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
	"github.com/ternarybob/specto/internal/services/comparison"
)

// batchWriteInterval coalesces aggregate progress writes; events still
// go out on every child update.
const batchWriteInterval = time.Second

const (
	msgAllFailed          = "all analyses failed"
	msgInsufficientQuorum = "insufficient successful analyses (minimum 2 required)"
)

// BatchPipeline fans a batch's member jobs out under a bounded
// semaphore, aggregates their progress, and finishes the batch with a
// comparison when enough members complete.
type BatchPipeline struct {
	storage     interfaces.StorageManager
	bus         interfaces.ProgressBus
	analysis    *AnalysisPipeline
	comparator  *comparison.Comparator
	concurrency int64
	timeout     time.Duration
	logger      arbor.ILogger
}

// NewBatchPipeline wires the batch orchestrator
func NewBatchPipeline(
	storage interfaces.StorageManager,
	bus interfaces.ProgressBus,
	analysis *AnalysisPipeline,
	comparator *comparison.Comparator,
	concurrency int,
	timeout time.Duration,
	logger arbor.ILogger,
) *BatchPipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchPipeline{
		storage:     storage,
		bus:         bus,
		analysis:    analysis,
		comparator:  comparator,
		concurrency: int64(concurrency),
		timeout:     timeout,
		logger:      logger,
	}
}

// Run executes the whole batch. The returned error is nil exactly when
// the batch reached completed.
func (p *BatchPipeline) Run(ctx context.Context, batchID string) error {
	batch, err := p.storage.Batches().StartBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to start batch %s: %w", batchID, err)
	}
	started := time.Now()

	members, err := p.storage.Batches().GetBatchMembers(ctx, batchID)
	if err != nil {
		return p.fail(batchID, fmt.Sprintf("failed to load batch members: %v", err))
	}

	batch, err = p.storage.Batches().UpdateBatchProgress(ctx, batchID, 5, 0, 0)
	if err != nil {
		return p.fail(batchID, fmt.Sprintf("failed to record batch start: %v", err))
	}
	p.publish(batch, "Analyzing websites")

	runCtx := ctx
	var cancelRun context.CancelFunc
	if p.timeout > 0 {
		runCtx, cancelRun = context.WithTimeout(ctx, p.timeout)
	} else {
		runCtx, cancelRun = context.WithCancel(ctx)
	}
	defer cancelRun()

	completed, failed := p.runChildren(runCtx, batch, members)

	// Parent cancellation means the batch itself was cancelled, not
	// just its remaining children.
	if ctx.Err() != nil {
		return p.failWithCounts(batchID, "batch cancelled", completed, failed)
	}

	switch {
	case completed == 0:
		return p.failWithCounts(batchID, msgAllFailed, completed, failed)
	case completed == 1:
		return p.failWithCounts(batchID, msgInsufficientQuorum, completed, failed)
	}

	return p.finish(batchID, members, completed, failed, started)
}

// runChildren fans the member jobs out and aggregates their progress
// until every child reaches a terminal state. Returns the completed and
// failed counts.
func (p *BatchPipeline) runChildren(ctx context.Context, batch *models.Batch, members []*models.BatchMember) (int, int) {
	merged := make(chan models.ProgressEvent, len(members)*4)

	var forwarders sync.WaitGroup
	cancels := make([]func(), 0, len(members))
	for _, member := range members {
		events, cancel := p.bus.Subscribe(member.JobID)
		cancels = append(cancels, cancel)
		forwarders.Add(1)
		go func(events <-chan models.ProgressEvent) {
			defer forwarders.Done()
			for event := range events {
				merged <- event
			}
		}(events)
	}

	sem := semaphore.NewWeighted(p.concurrency)
	var children sync.WaitGroup
	var mu sync.Mutex
	completed, failed := 0, 0

	for _, member := range members {
		children.Add(1)
		go func(jobID string) {
			defer children.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				// Never started; record the cancellation so the job
				// does not linger in pending.
				p.analysis.fail(ctx, jobID, "queue",
					models.NewAnalysisError(models.ErrorKindCancelled, "queue", err))
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			err := p.analysis.Run(ctx, jobID)
			mu.Lock()
			if err != nil {
				failed++
			} else {
				completed++
			}
			mu.Unlock()
		}(member.JobID)
	}

	go func() {
		children.Wait()
		for _, cancel := range cancels {
			cancel()
		}
		forwarders.Wait()
		close(merged)
	}()

	p.aggregate(batch, members, merged, &mu, &completed, &failed)

	mu.Lock()
	defer mu.Unlock()
	return completed, failed
}

// aggregate consumes child events until the merged stream closes,
// publishing the batch view on every event and writing the batch row
// at most once per second.
func (p *BatchPipeline) aggregate(
	batch *models.Batch,
	members []*models.BatchMember,
	merged <-chan models.ProgressEvent,
	mu *sync.Mutex,
	completed, failed *int,
) {
	progressByJob := make(map[string]int, len(members))
	for _, member := range members {
		progressByJob[member.JobID] = 0
	}

	var lastWrite time.Time
	lastWritten := batch.Progress

	for event := range merged {
		progressByJob[event.EntityID] = event.Progress

		sum := 0
		for _, value := range progressByJob {
			sum += value
		}
		aggregate := sum / len(members)
		if aggregate > 99 {
			aggregate = 99
		}
		if aggregate < batch.Progress {
			aggregate = batch.Progress
		}

		mu.Lock()
		doneCompleted, doneFailed := *completed, *failed
		mu.Unlock()

		if aggregate > lastWritten && time.Since(lastWrite) >= batchWriteInterval {
			writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			updated, err := p.storage.Batches().UpdateBatchProgress(writeCtx, batch.ID, aggregate, doneCompleted, doneFailed)
			cancel()
			if err != nil {
				p.logger.Warn().Err(err).Str("batch_id", batch.ID).Msg("Failed to write aggregate progress")
			} else {
				batch = updated
				lastWritten = aggregate
				lastWrite = time.Now()
			}
		}

		p.bus.Publish(models.ProgressEvent{
			Kind:           models.EntityKindBatch,
			EntityID:       batch.ID,
			Status:         models.JobStatusProcessing,
			Progress:       aggregate,
			CurrentStep:    event.CurrentStep,
			CompletedCount: doneCompleted,
			FailedCount:    doneFailed,
			Timestamp:      time.Now().UTC(),
		})
	}
}

// finish builds the comparison from the completed members and writes
// the terminal batch state
func (p *BatchPipeline) finish(batchID string, members []*models.BatchMember, completed, failed int, started time.Time) error {
	finishCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	entries := make([]comparison.Entry, 0, completed)
	for _, member := range members {
		artifact, err := p.storage.Jobs().GetArtifact(finishCtx, member.JobID)
		if err != nil {
			continue
		}
		entries = append(entries, comparison.Entry{Member: member, Artifact: artifact})
	}
	if len(entries) < 2 {
		return p.fail(batchID, msgInsufficientQuorum)
	}

	// Counters must reflect reality before completion; the quorum floor
	// is enforced again inside CompleteBatch.
	if _, err := p.storage.Batches().UpdateBatchProgress(finishCtx, batchID, 99, completed, failed); err != nil {
		return p.fail(batchID, fmt.Sprintf("failed to record batch counters: %v", err))
	}

	result, err := p.comparator.Compare(finishCtx, batchID, entries)
	if err != nil {
		return p.fail(batchID, fmt.Sprintf("comparison failed: %v", err))
	}
	result.DurationSeconds = time.Since(started).Seconds()

	batch, err := p.storage.Batches().CompleteBatch(finishCtx, batchID, result)
	if err != nil {
		return p.fail(batchID, fmt.Sprintf("failed to complete batch: %v", err))
	}
	p.publish(batch, "Comparison completed")

	p.logger.Info().
		Str("batch_id", batchID).
		Int("completed", completed).
		Int("failed", failed).
		Float64("duration", result.DurationSeconds).
		Msg("Batch completed")

	return nil
}

// failWithCounts records the final child counters before writing the
// terminal failure state
func (p *BatchPipeline) failWithCounts(batchID, message string, completed, failed int) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := p.storage.Batches().UpdateBatchProgress(writeCtx, batchID, 99, completed, failed); err != nil {
		p.logger.Warn().Err(err).Str("batch_id", batchID).Msg("Failed to record final batch counters")
	}
	return p.fail(batchID, message)
}

// fail writes the terminal failure state and publishes it
func (p *BatchPipeline) fail(batchID, message string) error {
	failCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := p.storage.Batches().FailBatch(failCtx, batchID, message)
	if err != nil {
		p.logger.Error().Err(err).Str("batch_id", batchID).Msg("Failed to record batch failure")
		return fmt.Errorf("%s", message)
	}
	p.publish(batch, "Batch failed")

	p.logger.Warn().Str("batch_id", batchID).Str("reason", message).Msg("Batch failed")
	return fmt.Errorf("%s", message)
}

// publish pushes the batch's current state onto the progress bus
func (p *BatchPipeline) publish(batch *models.Batch, step string) {
	p.bus.Publish(models.ProgressEvent{
		Kind:           models.EntityKindBatch,
		EntityID:       batch.ID,
		Status:         batch.Status,
		Progress:       batch.Progress,
		CurrentStep:    step,
		ErrorMessage:   batch.ErrorMessage,
		CompletedCount: batch.CompletedCount,
		FailedCount:    batch.FailedCount,
		Timestamp:      time.Now().UTC(),
	})
}
