package common

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// StalenessSweeper fails jobs and batches stuck in processing past the
// configured age. It runs once at startup and then on a cron schedule.
// Crashed or abandoned work never completes on its own; the sweeper is
// what turns it into an honest failed state.
type StalenessSweeper struct {
	storage  interfaces.StorageManager
	bus      interfaces.ProgressBus
	maxAge   time.Duration
	schedule string
	cron     *cron.Cron
	logger   arbor.ILogger
}

// NewStalenessSweeper builds a sweeper from config. Returns an error
// when the max age cannot be parsed.
func NewStalenessSweeper(config *Config, storage interfaces.StorageManager, bus interfaces.ProgressBus, logger arbor.ILogger) (*StalenessSweeper, error) {
	maxAge, err := time.ParseDuration(config.Staleness.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("invalid staleness max_age %q: %w", config.Staleness.MaxAge, err)
	}

	return &StalenessSweeper{
		storage:  storage,
		bus:      bus,
		maxAge:   maxAge,
		schedule: config.Staleness.Schedule,
		cron:     cron.New(cron.WithSeconds()),
		logger:   logger,
	}, nil
}

// Start runs an initial sweep and schedules recurring sweeps
func (s *StalenessSweeper) Start() error {
	s.Sweep(context.Background())

	_, err := s.cron.AddFunc(s.schedule, func() {
		s.Sweep(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to schedule staleness sweep: %w", err)
	}

	s.cron.Start()
	return nil
}

// Stop halts the recurring sweeps
func (s *StalenessSweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Sweep fails all processing jobs and batches not updated since the cutoff
func (s *StalenessSweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.maxAge)

	jobs, err := s.storage.Jobs().ListStaleProcessingJobs(ctx, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Staleness sweep: failed to list jobs")
	}
	for _, job := range jobs {
		message := fmt.Sprintf("analysis abandoned: no progress since %s", job.UpdatedAt.Format(time.RFC3339))
		failed, err := s.storage.Jobs().FailJob(ctx, job.ID, message, &models.ErrorDetails{
			Kind:              models.ErrorKindInternal,
			Step:              job.CurrentStep,
			ProgressAtFailure: job.Progress,
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Staleness sweep: failed to fail job")
			continue
		}
		s.logger.Info().Str("job_id", job.ID).Int("progress", job.Progress).Msg("Failed stale analysis job")
		s.publishJobFailure(failed)
	}

	batches, err := s.storage.Batches().ListStaleProcessingBatches(ctx, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Staleness sweep: failed to list batches")
	}
	for _, batch := range batches {
		message := fmt.Sprintf("batch abandoned: no progress since %s", batch.UpdatedAt.Format(time.RFC3339))
		failed, err := s.storage.Batches().FailBatch(ctx, batch.ID, message)
		if err != nil {
			s.logger.Warn().Err(err).Str("batch_id", batch.ID).Msg("Staleness sweep: failed to fail batch")
			continue
		}
		s.logger.Info().Str("batch_id", batch.ID).Msg("Failed stale batch")
		s.bus.Publish(models.ProgressEvent{
			Kind:         models.EntityKindBatch,
			EntityID:     failed.ID,
			Status:       failed.Status,
			Progress:     failed.Progress,
			ErrorMessage: failed.ErrorMessage,
			Timestamp:    time.Now().UTC(),
		})
	}
}

func (s *StalenessSweeper) publishJobFailure(job *models.AnalysisJob) {
	s.bus.Publish(models.ProgressEvent{
		Kind:         models.EntityKindJob,
		EntityID:     job.ID,
		Status:       job.Status,
		Progress:     job.Progress,
		CurrentStep:  job.CurrentStep,
		ErrorMessage: job.ErrorMessage,
		Timestamp:    time.Now().UTC(),
	})
}
