package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
	"github.com/ternarybob/specto/internal/services/rules"
	"github.com/ternarybob/specto/internal/services/semantic"
)

// Stage checkpoints for the single-URL pipeline. Progress only ever
// moves forward through these; 100 is written by completion alone.
const (
	stepStarting       = "Starting analysis"
	stepCrawling       = "Crawling website"
	stepCrawlDone      = "Crawl completed"
	stepScoringRules   = "Scoring page rules"
	stepRulesDone      = "Rule scoring completed"
	stepAIAnalysis     = "Running AI analysis"
	stepAIAnalysisDone = "AI analysis completed"
	stepSaving         = "Saving results"
)

// AnalysisPipeline drives one URL through crawl, rule scoring,
// semantic scoring and persistence, publishing progress along the way.
type AnalysisPipeline struct {
	storage        interfaces.StorageManager
	fetcher        interfaces.Fetcher
	rules          *rules.Scorer
	semantic       *semantic.Scorer
	bus            interfaces.ProgressBus
	screenshotsDir string
	logger         arbor.ILogger
}

// NewAnalysisPipeline wires the pipeline stages together
func NewAnalysisPipeline(
	storage interfaces.StorageManager,
	fetcher interfaces.Fetcher,
	ruleScorer *rules.Scorer,
	semanticScorer *semantic.Scorer,
	bus interfaces.ProgressBus,
	screenshotsDir string,
	logger arbor.ILogger,
) *AnalysisPipeline {
	return &AnalysisPipeline{
		storage:        storage,
		fetcher:        fetcher,
		rules:          ruleScorer,
		semantic:       semanticScorer,
		bus:            bus,
		screenshotsDir: screenshotsDir,
		logger:         logger,
	}
}

// Run executes the full pipeline for a pending job. The returned error
// is nil exactly when the job reached completed.
func (p *AnalysisPipeline) Run(ctx context.Context, jobID string) error {
	job, err := p.storage.Jobs().StartJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to start job %s: %w", jobID, err)
	}
	started := time.Now()
	p.publish(job, stepStarting)

	if err := p.checkCancelled(ctx, jobID, "crawl"); err != nil {
		return err
	}
	if job, err = p.advance(ctx, jobID, 10, stepCrawling); err != nil {
		return err
	}

	snapshot, err := p.fetcher.Fetch(ctx, job.URL)
	if err != nil {
		return p.fail(ctx, jobID, "crawl", err)
	}

	if job, err = p.advance(ctx, jobID, 30, stepCrawlDone); err != nil {
		return err
	}
	if err := p.checkCancelled(ctx, jobID, "rules"); err != nil {
		return err
	}
	if job, err = p.advance(ctx, jobID, 35, stepScoringRules); err != nil {
		return err
	}

	ruleReport := p.rules.Score(snapshot)

	if job, err = p.advance(ctx, jobID, 60, stepRulesDone); err != nil {
		return err
	}
	if err := p.checkCancelled(ctx, jobID, "semantic"); err != nil {
		return err
	}
	if job, err = p.advance(ctx, jobID, 65, stepAIAnalysis); err != nil {
		return err
	}

	semanticReport, err := p.semantic.Analyze(ctx, snapshot)
	if err != nil {
		return p.fail(ctx, jobID, "semantic", err)
	}

	if job, err = p.advance(ctx, jobID, 90, stepAIAnalysisDone); err != nil {
		return err
	}
	if err := p.checkCancelled(ctx, jobID, "persist"); err != nil {
		return err
	}
	if job, err = p.advance(ctx, jobID, 95, stepSaving); err != nil {
		return err
	}

	screenshotRef := p.saveScreenshot(jobID, snapshot)

	suggestions := make([]models.Suggestion, 0, len(ruleReport.Suggestions)+len(semanticReport.Suggestions))
	suggestions = append(suggestions, ruleReport.Suggestions...)
	suggestions = append(suggestions, semanticReport.Suggestions...)
	models.SortSuggestions(suggestions)

	artifact := &models.Artifact{
		JobID:           jobID,
		URL:             job.URL,
		PageHTML:        snapshot.HTML,
		PageText:        snapshot.Text,
		ScreenshotRef:   screenshotRef,
		RuleScore:       ruleReport.TotalScore,
		RuleReport:      *ruleReport,
		SemanticScore:   semanticReport.Score,
		SemanticReport:  *semanticReport,
		Suggestions:     suggestions,
		DurationSeconds: time.Since(started).Seconds(),
	}

	completed, err := p.storage.Jobs().CompleteJob(ctx, jobID, artifact)
	if err != nil {
		return p.fail(ctx, jobID, "persist", err)
	}
	p.publish(completed, completed.CurrentStep)

	p.logger.Info().
		Str("job_id", jobID).
		Str("url", job.URL).
		Float64("rule_score", artifact.RuleScore).
		Float64("semantic_score", artifact.SemanticScore).
		Float64("duration", artifact.DurationSeconds).
		Msg("Analysis completed")

	return nil
}

// advance writes a progress checkpoint and publishes it
func (p *AnalysisPipeline) advance(ctx context.Context, jobID string, progress int, step string) (*models.AnalysisJob, error) {
	job, err := p.storage.Jobs().UpdateJobProgress(ctx, jobID, progress, step)
	if err != nil {
		return nil, fmt.Errorf("failed to advance job %s: %w", jobID, err)
	}
	p.publish(job, step)
	return job, nil
}

// checkCancelled turns context cancellation into a CANCELLED failure
// at the next stage boundary
func (p *AnalysisPipeline) checkCancelled(ctx context.Context, jobID, step string) error {
	if err := ctx.Err(); err != nil {
		return p.fail(ctx, jobID, step,
			models.NewAnalysisError(models.ErrorKindCancelled, step, errors.New("analysis cancelled")))
	}
	return nil
}

// fail records the failure and publishes the terminal event. The
// original error is always returned to the caller.
func (p *AnalysisPipeline) fail(ctx context.Context, jobID, step string, cause error) error {
	kind := models.KindOf(cause)
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		kind = models.ErrorKindCancelled
	}

	// A cancelled parent context must not block the failure write
	failCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	current, getErr := p.storage.Jobs().GetJob(failCtx, jobID)
	progressAtFailure := 0
	if getErr == nil {
		progressAtFailure = current.Progress
	}

	failed, failErr := p.storage.Jobs().FailJob(failCtx, jobID, cause.Error(), &models.ErrorDetails{
		Kind:              kind,
		Step:              step,
		ProgressAtFailure: progressAtFailure,
	})
	if failErr != nil {
		p.logger.Error().Err(failErr).Str("job_id", jobID).Msg("Failed to record job failure")
		return cause
	}
	p.publish(failed, step)

	p.logger.Warn().
		Str("job_id", jobID).
		Str("step", step).
		Str("kind", string(kind)).
		Err(cause).
		Msg("Analysis failed")

	return cause
}

// publish pushes the job's current state onto the progress bus
func (p *AnalysisPipeline) publish(job *models.AnalysisJob, step string) {
	p.bus.Publish(models.ProgressEvent{
		Kind:         models.EntityKindJob,
		EntityID:     job.ID,
		Status:       job.Status,
		Progress:     job.Progress,
		CurrentStep:  step,
		ErrorMessage: job.ErrorMessage,
		Timestamp:    time.Now().UTC(),
	})
}

// saveScreenshot writes the captured screenshot to disk and returns
// its reference. Screenshot failures never fail the analysis.
func (p *AnalysisPipeline) saveScreenshot(jobID string, snapshot *models.PageSnapshot) string {
	if len(snapshot.Screenshot) == 0 || p.screenshotsDir == "" {
		return ""
	}
	if err := os.MkdirAll(p.screenshotsDir, 0755); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to create screenshots directory")
		return ""
	}
	path := filepath.Join(p.screenshotsDir, jobID+".png")
	if err := os.WriteFile(path, snapshot.Screenshot, 0644); err != nil {
		p.logger.Warn().Err(err).Str("path", path).Msg("Failed to write screenshot")
		return ""
	}
	return path
}
