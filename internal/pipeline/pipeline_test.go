package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
	"github.com/ternarybob/specto/internal/services/comparison"
	"github.com/ternarybob/specto/internal/services/events"
	"github.com/ternarybob/specto/internal/services/rules"
	"github.com/ternarybob/specto/internal/services/semantic"
	badgerstorage "github.com/ternarybob/specto/internal/storage/badger"
)

// stubFetcher serves canned snapshots and records concurrency
type stubFetcher struct {
	mu        sync.Mutex
	failURLs  map[string]bool
	delay     time.Duration
	active    int
	maxActive int
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (*models.PageSnapshot, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	fail := f.failURLs[url]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, models.NewAnalysisError(models.ErrorKindFetchFailed, "crawl", errors.New("connection refused"))
	}

	return &models.PageSnapshot{
		URL:             url,
		FinalURL:        url,
		StatusCode:      200,
		Title:           "Example Widgets - Handmade Widgets Delivered",
		MetaDescription: "We design and ship handmade widgets to customers worldwide. Browse the catalogue, compare models and order online with free delivery.",
		Canonical:       url,
		OGTagCount:      4,
		HasViewport:     true,
		IsHTTPS:         strings.HasPrefix(url, "https://"),
		Headings: []models.Heading{
			{Level: 1, Text: "Widgets"},
			{Level: 2, Text: "Catalogue"},
		},
		StructuredTypes: []string{"Organization"},
		HasStructured:   true,
		Text:            "Handmade widgets delivered worldwide.",
		LoadTimeSeconds: 1.0,
	}, nil
}

func (f *stubFetcher) Close() error { return nil }

const semanticResponse = `{
	"what_it_does": "A storefront for handmade widgets with worldwide delivery and a full catalogue.",
	"products_services": "Handmade widgets in classic and custom ranges, shipped worldwide.",
	"target_audience": "Hobbyists and small businesses that need custom widgets.",
	"unique_value": "Every widget is made to order by hand with free delivery.",
	"clarity_score": 8,
	"overall_impression": "Clear and well organised content that states its purpose immediately."
}`

const landscapeResponse = `{
	"insights": "Scores are close across the set.",
	"opportunities": ["Improve load time"],
	"threats": ["Competitor ranks first"],
	"overall_winner": {"url": "https://primary.example", "label": "Primary", "reason": "Best combined scores."}
}`

// routingLLM answers semantic and landscape prompts with fitting JSON
type routingLLM struct {
	failSemantic bool
}

func (l *routingLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if strings.Contains(systemPrompt, "competitive analyst") {
		return landscapeResponse, nil
	}
	if l.failSemantic {
		return "", errors.New("model unavailable")
	}
	return semanticResponse, nil
}

func (l *routingLLM) Provider() string { return "fake" }

func (l *routingLLM) HealthCheck(ctx context.Context) error { return nil }

func (l *routingLLM) Close() error { return nil }

type pipelineFixture struct {
	storage  interfaces.StorageManager
	bus      interfaces.ProgressBus
	fetcher  *stubFetcher
	llm      *routingLLM
	analysis *AnalysisPipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	logger := arbor.NewLogger()

	storage, err := badgerstorage.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	bus := events.NewProgressBus(logger)
	t.Cleanup(func() { bus.Close() })

	fetcher := &stubFetcher{failURLs: make(map[string]bool)}
	llm := &routingLLM{}

	analysisConfig := &common.AnalysisConfig{
		ScorerTimeout: 5 * time.Second,
		RetryAttempts: 2,
		RetryBackoff:  time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}

	analysis := NewAnalysisPipeline(
		storage,
		fetcher,
		rules.NewScorer(),
		semantic.NewScorer(llm, analysisConfig, logger),
		bus,
		t.TempDir(),
		logger,
	)

	return &pipelineFixture{
		storage:  storage,
		bus:      bus,
		fetcher:  fetcher,
		llm:      llm,
		analysis: analysis,
	}
}

func (f *pipelineFixture) batchPipeline(concurrency int) *BatchPipeline {
	comparator := comparison.NewComparator(f.llm, arbor.NewLogger())
	return NewBatchPipeline(f.storage, f.bus, f.analysis, comparator, concurrency, 0, arbor.NewLogger())
}

func (f *pipelineFixture) createJob(t *testing.T, id, url string) {
	t.Helper()
	require.NoError(t, f.storage.Jobs().CreateJob(context.Background(), &models.AnalysisJob{
		ID:     id,
		URL:    url,
		Status: models.JobStatusPending,
	}))
}

func (f *pipelineFixture) createBatch(t *testing.T, id string, urls []string) {
	t.Helper()
	batch := &models.Batch{ID: id, Status: models.JobStatusPending, Total: len(urls)}
	members := make([]*models.BatchMember, len(urls))
	jobs := make([]*models.AnalysisJob, len(urls))
	for i, url := range urls {
		jobs[i] = &models.AnalysisJob{
			ID:     fmt.Sprintf("%s_job_%d", id, i),
			URL:    url,
			Status: models.JobStatusPending,
		}
		label := fmt.Sprintf("Competitor %d", i)
		if i == 0 {
			label = "Primary"
		}
		members[i] = &models.BatchMember{
			ID:         fmt.Sprintf("%s_member_%d", id, i),
			BatchID:    id,
			JobID:      jobs[i].ID,
			Label:      label,
			IsPrimary:  i == 0,
			OrderIndex: i,
		}
	}
	require.NoError(t, f.storage.Batches().CreateBatch(context.Background(), batch, members, jobs))
}

func collectEvents(events <-chan models.ProgressEvent) []models.ProgressEvent {
	var collected []models.ProgressEvent
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return collected
			}
			collected = append(collected, e)
			if e.IsTerminal() {
				return collected
			}
		case <-time.After(5 * time.Second):
			return collected
		}
	}
}

func TestAnalysisPipelineCompletes(t *testing.T) {
	f := newPipelineFixture(t)
	f.createJob(t, "job_a", "https://example.com")

	events, cancel := f.bus.Subscribe("job_a")
	defer cancel()

	require.NoError(t, f.analysis.Run(context.Background(), "job_a"))

	job, err := f.storage.Jobs().GetJob(context.Background(), "job_a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)

	artifact, err := f.storage.Jobs().GetArtifact(context.Background(), "job_a")
	require.NoError(t, err)
	assert.Greater(t, artifact.RuleScore, 0.0)
	assert.Greater(t, artifact.SemanticScore, 0.0)
	assert.Equal(t, "Handmade widgets delivered worldwide.", artifact.PageText)

	collected := collectEvents(events)
	require.NotEmpty(t, collected)

	// Progress only ever moves forward and ends at 100
	last := -1
	for _, e := range collected {
		assert.GreaterOrEqual(t, e.Progress, last)
		last = e.Progress
	}
	terminal := collected[len(collected)-1]
	assert.Equal(t, models.JobStatusCompleted, terminal.Status)
	assert.Equal(t, 100, terminal.Progress)
}

func TestAnalysisPipelineFetchFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.createJob(t, "job_a", "https://down.example")
	f.fetcher.failURLs["https://down.example"] = true

	err := f.analysis.Run(context.Background(), "job_a")
	require.Error(t, err)

	job, getErr := f.storage.Jobs().GetJob(context.Background(), "job_a")
	require.NoError(t, getErr)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.ErrorDetails)
	assert.Equal(t, models.ErrorKindFetchFailed, job.ErrorDetails.Kind)
	assert.Equal(t, "crawl", job.ErrorDetails.Step)
	assert.Equal(t, 10, job.ErrorDetails.ProgressAtFailure)
}

func TestAnalysisPipelineScorerFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.createJob(t, "job_a", "https://example.com")
	f.llm.failSemantic = true

	err := f.analysis.Run(context.Background(), "job_a")
	require.Error(t, err)

	job, getErr := f.storage.Jobs().GetJob(context.Background(), "job_a")
	require.NoError(t, getErr)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorDetails)
	assert.Equal(t, models.ErrorKindScorerFailed, job.ErrorDetails.Kind)
	assert.Equal(t, 65, job.ErrorDetails.ProgressAtFailure)

	// No artifact for a failed job
	_, err = f.storage.Jobs().GetArtifact(context.Background(), "job_a")
	assert.Error(t, err)
}

func TestAnalysisPipelineCancelled(t *testing.T) {
	f := newPipelineFixture(t)
	f.createJob(t, "job_a", "https://example.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.analysis.Run(ctx, "job_a")
	require.Error(t, err)

	job, getErr := f.storage.Jobs().GetJob(context.Background(), "job_a")
	require.NoError(t, getErr)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorDetails)
	assert.Equal(t, models.ErrorKindCancelled, job.ErrorDetails.Kind)
}

func TestBatchPipelineCompletes(t *testing.T) {
	f := newPipelineFixture(t)
	urls := []string{"https://primary.example", "https://one.example", "https://two.example"}
	f.createBatch(t, "batch_a", urls)

	require.NoError(t, f.batchPipeline(2).Run(context.Background(), "batch_a"))

	batch, err := f.storage.Batches().GetBatch(context.Background(), "batch_a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, batch.Status)
	assert.Equal(t, 100, batch.Progress)
	assert.Equal(t, 3, batch.CompletedCount)
	assert.Equal(t, 0, batch.FailedCount)

	stored, err := f.storage.Batches().GetComparison(context.Background(), "batch_a")
	require.NoError(t, err)
	assert.Len(t, stored.OverallComparison.Rankings, 3)
	assert.NotEmpty(t, stored.MarketLeader)
	assert.Equal(t, "Scores are close across the set.", stored.Insights)
	assert.Greater(t, stored.DurationSeconds, 0.0)
}

func TestBatchPipelinePartialQuorum(t *testing.T) {
	f := newPipelineFixture(t)
	urls := []string{"https://primary.example", "https://one.example", "https://down.example"}
	f.createBatch(t, "batch_a", urls)
	f.fetcher.failURLs["https://down.example"] = true

	require.NoError(t, f.batchPipeline(2).Run(context.Background(), "batch_a"))

	batch, err := f.storage.Batches().GetBatch(context.Background(), "batch_a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, batch.Status)
	assert.Equal(t, 2, batch.CompletedCount)
	assert.Equal(t, 1, batch.FailedCount)

	stored, err := f.storage.Batches().GetComparison(context.Background(), "batch_a")
	require.NoError(t, err)
	assert.Len(t, stored.OverallComparison.Rankings, 2)
}

func TestBatchPipelineInsufficientQuorum(t *testing.T) {
	f := newPipelineFixture(t)
	urls := []string{"https://primary.example", "https://down.example"}
	f.createBatch(t, "batch_a", urls)
	f.fetcher.failURLs["https://down.example"] = true

	err := f.batchPipeline(2).Run(context.Background(), "batch_a")
	require.Error(t, err)

	batch, getErr := f.storage.Batches().GetBatch(context.Background(), "batch_a")
	require.NoError(t, getErr)
	assert.Equal(t, models.JobStatusFailed, batch.Status)
	assert.Equal(t, "insufficient successful analyses (minimum 2 required)", batch.ErrorMessage)
	assert.Equal(t, 100, batch.Progress)
	assert.Equal(t, 1, batch.CompletedCount)
	assert.Equal(t, batch.Total, batch.CompletedCount+batch.FailedCount)
}

func TestBatchPipelineAllFailed(t *testing.T) {
	f := newPipelineFixture(t)
	urls := []string{"https://down1.example", "https://down2.example"}
	f.createBatch(t, "batch_a", urls)
	f.fetcher.failURLs["https://down1.example"] = true
	f.fetcher.failURLs["https://down2.example"] = true

	err := f.batchPipeline(2).Run(context.Background(), "batch_a")
	require.Error(t, err)

	batch, getErr := f.storage.Batches().GetBatch(context.Background(), "batch_a")
	require.NoError(t, getErr)
	assert.Equal(t, models.JobStatusFailed, batch.Status)
	assert.Equal(t, "all analyses failed", batch.ErrorMessage)
}

func TestBatchPipelineRespectsConcurrencyBound(t *testing.T) {
	f := newPipelineFixture(t)
	urls := []string{
		"https://primary.example",
		"https://one.example",
		"https://two.example",
		"https://three.example",
		"https://four.example",
	}
	f.createBatch(t, "batch_a", urls)
	f.fetcher.delay = 50 * time.Millisecond

	require.NoError(t, f.batchPipeline(2).Run(context.Background(), "batch_a"))

	f.fetcher.mu.Lock()
	maxActive := f.fetcher.maxActive
	f.fetcher.mu.Unlock()
	assert.LessOrEqual(t, maxActive, 2)
}

func TestBatchPipelinePublishesAggregateEvents(t *testing.T) {
	f := newPipelineFixture(t)
	urls := []string{"https://primary.example", "https://one.example"}
	f.createBatch(t, "batch_a", urls)

	batchEvents, cancel := f.bus.Subscribe("batch_a")
	defer cancel()

	require.NoError(t, f.batchPipeline(2).Run(context.Background(), "batch_a"))

	collected := collectEvents(batchEvents)
	require.NotEmpty(t, collected)

	last := -1
	for _, e := range collected {
		assert.Equal(t, models.EntityKindBatch, e.Kind)
		assert.GreaterOrEqual(t, e.Progress, last)
		last = e.Progress
	}
	terminal := collected[len(collected)-1]
	assert.Equal(t, models.JobStatusCompleted, terminal.Status)
	assert.Equal(t, 100, terminal.Progress)
}
