package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/handlers"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/pipeline"
	"github.com/ternarybob/specto/internal/services/comparison"
	"github.com/ternarybob/specto/internal/services/crawler"
	"github.com/ternarybob/specto/internal/services/events"
	"github.com/ternarybob/specto/internal/services/report"
	"github.com/ternarybob/specto/internal/services/rules"
	"github.com/ternarybob/specto/internal/services/semantic"
	badgerstorage "github.com/ternarybob/specto/internal/storage/badger"
	"github.com/ternarybob/specto/internal/workers"
)

// App owns every long-lived component and their startup order
type App struct {
	Config  *common.Config
	Logger  arbor.ILogger
	Storage interfaces.StorageManager
	Bus     interfaces.ProgressBus
	Fetcher interfaces.Fetcher
	LLM     interfaces.LLMService

	Semantic   *semantic.Scorer
	Comparator *comparison.Comparator
	Report     *report.Service
	Dispatcher *workers.Dispatcher

	AnalysisHandler *handlers.AnalysisHandler
	BatchHandler    *handlers.BatchHandler
	StatusHandler   *handlers.StatusHandler
	WSHandler       *handlers.WebSocketHandler

	sweeper *common.StalenessSweeper
}

// New builds the application graph. Components are constructed in
// dependency order; a failure tears down what was already opened.
func New(ctx context.Context, config *common.Config, logger arbor.ILogger) (*App, error) {
	storage, err := badgerstorage.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	bus := events.NewProgressBus(logger)

	fetcher, err := crawler.NewFetcher(&config.Crawler, logger)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to start fetcher: %w", err)
	}

	llm, err := semantic.NewLLMService(ctx, config, logger)
	if err != nil {
		fetcher.Close()
		storage.Close()
		return nil, fmt.Errorf("failed to start llm provider: %w", err)
	}

	semanticScorer := semantic.NewScorer(llm, &config.Analysis, logger)
	comparator := comparison.NewComparator(llm, logger)

	analysisPipeline := pipeline.NewAnalysisPipeline(
		storage, fetcher, rules.NewScorer(), semanticScorer, bus, config.Storage.Screenshots, logger)
	batchPipeline := pipeline.NewBatchPipeline(
		storage, bus, analysisPipeline, comparator, config.Batch.Concurrency, config.Batch.Timeout, logger)

	dispatcher := workers.NewDispatcher(analysisPipeline, batchPipeline, config.Workers.Jobs, config.Workers.Batches, logger)

	reportService := report.NewService(logger)

	app := &App{
		Config:     config,
		Logger:     logger,
		Storage:    storage,
		Bus:        bus,
		Fetcher:    fetcher,
		LLM:        llm,
		Semantic:   semanticScorer,
		Comparator: comparator,
		Report:     reportService,
		Dispatcher: dispatcher,

		AnalysisHandler: handlers.NewAnalysisHandler(storage, dispatcher, config, logger),
		BatchHandler:    handlers.NewBatchHandler(storage, dispatcher, reportService, config, logger),
		StatusHandler:   handlers.NewStatusHandler(storage, llm, logger),
		WSHandler:       handlers.NewWebSocketHandler(storage, bus, logger),
	}

	if config.Staleness.Enabled {
		sweeper, err := common.NewStalenessSweeper(config, storage, bus, logger)
		if err != nil {
			app.closeComponents()
			return nil, err
		}
		app.sweeper = sweeper
	}

	return app, nil
}

// Start brings the background workers up
func (a *App) Start() error {
	a.Dispatcher.Start()

	if a.sweeper != nil {
		if err := a.sweeper.Start(); err != nil {
			return err
		}
	}

	a.Logger.Info().
		Str("provider", a.LLM.Provider()).
		Int("concurrency", a.Config.Batch.Concurrency).
		Msg("Application started")
	return nil
}

// Shutdown stops background work and releases resources in reverse
// startup order
func (a *App) Shutdown(ctx context.Context) {
	a.Logger.Info().Msg("Shutting down application")

	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	a.Dispatcher.Shutdown()
	a.closeComponents()
}

func (a *App) closeComponents() {
	if a.LLM != nil {
		if err := a.LLM.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Error closing llm provider")
		}
	}
	if a.Fetcher != nil {
		if err := a.Fetcher.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Error closing fetcher")
		}
	}
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Error closing storage")
		}
	}
}
