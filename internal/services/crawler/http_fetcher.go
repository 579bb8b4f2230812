package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// maxResponseBytes caps the body read from a plain HTTP fetch
const maxResponseBytes = 10 * 1024 * 1024

// HTTPFetcher fetches pages without a browser. Used when headless
// Chrome is disabled; JavaScript-rendered content is not captured.
type HTTPFetcher struct {
	client  *http.Client
	limiter *hostLimiter
	config  *common.CrawlerConfig
	logger  arbor.ILogger
}

// NewHTTPFetcher builds the fallback fetcher
func NewHTTPFetcher(config *common.CrawlerConfig, logger arbor.ILogger) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: config.RequestTimeout,
		},
		limiter: newHostLimiter(config.PerHostDelay),
		config:  config,
		logger:  logger,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (*models.PageSnapshot, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, models.NewAnalysisError(models.ErrorKindFetchFailed, "crawl", fmt.Errorf("invalid url: %w", err))
	}

	if err := f.limiter.Wait(ctx, parsed.Hostname()); err != nil {
		return nil, models.NewAnalysisError(models.ErrorKindFetchFailed, "crawl", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, models.NewAnalysisError(models.ErrorKindFetchFailed, "crawl", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, models.NewAnalysisError(models.ErrorKindFetchFailed, "crawl",
			fmt.Errorf("failed to fetch %s: %w", pageURL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, models.NewAnalysisError(models.ErrorKindFetchFailed, "crawl",
			fmt.Errorf("page returned HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, models.NewAnalysisError(models.ErrorKindFetchFailed, "crawl",
			fmt.Errorf("failed to read response body: %w", err))
	}
	loadTime := time.Since(start).Seconds()

	snapshot := ExtractSnapshot(pageURL, string(body))
	snapshot.FinalURL = resp.Request.URL.String()
	snapshot.StatusCode = resp.StatusCode
	snapshot.LoadTimeSeconds = loadTime

	f.logger.Debug().
		Str("url", pageURL).
		Int("status", resp.StatusCode).
		Float64("load_time", loadTime).
		Msg("Page fetched without browser")

	return snapshot, nil
}

func (f *HTTPFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// NewFetcher returns the configured fetcher implementation
func NewFetcher(config *common.CrawlerConfig, logger arbor.ILogger) (interfaces.Fetcher, error) {
	if config.EnableBrowser {
		return NewChromeFetcher(config, logger)
	}
	return NewHTTPFetcher(config, logger), nil
}
