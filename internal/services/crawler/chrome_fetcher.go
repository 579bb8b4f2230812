package crawler

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/models"
)

// ChromeFetcher renders pages in headless Chrome. One allocator and
// root browser are shared; each fetch runs in its own tab context.
type ChromeFetcher struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browser     context.Context
	browserStop context.CancelFunc
	limiter     *hostLimiter
	config      *common.CrawlerConfig
	logger      arbor.ILogger
	mu          sync.Mutex
	closed      bool
}

// NewChromeFetcher starts the shared browser and verifies it responds
func NewChromeFetcher(config *common.CrawlerConfig, logger arbor.ILogger) (*ChromeFetcher, error) {
	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(config.UserAgent),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browser, browserStop := chromedp.NewContext(allocCtx)

	testCtx, testCancel := context.WithTimeout(browser, config.RequestTimeout)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserStop()
		allocCancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	logger.Info().
		Str("user_agent", config.UserAgent).
		Dur("request_timeout", config.RequestTimeout).
		Msg("Headless browser started")

	return &ChromeFetcher{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		browser:     browser,
		browserStop: browserStop,
		limiter:     newHostLimiter(config.PerHostDelay),
		config:      config,
		logger:      logger,
	}, nil
}

// Fetch navigates to the URL, waits for rendering and captures the
// page snapshot. Failures carry kind FETCH_FAILED.
func (f *ChromeFetcher) Fetch(ctx context.Context, pageURL string) (*models.PageSnapshot, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, models.NewAnalysisError(models.ErrorKindFetchFailed, "crawl", fmt.Errorf("invalid url: %w", err))
	}

	if err := f.limiter.Wait(ctx, parsed.Hostname()); err != nil {
		return nil, models.NewAnalysisError(models.ErrorKindFetchFailed, "crawl", err)
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, models.NewAnalysisError(models.ErrorKindFetchFailed, "crawl", fmt.Errorf("fetcher is closed"))
	}
	tabCtx, tabCancel := chromedp.NewContext(f.browser)
	f.mu.Unlock()
	defer tabCancel()

	runCtx, runCancel := context.WithTimeout(tabCtx, f.config.RequestTimeout)
	defer runCancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
		defer cancel()
	}

	// Record the status of the main document response
	var statusCode int64
	chromedp.ListenTarget(runCtx, func(ev interface{}) {
		if resp, ok := ev.(*network.EventResponseReceived); ok {
			if resp.Type == network.ResourceTypeDocument && statusCode == 0 {
				statusCode = resp.Response.Status
			}
		}
	})

	var html, finalURL string
	var screenshot []byte

	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.EmulateViewport(1920, 1080),
		chromedp.Navigate(pageURL),
		chromedp.Sleep(f.config.RenderWaitTime),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html),
	}
	if f.config.Screenshots {
		tasks = append(tasks, chromedp.FullScreenshot(&screenshot, 90))
	}

	start := time.Now()
	if err := chromedp.Run(runCtx, tasks); err != nil {
		return nil, models.NewAnalysisError(models.ErrorKindFetchFailed, "crawl",
			fmt.Errorf("failed to render %s: %w", pageURL, err))
	}
	loadTime := time.Since(start).Seconds()

	if statusCode >= 400 {
		return nil, models.NewAnalysisError(models.ErrorKindFetchFailed, "crawl",
			fmt.Errorf("page returned HTTP %d", statusCode))
	}

	snapshot := ExtractSnapshot(pageURL, html)
	snapshot.FinalURL = finalURL
	snapshot.StatusCode = int(statusCode)
	snapshot.LoadTimeSeconds = loadTime
	snapshot.Screenshot = screenshot

	f.logger.Debug().
		Str("url", pageURL).
		Int("status", snapshot.StatusCode).
		Float64("load_time", loadTime).
		Int("html_bytes", len(snapshot.HTML)).
		Msg("Page fetched")

	return snapshot, nil
}

// Close shuts the shared browser down
func (f *ChromeFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.browserStop()
	f.allocCancel()
	return nil
}
