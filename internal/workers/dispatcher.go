package workers

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/pipeline"
)

const queueCapacity = 256

// workItem tracks one submitted entity: its running cancel function
// once a worker picks it up, and whether it was cancelled while still
// queued.
type workItem struct {
	cancel    context.CancelFunc
	cancelled bool
}

// Dispatcher owns the in-process work queues. Jobs and batches are
// executed in submission order; submitting an id that is already queued
// or running is a no-op.
type Dispatcher struct {
	analysis *pipeline.AnalysisPipeline
	batch    *pipeline.BatchPipeline
	logger   arbor.ILogger

	jobQueue     chan string
	batchQueue   chan string
	jobWorkers   int
	batchWorkers int

	mu       sync.Mutex
	inflight map[string]*workItem
	closed   bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the two pipelines. jobWorkers
// bounds concurrently running standalone jobs; batchWorkers bounds
// batches running at once. Each batch bounds its own children
// internally.
func NewDispatcher(analysis *pipeline.AnalysisPipeline, batch *pipeline.BatchPipeline, jobWorkers, batchWorkers int, logger arbor.ILogger) *Dispatcher {
	if jobWorkers < 1 {
		jobWorkers = 1
	}
	if batchWorkers < 1 {
		batchWorkers = 1
	}
	return &Dispatcher{
		analysis:     analysis,
		batch:        batch,
		logger:       logger,
		jobQueue:     make(chan string, queueCapacity),
		batchQueue:   make(chan string, queueCapacity),
		jobWorkers:   jobWorkers,
		batchWorkers: batchWorkers,
		inflight:     make(map[string]*workItem),
	}
}

// Start launches the worker goroutines
func (d *Dispatcher) Start() {
	d.baseCtx, d.cancel = context.WithCancel(context.Background())

	for i := 0; i < d.jobWorkers; i++ {
		d.wg.Add(1)
		go d.jobWorker()
	}
	for i := 0; i < d.batchWorkers; i++ {
		d.wg.Add(1)
		go d.batchWorker()
	}

	d.logger.Info().
		Int("job_workers", d.jobWorkers).
		Int("batch_workers", d.batchWorkers).
		Msg("Dispatcher started")
}

// SubmitJob queues a standalone analysis job
func (d *Dispatcher) SubmitJob(jobID string) error {
	return d.submit(d.jobQueue, jobID)
}

// SubmitBatch queues a batch run
func (d *Dispatcher) SubmitBatch(batchID string) error {
	return d.submit(d.batchQueue, batchID)
}

func (d *Dispatcher) submit(queue chan string, id string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher is shut down")
	}
	if _, exists := d.inflight[id]; exists {
		d.mu.Unlock()
		return nil
	}
	d.inflight[id] = &workItem{}
	d.mu.Unlock()

	select {
	case queue <- id:
		return nil
	default:
		d.forget(id)
		return fmt.Errorf("work queue is full")
	}
}

// Cancel cancels a queued or running entity by id. Returns false when
// the id is not known to the dispatcher. An entity cancelled before a
// worker picks it up starts with an already-cancelled context, so it
// records its terminal state without doing any work.
func (d *Dispatcher) Cancel(id string) bool {
	d.mu.Lock()
	item, exists := d.inflight[id]
	if exists {
		item.cancelled = true
	}
	d.mu.Unlock()
	if !exists {
		return false
	}
	if item.cancel != nil {
		item.cancel()
	}
	return true
}

func (d *Dispatcher) jobWorker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.baseCtx.Done():
			return
		case jobID := <-d.jobQueue:
			d.run(jobID, d.analysis.Run)
		}
	}
}

func (d *Dispatcher) batchWorker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.baseCtx.Done():
			return
		case batchID := <-d.batchQueue:
			d.run(batchID, d.batch.Run)
		}
	}
}

// run executes one unit of work under a per-id cancellable context
func (d *Dispatcher) run(id string, fn func(context.Context, string) error) {
	ctx, cancel := context.WithCancel(d.baseCtx)
	defer cancel()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	item, exists := d.inflight[id]
	if !exists {
		item = &workItem{}
		d.inflight[id] = item
	}
	item.cancel = cancel
	cancelledWhileQueued := item.cancelled
	d.mu.Unlock()
	defer d.forget(id)

	if cancelledWhileQueued {
		cancel()
	}

	if err := fn(ctx, id); err != nil {
		d.logger.Debug().Str("id", id).Err(err).Msg("Work item finished with error")
	}
}

func (d *Dispatcher) forget(id string) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}

// Shutdown cancels all running work and stops the workers
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.logger.Info().Msg("Dispatcher stopped")
}
