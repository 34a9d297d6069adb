package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"bskygrab/pkg/logger"
	"bskygrab/pkg/ratelimit"
)

// Job is one blob to fetch and store
type Job struct {
	URL      string
	Filename string
	PostID   string
	Num      int
}

// Result reports the outcome of one job
type Result struct {
	Job      Job
	Success  bool
	Skipped  bool
	Error    error
	Duration time.Duration
	Size     int
}

// BlobFetcher downloads a blob by its getBlob URL
type BlobFetcher interface {
	DownloadBlob(ctx context.Context, url string) ([]byte, error)
}

// FileStore persists downloaded blobs and knows what is already on disk
type FileStore interface {
	IsDownloaded(filename string) bool
	SaveFile(r io.Reader, filename string) error
}

// Pool fetches blobs concurrently with rate limiting and duplicate
// skipping
type Pool struct {
	numWorkers int
	jobs       chan Job
	results    chan Result
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	fetcher    BlobFetcher
	store      FileStore
	limiter    ratelimit.Limiter
	logger     logger.Logger

	mu     sync.Mutex
	closed bool
}

// NewPool creates a download pool. A nil limiter disables pacing and a
// nil logger discards output.
func NewPool(numWorkers int, fetcher BlobFetcher, store FileStore, limiter ratelimit.Limiter, log logger.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan Job, numWorkers*2),
		results:    make(chan Result, numWorkers),
		ctx:        ctx,
		cancel:     cancel,
		fetcher:    fetcher,
		store:      store,
		limiter:    limiter,
		logger:     log,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	p.logger.DebugWithFields("starting download pool", map[string]interface{}{
		"num_workers": p.numWorkers,
	})
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop drains the queue, waits for workers and closes the result
// channel
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.results)
	p.cancel()
}

// Submit queues a job. It fails once the pool is shutting down.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("download pool is shutting down")
	}

	select {
	case p.jobs <- job:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("download pool is shutting down")
	}
}

// Results returns the channel of job outcomes
func (p *Pool) Results() <-chan Result {
	return p.results
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		result := p.process(job, id)

		select {
		case p.results <- result:
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) process(job Job, workerID int) Result {
	start := time.Now()
	result := Result{Job: job}

	if p.store.IsDownloaded(job.Filename) {
		p.logger.DebugWithFields("file already downloaded, skipping", map[string]interface{}{
			"worker_id": workerID,
			"filename":  job.Filename,
		})
		result.Success = true
		result.Skipped = true
		result.Duration = time.Since(start)
		return result
	}

	if err := p.limiter.Wait(p.ctx); err != nil {
		result.Error = fmt.Errorf("rate limit wait cancelled: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	logger.LogDownloadStart(p.logger, job.PostID, job.Filename, job.Num)

	data, err := p.fetcher.DownloadBlob(p.ctx, job.URL)
	if err != nil {
		result.Error = fmt.Errorf("download failed: %w", err)
		result.Duration = time.Since(start)
		logger.LogDownloadError(p.logger, job.PostID, job.URL, err)
		return result
	}
	result.Size = len(data)

	if err := p.store.SaveFile(bytes.NewReader(data), job.Filename); err != nil {
		result.Error = fmt.Errorf("save failed: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	result.Success = true
	result.Duration = time.Since(start)
	logger.LogDownloadComplete(p.logger, job.PostID, job.Filename, int64(result.Size), result.Duration)
	return result
}

// QueueSize returns the number of queued jobs
func (p *Pool) QueueSize() int {
	return len(p.jobs)
}
