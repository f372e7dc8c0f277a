package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/0x6d61/webtrufflehog/internal/protocol"
)

// job is one resource to scan.
type job struct {
	id  string
	url string
}

// processFunc turns a job into a result; ok is false when there is nothing
// to report.
type processFunc func(ctx context.Context, j job) (result protocol.Response, ok bool)

// workerPool runs jobs from a bounded queue on a fixed number of workers.
type workerPool struct {
	workers int
	jobs    chan job
	results chan protocol.Response
	wg      sync.WaitGroup
	log     zerolog.Logger

	// stopping is closed once queued jobs should be skipped.
	stopping chan struct{}
	stopOnce sync.Once
}

// newWorkerPool creates a pool. The queue holds at most capacity jobs not
// yet picked up by a worker.
func newWorkerPool(workers, capacity int, logger zerolog.Logger) *workerPool {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &workerPool{
		workers:  workers,
		jobs:     make(chan job, capacity),
		results:  make(chan protocol.Response, workers*2),
		log:      logger,
		stopping: make(chan struct{}),
	}
}

// start launches all worker goroutines.
func (p *workerPool) start(ctx context.Context, process processFunc) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, process)
	}
}

// worker is the main loop for a single worker goroutine.
func (p *workerPool) worker(ctx context.Context, process processFunc) {
	defer p.wg.Done()

	for j := range p.jobs {
		// Recover from panics so one bad job does not crash the pool.
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.log.Error().
						Str("id", j.id).
						Str("url", j.url).
						Str("panic", fmt.Sprintf("%v", r)).
						Msg("Worker recovered from panic")
				}
			}()

			// Queued jobs are skipped once shutdown has begun.
			if ctx.Err() != nil || p.abandoned() {
				return
			}

			if result, ok := process(ctx, j); ok {
				p.results <- result
			}
		}()
	}
}

// submit queues a job without blocking. It returns false when the queue is
// full and the job was dropped.
func (p *workerPool) submit(j job) bool {
	select {
	case p.jobs <- j:
		return true
	default:
		return false
	}
}

// queued returns the number of jobs waiting for a worker.
func (p *workerPool) queued() int {
	return len(p.jobs)
}

// abandon makes workers skip every job they have not started yet. Jobs
// already running are not interrupted.
func (p *workerPool) abandon() {
	p.stopOnce.Do(func() { close(p.stopping) })
}

func (p *workerPool) abandoned() bool {
	select {
	case <-p.stopping:
		return true
	default:
		return false
	}
}

// close signals that no more jobs will be submitted, then waits for all
// workers to finish and closes the results channel.
func (p *workerPool) close() {
	close(p.jobs)
	p.wg.Wait()
	close(p.results)
}
