// Package copypool runs the bounded worker pool that performs file
// copies off the walker's goroutine when a sync is configured for
// parallel transfer. It replaces the reference implementation's OS pipe,
// mutex, and manually strdup'd/freed job structs with a buffered Go
// channel of owned Job values and a sync.WaitGroup.
package copypool

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shrinkwrap-go/shrinkwrap/stats"
)

// Job names a single pool-to-pool copy: read the bytes at Src, write
// them to the pool entry at Dst.
type Job struct {
	Src string
	Dst string
}

// CopyFunc performs the copy named by job, returning the number of bytes
// transferred.
type CopyFunc func(ctx context.Context, job Job) (int64, error)

// Pool is a fixed-size set of worker goroutines draining a shared job
// channel.
type Pool struct {
	jobs     chan Job
	jobWG    sync.WaitGroup
	workerWG sync.WaitGroup
	copyFn   CopyFunc
	stats    *stats.Stats
	retries  int
}

// New starts n worker goroutines that will run copyFn for each enqueued
// Job, retrying a failing job up to retries additional times. Worker 0
// additionally logs a stats snapshot roughly every 10 seconds, following
// the reference implementation's periodic progress report.
func New(ctx context.Context, n, retries int, copyFn CopyFunc, st *stats.Stats) *Pool {
	p := &Pool{
		jobs:    make(chan Job, n*4),
		copyFn:  copyFn,
		stats:   st,
		retries: retries,
	}
	for i := 0; i < n; i++ {
		p.workerWG.Add(1)
		go p.worker(ctx, i)
	}
	return p
}

// Enqueue adds job to the pool, blocking if the internal buffer is full.
func (p *Pool) Enqueue(job Job) {
	p.jobWG.Add(1)
	p.jobs <- job
}

// Wait blocks until every enqueued job has finished (successfully or
// not), replacing the reference implementation's sleep(100ms) poll of an
// in-flight counter.
func (p *Pool) Wait() {
	p.jobWG.Wait()
}

// Close stops accepting new jobs and waits for all workers to exit. Call
// it only after Wait has returned.
func (p *Pool) Close() {
	close(p.jobs)
	p.workerWG.Wait()
}

func (p *Pool) worker(ctx context.Context, idx int) {
	defer p.workerWG.Done()

	if idx != 0 {
		for job := range p.jobs {
			p.runJob(ctx, job)
		}
		return
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.runJob(ctx, job)
		case <-ticker.C:
			log.Print(p.stats.String())
		}
	}
}

func (p *Pool) runJob(ctx context.Context, job Job) {
	defer p.jobWG.Done()

	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		n, err := p.copyFn(ctx, job)
		if err == nil {
			p.stats.AddBytes(n)
			p.stats.IncFilesCopied()
			return
		}
		lastErr = err
	}
	log.Printf("copy %s -> %s failed after %d attempt(s): %s", job.Src, job.Dst, p.retries+1, lastErr)
}
