// Package registry tracks submitted BLAST jobs and runs them on a bounded pool of workers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/jjtimmons/pcrdesign/internal/blast"
)

// ErrJobNotFound is returned for job ids that were never submitted
var ErrJobNotFound = errors.New("job not found")

// Runner executes a job. *blast.Runner satisfies it
type Runner interface {
	Run(ctx context.Context, job *blast.Job, p blast.Params, opts blast.RunOptions) (string, error)
}

// Registry owns submitted jobs and the workers that run them.
// At most the configured number of jobs run at once; the rest wait for a slot
type Registry struct {
	runner Runner
	sem    *semaphore.Weighted
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	jobs map[string]*blast.Job
}

// New creates a registry that runs up to workers jobs at a time
func New(runner Runner, workers int, logger *slog.Logger) *Registry {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		runner: runner,
		sem:    semaphore.NewWeighted(int64(workers)),
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*blast.Job),
	}
}

// Submit registers a job for p and returns its id without waiting for it to run
func (r *Registry) Submit(p blast.Params, opts blast.RunOptions) (string, error) {
	if err := r.ctx.Err(); err != nil {
		return "", fmt.Errorf("registry is closed: %w", err)
	}

	job := blast.NewJob(p.JobID())

	r.mu.Lock()
	if _, ok := r.jobs[job.ID]; ok {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: job %s already exists", blast.ErrInvalidParameter, job.ID)
	}
	r.jobs[job.ID] = job
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			r.log.Warn("job was not run", "job", job.ID, "error", err)
			job.Abandon(err)
			return
		}
		defer r.sem.Release(1)

		if _, err := r.runner.Run(r.ctx, job, p, opts); err != nil {
			r.log.Warn("job failed to run", "job", job.ID, "error", err)
		}
	}()

	return job.ID, nil
}

// Get returns the job with id
func (r *Registry) Get(id string) (*blast.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

// Wait blocks until the job with id is done or ctx ends
func (r *Registry) Wait(ctx context.Context, id string) (*blast.Job, error) {
	job, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return job, job.Wait(ctx)
}

// Len is the number of submitted jobs
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Close cancels running jobs and waits for the workers to return
func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
}
