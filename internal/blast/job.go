package blast

import (
	"context"
	"sync"
	"time"
)

// Status is the lifecycle state of a Job
type Status string

const (
	// StatusSubmitted is a job that hasn't started a process or found a cached result
	StatusSubmitted Status = "submitted"

	// StatusRunning is a job whose blastn process is running
	StatusRunning Status = "running"

	// StatusFinished is a job with a result, executed or cached
	StatusFinished Status = "finished"
)

// Job is a single blastn search. Its state only moves forward:
// submitted, then running (skipped on a cache hit), then finished
type Job struct {
	// ID is the opaque identifier of the job
	ID string

	// Submitted is when the job was created
	Submitted time.Time

	mu     sync.RWMutex
	status Status
	failed bool
	cached bool
	stdout string
	stderr string
	err    error

	done chan struct{}
	once sync.Once
}

// NewJob creates a submitted job. An empty id is replaced with a new one
func NewJob(id string) *Job {
	if id == "" {
		id = NewID()
	}
	return &Job{
		ID:        id,
		Submitted: time.Now().UTC(),
		status:    StatusSubmitted,
		done:      make(chan struct{}),
	}
}

// Status returns the job's current state
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Failed is true if the finished job wrote diagnostics to stderr
func (j *Job) Failed() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.failed
}

// Cached is true if the result came from the cache rather than a new process
func (j *Job) Cached() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cached
}

// Stdout is blastn's output, set once the job has finished
func (j *Job) Stdout() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stdout
}

// Stderr is blastn's diagnostics, set once the job has finished
func (j *Job) Stderr() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stderr
}

// Err is the reason a job could not be run at all. It's nil for finished jobs,
// including ones that wrote to stderr
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// Done is closed when the job finishes or is abandoned
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job is done or ctx is cancelled
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Job) setRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusSubmitted {
		j.status = StatusRunning
	}
}

// finish records a result. Only the first call has an effect
func (j *Job) finish(stdout, stderr string, cached bool) {
	j.once.Do(func() {
		j.mu.Lock()
		j.status = StatusFinished
		j.stdout = stdout
		j.stderr = stderr
		j.failed = stderr != ""
		j.cached = cached
		j.mu.Unlock()
		close(j.done)
	})
}

// Abandon releases waiters on a job that could not run. Its status stays where it was
func (j *Job) Abandon(err error) {
	j.once.Do(func() {
		j.mu.Lock()
		j.err = err
		j.mu.Unlock()
		close(j.done)
	})
}

// State is a snapshot of a job for display and serialization
type State struct {
	ID     string `json:"job_id" yaml:"job_id"`
	Status Status `json:"status" yaml:"status"`
	Error  bool   `json:"error" yaml:"error"`
	Cached bool   `json:"cached" yaml:"cached"`
	Stdout string `json:"stdout,omitempty" yaml:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// State returns a snapshot of the job
func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s := State{
		ID:     j.ID,
		Status: j.status,
		Error:  j.failed,
		Cached: j.cached,
		Stdout: j.stdout,
		Stderr: j.stderr,
	}
	if j.err != nil {
		s.Error = true
		s.Reason = j.err.Error()
	}
	return s
}
