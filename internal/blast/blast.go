package blast

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jjtimmons/pcrdesign/config"
	"github.com/jjtimmons/pcrdesign/internal/cache"
	"github.com/jjtimmons/pcrdesign/internal/command"
	"github.com/jjtimmons/pcrdesign/internal/metrics"
)

// RunOptions are per-job switches for Runner.Run
type RunOptions struct {
	// UseCache reads and writes the result cache
	UseCache bool

	// QueryIsFile means the "sequence" parameter is a path to a FASTA file
	QueryIsFile bool

	// DeleteQueryFile removes the caller's query file after the run
	DeleteQueryFile bool
}

// Runner executes blastn jobs. Identical searches are collapsed: while one
// is running, others with the same key wait on it rather than starting a process
type Runner struct {
	builder  Builder
	queryDir string
	cache    cache.Store
	cmd      command.Runner
	log      *slog.Logger
	flight   *singleflight.Group
}

// NewRunner creates a Runner against the configured default database.
// store may be nil, which disables caching
func NewRunner(c *config.Config, store cache.Store, cmd command.Runner, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cmd == nil {
		cmd = command.Exec{}
	}

	return &Runner{
		builder: Builder{
			Executable:    c.Blast.Executable,
			Database:      DatabasePath(c.Blast.DatabaseDir, c.Blast.Database),
			ShortSequence: c.Blast.ShortSequence,
			NumThreads:    c.Blast.NumThreads,
			OutFmt:        c.Blast.OutFmt,
			Logger:        logger,
		},
		queryDir: c.Blast.QueryDir,
		cache:    store,
		cmd:      cmd,
		log:      logger,
		flight:   &singleflight.Group{},
	}
}

// DatabasePath returns db if it's an existing or absolute path, otherwise db within dir
func DatabasePath(dir, db string) string {
	if _, err := os.Stat(db); err == nil || filepath.IsAbs(db) {
		return db
	}
	return filepath.Join(dir, db)
}

// WithDatabase returns a Runner that searches db. It shares the cache and in-flight searches with r
func (r *Runner) WithDatabase(dir, db string) *Runner {
	if db == "" {
		return r
	}
	c := *r
	c.builder.Database = DatabasePath(dir, db)
	return &c
}

// Database is the path to the database searched
func (r *Runner) Database() string {
	return r.builder.Database
}

// Build validates p and creates its invocation without running it
func (r *Runner) Build(p Params, queryIsFile bool) (*Invocation, error) {
	return r.builder.Build(p, queryIsFile)
}

// Align creates a job for p, runs it with the cache enabled and returns it finished
func (r *Runner) Align(ctx context.Context, p Params) (*Job, error) {
	job := NewJob(p.JobID())
	if _, err := r.Run(ctx, job, p, RunOptions{UseCache: r.cache != nil}); err != nil {
		return job, err
	}
	return job, nil
}

// outcome is the shared result of a flight
type outcome struct {
	stdout string
	stderr string
	cached bool
}

// Run executes the job and returns its id. Validation failures and processes that
// could not be started are returned as errors and leave the job unfinished.
// Processes that ran but wrote to stderr finish the job with Failed() true
func (r *Runner) Run(ctx context.Context, job *Job, p Params, opts RunOptions) (string, error) {
	if p.JobID() == "" {
		p = p.Clone()
		p["job_id"] = job.ID
	}

	inv, err := r.builder.Build(p, opts.QueryIsFile)
	if err != nil {
		job.Abandon(err)
		return job.ID, err
	}

	queryPath := inv.QueryPath
	if !opts.QueryIsFile {
		if queryPath, err = r.writeQuery(inv); err != nil {
			job.Abandon(err)
			return job.ID, err
		}
	}
	if opts.QueryIsFile && opts.DeleteQueryFile {
		defer r.removeQuery(queryPath)
	}

	var out *outcome
	if opts.UseCache && r.cache != nil {
		out, err = r.runShared(ctx, job, inv, queryPath)
	} else {
		out, err = r.execute(ctx, job, inv, queryPath)
	}
	if err != nil {
		job.Abandon(err)
		return job.ID, err
	}

	if out.stderr != "" {
		metrics.BlastErrors.Inc()
		r.log.Warn("blastn wrote to stderr", "job", job.ID, "stderr", strings.TrimSpace(out.stderr))
	}
	job.finish(out.stdout, out.stderr, out.cached)
	return job.ID, nil
}

// runShared runs the invocation in the flight for its cache key. The cache is
// checked inside the flight, so a caller arriving after the leader has stored
// its result reads it instead of starting another process
func (r *Runner) runShared(ctx context.Context, job *Job, inv *Invocation, queryPath string) (*outcome, error) {
	key := inv.Key()

	for {
		ch := r.flight.DoChan(key, func() (interface{}, error) {
			entry, err := r.cache.Lookup(ctx, key)
			if err != nil {
				r.log.Warn("failed to read result cache", "key", key, "error", err)
			}
			if entry != nil {
				r.log.Debug("found cached result", "job", job.ID, "key", key)
				return &outcome{stdout: entry.Stdout, stderr: entry.Stderr, cached: true}, nil
			}

			out, err := r.execute(ctx, job, inv, queryPath)
			if err != nil {
				return nil, err
			}

			// failed runs aren't stored so a transient failure isn't repeated forever
			if out.stderr == "" {
				err := r.cache.Store(ctx, &cache.Entry{
					Key:       key,
					Sequence:  inv.Query,
					Submitted: job.Submitted,
					Status:    string(StatusFinished),
					Stdout:    out.stdout,
					Stderr:    out.stderr,
				})
				if err != nil {
					r.log.Warn("failed to store result", "key", key, "error", err)
				}
			}
			return out, nil
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			// the leader was cancelled, but this caller wasn't: run it again
			if res.Err != nil && res.Shared && isCancellation(res.Err) && ctx.Err() == nil {
				continue
			}
			if res.Err != nil {
				return nil, res.Err
			}

			out := *res.Val.(*outcome)
			switch {
			case out.cached:
				metrics.BlastRuns.WithLabelValues("cached").Inc()
			case res.Shared:
				metrics.BlastRuns.WithLabelValues("shared").Inc()
			}
			return &out, nil
		}
	}
}

// execute starts blastn and waits for it to exit
func (r *Runner) execute(ctx context.Context, job *Job, inv *Invocation, queryPath string) (*outcome, error) {
	argv := inv.Command(queryPath)
	job.setRunning()
	r.log.Debug("running blastn", "job", job.ID, "args", strings.Join(argv, " "))

	start := time.Now()
	res, err := r.cmd.Run(ctx, nil, argv[0], argv[1:]...)
	metrics.BlastDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if isCancellation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to execute blastn: %v", ErrExternalTool, err)
	}
	metrics.BlastRuns.WithLabelValues("executed").Inc()

	stderr := res.Stderr
	if res.ExitCode != 0 && strings.TrimSpace(stderr) == "" {
		stderr = fmt.Sprintf("%s: exit status %d", filepath.Base(argv[0]), res.ExitCode)
	}
	return &outcome{stdout: res.Stdout, stderr: stderr}, nil
}

// writeQuery writes the query to a file named after the job in the query directory
func (r *Runner) writeQuery(inv *Invocation) (string, error) {
	dir := r.queryDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create query directory %s: %v", dir, err)
	}

	path := filepath.Join(dir, "blast_"+inv.JobID+".fa")
	query := inv.Query
	if !strings.HasSuffix(query, "\n") {
		query += "\n"
	}
	if err := os.WriteFile(path, []byte(query), 0644); err != nil {
		return "", fmt.Errorf("failed to write query file %s: %v", path, err)
	}
	return path, nil
}

// removeQuery deletes a caller's query file. Failures are only logged
func (r *Runner) removeQuery(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.log.Warn("failed to remove query file", "path", path, "error", err)
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
