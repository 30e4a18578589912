// Package design finds primer pairs that amplify a single product from a
// target's homologs.
//
// The target is screened against a BLAST database, the homologs it hits are
// gathered into a reference for gfServer, and candidate pairs from primer3 are
// kept only if they amplify exactly one product from that reference. When too
// few candidates pass, primer3 is asked for twice as many and only the new
// ones are checked.
package design

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jjtimmons/pcrdesign/config"
	"github.com/jjtimmons/pcrdesign/internal/blast"
	"github.com/jjtimmons/pcrdesign/internal/fasta"
	"github.com/jjtimmons/pcrdesign/internal/gfserver"
	"github.com/jjtimmons/pcrdesign/internal/metrics"
	"github.com/jjtimmons/pcrdesign/internal/primer"
	"github.com/jjtimmons/pcrdesign/internal/primer3"
)

var (
	// ErrAlignmentFailed is returned when screening the target against the database fails
	ErrAlignmentFailed = errors.New("alignment failed")

	// ErrInsufficientPrimers is returned with a partial Result when fewer pairs
	// than requested were found before the pool stopped growing
	ErrInsufficientPrimers = errors.New("insufficient primers")
)

// Aligner runs BLAST jobs to completion. *blast.Runner satisfies it
type Aligner interface {
	Align(ctx context.Context, p blast.Params) (*blast.Job, error)
}

// Resolver gets the FASTA records of accessions. *blast.Resolver satisfies it
type Resolver interface {
	Resolve(ctx context.Context, accessions ...string) (string, error)
}

// Generator creates ranked primer pairs for a sequence. *primer3.Generator satisfies it
type Generator interface {
	Generate(ctx context.Context, rec fasta.Record, n int) (primer3.Output, error)
}

// PCR is an in-silico PCR server. *gfserver.Server satisfies it
type PCR interface {
	Start(ctx context.Context, referenceFasta string) error
	Call(ctx context.Context, pair primer.Pair) (*gfserver.Response, error)
	Stop(ctx context.Context) error
}

// Request is a single design
type Request struct {
	// Target is a FASTA record, a bare sequence or the path to a FASTA file
	Target string `json:"target" yaml:"target"`

	// Pairs is the number of primer pairs wanted
	Pairs int `json:"pairs" yaml:"pairs"`

	// Database to screen the target against. The configured default if empty
	Database string `json:"database,omitempty" yaml:"database,omitempty"`

	// PoolSize is the number of pairs requested from primer3 in the first round.
	// The configured default if zero
	PoolSize int `json:"pool_size,omitempty" yaml:"pool_size,omitempty"`

	// Audit BLASTs each primer of the resulting pairs for off-target hits
	Audit bool `json:"audit,omitempty" yaml:"audit,omitempty"`
}

// Candidate is a validated primer pair
type Candidate struct {
	primer.Pair `yaml:",inline"`

	// Amplicon is the single product of the pair in the reference
	Amplicon gfserver.Amplicon `json:"amplicon" yaml:"amplicon"`

	// OffTargets are accessions where either primer is likely to anneal.
	// Only set when the design was audited
	OffTargets []string `json:"off_targets,omitempty" yaml:"off_targets,omitempty"`
}

// Result is the outcome of a design
type Result struct {
	// Target's name. In >example_CDS FASTA its "example_CDS"
	Target string `json:"target" yaml:"target"`

	// Database the target was screened against
	Database string `json:"database" yaml:"database"`

	// JobID of the screening BLAST job
	JobID string `json:"job_id" yaml:"job_id"`

	// Hits are the accessions of the target's homologs
	Hits []string `json:"hits" yaml:"hits"`

	// Pairs that amplify exactly one product, best ranked first
	Pairs []Candidate `json:"pairs" yaml:"pairs"`

	// Screened is the number of unique candidates checked
	Screened int `json:"screened" yaml:"screened"`

	// Iterations is the number of rounds of primer generation
	Iterations int `json:"iterations" yaml:"iterations"`

	// Time, ex: "2018/01/01 20:41:00"
	Time string `json:"time" yaml:"time"`

	// Execution is the number of seconds the design took
	Execution float64 `json:"execution" yaml:"execution"`
}

// Designer runs designs
type Designer struct {
	// Aligner and Resolver are used with the default database
	Aligner  Aligner
	Resolver Resolver

	// Database is the name of the default database
	Database string

	// Databases returns the Aligner and Resolver for another database.
	// If nil, every request uses the defaults
	Databases func(db string) (Aligner, Resolver)

	Generator Generator

	// NewPCR creates the in-silico PCR server for a design
	NewPCR func() PCR

	// DataDir is where the reference FASTA files are written
	DataDir string

	// PoolSize is the default size of the first round
	PoolSize int

	// MaxIterations is the maximum number of rounds of primer generation
	MaxIterations int

	// Workers is the number of concurrent pcr queries
	Workers int

	Logger *slog.Logger
}

// New creates a Designer from the configured BLAST, primer3 and gfServer settings
func New(c *config.Config, runner *blast.Runner, resolver *blast.Resolver, gen *primer3.Generator, newPCR func() *gfserver.Server, logger *slog.Logger) *Designer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Designer{
		Aligner:  runner,
		Resolver: resolver,
		Database: c.Blast.Database,
		Databases: func(db string) (Aligner, Resolver) {
			return runner.WithDatabase(c.Blast.DatabaseDir, db), resolver.WithDatabase(c.Blast.DatabaseDir, db)
		},
		Generator:     gen,
		NewPCR:        func() PCR { return newPCR() },
		DataDir:       c.Design.DataDir,
		PoolSize:      c.Design.PoolSize,
		MaxIterations: c.Design.MaxIterations,
		Workers:       c.Design.Workers,
		Logger:        logger,
	}
}

// Design finds up to req.Pairs primer pairs that are specific to the target's homologs.
//
// If fewer pairs were found when the pool stops growing, the partial Result is
// returned along with ErrInsufficientPrimers
func (d *Designer) Design(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if req.Pairs < 1 {
		return nil, fmt.Errorf("%w: primer pairs need to be at least 1", blast.ErrInvalidParameter)
	}
	poolSize := req.PoolSize
	if poolSize < 1 {
		poolSize = d.PoolSize
	}
	if poolSize < 1 {
		return nil, fmt.Errorf("%w: pool size needs to be at least 1", blast.ErrInvalidParameter)
	}

	rec, err := readTarget(req.Target)
	if err != nil {
		return nil, err
	}

	aligner, resolver := d.Aligner, d.Resolver
	database := d.Database
	if req.Database != "" && d.Databases != nil {
		aligner, resolver = d.Databases(req.Database)
		database = req.Database
	}

	result := &Result{Target: rec.ID, Database: database}

	// screen the target for its homologs
	reference, err := d.screen(ctx, aligner, resolver, rec, result)
	if err != nil {
		return nil, err
	}

	pcr := d.NewPCR()
	if err := pcr.Start(ctx, reference); err != nil {
		return nil, fmt.Errorf("failed to start in-silico PCR server: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pcr.Stop(stopCtx); err != nil {
			d.logger().Warn("failed to stop in-silico PCR server", "error", err)
		}
	}()

	valid, err := d.search(ctx, pcr, rec, req.Pairs, poolSize, result)
	if err != nil {
		return nil, err
	}

	if len(valid) > req.Pairs {
		valid = valid[:req.Pairs]
	}
	result.Pairs = valid

	if req.Audit {
		d.audit(ctx, aligner, result.Pairs)
	}

	t := time.Now()
	result.Time = fmt.Sprintf(
		"%d/%02d/%02d %02d:%02d:%02d",
		t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(),
	)
	result.Execution = time.Since(start).Seconds()

	if len(result.Pairs) < req.Pairs {
		return result, fmt.Errorf(
			"%w: found %d of %d pairs after %d rounds and %d candidates",
			ErrInsufficientPrimers, len(result.Pairs), req.Pairs, result.Iterations, result.Screened,
		)
	}
	return result, nil
}

// screen BLASTs the target and writes the sequences of its hits to a reference FASTA file.
// If there are no hits, the target itself is the reference
func (d *Designer) screen(ctx context.Context, aligner Aligner, resolver Resolver, rec fasta.Record, result *Result) (string, error) {
	job, err := aligner.Align(ctx, blast.Params{"sequence": rec.String(), "outfmt": "5"})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAlignmentFailed, err)
	}
	result.JobID = job.ID
	if job.Failed() {
		return "", fmt.Errorf("%w: BLAST failed with error: %s", ErrAlignmentFailed, job.Stderr())
	}

	hits, err := blast.Hits(job.Stdout())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAlignmentFailed, err)
	}
	result.Hits = hits

	reference := rec.String()
	if len(hits) > 0 {
		if reference, err = resolver.Resolve(ctx, hits...); err != nil {
			return "", err
		}
	} else {
		d.logger().Warn("target has no hits, using it as the reference", "target", rec.ID)
	}

	dir := filepath.Join(d.DataDir, "input")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory %s: %v", dir, err)
	}
	path := filepath.Join(dir, job.ID+".fa")
	if err := os.WriteFile(path, []byte(reference), 0644); err != nil {
		return "", fmt.Errorf("failed to write reference %s: %v", path, err)
	}

	d.logger().Info("screened target", "target", rec.ID, "job", job.ID, "hits", len(hits), "reference", path)
	return path, nil
}

// search grows the candidate pool until enough pairs are specific, the rounds run
// out, or primer3 stops returning new pairs. Only new candidates are checked each round
func (d *Designer) search(ctx context.Context, pcr PCR, rec fasta.Record, want, poolSize int, result *Result) ([]Candidate, error) {
	maxIterations := d.MaxIterations
	if maxIterations < 1 {
		maxIterations = 1
	}

	pool := primer.NewPool(poolSize)
	valid := primer.NewSet()
	var candidates []Candidate

	for valid.Len() < want && result.Iterations < maxIterations {
		result.Iterations++
		metrics.DesignIterations.Inc()

		out, err := d.Generator.Generate(ctx, rec, pool.Size)
		if err != nil {
			return nil, err
		}
		pairs, err := out.Pairs(0)
		if err != nil {
			return nil, err
		}

		added := pool.Extend(pairs)
		result.Screened = pool.Len()
		d.logger().Debug("generated candidates", "round", result.Iterations, "requested", pool.Size, "returned", len(pairs), "new", len(added))
		if len(added) == 0 {
			d.logger().Info("primer3 returned no new pairs", "target", rec.ID, "round", result.Iterations)
			break
		}

		checked, err := d.validate(ctx, pcr, added)
		if err != nil {
			return nil, err
		}
		for _, c := range checked {
			if c != nil && valid.Add(c.Pair) {
				candidates = append(candidates, *c)
			}
		}

		pool.Grow()
	}

	return candidates, nil
}

// readTarget parses the target from a file, a FASTA record or a bare sequence
func readTarget(target string) (fasta.Record, error) {
	contents := target
	if info, err := os.Stat(target); err == nil && !info.IsDir() {
		dat, err := os.ReadFile(target)
		if err != nil {
			return fasta.Record{}, fmt.Errorf("failed to read target %s: %v", target, err)
		}
		contents = string(dat)
	}

	rec, err := fasta.ParseOne(contents, "target")
	if err != nil {
		return fasta.Record{}, fmt.Errorf("%w: %v", blast.ErrInvalidParameter, err)
	}
	if rec.Seq == "" {
		return fasta.Record{}, fmt.Errorf("%w: target %s has no sequence", blast.ErrInvalidParameter, rec.ID)
	}
	return rec, nil
}

func (d *Designer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
