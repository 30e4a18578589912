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

	"github.com/jjtimmons/pcrdesign/config"
	"github.com/jjtimmons/pcrdesign/internal/command"
)

// Resolver queries a BLAST database for the sequences of accessions with blastdbcmd
type Resolver struct {
	// Executable is the path to blastdbcmd
	Executable string

	// Database is the path to the BLAST database
	Database string

	// TmpDir is where the entry batch files are written
	TmpDir string

	Cmd    command.Runner
	Logger *slog.Logger
}

// NewResolver creates a Resolver against the configured default database
func NewResolver(c *config.Config, cmd command.Runner, logger *slog.Logger) *Resolver {
	if cmd == nil {
		cmd = command.Exec{}
	}
	return &Resolver{
		Executable: c.Blast.Blastdbcmd,
		Database:   DatabasePath(c.Blast.DatabaseDir, c.Blast.Database),
		TmpDir:     c.Blast.TmpDir,
		Cmd:        cmd,
		Logger:     logger,
	}
}

// WithDatabase returns a Resolver against db
func (r *Resolver) WithDatabase(dir, db string) *Resolver {
	if db == "" {
		return r
	}
	c := *r
	c.Database = DatabasePath(dir, db)
	return &c
}

// Resolve returns the FASTA records of the accessions. A single argument
// may hold several accessions separated by semicolons
func (r *Resolver) Resolve(ctx context.Context, accessions ...string) (string, error) {
	var entries string
	if len(accessions) == 1 {
		entries = strings.ReplaceAll(accessions[0], ";", "\n")
	} else {
		entries = strings.Join(accessions, "\n")
	}
	if strings.TrimSpace(entries) == "" {
		return "", fmt.Errorf("%w: no accessions", ErrLookupFailed)
	}

	// -entry_batch with a file rather than -entry, which trips on ids with pipes
	batch, err := r.batchFile(entries)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.Remove(batch); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.logger().Warn("failed to remove batch file", "path", batch, "error", err)
		}
	}()

	res, err := r.Cmd.Run(ctx, nil, r.Executable, "-db", r.Database, "-entry_batch", batch)
	if err != nil {
		return "", fmt.Errorf("%w: failed to execute blastdbcmd: %v", ErrExternalTool, err)
	}

	if strings.TrimSpace(res.Stderr) != "" || strings.HasPrefix(res.Stdout, "Error:") {
		return "", fmt.Errorf("%w: %s", ErrLookupFailed, strings.TrimSpace(res.Stderr+res.Stdout))
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%w: blastdbcmd exit status %d", ErrLookupFailed, res.ExitCode)
	}

	return res.Stdout, nil
}

// ResolveMany resolves each accession separately. Identical responses are
// only kept once, in the order they were first seen
func (r *Resolver) ResolveMany(ctx context.Context, accessions []string) ([]string, error) {
	seen := make(map[string]bool)
	var results []string
	for _, acc := range accessions {
		out, err := r.Resolve(ctx, acc)
		if err != nil {
			return nil, err
		}
		if seen[out] {
			continue
		}
		seen[out] = true
		results = append(results, out)
	}
	return results, nil
}

// batchFile writes entries to a new file in the tmp dir. The name is retried until
// it doesn't collide with an existing file
func (r *Resolver) batchFile(entries string) (string, error) {
	dir := r.TmpDir
	if dir == "" {
		dir = os.TempDir()
	}

	for {
		path := filepath.Join(dir, "blastdbcmd_"+NewID())
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create batch file in %s: %v", dir, err)
		}

		_, err = f.WriteString(entries + "\n")
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return "", fmt.Errorf("failed to write batch file %s: %v", path, err)
		}
		return path, nil
	}
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
