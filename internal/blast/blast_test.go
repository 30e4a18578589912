package blast

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjtimmons/pcrdesign/config"
	"github.com/jjtimmons/pcrdesign/internal/cache"
	"github.com/jjtimmons/pcrdesign/internal/command"
	"github.com/jjtimmons/pcrdesign/internal/command/commandtest"
)

const hitXML = `<?xml version="1.0"?>
<BlastOutput>
  <BlastOutput_iterations>
    <Iteration>
      <Iteration_hits>
        <Hit>
          <Hit_id>gi|1|ref|NM_000001.1|</Hit_id>
          <Hit_accession>NM_000001</Hit_accession>
        </Hit>
      </Iteration_hits>
    </Iteration>
  </BlastOutput_iterations>
</BlastOutput>
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Blast: config.BlastConfig{
			Executable:    "/opt/blast/bin/blastn",
			Blastdbcmd:    "/opt/blast/bin/blastdbcmd",
			DatabaseDir:   "/opt/blast/db",
			Database:      "nt",
			QueryDir:      t.TempDir(),
			TmpDir:        t.TempDir(),
			ShortSequence: 25,
			NumThreads:    1,
			OutFmt:        "5",
		},
	}
}

func testCache(t *testing.T) *cache.SQLite {
	t.Helper()
	store, err := cache.OpenSQLite(filepath.Join(t.TempDir(), "blast_jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// succeed answers every blastn call with a single hit
func succeed(ctx context.Context, c commandtest.Call) (*command.Result, error) {
	return &command.Result{Stdout: hitXML}, nil
}

func TestRunner_Run(t *testing.T) {
	ctx := context.Background()
	fake := &commandtest.Fake{Handler: succeed}
	r := NewRunner(testConfig(t), testCache(t), fake, nil)

	job := NewJob("")
	assert.Equal(t, StatusSubmitted, job.Status())

	id, err := r.Run(ctx, job, Params{"sequence": ">t\nACGTACGTACGT"}, RunOptions{UseCache: true})
	require.NoError(t, err)
	require.NoError(t, job.Wait(ctx))

	assert.Equal(t, job.ID, id)
	assert.Equal(t, StatusFinished, job.Status())
	assert.NotEmpty(t, job.Stdout())
	assert.Empty(t, job.Stderr())
	assert.False(t, job.Failed())
	assert.False(t, job.Cached())

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "blastn-short", commandtest.Flag(calls[0].Args, "-task"))
	assert.Equal(t, "/opt/blast/db/nt", commandtest.Flag(calls[0].Args, "-db"))

	query, err := os.ReadFile(commandtest.Flag(calls[0].Args, "-query"))
	require.NoError(t, err)
	assert.Equal(t, ">t\nACGTACGTACGT\n", string(query))
}

func TestRunner_Run_idempotent(t *testing.T) {
	ctx := context.Background()
	fake := &commandtest.Fake{Handler: succeed}
	store := testCache(t)
	r := NewRunner(testConfig(t), store, fake, nil)

	first, err := r.Align(ctx, Params{"sequence": "ACGTACGTACGTACGTACGTACGTACGTACGT"})
	require.NoError(t, err)
	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	second, err := r.Align(ctx, Params{"sequence": "ACGTACGTACGTACGTACGTACGTACGTACGT"})
	require.NoError(t, err)
	assert.True(t, second.Cached())
	assert.Equal(t, first.Stdout(), second.Stdout())
	assert.Equal(t, first.Stderr(), second.Stderr())
	assert.Equal(t, 1, fake.Count("blastn"))

	n, err = store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a cache hit doesn't add a row")

	_, err = r.Align(ctx, Params{"sequence": "ACGTACGTACGTACGTACGTACGTACGTACGT", "evalue": "10"})
	require.NoError(t, err)
	_, err = r.Align(ctx, Params{"sequence": "TTTTACGTACGTACGTACGTACGTACGTACGT"})
	require.NoError(t, err)

	n, err = store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, fake.Count("blastn"))
}

func TestRunner_Run_noCache(t *testing.T) {
	ctx := context.Background()
	fake := &commandtest.Fake{Handler: succeed}
	store := testCache(t)
	r := NewRunner(testConfig(t), store, fake, nil)

	for i := 0; i < 2; i++ {
		job := NewJob("")
		_, err := r.Run(ctx, job, Params{"sequence": "ACGTACGT"}, RunOptions{})
		require.NoError(t, err)
		assert.False(t, job.Cached())
	}

	assert.Equal(t, 2, fake.Count("blastn"))
	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunner_Run_concurrent(t *testing.T) {
	ctx := context.Background()
	fake := &commandtest.Fake{Handler: func(ctx context.Context, c commandtest.Call) (*command.Result, error) {
		time.Sleep(50 * time.Millisecond)
		return &command.Result{Stdout: hitXML}, nil
	}}
	r := NewRunner(testConfig(t), testCache(t), fake, nil)

	var wg sync.WaitGroup
	jobs := make([]*Job, 2)
	errs := make([]error, 2)
	for i := range jobs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jobs[i], errs[i] = r.Align(ctx, Params{"sequence": "ACGTACGTACGTACGTACGTACGTACGTACGT"})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, fake.Count("blastn"))
	assert.Equal(t, jobs[0].Stdout(), jobs[1].Stdout())
	assert.NotEqual(t, jobs[0].ID, jobs[1].ID)
}

func TestRunner_Run_failuresNotCached(t *testing.T) {
	ctx := context.Background()
	fake := &commandtest.Fake{Handler: func(ctx context.Context, c commandtest.Call) (*command.Result, error) {
		return &command.Result{Stderr: "BLAST Database error: No alias or index file found\n", ExitCode: 2}, nil
	}}
	store := testCache(t)
	r := NewRunner(testConfig(t), store, fake, nil)

	for i := 0; i < 2; i++ {
		job, err := r.Align(ctx, Params{"sequence": "ACGTACGT"})
		require.NoError(t, err, "a run with diagnostics still finishes")
		assert.Equal(t, StatusFinished, job.Status())
		assert.True(t, job.Failed())
		assert.False(t, job.Cached())
		assert.Contains(t, job.Stderr(), "No alias or index file found")
	}

	assert.Equal(t, 2, fake.Count("blastn"))
	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunner_Run_exitWithoutStderr(t *testing.T) {
	fake := &commandtest.Fake{Handler: func(ctx context.Context, c commandtest.Call) (*command.Result, error) {
		return &command.Result{ExitCode: 3}, nil
	}}
	r := NewRunner(testConfig(t), nil, fake, nil)

	job, err := r.Align(context.Background(), Params{"sequence": "ACGT"})
	require.NoError(t, err)
	assert.True(t, job.Failed())
	assert.Equal(t, "blastn: exit status 3", job.Stderr())
}

func TestRunner_Run_invalid(t *testing.T) {
	fake := &commandtest.Fake{Handler: succeed}
	r := NewRunner(testConfig(t), testCache(t), fake, nil)

	job := NewJob("")
	_, err := r.Run(context.Background(), job, Params{"sequence": "ACGT", "num_threads": "0"}, RunOptions{UseCache: true})
	assert.ErrorIs(t, err, ErrInvalidParameter)
	assert.Equal(t, StatusSubmitted, job.Status())
	assert.ErrorIs(t, job.Wait(context.Background()), ErrInvalidParameter)
	assert.Equal(t, 0, len(fake.Calls()), "no process for invalid parameters")
}

func TestRunner_Run_cannotStart(t *testing.T) {
	fake := &commandtest.Fake{Handler: func(ctx context.Context, c commandtest.Call) (*command.Result, error) {
		return nil, errors.New("exec: \"blastn\": executable file not found in $PATH")
	}}
	r := NewRunner(testConfig(t), nil, fake, nil)

	job, err := r.Align(context.Background(), Params{"sequence": "ACGT"})
	assert.ErrorIs(t, err, ErrExternalTool)
	assert.True(t, job.State().Error)
	assert.NotEqual(t, StatusFinished, job.Status())
}

func TestRunner_Run_cancelled(t *testing.T) {
	fake := &commandtest.Fake{Handler: func(ctx context.Context, c commandtest.Call) (*command.Result, error) {
		return nil, ctx.Err()
	}}
	store := testCache(t)
	r := NewRunner(testConfig(t), store, fake, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, err := r.Align(ctx, Params{"sequence": "ACGT"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEqual(t, StatusFinished, job.Status())

	n, err := store.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunner_Run_queryFile(t *testing.T) {
	ctx := context.Background()
	fake := &commandtest.Fake{Handler: succeed}
	r := NewRunner(testConfig(t), nil, fake, nil)

	tests := []struct {
		name     string
		delete   bool
		wantGone bool
	}{
		{"kept", false, false},
		{"deleted", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "query.fa")
			require.NoError(t, os.WriteFile(path, []byte(">q\nACGTACGTACGT\n"), 0644))

			job := NewJob("")
			_, err := r.Run(ctx, job, Params{"sequence": path}, RunOptions{QueryIsFile: true, DeleteQueryFile: tt.delete})
			require.NoError(t, err)

			calls := fake.Calls()
			assert.Equal(t, path, commandtest.Flag(calls[len(calls)-1].Args, "-query"))

			_, err = os.Stat(path)
			assert.Equal(t, tt.wantGone, os.IsNotExist(err))
		})
	}
}

func TestRunner_WithDatabase(t *testing.T) {
	fake := &commandtest.Fake{Handler: succeed}
	r := NewRunner(testConfig(t), nil, fake, nil)

	other := r.WithDatabase("/opt/blast/db", "refseq_rna")
	assert.Equal(t, "/opt/blast/db/refseq_rna", other.Database())
	assert.Equal(t, "/opt/blast/db/nt", r.Database())
	assert.Equal(t, "/abs/db", r.WithDatabase("/opt/blast/db", "/abs/db").Database())
	assert.Same(t, r, r.WithDatabase("/opt/blast/db", ""))
}
