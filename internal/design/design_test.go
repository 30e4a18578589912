package design

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjtimmons/pcrdesign/config"
	"github.com/jjtimmons/pcrdesign/internal/blast"
	"github.com/jjtimmons/pcrdesign/internal/command"
	"github.com/jjtimmons/pcrdesign/internal/command/commandtest"
	"github.com/jjtimmons/pcrdesign/internal/fasta"
	"github.com/jjtimmons/pcrdesign/internal/gfserver"
	"github.com/jjtimmons/pcrdesign/internal/metrics"
	"github.com/jjtimmons/pcrdesign/internal/primer"
	"github.com/jjtimmons/pcrdesign/internal/primer3"
)

const target = ">target_1\nATGGCTGAAGATCTCTTCTTCTCAGGTACCTTAAAAATGGCAGTGGTTGA"

const hitXML = `<?xml version="1.0"?>
<BlastOutput>
  <BlastOutput_iterations>
    <Iteration>
      <Iteration_hits>
        <Hit>
          <Hit_accession>NM_000001</Hit_accession>
        </Hit>
        <Hit>
          <Hit_accession>NM_000002</Hit_accession>
        </Hit>
      </Iteration_hits>
    </Iteration>
  </BlastOutput_iterations>
</BlastOutput>
`

const noHitXML = `<?xml version="1.0"?>
<BlastOutput>
  <BlastOutput_iterations>
    <Iteration>
      <Iteration_hits>
      </Iteration_hits>
    </Iteration>
  </BlastOutput_iterations>
</BlastOutput>
`

// code spells i in five bases
func code(i int) string {
	var sb strings.Builder
	for j := 0; j < 5; j++ {
		sb.WriteByte("ACGT"[i%4])
		i /= 4
	}
	return sb.String()
}

func forward(i int) string { return "GCTGAAGATCTCTTC" + code(i) }
func reverse(i int) string { return "TCAACCACTGCCATT" + code(i) }

// fakeGenerator returns the first n of its max ranked pairs, the way primer3
// returns the same best pairs when asked for more
type fakeGenerator struct {
	max int

	mu       sync.Mutex
	requests []int
}

func (g *fakeGenerator) Generate(ctx context.Context, rec fasta.Record, n int) (primer3.Output, error) {
	g.mu.Lock()
	g.requests = append(g.requests, n)
	g.mu.Unlock()

	if n > g.max {
		n = g.max
	}
	out := primer3.Output{"PRIMER_LEFT_NUM_RETURNED": fmt.Sprint(n)}
	for i := 0; i < n; i++ {
		out[fmt.Sprintf("PRIMER_LEFT_%d_SEQUENCE", i)] = forward(i)
		out[fmt.Sprintf("PRIMER_LEFT_%d_GC_PERCENT", i)] = "50.0"
		out[fmt.Sprintf("PRIMER_RIGHT_%d_SEQUENCE", i)] = reverse(i)
		out[fmt.Sprintf("PRIMER_RIGHT_%d_GC_PERCENT", i)] = "45.0"
		out[fmt.Sprintf("PRIMER_PAIR_%d_PENALTY", i)] = fmt.Sprintf("%d.5", i)
	}
	return out, nil
}

// fakePCR answers pcr queries with the number of products from products
type fakePCR struct {
	products func(p primer.Pair) (int, error)

	mu        sync.Mutex
	reference string
	calls     []primer.Pair
	stopped   bool
}

func (p *fakePCR) Start(ctx context.Context, referenceFasta string) error {
	p.reference = referenceFasta
	return nil
}

func (p *fakePCR) Call(ctx context.Context, pair primer.Pair) (*gfserver.Response, error) {
	p.mu.Lock()
	p.calls = append(p.calls, pair)
	p.mu.Unlock()

	n, err := p.products(pair)
	if err != nil {
		return nil, err
	}
	r := &gfserver.Response{}
	for i := 0; i < n; i++ {
		r.Amplicons = append(r.Amplicons, gfserver.Amplicon{Name: fmt.Sprintf("NM_00000%d", i+1), Start: 100, End: 700, Strand: "+"})
	}
	return r, nil
}

func (p *fakePCR) Stop(ctx context.Context) error {
	p.stopped = true
	return nil
}

func (p *fakePCR) called() []primer.Pair {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]primer.Pair(nil), p.calls...)
}

func specific(primer.Pair) (int, error) { return 1, nil }

// tools answers blastn with screenXML, or with a tabular off-target hit for
// primer queries, and blastdbcmd with a record per accession
func tools(screenXML string) commandtest.Handler {
	return func(ctx context.Context, c commandtest.Call) (*command.Result, error) {
		switch filepath.Base(c.Name) {
		case "blastn":
			query, err := os.ReadFile(commandtest.Flag(c.Args, "-query"))
			if err != nil {
				return nil, err
			}
			rec, err := fasta.ParseOne(string(query), "")
			if err != nil {
				return nil, err
			}
			switch {
			case strings.HasPrefix(rec.ID, "forward_"):
				return &command.Result{Stdout: fmt.Sprintf("NM_000009\t1\t20\t%s\t0\n", rec.Seq)}, nil
			case strings.HasPrefix(rec.ID, "reverse_"):
				// too many mismatches to anneal
				return &command.Result{Stdout: fmt.Sprintf("NM_000008\t40\t21\t%s\t19\n", rec.Seq)}, nil
			}
			return &command.Result{Stdout: screenXML}, nil
		case "blastdbcmd":
			batch, err := os.ReadFile(commandtest.Flag(c.Args, "-entry_batch"))
			if err != nil {
				return nil, err
			}
			var out strings.Builder
			for _, acc := range strings.Fields(string(batch)) {
				out.WriteString(">" + acc + "\nATGGCTGAAGATCTCTTCTTCTCA\n")
			}
			return &command.Result{Stdout: out.String()}, nil
		}
		return nil, fmt.Errorf("unexpected call to %s", c.Name)
	}
}

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

func testDesigner(t *testing.T, fake *commandtest.Fake, gen Generator, pcr PCR) *Designer {
	t.Helper()
	c := testConfig(t)
	return &Designer{
		Aligner:       blast.NewRunner(c, nil, fake, nil),
		Resolver:      blast.NewResolver(c, fake, nil),
		Database:      "nt",
		Generator:     gen,
		NewPCR:        func() PCR { return pcr },
		DataDir:       t.TempDir(),
		PoolSize:      4,
		MaxIterations: 6,
		Workers:       2,
	}
}

func TestDesigner_Design(t *testing.T) {
	fake := &commandtest.Fake{Handler: tools(hitXML)}
	gen := &fakeGenerator{max: 100}
	pcr := &fakePCR{products: specific}
	d := testDesigner(t, fake, gen, pcr)

	result, err := d.Design(context.Background(), Request{Target: target, Pairs: 2})
	require.NoError(t, err)

	assert.Equal(t, "target_1", result.Target)
	assert.Equal(t, "nt", result.Database)
	assert.NotEmpty(t, result.JobID)
	assert.Equal(t, []string{"NM_000001", "NM_000002"}, result.Hits)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, 4, result.Screened)
	assert.NotEmpty(t, result.Time)

	// best ranked first
	require.Len(t, result.Pairs, 2)
	assert.Equal(t, forward(0), result.Pairs[0].Forward.Seq)
	assert.Equal(t, reverse(0), result.Pairs[0].Reverse.Seq)
	assert.Equal(t, forward(1), result.Pairs[1].Forward.Seq)
	assert.Equal(t, "NM_000001", result.Pairs[0].Amplicon.Name)
	assert.Empty(t, result.Pairs[0].OffTargets)

	// the reference is the hits' records, in the data directory
	assert.Equal(t, filepath.Join(d.DataDir, "input", result.JobID+".fa"), pcr.reference)
	ref, err := fasta.Read(pcr.reference)
	require.NoError(t, err)
	require.Len(t, ref, 2)
	assert.Equal(t, "NM_000001", ref[0].ID)

	assert.True(t, pcr.stopped)
	assert.Equal(t, []int{4}, gen.requests)
}

func TestDesigner_Design_insufficient(t *testing.T) {
	fake := &commandtest.Fake{Handler: tools(hitXML)}
	gen := &fakeGenerator{max: 8}
	pcr := &fakePCR{products: func(p primer.Pair) (int, error) {
		switch p.Forward.Seq {
		case forward(0):
			return 1, nil
		case forward(1):
			return 3, nil
		}
		return 0, nil
	}}
	d := testDesigner(t, fake, gen, pcr)
	d.PoolSize = 2

	specificBefore := testutil.ToFloat64(metrics.PCRQueries.WithLabelValues("specific"))
	ambiguousBefore := testutil.ToFloat64(metrics.PCRQueries.WithLabelValues("ambiguous"))
	noneBefore := testutil.ToFloat64(metrics.PCRQueries.WithLabelValues("none"))

	result, err := d.Design(context.Background(), Request{Target: target, Pairs: 2})
	assert.ErrorIs(t, err, ErrInsufficientPrimers)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PCRQueries.WithLabelValues("specific"))-specificBefore)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PCRQueries.WithLabelValues("ambiguous"))-ambiguousBefore)
	assert.Equal(t, 6.0, testutil.ToFloat64(metrics.PCRQueries.WithLabelValues("none"))-noneBefore)

	// the partial result is returned
	require.NotNil(t, result)
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, forward(0), result.Pairs[0].Forward.Seq)
	assert.Equal(t, 8, result.Screened)

	// 2, 4 and 8 pairs added new candidates, 16 returned the same 8
	assert.Equal(t, []int{2, 4, 8, 16}, gen.requests)
	assert.Equal(t, 4, result.Iterations)

	// each candidate went through pcr exactly once
	seen := primer.NewSet()
	for _, p := range pcr.called() {
		assert.True(t, seen.Add(p), "validated %s twice", p)
	}
	assert.Equal(t, 8, seen.Len())
	assert.True(t, pcr.stopped)
}

func TestDesigner_Design_maxIterations(t *testing.T) {
	fake := &commandtest.Fake{Handler: tools(hitXML)}
	gen := &fakeGenerator{max: 1000}
	pcr := &fakePCR{products: func(primer.Pair) (int, error) { return 0, nil }}
	d := testDesigner(t, fake, gen, pcr)
	d.PoolSize = 2
	d.MaxIterations = 3

	result, err := d.Design(context.Background(), Request{Target: target, Pairs: 1})
	assert.ErrorIs(t, err, ErrInsufficientPrimers)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, []int{2, 4, 8}, gen.requests)
	assert.Len(t, pcr.called(), 8)
	assert.Empty(t, result.Pairs)
}

func TestDesigner_Design_pcrFailureExcludesPair(t *testing.T) {
	fake := &commandtest.Fake{Handler: tools(hitXML)}
	gen := &fakeGenerator{max: 100}
	pcr := &fakePCR{products: func(p primer.Pair) (int, error) {
		if p.Forward.Seq == forward(0) {
			return 0, gfserver.ErrRetriesExhausted
		}
		return 1, nil
	}}
	d := testDesigner(t, fake, gen, pcr)

	result, err := d.Design(context.Background(), Request{Target: target, Pairs: 2})
	require.NoError(t, err)
	require.Len(t, result.Pairs, 2)
	assert.Equal(t, forward(1), result.Pairs[0].Forward.Seq)
	assert.Equal(t, forward(2), result.Pairs[1].Forward.Seq)
}

func TestDesigner_Design_cancelled(t *testing.T) {
	fake := &commandtest.Fake{Handler: tools(hitXML)}
	gen := &fakeGenerator{max: 100}
	pcr := &fakePCR{products: func(primer.Pair) (int, error) { return 0, context.Canceled }}
	d := testDesigner(t, fake, gen, pcr)

	result, err := d.Design(context.Background(), Request{Target: target, Pairs: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
	assert.True(t, pcr.stopped)
}

func TestDesigner_Design_alignmentFailed(t *testing.T) {
	fake := &commandtest.Fake{Handler: func(ctx context.Context, c commandtest.Call) (*command.Result, error) {
		return &command.Result{Stderr: "BLAST Database error: No alias or index file found", ExitCode: 2}, nil
	}}
	gen := &fakeGenerator{max: 100}
	pcr := &fakePCR{products: specific}
	d := testDesigner(t, fake, gen, pcr)

	_, err := d.Design(context.Background(), Request{Target: target, Pairs: 1})
	assert.ErrorIs(t, err, ErrAlignmentFailed)
	assert.Contains(t, err.Error(), "No alias or index file")
	assert.Empty(t, pcr.reference, "pcr server shouldn't start")
	assert.Empty(t, gen.requests)
}

func TestDesigner_Design_noHits(t *testing.T) {
	fake := &commandtest.Fake{Handler: tools(noHitXML)}
	gen := &fakeGenerator{max: 100}
	pcr := &fakePCR{products: specific}
	d := testDesigner(t, fake, gen, pcr)

	result, err := d.Design(context.Background(), Request{Target: target, Pairs: 1})
	require.NoError(t, err)
	assert.Empty(t, result.Hits)
	assert.Equal(t, 0, fake.Count("blastdbcmd"))

	// the target is its own reference
	ref, err := fasta.Read(pcr.reference)
	require.NoError(t, err)
	require.Len(t, ref, 1)
	assert.Equal(t, "target_1", ref[0].ID)
}

func TestDesigner_Design_audit(t *testing.T) {
	fake := &commandtest.Fake{Handler: tools(hitXML)}
	gen := &fakeGenerator{max: 100}
	pcr := &fakePCR{products: specific}
	d := testDesigner(t, fake, gen, pcr)

	result, err := d.Design(context.Background(), Request{Target: target, Pairs: 2, Audit: true})
	require.NoError(t, err)
	require.Len(t, result.Pairs, 2)

	// only the forward primer's hit is likely to anneal
	for _, c := range result.Pairs {
		assert.Equal(t, []string{"NM_000009"}, c.OffTargets)
	}

	// one screen and two primers per pair
	assert.Equal(t, 5, fake.Count("blastn"))
}

func TestDesigner_Design_targetFile(t *testing.T) {
	fake := &commandtest.Fake{Handler: tools(hitXML)}
	d := testDesigner(t, fake, &fakeGenerator{max: 100}, &fakePCR{products: specific})

	path := filepath.Join(t.TempDir(), "target.fa")
	require.NoError(t, os.WriteFile(path, []byte(target+"\n"), 0644))

	result, err := d.Design(context.Background(), Request{Target: path, Pairs: 1})
	require.NoError(t, err)
	assert.Equal(t, "target_1", result.Target)
}

func TestDesigner_Design_invalid(t *testing.T) {
	fake := &commandtest.Fake{Handler: tools(hitXML)}
	d := testDesigner(t, fake, &fakeGenerator{max: 100}, &fakePCR{products: specific})

	tests := []struct {
		name string
		req  Request
	}{
		{"no pairs", Request{Target: target}},
		{"no target", Request{Pairs: 1}},
		{"no sequence", Request{Target: ">empty\n", Pairs: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Design(context.Background(), tt.req)
			assert.True(t, errors.Is(err, blast.ErrInvalidParameter), "got %v", err)
		})
	}
	assert.Empty(t, fake.Calls())
}

func TestDesigner_Design_database(t *testing.T) {
	fake := &commandtest.Fake{Handler: tools(hitXML)}
	c := testConfig(t)
	runner := blast.NewRunner(c, nil, fake, nil)
	resolver := blast.NewResolver(c, fake, nil)

	d := testDesigner(t, fake, &fakeGenerator{max: 100}, &fakePCR{products: specific})
	d.Databases = func(db string) (Aligner, Resolver) {
		return runner.WithDatabase(c.Blast.DatabaseDir, db), resolver.WithDatabase(c.Blast.DatabaseDir, db)
	}

	result, err := d.Design(context.Background(), Request{Target: target, Pairs: 1, Database: "refseq_rna"})
	require.NoError(t, err)
	assert.Equal(t, "refseq_rna", result.Database)

	for _, call := range fake.Calls() {
		assert.Equal(t, "/opt/blast/db/refseq_rna", commandtest.Flag(call.Args, "-db"))
	}
}
