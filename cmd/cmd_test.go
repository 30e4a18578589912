package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjtimmons/pcrdesign/internal/design"
	"github.com/jjtimmons/pcrdesign/internal/gfserver"
	"github.com/jjtimmons/pcrdesign/internal/primer"
)

func TestCommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range RootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"blast", "nucleotide", "design", "serve", "cache", "docs"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestSummarize(t *testing.T) {
	var buf bytes.Buffer
	summarize(&buf, &design.Result{
		Target:     "target_1",
		Database:   "nt",
		Hits:       []string{"NM_000001", "NM_000002"},
		Screened:   8,
		Iterations: 2,
		Pairs: []design.Candidate{{
			Pair: primer.Pair{
				Forward: primer.Primer{Seq: "GCTGAAGATCTCTTCTTCTCA", GC: 42.9, Tm: 58.1},
				Reverse: primer.Primer{Seq: "TCAACCACTGCCATTTTTAAG", GC: 38.1, Tm: 57.6},
				Penalty: 0.51,
			},
			Amplicon:   gfserver.Amplicon{Name: "NM_000001", Start: 100, End: 700},
			OffTargets: []string{"NM_000009"},
		}},
	})

	out := buf.String()
	assert.Contains(t, out, "target_1: 2 hits in nt, 8 candidates over 2 rounds")
	assert.Contains(t, out, "forward  GCTGAAGATCTCTTCTTCTCA")
	assert.Contains(t, out, "NM_000001:100-700")
	assert.Contains(t, out, "NM_000009")

	buf.Reset()
	summarize(&buf, &design.Result{Target: "target_1"})
	assert.Contains(t, buf.String(), "no specific pairs found")
}

func TestDocs(t *testing.T) {
	dir := t.TempDir()
	RootCmd.SetArgs([]string{"docs", dir})
	t.Cleanup(func() { RootCmd.SetArgs(nil) })
	require.NoError(t, RootCmd.Execute())

	page, err := os.ReadFile(filepath.Join(dir, "pcrdesign_cache_stats.md"))
	require.NoError(t, err)
	assert.Contains(t, string(page), "grand_parent: pcrdesign")

	page, err = os.ReadFile(filepath.Join(dir, "pcrdesign.md"))
	require.NoError(t, err)
	assert.Contains(t, string(page), "permalink: /")
}

func TestLinkHandler(t *testing.T) {
	assert.Equal(t, "/", linkHandler("pcrdesign.md"))
	assert.Equal(t, "pcrdesign_design", linkHandler("docs/pcrdesign_design.md"))
}
