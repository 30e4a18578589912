// Package metrics has the prometheus collectors for BLAST jobs, in-silico PCR
// queries and design runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlastRuns counts finished BLAST jobs by how they were resolved: "executed", "cached" or "shared"
	BlastRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pcrdesign_blast_runs_total",
		Help: "Finished BLAST jobs by source of the result",
	}, []string{"source"})

	// BlastErrors counts BLAST jobs that wrote to stderr
	BlastErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pcrdesign_blast_errors_total",
		Help: "BLAST jobs that finished with diagnostics on stderr",
	})

	// BlastDuration is how long blastn processes ran
	BlastDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pcrdesign_blast_duration_seconds",
		Help:    "Wall time of blastn processes",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	})

	// PCRRetries counts gfServer pcr attempts that were repeated because of stderr output
	PCRRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pcrdesign_pcr_retries_total",
		Help: "gfServer pcr attempts retried after writing to stderr",
	})

	// PCRQueries counts in-silico PCR verdicts: "specific", "none", "ambiguous" or "failed"
	PCRQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pcrdesign_pcr_queries_total",
		Help: "In-silico PCR verdicts for candidate primer pairs",
	}, []string{"verdict"})

	// DesignIterations counts rounds of primer generation in the design loop
	DesignIterations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pcrdesign_design_iterations_total",
		Help: "Primer generation rounds across design runs",
	})
)
