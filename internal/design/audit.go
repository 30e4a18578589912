package design

import (
	"context"
	"fmt"
	"sort"

	"github.com/jjtimmons/pcrdesign/internal/blast"
)

// auditFormat is the tabular output needed to judge whether a primer anneals at a hit
const auditFormat = "6 sacc sstart send sseq mismatch"

// audit BLASTs both primers of each pair against the database and records the
// accessions where either would likely anneal. Failures are logged and skipped:
// the audit doesn't change which pairs are returned
func (d *Designer) audit(ctx context.Context, aligner Aligner, candidates []Candidate) {
	for i := range candidates {
		c := &candidates[i]
		offTargets := make(map[string]bool)

		for _, strand := range []struct {
			name string
			seq  string
		}{
			{"forward", c.Forward.Seq},
			{"reverse", c.Reverse.Seq},
		} {
			job, err := aligner.Align(ctx, blast.Params{
				"sequence": fmt.Sprintf(">%s_%d\n%s", strand.name, i, strand.seq),
				"outfmt":   auditFormat,
			})
			if err != nil || job.Failed() {
				d.logger().Warn("failed to audit primer", "primer", strand.seq, "error", err)
				continue
			}

			hits, err := blast.TabularHits(job.Stdout(), auditFormat)
			if err != nil {
				d.logger().Warn("failed to parse audit hits", "primer", strand.seq, "error", err)
				continue
			}
			for _, acc := range blast.OffTargets(hits, len(strand.seq)*3/4) {
				offTargets[acc] = true
			}
		}

		c.OffTargets = c.OffTargets[:0]
		for acc := range offTargets {
			c.OffTargets = append(c.OffTargets, acc)
		}
		sort.Strings(c.OffTargets)
	}
}
