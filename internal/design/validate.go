package design

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/jjtimmons/pcrdesign/internal/metrics"
	"github.com/jjtimmons/pcrdesign/internal/primer"
)

// validate runs in-silico PCR for each pair, a few at a time. The result has an entry
// per pair, in order: the Candidate if the pair gave exactly one product, otherwise nil.
// A pair whose query fails is excluded rather than failing the round
func (d *Designer) validate(ctx context.Context, pcr PCR, pairs []primer.Pair) ([]*Candidate, error) {
	workers := d.Workers
	if workers < 1 {
		workers = 1
	}

	results := make([]*Candidate, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, pair := range pairs {
		i, pair := i, pair
		g.Go(func() error {
			resp, err := pcr.Call(gctx, pair)
			switch {
			case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
				return err
			case err != nil:
				metrics.PCRQueries.WithLabelValues("failed").Inc()
				d.logger().Warn("excluding pair after failed pcr", "forward", pair.Forward.Seq, "reverse", pair.Reverse.Seq, "error", err)
			case resp.Count() == 0:
				metrics.PCRQueries.WithLabelValues("none").Inc()
			case !resp.Specific():
				metrics.PCRQueries.WithLabelValues("ambiguous").Inc()
			default:
				metrics.PCRQueries.WithLabelValues("specific").Inc()
				results[i] = &Candidate{Pair: pair, Amplicon: resp.Amplicons[0]}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
