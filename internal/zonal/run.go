package zonal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/nlcd-county/internal/landcover"
)

// DefaultWorkers is the worker count used when RunOptions.Workers is unset.
const DefaultWorkers = 4

// RunOptions configures Run.
type RunOptions struct {
	Workers          int
	ProgressInterval time.Duration
}

// Run aggregates every county with a bounded pool of workers. Result i
// always belongs to counties[i]. A failing county only degrades its own
// slot; Run returns an error only when ctx is cancelled, along with the
// results gathered so far (unprocessed slots have an empty Outcome).
func Run(ctx context.Context, counties []County, agg *Aggregator, opts RunOptions) ([]Result, error) {
	log := zap.L().With(zap.String("component", "zonal.run"))

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	interval := opts.ProgressInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	results := make([]Result, len(counties))
	total := len(counties)
	var processed, degenerate atomic.Int64
	progress := rate.Sometimes{Interval: interval}

	log.Info("aggregation started",
		zap.Int("counties", total),
		zap.Int("workers", workers),
	)
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(workers)

	for i, c := range counties {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := agg.Aggregate(ctx, c)
			results[i] = res

			n := processed.Add(1)
			if res.Degenerate() {
				degenerate.Add(1)
			}
			progress.Do(func() {
				log.Info("aggregation progress",
					zap.Int64("processed", n),
					zap.Int("total", total),
					zap.Int64("degenerate", degenerate.Load()),
				)
			})
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	if err := ctx.Err(); err != nil {
		return results, eris.Wrap(err, "zonal: run cancelled")
	}

	counts := CountOutcomes(results)
	log.Info("aggregation complete",
		zap.Int("counties", total),
		zap.Int("ok", counts[OutcomeOK]),
		zap.Int("no_data", counts[OutcomeNoData]),
		zap.Int("no_intersection", counts[OutcomeNoIntersection]),
		zap.Int("sampling_failure", counts[OutcomeSamplingFailure]),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results, nil
}

// Records extracts the output table from results, in input order.
func Records(results []Result) []landcover.CountyRecord {
	out := make([]landcover.CountyRecord, len(results))
	for i, r := range results {
		out[i] = r.Record
	}
	return out
}

// CountOutcomes counts results per outcome.
func CountOutcomes(results []Result) map[Outcome]int {
	counts := make(map[Outcome]int, len(Outcomes))
	for _, r := range results {
		counts[r.Outcome]++
	}
	return counts
}

// Failures returns the results whose outcome is not ok, in input order.
func Failures(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Outcome != OutcomeOK && r.Outcome != "" {
			out = append(out, r)
		}
	}
	return out
}
