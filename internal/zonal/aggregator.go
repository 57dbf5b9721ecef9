// Package zonal computes per-county land-cover proportions by sampling a
// categorical raster inside each county polygon.
package zonal

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/nlcd-county/internal/landcover"
)

// Sampler returns the pixel count per raw code for cells whose centers fall
// inside g. Implementations must be safe for concurrent use.
type Sampler interface {
	Sample(ctx context.Context, g geom.T) (landcover.RawTally, error)
}

// SamplerFunc adapts a function to the Sampler interface.
type SamplerFunc func(ctx context.Context, g geom.T) (landcover.RawTally, error)

// Sample calls f.
func (f SamplerFunc) Sample(ctx context.Context, g geom.T) (landcover.RawTally, error) {
	return f(ctx, g)
}

// County is one unit of work: an identifier and a polygon in the raster CRS.
type County struct {
	FIPS     string
	Geometry geom.T
}

// Outcome classifies how a county's record was produced.
type Outcome string

const (
	OutcomeOK              Outcome = "ok"
	OutcomeNoData          Outcome = "no_data"
	OutcomeNoIntersection  Outcome = "no_intersection"
	OutcomeSamplingFailure Outcome = "sampling_failure"
)

// Outcomes lists every outcome in reporting order.
var Outcomes = []Outcome{OutcomeOK, OutcomeNoData, OutcomeNoIntersection, OutcomeSamplingFailure}

// Result is the per-county product of Aggregate. Record is always set;
// for any outcome other than ok it is the all-zero degenerate record.
type Result struct {
	Record       landcover.CountyRecord
	Outcome      Outcome
	Err          error
	ValidPixels  int64
	NodataPixels int64
	Elapsed      time.Duration
}

// Degenerate reports whether the record carries no proportions.
func (r Result) Degenerate() bool {
	return r.Outcome != OutcomeOK
}

// Options configures an Aggregator.
type Options struct {
	// Timeout bounds the sampling of a single county. Zero disables it.
	Timeout time.Duration
}

// Aggregator turns county polygons into CountyRecords. It holds no
// mutable state and may be shared across goroutines.
type Aggregator struct {
	sampler Sampler
	timeout time.Duration
	log     *zap.Logger
}

// NewAggregator creates an Aggregator over the given sampler.
func NewAggregator(sampler Sampler, opts Options) *Aggregator {
	return &Aggregator{
		sampler: sampler,
		timeout: opts.Timeout,
		log:     zap.L().With(zap.String("component", "zonal.aggregate")),
	}
}

// Aggregate samples one county and returns its record. Failures never
// escape: they are logged with the county FIPS and yield the degenerate
// all-zero record.
func (a *Aggregator) Aggregate(ctx context.Context, c County) Result {
	start := time.Now()
	res := a.aggregate(ctx, c)
	res.Elapsed = time.Since(start)

	switch res.Outcome {
	case OutcomeSamplingFailure:
		msg := "county sampling failed"
		if IsTimeout(res.Err) {
			msg = "county sampling timed out"
		}
		a.log.Warn(msg, zap.String("county_fips", c.FIPS), zap.Error(res.Err))
	case OutcomeNoIntersection:
		a.log.Warn("county has no intersecting pixels", zap.String("county_fips", c.FIPS))
	case OutcomeNoData:
		a.log.Warn("county has no valid pixels",
			zap.String("county_fips", c.FIPS),
			zap.Int64("nodata_pixels", res.NodataPixels),
		)
	}
	return res
}

func (a *Aggregator) aggregate(ctx context.Context, c County) Result {
	raw, err := a.sample(ctx, c)
	if err != nil {
		return Result{
			Record:  landcover.DegenerateRecord(c.FIPS),
			Outcome: OutcomeSamplingFailure,
			Err:     &SamplingError{FIPS: c.FIPS, Err: err},
		}
	}
	if raw.Total() == 0 {
		return Result{
			Record:  landcover.DegenerateRecord(c.FIPS),
			Outcome: OutcomeNoIntersection,
			Err:     ErrNoIntersection,
		}
	}

	tally := landcover.Fold(raw)
	res := Result{
		Record:       landcover.NewRecord(c.FIPS, tally),
		Outcome:      OutcomeOK,
		ValidPixels:  tally.TotalValid(),
		NodataPixels: tally.Count(landcover.Nodata),
	}
	if res.ValidPixels == 0 {
		res.Outcome = OutcomeNoData
	}
	return res
}

// sample calls the sampler under the per-county deadline. The call runs in
// its own goroutine so a sampler that ignores its context cannot hold the
// worker past the deadline; a sampler panic is converted into an error.
func (a *Aggregator) sample(ctx context.Context, c County) (landcover.RawTally, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	type sampled struct {
		raw landcover.RawTally
		err error
	}
	done := make(chan sampled, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- sampled{err: eris.New(fmt.Sprintf("zonal: sampler panic: %v", r))}
			}
		}()
		raw, err := a.sampler.Sample(ctx, c.Geometry)
		done <- sampled{raw: raw, err: err}
	}()

	select {
	case s := <-done:
		return s.raw, s.err
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "zonal: sample deadline")
	}
}
