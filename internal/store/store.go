// Package store persists the run ledger: one row per aggregation run, the
// counties that failed in it, and the latest county land-cover table.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/nlcd-county/internal/landcover"
	"github.com/sells-group/nlcd-county/internal/resilience"
	"github.com/sells-group/nlcd-county/internal/zonal"
)

// ErrNotFound is returned when a run or county record does not exist.
var ErrNotFound = eris.New("store: not found")

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one invocation of the aggregation pipeline.
type Run struct {
	ID           string     `json:"id"`
	RasterPath   string     `json:"raster_path"`
	CountySource string     `json:"county_source"`
	Status       RunStatus  `json:"status"`
	RunStats                // counts filled in by CompleteRun
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// RunStats are the outcome counts recorded when a run finishes.
type RunStats struct {
	Counties         int `json:"counties"`
	WithData         int `json:"with_data"`
	Degenerate       int `json:"degenerate"`
	SamplingFailures int `json:"sampling_failures"`
	Flagged          int `json:"flagged"`
}

// Failure is a county that did not produce a proportion record.
type Failure struct {
	RunID     string    `json:"run_id"`
	FIPS      string    `json:"county_fips"`
	Outcome   string    `json:"outcome"`
	ErrorType string    `json:"error_type"` // "transient" or "permanent"
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status RunStatus `json:"status,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}

// Store is the run-ledger persistence interface.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, rasterPath, countySource string) (*Run, error)
	CompleteRun(ctx context.Context, runID string, stats RunStats, runErr error) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// Per-county failures
	RecordFailures(ctx context.Context, runID string, failures []Failure) error
	ListFailures(ctx context.Context, runID string) ([]Failure, error)

	// Output table
	SaveRecords(ctx context.Context, runID string, records []landcover.CountyRecord) error
	ListRecords(ctx context.Context, stateFIPS string) ([]landcover.CountyRecord, error)
	GetRecord(ctx context.Context, fips string) (*landcover.CountyRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the Store for driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLite(dsn)
	case "postgres", "postgresql":
		return NewPostgres(ctx, dsn, 0)
	default:
		return nil, eris.Errorf("store: unknown driver %q (want sqlite or postgres)", driver)
	}
}

// FailuresFromResults converts the non-ok outcomes of a run into ledger
// rows, classifying each error as transient or permanent.
func FailuresFromResults(runID string, results []zonal.Result) []Failure {
	var failures []Failure
	for _, r := range zonal.Failures(results) {
		f := Failure{
			RunID:     runID,
			FIPS:      r.Record.FIPS,
			Outcome:   string(r.Outcome),
			ErrorType: resilience.FailurePermanent,
		}
		if r.Err != nil {
			f.ErrorType = resilience.ClassifyError(r.Err)
			f.Error = r.Err.Error()
		}
		failures = append(failures, f)
	}
	return failures
}

// StatsFromResults counts outcomes for CompleteRun.
func StatsFromResults(results []zonal.Result, report landcover.PartitionReport) RunStats {
	outcomes := zonal.CountOutcomes(results)
	stats := RunStats{
		Counties:         len(results),
		WithData:         outcomes[zonal.OutcomeOK],
		SamplingFailures: outcomes[zonal.OutcomeSamplingFailure],
		Flagged:          report.Flagged,
	}
	for _, r := range results {
		if r.Degenerate() {
			stats.Degenerate++
		}
	}
	return stats
}

// latestByFIPS collapses records sharing a county FIPS to the last one,
// keeping the position of the first. The table is keyed by FIPS, so a run
// with duplicate counties stores the same rows on every backend.
func latestByFIPS(records []landcover.CountyRecord) []landcover.CountyRecord {
	seen := make(map[string]int, len(records))
	out := make([]landcover.CountyRecord, 0, len(records))
	for _, r := range records {
		if i, ok := seen[r.FIPS]; ok {
			out[i] = r
			continue
		}
		seen[r.FIPS] = len(out)
		out = append(out, r)
	}
	return out
}

func runOutcome(runErr error) (RunStatus, string) {
	if runErr == nil {
		return RunStatusComplete, ""
	}
	return RunStatusFailed, runErr.Error()
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
