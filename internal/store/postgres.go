package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/nlcd-county/internal/db"
	"github.com/sells-group/nlcd-county/internal/landcover"
)

// PostgresStore implements Store on the nlcd schema of a Postgres database.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres opens a pool for dsn. maxConns <= 0 keeps the pgx default.
func NewPostgres(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	pool, err := db.Open(ctx, dsn, maxConns)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; Close leaves it open.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool, shared with the PostGIS
// county source.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return eris.Wrap(db.Migrate(ctx, s.pool), "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, rasterPath, countySource string) (*Run, error) {
	run := &Run{
		ID:           uuid.New().String(),
		RasterPath:   rasterPath,
		CountySource: countySource,
		Status:       RunStatusRunning,
		StartedAt:    time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO nlcd.runs (id, raster_path, county_source, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.RasterPath, run.CountySource, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, stats RunStats, runErr error) error {
	status, msg := runOutcome(runErr)
	tag, err := s.pool.Exec(ctx,
		`UPDATE nlcd.runs SET status = $1, counties = $2, with_data = $3, degenerate = $4,
		 sampling_failures = $5, flagged = $6, error = $7, finished_at = now() WHERE id = $8`,
		string(status), stats.Counties, stats.WithData, stats.Degenerate,
		stats.SamplingFailures, stats.Flagged, msg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM nlcd.runs WHERE id = $1`, runID)
	r, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get run")
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM nlcd.runs
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY started_at DESC LIMIT $2 OFFSET $3`,
		string(filter.Status), limit, max(filter.Offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

var failureColumns = []string{"run_id", "county_fips", "outcome", "error_type", "error"}

func (s *PostgresStore) RecordFailures(ctx context.Context, runID string, failures []Failure) error {
	rows := make([][]any, len(failures))
	for i, f := range failures {
		rows[i] = []any{runID, f.FIPS, f.Outcome, f.ErrorType, f.Error}
	}
	_, err := db.CopyFrom(ctx, s.pool, "nlcd.county_failures", failureColumns, rows)
	return eris.Wrap(err, "postgres: record failures")
}

func (s *PostgresStore) ListFailures(ctx context.Context, runID string) ([]Failure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, county_fips, outcome, error_type, error, created_at
		 FROM nlcd.county_failures WHERE run_id = $1 ORDER BY county_fips`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list failures")
	}
	defer rows.Close()

	var failures []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.RunID, &f.FIPS, &f.Outcome, &f.ErrorType, &f.Error, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan failure")
		}
		failures = append(failures, f)
	}
	return failures, eris.Wrap(rows.Err(), "postgres: list failures iterate")
}

var landcoverUpsert = db.UpsertConfig{
	Table: "nlcd.county_landcover",
	Columns: []string{
		"county_fips", "run_id",
		"forest_proportion", "agriculture_proportion", "developed_proportion",
		"wetland_proportion", "other_proportion", "updated_at",
	},
	ConflictKeys: []string{"county_fips"},
}

// SaveRecords upserts one row per county. Duplicate FIPS are collapsed
// first: a single INSERT ... ON CONFLICT cannot touch the same key twice.
func (s *PostgresStore) SaveRecords(ctx context.Context, runID string, records []landcover.CountyRecord) error {
	_, err := db.BulkUpsert(ctx, s.pool, landcoverUpsert, recordRows(runID, records, time.Now().UTC()))
	return eris.Wrap(err, "postgres: save records")
}

func recordRows(runID string, records []landcover.CountyRecord, now time.Time) [][]any {
	records = latestByFIPS(records)
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{r.FIPS, runID, r.Forest, r.Agriculture, r.Developed, r.Wetland, r.Other, now}
	}
	return rows
}

func (s *PostgresStore) ListRecords(ctx context.Context, stateFIPS string) ([]landcover.CountyRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM nlcd.county_landcover
		 WHERE ($1 = '' OR substr(county_fips, 1, 2) = $1)
		 ORDER BY county_fips`, stateFIPS)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var records []landcover.CountyRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) GetRecord(ctx context.Context, fips string) (*landcover.CountyRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM nlcd.county_landcover WHERE county_fips = $1`, fips)
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: county %s", fips)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get record")
	}
	return &r, nil
}

func scanPgRun(row scannable) (*Run, error) {
	var r Run
	var status string
	err := row.Scan(&r.ID, &r.RasterPath, &r.CountySource, &status,
		&r.Counties, &r.WithData, &r.Degenerate, &r.SamplingFailures, &r.Flagged,
		&r.Error, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	return &r, nil
}
