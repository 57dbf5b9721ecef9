package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/nlcd-county/internal/landcover"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	raster_path       TEXT NOT NULL,
	county_source     TEXT NOT NULL,
	status            TEXT NOT NULL,
	counties          INTEGER NOT NULL DEFAULT 0,
	with_data         INTEGER NOT NULL DEFAULT 0,
	degenerate        INTEGER NOT NULL DEFAULT 0,
	sampling_failures INTEGER NOT NULL DEFAULT 0,
	flagged           INTEGER NOT NULL DEFAULT 0,
	error             TEXT NOT NULL DEFAULT '',
	started_at        DATETIME NOT NULL,
	finished_at       DATETIME
);

CREATE TABLE IF NOT EXISTS county_failures (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	county_fips TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	error_type  TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS county_landcover (
	county_fips            TEXT PRIMARY KEY,
	run_id                 TEXT NOT NULL,
	forest_proportion      REAL NOT NULL,
	agriculture_proportion REAL NOT NULL,
	developed_proportion   REAL NOT NULL,
	wetland_proportion     REAL NOT NULL,
	other_proportion       REAL NOT NULL,
	updated_at             DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_county_failures_run ON county_failures(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, rasterPath, countySource string) (*Run, error) {
	run := &Run{
		ID:           uuid.New().String(),
		RasterPath:   rasterPath,
		CountySource: countySource,
		Status:       RunStatusRunning,
		StartedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, raster_path, county_source, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.RasterPath, run.CountySource, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, stats RunStats, runErr error) error {
	status, msg := runOutcome(runErr)
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, counties = ?, with_data = ?, degenerate = ?, sampling_failures = ?,
		 flagged = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), stats.Counties, stats.WithData, stats.Degenerate, stats.SamplingFailures,
		stats.Flagged, msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const runColumns = `id, raster_path, county_source, status, counties, with_data, degenerate,
	sampling_failures, flagged, error, started_at, finished_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get run")
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) RecordFailures(ctx context.Context, runID string, failures []Failure) error {
	if len(failures) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin failures tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO county_failures (run_id, county_fips, outcome, error_type, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare failure insert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for _, f := range failures {
		if _, err := stmt.ExecContext(ctx, runID, f.FIPS, f.Outcome, f.ErrorType, f.Error, now); err != nil {
			return eris.Wrapf(err, "sqlite: insert failure %s", f.FIPS)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit failures")
}

func (s *SQLiteStore) ListFailures(ctx context.Context, runID string) ([]Failure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, county_fips, outcome, error_type, error, created_at
		 FROM county_failures WHERE run_id = ? ORDER BY county_fips`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list failures")
	}
	defer rows.Close() //nolint:errcheck

	var failures []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.RunID, &f.FIPS, &f.Outcome, &f.ErrorType, &f.Error, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failure")
		}
		failures = append(failures, f)
	}
	return failures, eris.Wrap(rows.Err(), "sqlite: list failures iterate")
}

func (s *SQLiteStore) SaveRecords(ctx context.Context, runID string, records []landcover.CountyRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin records tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO county_landcover (county_fips, run_id, forest_proportion, agriculture_proportion,
			developed_proportion, wetland_proportion, other_proportion, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (county_fips) DO UPDATE SET
			run_id = excluded.run_id,
			forest_proportion = excluded.forest_proportion,
			agriculture_proportion = excluded.agriculture_proportion,
			developed_proportion = excluded.developed_proportion,
			wetland_proportion = excluded.wetland_proportion,
			other_proportion = excluded.other_proportion,
			updated_at = excluded.updated_at`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare record upsert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for _, r := range latestByFIPS(records) {
		if _, err := stmt.ExecContext(ctx, r.FIPS, runID, r.Forest, r.Agriculture, r.Developed, r.Wetland, r.Other, now); err != nil {
			return eris.Wrapf(err, "sqlite: upsert county %s", r.FIPS)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit records")
}

const recordColumns = `county_fips, forest_proportion, agriculture_proportion, developed_proportion,
	wetland_proportion, other_proportion`

func (s *SQLiteStore) ListRecords(ctx context.Context, stateFIPS string) ([]landcover.CountyRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM county_landcover`
	var args []any
	if stateFIPS != "" {
		query += ` WHERE substr(county_fips, 1, 2) = ?`
		args = append(args, stateFIPS)
	}
	query += ` ORDER BY county_fips`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close() //nolint:errcheck

	var records []landcover.CountyRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) GetRecord(ctx context.Context, fips string) (*landcover.CountyRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM county_landcover WHERE county_fips = ?`, fips)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: county %s", fips)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get record")
	}
	return &r, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	var finished sql.NullTime
	err := row.Scan(&r.ID, &r.RasterPath, &r.CountySource, &r.Status,
		&r.Counties, &r.WithData, &r.Degenerate, &r.SamplingFailures, &r.Flagged,
		&r.Error, &r.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}

func scanRecord(row scannable) (landcover.CountyRecord, error) {
	var r landcover.CountyRecord
	err := row.Scan(&r.FIPS, &r.Forest, &r.Agriculture, &r.Developed, &r.Wetland, &r.Other)
	return r, err
}
