package tiger

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/nlcd-county/internal/db"
	"github.com/sells-group/nlcd-county/internal/resilience"
)

// nationalFIPS keys load_status rows for national files.
const nationalFIPS = "us"

// LoadOptions configures loading the county shapefile into PostGIS.
type LoadOptions struct {
	Year        int    // TIGER/Line data year (default 2024)
	TempDir     string // download directory (default /tmp/tiger)
	Table       CountyTable
	BatchSize   int  // COPY batch size (default 5,000)
	Incremental bool // skip when this year is already recorded in load_status
	DryRun      bool // download and parse without writing
	Retry       resilience.RetryConfig
}

// StatusRow is one row of <schema>.load_status.
type StatusRow struct {
	StateFIPS  string
	StateAbbr  string
	TableName  string
	Year       int
	RowCount   int
	LoadedAt   time.Time
	DurationMs int
}

// LoadCounties downloads the national county shapefile and replaces the
// contents of the county table with it. Returns the number of rows loaded.
func LoadCounties(ctx context.Context, pool db.Pool, opts LoadOptions) (int64, error) {
	if opts.Year == 0 {
		opts.Year = 2024
	}
	if opts.TempDir == "" {
		opts.TempDir = "/tmp/tiger"
	}
	if opts.Table.Name == "" {
		opts.Table = DefaultCountyTable
	}

	log := zap.L().With(
		zap.String("component", "tiger.loader"),
		zap.Int("year", opts.Year),
		zap.String("table", opts.Table.Qualified()),
	)

	if !opts.DryRun {
		if err := EnsureCountyTable(ctx, pool, opts.Table); err != nil {
			return 0, err
		}
	}

	if opts.Incremental && !opts.DryRun {
		loaded, err := isLoaded(ctx, pool, opts.Table, opts.Year)
		if err != nil {
			return 0, err
		}
		if loaded {
			log.Info("counties already loaded, skipping")
			return 0, nil
		}
	}

	start := time.Now()

	shpPath, err := DownloadCounties(ctx, opts.Year, opts.TempDir, opts.Retry)
	if err != nil {
		return 0, eris.Wrap(err, "tiger: download counties")
	}

	counties, err := ReadCounties(shpPath, ReadOptions{})
	if err != nil {
		return 0, eris.Wrap(err, "tiger: read counties")
	}
	rows, err := CountyRows(counties)
	if err != nil {
		return 0, err
	}

	if opts.DryRun {
		log.Info("dry run, skipping load", zap.Int("rows", len(rows)))
		return 0, nil
	}

	if err := TruncateTable(ctx, pool, opts.Table); err != nil {
		return 0, err
	}
	loaded, err := BulkLoad(ctx, pool, opts.Table, rows, opts.BatchSize)
	if err != nil {
		return loaded, err
	}

	duration := time.Since(start)
	if err := recordLoad(ctx, pool, opts.Table, opts.Year, int(loaded), int(duration.Milliseconds())); err != nil {
		log.Warn("failed to record load status", zap.Error(err))
	}

	log.Info("counties loaded",
		zap.Int64("rows", loaded),
		zap.Duration("duration", duration),
	)
	return loaded, nil
}

func statusTable(tbl CountyTable) string {
	return pgx.Identifier{tbl.Schema, "load_status"}.Sanitize()
}

// isLoaded checks whether the county file for year is recorded as loaded.
func isLoaded(ctx context.Context, pool db.Pool, tbl CountyTable, year int) (bool, error) {
	var count int
	row := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM "+statusTable(tbl)+" WHERE state_fips = $1 AND table_name = $2 AND year = $3",
		nationalFIPS, tbl.Name, year,
	)
	if err := row.Scan(&count); err != nil {
		return false, eris.Wrap(err, "tiger: check load status")
	}
	return count > 0, nil
}

// recordLoad upserts the load_status row for a completed load.
func recordLoad(ctx context.Context, pool db.Pool, tbl CountyTable, year, rowCount, durationMs int) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO `+statusTable(tbl)+` (state_fips, state_abbr, table_name, year, row_count, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (state_fips, table_name, year) DO UPDATE SET
			row_count = EXCLUDED.row_count,
			loaded_at = now(),
			duration_ms = EXCLUDED.duration_ms`,
		nationalFIPS, "US", tbl.Name, year, rowCount, durationMs,
	)
	if err != nil {
		return eris.Wrap(err, "tiger: record load status")
	}
	return nil
}

// LoadStatus returns the load ledger for tbl's schema.
func LoadStatus(ctx context.Context, pool db.Pool, tbl CountyTable) ([]StatusRow, error) {
	rows, err := pool.Query(ctx, `
		SELECT state_fips, state_abbr, table_name, year, row_count, loaded_at, COALESCE(duration_ms, 0)
		FROM `+statusTable(tbl)+`
		ORDER BY year DESC, table_name`)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: query load status")
	}
	defer rows.Close()

	var status []StatusRow
	for rows.Next() {
		var sr StatusRow
		if err := rows.Scan(&sr.StateFIPS, &sr.StateAbbr, &sr.TableName, &sr.Year, &sr.RowCount, &sr.LoadedAt, &sr.DurationMs); err != nil {
			return nil, eris.Wrap(err, "tiger: scan load status row")
		}
		status = append(status, sr)
	}
	return status, rows.Err()
}
