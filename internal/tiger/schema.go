package tiger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/nlcd-county/internal/db"
)

// EnsureCountyTable creates the county table, its spatial index, and the
// load_status ledger in the table's schema when they do not exist.
func EnsureCountyTable(ctx context.Context, pool db.Pool, tbl CountyTable) error {
	log := zap.L().With(
		zap.String("component", "tiger.schema"),
		zap.String("table", tbl.Qualified()),
	)

	schema := pgx.Identifier{tbl.Schema}.Sanitize()
	table := pgx.Identifier{tbl.Schema, tbl.Name}.Sanitize()
	status := pgx.Identifier{tbl.Schema, "load_status"}.Sanitize()
	gist := pgx.Identifier{fmt.Sprintf("idx_%s_the_geom", tbl.Name)}.Sanitize()

	stmts := []struct {
		name string
		sql  string
	}{
		{"schema", fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)},
		{"county table", fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			gid      SERIAL PRIMARY KEY,
			statefp  VARCHAR(2),
			countyfp VARCHAR(3),
			geoid    VARCHAR(5) UNIQUE,
			name     VARCHAR(100),
			namelsad VARCHAR(100),
			aland    BIGINT,
			awater   BIGINT,
			the_geom geometry(MultiPolygon, %d)
		)`, table, SRIDNAD83)},
		{"spatial index", fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (the_geom)", gist, table)},
		{"load status", fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			state_fips  TEXT NOT NULL,
			state_abbr  TEXT NOT NULL,
			table_name  TEXT NOT NULL,
			year        INTEGER NOT NULL,
			row_count   INTEGER NOT NULL,
			loaded_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			duration_ms INTEGER,
			UNIQUE (state_fips, table_name, year)
		)`, status)},
	}

	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s.sql); err != nil {
			return eris.Wrapf(err, "tiger: create %s for %s", s.name, tbl.Qualified())
		}
	}

	log.Debug("county table ready")
	return nil
}
