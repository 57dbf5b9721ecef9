package tiger

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/nlcd-county/internal/db"
	"github.com/sells-group/nlcd-county/internal/landcover"
)

// LoadCountiesPostGIS reads county polygons from a PostGIS table, ordered
// by FIPS. opts.IDField names the FIPS column (default geoid); opts.States
// filters in SQL and ContinentalOnly in Go.
func LoadCountiesPostGIS(ctx context.Context, pool db.Pool, tbl CountyTable, opts ReadOptions) ([]County, error) {
	log := zap.L().With(
		zap.String("component", "tiger.postgis"),
		zap.String("table", tbl.Qualified()),
	)

	idCol := strings.ToLower(opts.IDField)
	if idCol == "" {
		idCol = "geoid"
	}
	id := pgx.Identifier{idCol}.Sanitize()

	query := fmt.Sprintf(`
		SELECT %s, COALESCE(name, ''), COALESCE(namelsad, ''),
			COALESCE(aland, 0), COALESCE(awater, 0), ST_AsEWKB(ST_Multi(the_geom))
		FROM %s`, id, pgx.Identifier{tbl.Schema, tbl.Name}.Sanitize())
	var args []any
	if len(opts.States) > 0 {
		query += " WHERE statefp = ANY($1)"
		args = append(args, opts.States)
	}
	query += " ORDER BY " + id

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "tiger: query counties from %s", tbl.Qualified())
	}
	defer rows.Close()

	var counties []County
	for rows.Next() {
		var (
			raw  string
			c    County
			geom []byte
		)
		if err := rows.Scan(&raw, &c.Name, &c.NameLSAD, &c.ALand, &c.AWater, &geom); err != nil {
			return nil, eris.Wrap(err, "tiger: scan county row")
		}
		fips, err := landcover.NormalizeFIPS(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "tiger: county row %d", len(counties)+1)
		}
		c.FIPS, c.StateFIPS = fips, fips[:2]
		if opts.ContinentalOnly && !IsContinental(c.StateFIPS) {
			continue
		}

		if geom == nil {
			log.Warn("county has null geometry", zap.String("county_fips", fips))
		} else if mp, err := DecodeEWKB(geom); err != nil {
			log.Warn("county geometry unusable", zap.String("county_fips", fips), zap.Error(err))
		} else {
			c.Geometry = mp
		}
		counties = append(counties, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "tiger: iterate county rows")
	}

	log.Info("counties loaded from PostGIS", zap.Int("counties", len(counties)))
	return counties, nil
}
