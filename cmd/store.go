package main

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/nlcd-county/internal/db"
	"github.com/sells-group/nlcd-county/internal/store"
)

// initStore opens and migrates the run ledger.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// countyPool connects to the PostGIS database holding county boundaries.
func countyPool(ctx context.Context) (*pgxpool.Pool, error) {
	dsn := cfg.CountyDatabaseURL()
	if dsn == "" {
		return nil, eris.New("counties.database_url (or store.database_url) is required (NLCD_COUNTIES_DATABASE_URL)")
	}
	return db.Open(ctx, dsn, 4)
}

// splitAndTrim splits a comma-separated list, dropping empty entries.
func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
