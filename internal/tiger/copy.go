package tiger

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/nlcd-county/internal/db"
)

const defaultBatchSize = 5000

// CountyRows converts counties to COPY rows matching tbl.Columns plus the
// EWKB geometry. Counties without geometry are skipped.
func CountyRows(counties []County) ([][]any, error) {
	rows := make([][]any, 0, len(counties))
	for _, c := range counties {
		if c.Geometry == nil {
			continue
		}
		wkb, err := EncodeEWKB(c.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "tiger: county %s", c.FIPS)
		}
		rows = append(rows, []any{
			c.StateFIPS,
			c.FIPS[2:],
			c.FIPS,
			c.Name,
			c.NameLSAD,
			c.ALand,
			c.AWater,
			wkb,
		})
	}
	return rows, nil
}

// BulkLoad loads rows into tbl with the COPY protocol in batches of
// batchSize rows (0 = default).
func BulkLoad(ctx context.Context, pool db.Pool, tbl CountyTable, rows [][]any, batchSize int) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	columns := append(append([]string(nil), tbl.Columns...), "the_geom")
	log := zap.L().With(
		zap.String("component", "tiger.copy"),
		zap.String("table", tbl.Qualified()),
		zap.Int("total_rows", len(rows)),
	)

	var total int64
	for i := 0; i < len(rows); i += batchSize {
		end := min(i+batchSize, len(rows))
		n, err := pool.CopyFrom(ctx, pgx.Identifier{tbl.Schema, tbl.Name}, columns, pgx.CopyFromRows(rows[i:end]))
		if err != nil {
			return total, eris.Wrapf(err, "tiger: COPY into %s (batch %d-%d)", tbl.Qualified(), i, end)
		}
		total += n
		log.Debug("batch loaded", zap.String("batch", strconv.Itoa(i)+"-"+strconv.Itoa(end)), zap.Int64("rows", n))
	}
	return total, nil
}

// TruncateTable empties tbl before a reload.
func TruncateTable(ctx context.Context, pool db.Pool, tbl CountyTable) error {
	sql := "TRUNCATE " + pgx.Identifier{tbl.Schema, tbl.Name}.Sanitize()
	if _, err := pool.Exec(ctx, sql); err != nil {
		return eris.Wrapf(err, "tiger: truncate %s", tbl.Qualified())
	}
	return nil
}
