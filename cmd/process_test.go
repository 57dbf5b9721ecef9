package main

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jonas-p/go-shp"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"golang.org/x/image/tiff"

	"github.com/sells-group/nlcd-county/internal/db"
	"github.com/sells-group/nlcd-county/internal/landcover"
	"github.com/sells-group/nlcd-county/internal/output"
	"github.com/sells-group/nlcd-county/internal/store"
	"github.com/sells-group/nlcd-county/internal/tiger"
	"github.com/sells-group/nlcd-county/internal/zonal"
)

// writeRaster writes a 10x10 gray GeoTIFF covering x 0..10, y 0..10 with a
// world file. Columns 0-4 are deciduous forest (41), columns 5-9 are
// cultivated crops (82).
func writeRaster(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 10, 10))
	for row := 0; row < 10; row++ {
		for col := 0; col < 10; col++ {
			v := uint8(82)
			if col < 5 {
				v = 41
			}
			img.Pix[row*img.Stride+col] = v
		}
	}

	path := filepath.Join(dir, "nlcd.tif")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(f, img, nil))
	require.NoError(t, f.Close())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "nlcd.tfw"), []byte("1\n0\n0\n-1\n0.5\n9.5\n"), 0o644))
	return path
}

// clockwise square, the shapefile shell orientation.
func shell(x0, y0, x1, y1 float64) []shp.Point {
	return []shp.Point{{X: x0, Y: y0}, {X: x0, Y: y1}, {X: x1, Y: y1}, {X: x1, Y: y0}, {X: x0, Y: y0}}
}

type fixtureCounty struct {
	geoid string
	ring  []shp.Point
}

func writeCounties(t *testing.T, dir string, counties []fixtureCounty) string {
	t.Helper()
	path := filepath.Join(dir, "counties.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("STATEFP", 2),
		shp.StringField("COUNTYFP", 3),
		shp.StringField("GEOID", 5),
	}))
	for _, c := range counties {
		poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{c.ring}))
		row := int(w.Write(&poly))
		require.NoError(t, w.WriteAttribute(row, 0, c.geoid[:2]))
		require.NoError(t, w.WriteAttribute(row, 1, c.geoid[2:]))
		require.NoError(t, w.WriteAttribute(row, 2, c.geoid))
	}
	w.Close()
	return path
}

func testCounties() []fixtureCounty {
	return []fixtureCounty{
		{"48005", shell(20, 20, 30, 30)}, // outside the raster
		{"48001", shell(0, 0, 5, 5)},
		{"48003", shell(3, 0, 7, 2)},
	}
}

func testOptions(t *testing.T, dir string) processOptions {
	t.Helper()
	return processOptions{
		RasterPath: writeRaster(t, dir),
		Source:     "shapefile",
		Shapefile:  writeCounties(t, dir, testCounties()),
		Workers:    2,
		Validate:   landcover.ValidateOptions{Tolerance: 0.01},
		CSVPath:    filepath.Join(dir, "out.csv"),
		XLSXPath:   filepath.Join(dir, "out.xlsx"),
		TopN:       2,
	}
}

func wantRecords() []landcover.CountyRecord {
	return []landcover.CountyRecord{
		{FIPS: "48005"},
		{FIPS: "48001", Forest: 1},
		{FIPS: "48003", Forest: 0.5, Agriculture: 0.5},
	}
}

func newLedger(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestRunProcess_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(t, dir)
	st := newLedger(t)
	ctx := context.Background()

	res, err := runProcess(ctx, opts, st)
	require.NoError(t, err)

	// Output rows follow input order, not completion order.
	if diff := cmp.Diff(wantRecords(), res.Records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, zonal.OutcomeNoIntersection, res.Results[0].Outcome)
	assert.Equal(t, zonal.OutcomeOK, res.Results[1].Outcome)

	// The all-zero county is flagged by default.
	assert.Equal(t, 1, res.Report.Flagged)
	assert.Equal(t, 1, res.Report.FlaggedDegenerate)
	assert.Equal(t, 3, res.Summary.Counties)
	assert.Equal(t, 2, res.Summary.WithData)

	csvRecords, err := output.ReadCSV(opts.CSVPath)
	require.NoError(t, err)
	if diff := cmp.Diff(wantRecords(), csvRecords); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
	assert.FileExists(t, opts.XLSXPath)

	run, err := st.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusComplete, run.Status)
	assert.Equal(t, store.RunStats{Counties: 3, WithData: 2, Degenerate: 1, Flagged: 1}, run.RunStats)

	failures, err := st.ListFailures(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "48005", failures[0].FIPS)
	assert.Equal(t, string(zonal.OutcomeNoIntersection), failures[0].Outcome)

	saved, err := st.GetRecord(ctx, "48003")
	require.NoError(t, err)
	assert.Equal(t, wantRecords()[2], *saved)
}

func TestRunProcess_ExemptDegenerate(t *testing.T) {
	opts := testOptions(t, t.TempDir())
	opts.Validate.ExemptDegenerate = true

	res, err := runProcess(context.Background(), opts, nil)
	require.NoError(t, err)
	assert.Empty(t, res.RunID)
	assert.True(t, res.Report.OK())
	assert.Equal(t, 1, res.Report.Exempted)
}

func TestRunProcess_StateFilter(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(t, dir)
	opts.Shapefile = writeCounties(t, dir, []fixtureCounty{
		{"48001", shell(0, 0, 5, 5)},
		{"06001", shell(5, 5, 10, 10)},
	})
	opts.Read.States = []string{"06"}

	res, err := runProcess(context.Background(), opts, nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, landcover.CountyRecord{FIPS: "06001", Agriculture: 1}, res.Records[0])
}

func TestRunProcess_Deterministic(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(t, dir)
	opts.XLSXPath = ""

	var prev []landcover.CountyRecord
	for _, workers := range []int{1, 3, 8} {
		opts.Workers = workers
		res, err := runProcess(context.Background(), opts, nil)
		require.NoError(t, err)
		if prev != nil {
			assert.Empty(t, cmp.Diff(prev, res.Records), "workers=%d", workers)
		}
		prev = res.Records
	}
}

func TestRunProcess_MissingRasterMarksRunFailed(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(t, dir)
	opts.RasterPath = filepath.Join(dir, "missing.tif")
	st := newLedger(t)
	ctx := context.Background()

	res, err := runProcess(ctx, opts, st)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.NoFileExists(t, opts.CSVPath)

	run, err := st.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "load raster")
}

func TestRunProcess_NoCounties(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(t, dir)
	opts.Read.States = []string{"01"}

	_, err := runProcess(context.Background(), opts, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no counties")
}

func TestRunProcess_NoShapefile(t *testing.T) {
	opts := testOptions(t, t.TempDir())
	opts.Shapefile = ""

	_, err := runProcess(context.Background(), opts, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--download")
}

func TestRunProcess_PostGIS(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	square := geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{
		{{{5, 5}, {10, 5}, {10, 10}, {5, 10}, {5, 5}}},
	})
	wkb, err := tiger.EncodeEWKB(square)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT "geoid"`).
		WillReturnRows(pgxmock.NewRows([]string{"geoid", "name", "namelsad", "aland", "awater", "the_geom"}).
			AddRow("06001", "Alameda", "Alameda County", int64(0), int64(0), wkb))

	closed := false
	opts := testOptions(t, t.TempDir())
	opts.Source = "postgis"
	opts.Table = tiger.DefaultCountyTable
	opts.CountyDB = func(context.Context) (db.Pool, func(), error) {
		return mock, func() { closed = true; mock.Close() }, nil
	}

	res, err := runProcess(context.Background(), opts, nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, landcover.CountyRecord{FIPS: "06001", Agriculture: 1}, res.Records[0])
	assert.True(t, closed)
}

func TestRunProcess_PostGISConnectError(t *testing.T) {
	opts := testOptions(t, t.TempDir())
	opts.Source = "postgis"
	opts.CountyDB = func(context.Context) (db.Pool, func(), error) {
		return nil, nil, errors.New("connection refused")
	}

	_, err := runProcess(context.Background(), opts, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect county database")
}

func TestZonalCounties(t *testing.T) {
	mp := geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{
		{{{-97, 30}, {-95, 30}, {-95, 32}, {-97, 32}, {-97, 30}}},
	})
	bad := geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{
		{{{-97, 95}, {-95, 30}, {-95, 32}, {-97, 95}}},
	})
	in := []tiger.County{
		{FIPS: "48001", Geometry: mp},
		{FIPS: "48003"},
		{FIPS: "48005", Geometry: bad},
	}

	projected := zonalCounties(in, true)
	require.Len(t, projected, 3)
	require.NotNil(t, projected[0].Geometry)
	assert.Equal(t, 5070, projected[0].Geometry.(*geom.MultiPolygon).SRID())
	assert.Nil(t, projected[1].Geometry, "missing geometry stays a nil interface")
	assert.Nil(t, projected[2].Geometry, "unprojectable geometry is dropped")

	raw := zonalCounties(in, false)
	assert.Same(t, mp, raw[0].Geometry)
	assert.Nil(t, raw[1].Geometry)
}
