package tiger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsLoaded(t *testing.T) {
	for _, tc := range []struct {
		count int
		want  bool
	}{
		{1, true},
		{0, false},
	} {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "tiger_data"."load_status"`).
			WithArgs("us", "county_all", 2024).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(tc.count))

		loaded, err := isLoaded(context.Background(), mock, DefaultCountyTable, 2024)
		require.NoError(t, err)
		assert.Equal(t, tc.want, loaded)
		require.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	}
}

func TestRecordLoad(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO "tiger_data"."load_status"`).
		WithArgs("us", "US", "county_all", 2024, 3235, 3500).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = recordLoad(context.Background(), mock, DefaultCountyTable, 2024, 3235, 3500)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	rows := pgxmock.NewRows([]string{
		"state_fips", "state_abbr", "table_name", "year",
		"row_count", "loaded_at", "duration_ms",
	}).
		AddRow("us", "US", "county_all", 2024, 3235, now, 3500).
		AddRow("us", "US", "county_all", 2023, 3234, now, 3100)

	mock.ExpectQuery("SELECT state_fips, state_abbr, table_name").
		WillReturnRows(rows)

	status, err := LoadStatus(context.Background(), mock, DefaultCountyTable)
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.Equal(t, "county_all", status[0].TableName)
	assert.Equal(t, 2024, status[0].Year)
	assert.Equal(t, 3235, status[0].RowCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCounties_IncrementalSkip(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	for range 4 {
		mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("us", "county_all", 2024).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	n, err := LoadCounties(context.Background(), mock, LoadOptions{Incremental: true})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCounties_EndToEnd(t *testing.T) {
	// Build a county shapefile, zip it, and serve it as the Census file.
	counties := fixtureCounties()
	zipData := zipShapefile(t, writeCountyShapefile(t, true, counties))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(zipData)
	}))
	defer srv.Close()

	orig := censusBaseURL
	censusBaseURL = srv.URL
	defer func() { censusBaseURL = orig }()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	for range 4 {
		mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	mock.ExpectExec("TRUNCATE").WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"tiger_data", "county_all"}, countyColumns).
		WillReturnResult(int64(len(counties)))
	mock.ExpectExec("INSERT INTO").
		WithArgs("us", "US", "county_all", 2024, len(counties), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := LoadCounties(context.Background(), mock, LoadOptions{TempDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, int64(len(counties)), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCounties_DryRun(t *testing.T) {
	zipData := zipShapefile(t, writeCountyShapefile(t, true, fixtureCounties()))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(zipData)
	}))
	defer srv.Close()

	orig := censusBaseURL
	censusBaseURL = srv.URL
	defer func() { censusBaseURL = orig }()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tmp := t.TempDir()
	n, err := LoadCounties(context.Background(), mock, LoadOptions{TempDir: tmp, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = os.Stat(filepath.Join(tmp, "2024", "county", "tl_2024_us_county", "tl_2024_us_county.shp"))
	assert.NoError(t, err, "shapefile extracted")
}

// zipShapefile packs the .shp, .shx, and .dbf next to shpPath into a ZIP.
func zipShapefile(t *testing.T, shpPath string) []byte {
	t.Helper()
	base := strings.TrimSuffix(shpPath, ".shp")
	files := make(map[string]string)
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		data, err := os.ReadFile(base + ext)
		require.NoError(t, err)
		files[filepath.Base(base+ext)] = string(data)
	}
	return createTestZIP(t, files)
}
