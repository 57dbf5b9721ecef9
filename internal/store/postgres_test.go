package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/nlcd-county/internal/landcover"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewPostgresFromPool(mock), mock
}

var pgRunColumns = []string{
	"id", "raster_path", "county_source", "status", "counties", "with_data", "degenerate",
	"sampling_failures", "flagged", "error", "started_at", "finished_at",
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO nlcd.runs`).
		WithArgs(pgxmock.AnyArg(), "nlcd.tif", "postgis", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), "nlcd.tif", "postgis")
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE nlcd.runs SET status`).
		WithArgs("failed", 3, 2, 1, 1, 1, "boom", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE nlcd.runs SET status`).
		WithArgs("complete", 0, 0, 0, 0, 0, "", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	stats := RunStats{Counties: 3, WithData: 2, Degenerate: 1, SamplingFailures: 1, Flagged: 1}
	require.NoError(t, s.CompleteRun(context.Background(), "run-1", stats, errors.New("boom")))

	err := s.CompleteRun(context.Background(), "missing", RunStats{}, nil)
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)

	mock.ExpectQuery(`SELECT id, raster_path .* FROM nlcd.runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(pgRunColumns).
			AddRow("run-1", "nlcd.tif", "shapefile", "complete", 3, 2, 1, 1, 1, "", started, &finished))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusComplete, run.Status)
	assert.Equal(t, 2, run.WithData)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, finished, *run.FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM nlcd.runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM nlcd.runs\s+WHERE \(\$1 = '' OR status = \$1\)`).
		WithArgs("running", 100, 0).
		WillReturnRows(pgxmock.NewRows(pgRunColumns).
			AddRow("a", "r.tif", "shapefile", "running", 0, 0, 0, 0, 0, "", now, nil).
			AddRow("b", "r.tif", "shapefile", "running", 0, 0, 0, 0, 0, "", now, nil))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: RunStatusRunning})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Nil(t, runs[0].FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordFailures(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"nlcd", "county_failures"}, failureColumns).
		WillReturnResult(2)

	err := s.RecordFailures(context.Background(), "run-1", []Failure{
		{FIPS: "48201", Outcome: "sampling_failure", ErrorType: "transient"},
		{FIPS: "02013", Outcome: "no_intersection", ErrorType: "permanent"},
	})
	require.NoError(t, err)

	// No rows, no COPY.
	require.NoError(t, s.RecordFailures(context.Background(), "run-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListFailures(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM nlcd.county_failures WHERE run_id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"run_id", "county_fips", "outcome", "error_type", "error", "created_at"}).
			AddRow("run-1", "48201", "sampling_failure", "transient", "zonal: sample deadline", now))

	failures, err := s.ListFailures(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "48201", failures[0].FIPS)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRecords(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_nlcd_county_landcover" \(LIKE "nlcd"."county_landcover"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_nlcd_county_landcover"}, landcoverUpsert.Columns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "nlcd"."county_landcover" .* ON CONFLICT \("county_fips"\) DO UPDATE SET`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	err := s.SaveRecords(context.Background(), "run-1", []landcover.CountyRecord{
		{FIPS: "01001", Forest: 1},
		landcover.DegenerateRecord("02013"),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRecords_DuplicateFIPS(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_nlcd_county_landcover"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_nlcd_county_landcover"}, landcoverUpsert.Columns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "nlcd"."county_landcover"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	err := s.SaveRecords(context.Background(), "run-1", []landcover.CountyRecord{
		{FIPS: "51515", Forest: 1},
		{FIPS: "01001", Agriculture: 1},
		{FIPS: "51515", Developed: 1},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRows_OneRowPerCounty(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := recordRows("run-1", []landcover.CountyRecord{
		{FIPS: "51515", Forest: 1},
		{FIPS: "01001", Agriculture: 1},
		{FIPS: "51515", Developed: 1},
	}, now)

	assert.Equal(t, [][]any{
		{"51515", "run-1", 0.0, 0.0, 1.0, 0.0, 0.0, now},
		{"01001", "run-1", 0.0, 1.0, 0.0, 0.0, 0.0, now},
	}, rows)
}

var pgRecordColumns = []string{
	"county_fips", "forest_proportion", "agriculture_proportion", "developed_proportion",
	"wetland_proportion", "other_proportion",
}

func TestPostgresStore_ListRecords(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM nlcd.county_landcover\s+WHERE \(\$1 = '' OR substr`).
		WithArgs("01").
		WillReturnRows(pgxmock.NewRows(pgRecordColumns).
			AddRow("01001", 0.6, 0.15, 0.25, 0.0, 0.0).
			AddRow("01003", 0.0, 0.0, 0.0, 0.0, 1.0))

	records, err := s.ListRecords(context.Background(), "01")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, landcover.CountyRecord{FIPS: "01001", Forest: 0.6, Agriculture: 0.15, Developed: 0.25}, records[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE county_fips = \$1`).
		WithArgs("01001").
		WillReturnRows(pgxmock.NewRows(pgRecordColumns).AddRow("01001", 0.6, 0.15, 0.25, 0.0, 0.0))
	mock.ExpectQuery(`WHERE county_fips = \$1`).
		WithArgs("99999").
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.GetRecord(context.Background(), "01001")
	require.NoError(t, err)
	assert.Equal(t, 0.6, rec.Forest)

	_, err = s.GetRecord(context.Background(), "99999")
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Close(t *testing.T) {
	s, _ := newMockPostgresStore(t)
	assert.NoError(t, s.Close())
}
