package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/nlcd-county/internal/db"
	"github.com/sells-group/nlcd-county/internal/landcover"
	"github.com/sells-group/nlcd-county/internal/output"
	"github.com/sells-group/nlcd-county/internal/projection"
	"github.com/sells-group/nlcd-county/internal/raster"
	"github.com/sells-group/nlcd-county/internal/resilience"
	"github.com/sells-group/nlcd-county/internal/store"
	"github.com/sells-group/nlcd-county/internal/tiger"
	"github.com/sells-group/nlcd-county/internal/zonal"
)

// processOptions is the resolved configuration of one aggregation run.
type processOptions struct {
	RasterPath   string
	WorldFile    string
	ExcludeValue uint8

	Source     string // "shapefile" or "postgis"
	Shapefile  string
	Download   bool
	TigerYear  int
	TigerDir   string
	Retry      resilience.RetryConfig
	Table      tiger.CountyTable
	Read       tiger.ReadOptions
	Reproject  bool
	CountyDB   func(ctx context.Context) (db.Pool, func(), error)

	Workers          int
	Timeout          time.Duration
	ProgressInterval time.Duration
	Validate         landcover.ValidateOptions

	CSVPath  string
	XLSXPath string
	TopN     int
}

// processResult is everything a run produced.
type processResult struct {
	RunID   string
	Results []zonal.Result
	Records []landcover.CountyRecord
	Report  landcover.PartitionReport
	Summary landcover.Summary
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Compute land-cover proportions for every county",
	Long: `Loads the NLCD raster and the county boundaries, samples the raster inside
each county, and writes one row of class proportions per county.

Counties that do not intersect the raster, contain only no-data pixels, or
fail to sample get an all-zero row and a warning; they never stop the run.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyProcessFlags(cmd)
		if err := cfg.Check("process"); err != nil {
			return err
		}

		opts, err := processOptionsFromConfig()
		if err != nil {
			return err
		}

		var st store.Store
		if noStore, _ := cmd.Flags().GetBool("no-store"); !noStore {
			st, err = initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		res, err := runProcess(ctx, opts, st)
		if err != nil {
			return err
		}

		printSummary(os.Stdout, res.Summary, res.Report)
		if res.RunID != "" {
			fmt.Printf("\nRun %s recorded\n", res.RunID)
		}
		fmt.Printf("Wrote %s\n", opts.CSVPath)
		return nil
	},
}

func init() {
	f := processCmd.Flags()
	f.String("raster", "", "NLCD land-cover GeoTIFF (overrides raster.path)")
	f.String("world-file", "", "world file georeferencing the raster (overrides raster.world_file)")
	f.String("source", "", "county source: shapefile or postgis (overrides counties.source)")
	f.String("shapefile", "", "county shapefile (overrides counties.shapefile)")
	f.Bool("download", false, "download the TIGER county shapefile when none is given")
	f.String("states", "", "comma-separated state abbreviations or FIPS codes")
	f.Bool("continental", false, "restrict to the conterminous United States")
	f.Int("workers", 0, "parallel county workers (overrides aggregate.workers)")
	f.String("out", "", "output CSV path (overrides output.csv_path)")
	f.String("xlsx", "", "also write an XLSX workbook to this path")
	f.Int("top", 5, "top counties per class in the summary")
	f.Bool("no-store", false, "do not record the run in the ledger")
	rootCmd.AddCommand(processCmd)
}

// applyProcessFlags copies explicitly set flags over the loaded config.
func applyProcessFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("raster") {
		cfg.Raster.Path, _ = f.GetString("raster")
	}
	if f.Changed("world-file") {
		cfg.Raster.WorldFile, _ = f.GetString("world-file")
	}
	if f.Changed("source") {
		cfg.Counties.Source, _ = f.GetString("source")
	}
	if f.Changed("shapefile") {
		cfg.Counties.Shapefile, _ = f.GetString("shapefile")
	}
	if f.Changed("states") {
		s, _ := f.GetString("states")
		cfg.Counties.States = splitAndTrim(s)
	}
	if f.Changed("continental") {
		cfg.Counties.ContinentalOnly, _ = f.GetBool("continental")
	}
	if f.Changed("workers") {
		cfg.Aggregate.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("out") {
		cfg.Output.CSVPath, _ = f.GetString("out")
	}
	if f.Changed("xlsx") {
		cfg.Output.XLSXPath, _ = f.GetString("xlsx")
	}
	processDownload, _ = f.GetBool("download")
	processTopN, _ = f.GetInt("top")
}

var (
	processDownload bool
	processTopN     = 5
)

// processOptionsFromConfig resolves cfg into processOptions.
func processOptionsFromConfig() (processOptions, error) {
	states, err := tiger.ResolveStates(cfg.Counties.States)
	if err != nil {
		return processOptions{}, err
	}
	table, err := tiger.ParseTableName(cfg.Counties.Table)
	if err != nil {
		return processOptions{}, err
	}

	return processOptions{
		RasterPath:   cfg.Raster.Path,
		WorldFile:    cfg.Raster.WorldFile,
		ExcludeValue: uint8(cfg.Raster.ExcludeValue),
		Source:       cfg.Counties.Source,
		Shapefile:    cfg.Counties.Shapefile,
		Download:     processDownload,
		TigerYear:    cfg.Tiger.Year,
		TigerDir:     cfg.Tiger.TempDir,
		Retry: resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs,
			cfg.Retry.MaxBackoffMs, cfg.Retry.Multiplier),
		Table: table,
		Read: tiger.ReadOptions{
			IDField:         cfg.Counties.IDField,
			States:          states,
			ContinentalOnly: cfg.Counties.ContinentalOnly,
		},
		Reproject:        cfg.Counties.Reproject == "albers",
		CountyDB:         openCountyDB,
		Workers:          cfg.Aggregate.Workers,
		Timeout:          cfg.Aggregate.Timeout(),
		ProgressInterval: cfg.Aggregate.ProgressInterval(),
		Validate: landcover.ValidateOptions{
			Tolerance:        cfg.Validate.Tolerance,
			ExemptDegenerate: cfg.Validate.ExemptDegenerate,
			SampleSize:       cfg.Validate.SampleSize,
		},
		CSVPath:  cfg.Output.CSVPath,
		XLSXPath: cfg.Output.XLSXPath,
		TopN:     processTopN,
	}, nil
}

// runProcess executes the pipeline. When st is non-nil the run, its
// failures and its records are persisted; a fatal error marks the run
// failed before it is returned.
func runProcess(ctx context.Context, opts processOptions, st store.Store) (res *processResult, err error) {
	log := zap.L().With(zap.String("command", "process"))
	res = &processResult{}

	if st != nil {
		run, rerr := st.CreateRun(ctx, opts.RasterPath, opts.Source)
		if rerr != nil {
			return nil, eris.Wrap(rerr, "process: create run")
		}
		res.RunID = run.ID
		log = log.With(zap.String("run_id", run.ID))
		defer func() {
			if err == nil {
				return
			}
			// The parent context may already be cancelled.
			if cerr := st.CompleteRun(context.WithoutCancel(ctx), run.ID, store.StatsFromResults(res.Results, res.Report), err); cerr != nil {
				log.Error("failed to mark run failed", zap.Error(cerr))
			}
		}()
	}

	src, err := raster.OpenGeoTIFF(opts.RasterPath, opts.WorldFile)
	if err != nil {
		return res, eris.Wrap(err, "process: load raster")
	}
	defer src.Close() //nolint:errcheck
	if opts.Reproject && src.CRS != "" && src.CRS != "EPSG:5070" {
		log.Warn("raster CRS differs from the Albers projection applied to counties",
			zap.String("crs", src.CRS))
	}

	tc, err := loadCounties(ctx, opts)
	if err != nil {
		return res, err
	}
	if len(tc) == 0 {
		return res, eris.New("process: county source returned no counties")
	}

	counties := zonalCounties(tc, opts.Reproject)

	agg := zonal.NewAggregator(raster.NewGridSampler(src, opts.ExcludeValue), zonal.Options{Timeout: opts.Timeout})
	res.Results, err = zonal.Run(ctx, counties, agg, zonal.RunOptions{
		Workers:          opts.Workers,
		ProgressInterval: opts.ProgressInterval,
	})
	if err != nil {
		return res, err
	}
	log.Debug("aggregation finished", zap.Int64("raster_blocks_decoded", src.BlocksDecoded()))

	res.Records = zonal.Records(res.Results)
	res.Report = landcover.ValidatePartition(res.Records, opts.Validate)
	logPartition(log, res.Report)

	if err := output.WriteCSV(opts.CSVPath, res.Records); err != nil {
		return res, err
	}
	res.Summary = landcover.Summarize(res.Records, opts.TopN)
	if opts.XLSXPath != "" {
		if err := output.WriteXLSX(opts.XLSXPath, res.Records, res.Summary); err != nil {
			return res, err
		}
	}

	if st != nil {
		if err := st.SaveRecords(ctx, res.RunID, res.Records); err != nil {
			return res, eris.Wrap(err, "process: save records")
		}
		if err := st.RecordFailures(ctx, res.RunID, store.FailuresFromResults(res.RunID, res.Results)); err != nil {
			return res, eris.Wrap(err, "process: record failures")
		}
		if err := st.CompleteRun(ctx, res.RunID, store.StatsFromResults(res.Results, res.Report), nil); err != nil {
			return res, eris.Wrap(err, "process: complete run")
		}
	}
	return res, nil
}

// loadCounties reads county boundaries from the configured source.
func loadCounties(ctx context.Context, opts processOptions) ([]tiger.County, error) {
	switch opts.Source {
	case "postgis":
		pool, closePool, err := opts.CountyDB(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "process: connect county database")
		}
		defer closePool()
		counties, err := tiger.LoadCountiesPostGIS(ctx, pool, opts.Table, opts.Read)
		if err != nil {
			return nil, eris.Wrap(err, "process: load counties")
		}
		return counties, nil
	default:
		path := opts.Shapefile
		if path == "" {
			if !opts.Download {
				return nil, eris.New("process: no county shapefile (set counties.shapefile or pass --download)")
			}
			var err error
			path, err = tiger.DownloadCounties(ctx, opts.TigerYear, opts.TigerDir, opts.Retry)
			if err != nil {
				return nil, eris.Wrap(err, "process: download counties")
			}
		}
		counties, err := tiger.ReadCounties(path, opts.Read)
		if err != nil {
			return nil, eris.Wrap(err, "process: load counties")
		}
		return counties, nil
	}
}

// zonalCounties converts county boundaries into aggregation inputs,
// projecting them into the raster CRS once. A county whose geometry is
// missing or cannot be projected keeps a nil geometry so it still gets a
// (degenerate) row.
func zonalCounties(counties []tiger.County, reproject bool) []zonal.County {
	log := zap.L().With(zap.String("component", "process.counties"))
	albers := projection.ConusAlbers()

	out := make([]zonal.County, len(counties))
	for i, c := range counties {
		out[i].FIPS = c.FIPS
		if c.Geometry == nil {
			continue
		}
		if !reproject {
			out[i].Geometry = c.Geometry
			continue
		}
		g, err := albers.ProjectGeometry(c.Geometry)
		if err != nil {
			log.Warn("county projection failed", zap.String("county_fips", c.FIPS), zap.Error(err))
			continue
		}
		out[i].Geometry = g
	}
	return out
}

func logPartition(log *zap.Logger, report landcover.PartitionReport) {
	fields := []zap.Field{
		zap.Int("checked", report.Checked),
		zap.Int("valid", report.Valid()),
		zap.Int("flagged", report.Flagged),
		zap.Int("flagged_degenerate", report.FlaggedDegenerate),
		zap.Int("exempted", report.Exempted),
	}
	if report.OK() {
		log.Info("partition check passed", fields...)
		return
	}
	for _, f := range report.Sample {
		fields = append(fields, zap.String("sample_"+f.FIPS, fmt.Sprintf("%.6f", f.Total)))
	}
	log.Warn("partition check flagged counties", fields...)
}

func openCountyDB(ctx context.Context) (db.Pool, func(), error) {
	pool, err := countyPool(ctx)
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Close, nil
}
