package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/nlcd-county/internal/db"
	"github.com/sells-group/nlcd-county/internal/resilience"
	"github.com/sells-group/nlcd-county/internal/tiger"
)

var countiesCmd = &cobra.Command{
	Use:   "counties",
	Short: "Fetch and load Census TIGER/Line county boundaries",
}

// -- counties download --

var countiesDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the national county shapefile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyTigerFlags(cmd)
		if err := cfg.Check("counties"); err != nil {
			return err
		}

		path, err := tiger.DownloadCounties(ctx, cfg.Tiger.Year, cfg.Tiger.TempDir, retryConfig())
		if err != nil {
			return eris.Wrap(err, "counties download")
		}
		fmt.Println(path)
		return nil
	},
}

// -- counties load --

var countiesLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load the national county shapefile into PostGIS",
	Long: `Downloads the TIGER/Line county file for the configured year and replaces
the contents of counties.table with it. Each load is recorded in the
schema's load_status table.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyTigerFlags(cmd)
		if err := cfg.Check("counties"); err != nil {
			return err
		}
		table, err := tiger.ParseTableName(cfg.Counties.Table)
		if err != nil {
			return err
		}

		pool, err := countyPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		incremental, _ := cmd.Flags().GetBool("incremental")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		opts := tiger.LoadOptions{
			Year:        cfg.Tiger.Year,
			TempDir:     cfg.Tiger.TempDir,
			Table:       table,
			Incremental: incremental,
			DryRun:      dryRun,
			Retry:       retryConfig(),
		}

		zap.L().With(zap.String("command", "counties.load")).Info("starting county load",
			zap.Int("year", opts.Year),
			zap.String("table", table.Qualified()),
			zap.Bool("incremental", opts.Incremental),
			zap.Bool("dry_run", opts.DryRun),
		)

		n, err := tiger.LoadCounties(ctx, pool, opts)
		if err != nil {
			return eris.Wrap(err, "counties load")
		}
		fmt.Printf("Loaded %d counties into %s\n", n, table.Qualified())
		return nil
	},
}

// -- counties status --

var countiesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded county loads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		table, err := tiger.ParseTableName(cfg.Counties.Table)
		if err != nil {
			return err
		}
		pool, err := countyPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		return printLoadStatus(ctx, os.Stdout, pool, table)
	},
}

func init() {
	for _, c := range []*cobra.Command{countiesDownloadCmd, countiesLoadCmd} {
		c.Flags().Int("year", 0, "TIGER/Line year (default: from config or 2024)")
		c.Flags().String("temp-dir", "", "download directory (default: from config)")
	}
	countiesLoadCmd.Flags().Bool("incremental", true, "skip a year that is already loaded")
	countiesLoadCmd.Flags().Bool("dry-run", false, "download and parse without loading")

	countiesCmd.AddCommand(countiesDownloadCmd)
	countiesCmd.AddCommand(countiesLoadCmd)
	countiesCmd.AddCommand(countiesStatusCmd)
	rootCmd.AddCommand(countiesCmd)
}

func applyTigerFlags(cmd *cobra.Command) {
	if y, _ := cmd.Flags().GetInt("year"); y != 0 {
		cfg.Tiger.Year = y
	}
	if d, _ := cmd.Flags().GetString("temp-dir"); d != "" {
		cfg.Tiger.TempDir = d
	}
}

func retryConfig() resilience.RetryConfig {
	return resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs,
		cfg.Retry.MaxBackoffMs, cfg.Retry.Multiplier)
}

// printLoadStatus lists the loads recorded for table.
func printLoadStatus(ctx context.Context, out io.Writer, pool db.Pool, table tiger.CountyTable) error {
	status, err := tiger.LoadStatus(ctx, pool, table)
	if err != nil {
		return eris.Wrap(err, "counties status")
	}

	if len(status) == 0 {
		_, _ = fmt.Fprintln(out, "No county loads recorded")
		return nil
	}

	_, _ = fmt.Fprintf(out, "%-6s %-6s %-15s %-6s %10s %12s %s\n",
		"FIPS", "State", "Table", "Year", "Rows", "Duration", "Loaded At")
	_, _ = fmt.Fprintln(out, strings.Repeat("-", 80))

	for _, s := range status {
		_, _ = fmt.Fprintf(out, "%-6s %-6s %-15s %-6d %10d %10dms %s\n",
			s.StateFIPS, s.StateAbbr, s.TableName, s.Year,
			s.RowCount, s.DurationMs, s.LoadedAt.Format("2006-01-02 15:04"))
	}
	return nil
}
