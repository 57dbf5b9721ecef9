package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/nlcd-county/internal/landcover"
	"github.com/sells-group/nlcd-county/internal/output"
)

var validateCmd = &cobra.Command{
	Use:   "validate <csv>",
	Short: "Check that each county's proportions sum to one",
	Long: `Reads an output table and flags counties whose proportions do not sum to
1 within the tolerance. All-zero (no data) counties are flagged unless
--exempt-degenerate or validate.exempt_degenerate is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := output.ReadCSV(args[0])
		if err != nil {
			return err
		}

		opts, err := validateOptions(cmd)
		if err != nil {
			return err
		}

		report := landcover.ValidatePartition(records, opts)
		printPartition(os.Stdout, report)

		strict, _ := cmd.Flags().GetBool("strict")
		if strict && !report.OK() {
			return eris.Errorf("validate: %d counties flagged", report.Flagged)
		}
		return nil
	},
}

// validateOptions merges config and flags. ValidatePartition treats a zero
// tolerance as the default, so an explicit zero is rejected here.
func validateOptions(cmd *cobra.Command) (landcover.ValidateOptions, error) {
	opts := landcover.ValidateOptions{
		Tolerance:        cfg.Validate.Tolerance,
		ExemptDegenerate: cfg.Validate.ExemptDegenerate,
		SampleSize:       cfg.Validate.SampleSize,
	}
	if cmd.Flags().Changed("tolerance") {
		opts.Tolerance, _ = cmd.Flags().GetFloat64("tolerance")
	}
	if cmd.Flags().Changed("exempt-degenerate") {
		opts.ExemptDegenerate, _ = cmd.Flags().GetBool("exempt-degenerate")
	}
	if opts.Tolerance <= 0 || opts.Tolerance >= 1 {
		return opts, eris.Errorf("validate: tolerance must be in (0, 1), got %g", opts.Tolerance)
	}
	return opts, nil
}

func init() {
	validateCmd.Flags().Float64("tolerance", landcover.DefaultTolerance, "accepted deviation of the sum from 1")
	validateCmd.Flags().Bool("exempt-degenerate", false, "skip all-zero records")
	validateCmd.Flags().Bool("strict", false, "exit non-zero when any county is flagged")
	rootCmd.AddCommand(validateCmd)
}
