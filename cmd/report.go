package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/nlcd-county/internal/landcover"
	"github.com/sells-group/nlcd-county/internal/output"
)

var reportCmd = &cobra.Command{
	Use:   "report <csv>",
	Short: "Summarize an output table",
	Long: `Prints counties with and without data, per-class statistics, the top
counties per class, dominant cover counts, and per-state means.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := output.ReadCSV(args[0])
		if err != nil {
			return err
		}

		top, _ := cmd.Flags().GetInt("top")
		format, _ := cmd.Flags().GetString("format")
		states, _ := cmd.Flags().GetBool("states")

		summary := landcover.Summarize(records, top)
		return writeReport(os.Stdout, summary, format, states)
	},
}

func init() {
	reportCmd.Flags().Int("top", 10, "counties listed per class")
	reportCmd.Flags().String("format", "text", "output format: text or yaml")
	reportCmd.Flags().Bool("states", false, "include per-state means in text output")
	rootCmd.AddCommand(reportCmd)
}

// writeReport renders a summary as text or YAML.
func writeReport(out io.Writer, s landcover.Summary, format string, states bool) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return eris.Wrap(err, "report: encode yaml")
		}
		return enc.Close()
	case "text", "":
		_, _ = fmt.Fprintf(out, "Counties: %d (with data %d, no data %d)\n\n", s.Counties, s.WithData, s.NoData)
		printClassMeans(out, s)
		_, _ = fmt.Fprintln(out)
		printTop(out, s)
		if states {
			_, _ = fmt.Fprintln(out)
			printStates(out, s)
		}
		return nil
	default:
		return eris.Errorf("report: unknown format %q (want text or yaml)", format)
	}
}
