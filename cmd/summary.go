package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/nlcd-county/internal/landcover"
)

var titleCase = cases.Title(language.English)

// printSummary writes the end-of-run summary: county counts, per-class
// means, and the partition check.
func printSummary(out io.Writer, s landcover.Summary, report landcover.PartitionReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Counties processed:\t%d\n", s.Counties)
	_, _ = fmt.Fprintf(w, "With data:\t%d\n", s.WithData)
	_, _ = fmt.Fprintf(w, "No data:\t%d\n", s.NoData)
	_ = w.Flush()

	_, _ = fmt.Fprintln(out)
	printClassMeans(out, s)

	_, _ = fmt.Fprintln(out)
	printPartition(out, report)
}

// printClassMeans writes mean proportions per class.
func printClassMeans(out io.Writer, s landcover.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CLASS\tMEAN\tMEAN (WITH DATA)\tMIN\tMAX\tDOMINANT IN")
	for _, c := range s.Classes {
		_, _ = fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%.4f\t%.4f\t%d\n",
			titleCase.String(c.Class), c.Mean, c.MeanWithData, c.Min, c.Max, s.DominantCounts[c.Class])
	}
	_ = w.Flush()
}

// printTop writes the highest-proportion counties per class.
func printTop(out io.Writer, s landcover.Summary) {
	for _, c := range s.Classes {
		if len(c.Top) == 0 {
			continue
		}
		_, _ = fmt.Fprintf(out, "Top %s counties:\n", titleCase.String(c.Class))
		for i, r := range c.Top {
			_, _ = fmt.Fprintf(out, "  %2d. %s  %.4f\n", i+1, r.FIPS, r.Proportion)
		}
	}
}

// printStates writes per-state mean proportions.
func printStates(out io.Writer, s landcover.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := []string{"STATE", "COUNTIES"}
	for _, c := range landcover.RealClasses {
		header = append(header, strings.ToUpper(c.String()))
	}
	_, _ = fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, st := range s.States {
		_, _ = fmt.Fprintf(w, "%s\t%d", st.StateFIPS, st.Counties)
		for _, c := range landcover.RealClasses {
			_, _ = fmt.Fprintf(w, "\t%.4f", st.Means[c.String()])
		}
		_, _ = fmt.Fprintln(w)
	}
	_ = w.Flush()
}

// printPartition writes the partition check result and its sample.
func printPartition(out io.Writer, r landcover.PartitionReport) {
	_, _ = fmt.Fprintf(out, "Partition check [%.2f, %.2f]: %d of %d valid\n", r.Lower, r.Upper, r.Valid(), r.Checked)
	if r.Exempted > 0 {
		_, _ = fmt.Fprintf(out, "  %d all-zero records exempted\n", r.Exempted)
	}
	if r.OK() {
		return
	}
	_, _ = fmt.Fprintf(out, "  %d flagged (%d all-zero)\n", r.Flagged, r.FlaggedDegenerate)
	for _, f := range r.Sample {
		_, _ = fmt.Fprintf(out, "  %s  sum=%.6f\n", f.FIPS, f.Total)
	}
}
