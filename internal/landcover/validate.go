package landcover

// Defaults for partition validation.
const (
	DefaultTolerance  = 0.01
	DefaultSampleSize = 5
)

// ValidateOptions configures ValidatePartition.
type ValidateOptions struct {
	Tolerance float64 // accepted deviation of the proportion sum from 1.0; zero selects DefaultTolerance

	// ExemptDegenerate skips all-zero records. Off by default: a zero sum
	// lies outside [1-tol, 1+tol] and is flagged like any other anomaly.
	ExemptDegenerate bool

	SampleSize int // flagged identifiers kept in the report (default 5)
}

// PartitionFlag is a record whose proportions do not sum to ~1.
type PartitionFlag struct {
	FIPS       string  `json:"county_fips" yaml:"county_fips"`
	Total      float64 `json:"total_proportion" yaml:"total_proportion"`
	Degenerate bool    `json:"degenerate" yaml:"degenerate"`
}

// PartitionReport summarizes a validation pass. It never alters the records.
type PartitionReport struct {
	Checked           int             `json:"checked" yaml:"checked"`
	Flagged           int             `json:"flagged" yaml:"flagged"`
	FlaggedDegenerate int             `json:"flagged_degenerate" yaml:"flagged_degenerate"`
	Exempted          int             `json:"exempted" yaml:"exempted"`
	Lower             float64         `json:"lower" yaml:"lower"`
	Upper             float64         `json:"upper" yaml:"upper"`
	Sample            []PartitionFlag `json:"sample" yaml:"sample"`
}

// Valid returns the number of checked records inside the bounds.
func (r PartitionReport) Valid() int {
	return r.Checked - r.Flagged
}

// OK reports whether no record was flagged.
func (r PartitionReport) OK() bool {
	return r.Flagged == 0
}

// ValidatePartition flags records whose proportion sum falls outside
// [1-tol, 1+tol]. The sample keeps the first SampleSize flagged records in
// input order.
func ValidatePartition(records []CountyRecord, opts ValidateOptions) PartitionReport {
	tol := opts.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	sampleSize := opts.SampleSize
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}

	report := PartitionReport{
		Lower: 1 - tol,
		Upper: 1 + tol,
	}

	for _, r := range records {
		total := r.Total()
		degenerate := total == 0
		if degenerate && opts.ExemptDegenerate {
			report.Exempted++
			continue
		}
		report.Checked++
		if total >= report.Lower && total <= report.Upper {
			continue
		}
		report.Flagged++
		if degenerate {
			report.FlaggedDegenerate++
		}
		if len(report.Sample) < sampleSize {
			report.Sample = append(report.Sample, PartitionFlag{
				FIPS:       r.FIPS,
				Total:      total,
				Degenerate: degenerate,
			})
		}
	}

	return report
}
