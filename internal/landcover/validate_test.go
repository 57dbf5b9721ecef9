package landcover

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePartition_WellFormed(t *testing.T) {
	records := []CountyRecord{
		NewRecord("01001", Fold(RawTally{41: 120, 82: 30, 21: 50, 250: 10})),
		NewRecord("01003", Fold(RawTally{11: 1, 90: 2, 95: 3})),
	}

	report := ValidatePartition(records, ValidateOptions{})
	assert.True(t, report.OK())
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 2, report.Valid())
	assert.InDelta(t, 0.99, report.Lower, 1e-12)
	assert.InDelta(t, 1.01, report.Upper, 1e-12)
	assert.Empty(t, report.Sample)
}

// An all-nodata county sums to 0.0. Under the default options it is flagged
// together with genuine anomalies; ExemptDegenerate opts out of that.
func TestValidatePartition_DegenerateFlaggedByDefault(t *testing.T) {
	records := []CountyRecord{
		NewRecord("02013", Fold(RawTally{250: 500})),
		NewRecord("01001", Fold(RawTally{41: 1})),
	}

	report := ValidatePartition(records, ValidateOptions{})
	require.Equal(t, 1, report.Flagged)
	assert.Equal(t, 1, report.FlaggedDegenerate)
	assert.Equal(t, []PartitionFlag{{FIPS: "02013", Total: 0, Degenerate: true}}, report.Sample)

	exempt := ValidatePartition(records, ValidateOptions{ExemptDegenerate: true})
	assert.True(t, exempt.OK())
	assert.Equal(t, 1, exempt.Exempted)
	assert.Equal(t, 1, exempt.Checked)
}

func TestValidatePartition_Anomalies(t *testing.T) {
	records := []CountyRecord{
		{FIPS: "00001", Forest: 0.5, Other: 0.495},  // 0.995 inside
		{FIPS: "00002", Forest: 0.5, Other: 0.48},   // 0.98 outside
		{FIPS: "00003", Forest: 0.6, Other: 0.42},   // 1.02 outside
		{FIPS: "00004", Forest: 0.5, Other: 0.5099}, // 1.0099 inside
	}

	report := ValidatePartition(records, ValidateOptions{})
	assert.Equal(t, 2, report.Flagged)
	assert.Equal(t, 0, report.FlaggedDegenerate)
	require.Len(t, report.Sample, 2)
	assert.Equal(t, "00002", report.Sample[0].FIPS)
	assert.Equal(t, "00003", report.Sample[1].FIPS)
}

func TestValidatePartition_SampleLimit(t *testing.T) {
	var records []CountyRecord
	for i := range 12 {
		records = append(records, DegenerateRecord(fmt.Sprintf("%05d", i)))
	}

	report := ValidatePartition(records, ValidateOptions{})
	assert.Equal(t, 12, report.Flagged)
	assert.Len(t, report.Sample, DefaultSampleSize)
	assert.Equal(t, "00000", report.Sample[0].FIPS)

	report = ValidatePartition(records, ValidateOptions{SampleSize: 2, Tolerance: 0.5})
	assert.Len(t, report.Sample, 2)
	assert.InDelta(t, 0.5, report.Lower, 1e-12)
}

func TestValidatePartition_DoesNotMutate(t *testing.T) {
	records := []CountyRecord{{FIPS: "00002", Forest: 0.2}}
	before := append([]CountyRecord(nil), records...)
	_ = ValidatePartition(records, ValidateOptions{})
	assert.Equal(t, before, records)
}
