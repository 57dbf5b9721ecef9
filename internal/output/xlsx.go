package output

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/nlcd-county/internal/landcover"
)

// Sheet names in the exported workbook.
const (
	SheetCounties = "Counties"
	SheetSummary  = "Summary"
	SheetStates   = "States"
)

// WriteXLSX exports records and their summary as a workbook with a
// county sheet, a per-class summary sheet, and a per-state sheet.
func WriteXLSX(path string, records []landcover.CountyRecord, summary landcover.Summary) error {
	f := xlsx.NewFile()

	counties, err := f.AddSheet(SheetCounties)
	if err != nil {
		return eris.Wrap(err, "output: add counties sheet")
	}
	addStrings(counties, Columns...)
	for _, r := range records {
		row := counties.AddRow()
		row.AddCell().SetString(r.FIPS)
		for _, p := range r.Proportions() {
			row.AddCell().SetFloat(p)
		}
	}

	sum, err := f.AddSheet(SheetSummary)
	if err != nil {
		return eris.Wrap(err, "output: add summary sheet")
	}
	addCount(sum, "Counties", summary.Counties)
	addCount(sum, "With data", summary.WithData)
	addCount(sum, "No data", summary.NoData)
	addStrings(sum, "Class", "Mean", "Mean (with data)", "Min", "Max", "Dominant in")
	for _, c := range summary.Classes {
		row := sum.AddRow()
		row.AddCell().SetString(c.Class)
		row.AddCell().SetFloat(c.Mean)
		row.AddCell().SetFloat(c.MeanWithData)
		row.AddCell().SetFloat(c.Min)
		row.AddCell().SetFloat(c.Max)
		row.AddCell().SetInt(summary.DominantCounts[c.Class])
	}

	states, err := f.AddSheet(SheetStates)
	if err != nil {
		return eris.Wrap(err, "output: add states sheet")
	}
	header := []string{"state_fips", "counties"}
	for _, c := range landcover.RealClasses {
		header = append(header, c.String())
	}
	addStrings(states, header...)
	for _, st := range summary.States {
		row := states.AddRow()
		row.AddCell().SetString(st.StateFIPS)
		row.AddCell().SetInt(st.Counties)
		for _, c := range landcover.RealClasses {
			row.AddCell().SetFloat(st.Means[c.String()])
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "output: save %s", path)
	}
	return nil
}

func addStrings(sheet *xlsx.Sheet, vals ...string) {
	row := sheet.AddRow()
	for _, v := range vals {
		row.AddCell().SetString(v)
	}
}

func addCount(sheet *xlsx.Sheet, label string, n int) {
	row := sheet.AddRow()
	row.AddCell().SetString(label)
	row.AddCell().SetInt(n)
}
