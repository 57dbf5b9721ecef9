// Package output writes and reads the county land-cover table.
package output

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/nlcd-county/internal/landcover"
)

// Columns is the exact header of the output table.
var Columns = []string{
	"county_fips",
	"forest_proportion",
	"agriculture_proportion",
	"developed_proportion",
	"wetland_proportion",
	"other_proportion",
}

// WriteCSV writes records, in order, to path.
func WriteCSV(path string, records []landcover.CountyRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "output: create %s", path)
	}
	if err := EncodeCSV(f, records); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "output: write %s", path)
	}
	return eris.Wrapf(f.Close(), "output: close %s", path)
}

// EncodeCSV writes the header and one row per record to w.
func EncodeCSV(w io.Writer, records []landcover.CountyRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "output: write header")
	}
	row := make([]string, len(Columns))
	for _, r := range records {
		row[0] = r.FIPS
		for i, p := range r.Proportions() {
			row[i+1] = formatProportion(p)
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrapf(err, "output: write county %s", r.FIPS)
		}
	}
	cw.Flush()
	return cw.Error()
}

// formatProportion writes the shortest exact decimal, always with a
// fractional part so the column reads back as floating point.
func formatProportion(p float64) string {
	s := strconv.FormatFloat(p, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// ReadCSV reads an output table written by WriteCSV. County codes that lost
// their leading zeros are padded back to five digits.
func ReadCSV(path string) ([]landcover.CountyRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "output: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	records, err := DecodeCSV(f)
	if err != nil {
		return nil, eris.Wrapf(err, "output: read %s", path)
	}
	return records, nil
}

// DecodeCSV parses an output table. Columns may appear in any order;
// extra columns are ignored.
func DecodeCSV(r io.Reader) ([]landcover.CountyRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, eris.New("output: empty table")
	}
	if err != nil {
		return nil, eris.Wrap(err, "output: read header")
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	pos := make([]int, len(Columns))
	for i, c := range Columns {
		j, ok := idx[c]
		if !ok {
			return nil, eris.Errorf("output: missing column %q", c)
		}
		pos[i] = j
	}

	var records []landcover.CountyRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "output: line %d", line)
		}

		fips, err := landcover.NormalizeFIPS(row[pos[0]])
		if err != nil {
			return nil, eris.Wrapf(err, "output: line %d", line)
		}
		var props [5]float64
		for i := range props {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[pos[i+1]]), 64)
			if err != nil {
				return nil, eris.Wrapf(err, "output: line %d column %s", line, Columns[i+1])
			}
			props[i] = v
		}
		records = append(records, landcover.CountyRecord{
			FIPS:        fips,
			Forest:      props[0],
			Agriculture: props[1],
			Developed:   props[2],
			Wetland:     props[3],
			Other:       props[4],
		})
	}
	return records, nil
}
