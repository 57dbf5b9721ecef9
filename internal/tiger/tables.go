// Package tiger supplies county boundaries from Census TIGER/Line: the
// national county shapefile, or a PostGIS table loaded from it.
package tiger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// CountyTable describes the PostGIS table the county shapefile loads into.
type CountyTable struct {
	Schema  string
	Name    string
	Columns []string // attribute columns, in shapefile field order; the_geom is appended
}

// DefaultCountyTable mirrors the tiger_data.county_all layout used by the
// PostGIS geocoder extension.
var DefaultCountyTable = CountyTable{
	Schema:  "tiger_data",
	Name:    "county_all",
	Columns: []string{"statefp", "countyfp", "geoid", "name", "namelsad", "aland", "awater"},
}

// Qualified returns "schema.name".
func (t CountyTable) Qualified() string {
	return t.Schema + "." + t.Name
}

// ParseTableName splits "schema.table" (schema optional, default
// tiger_data) into a CountyTable with the default columns.
func ParseTableName(s string) (CountyTable, error) {
	t := DefaultCountyTable
	s = strings.TrimSpace(s)
	if s == "" {
		return t, nil
	}
	parts := strings.Split(s, ".")
	switch len(parts) {
	case 1:
		t.Name = parts[0]
	case 2:
		t.Schema, t.Name = parts[0], parts[1]
	default:
		return t, eris.Errorf("tiger: invalid table name %q", s)
	}
	if t.Schema == "" || t.Name == "" {
		return t, eris.Errorf("tiger: invalid table name %q", s)
	}
	return t, nil
}

// censusBaseURL is the TIGER/Line download root; tests point it at a
// local server.
var censusBaseURL = "https://www2.census.gov/geo/tiger"

// CountyURL builds the Census download URL for the national county file.
func CountyURL(year int) string {
	return fmt.Sprintf("%s/TIGER%d/COUNTY/tl_%d_us_county.zip", censusBaseURL, year, year)
}

// FIPSCodes maps state abbreviation to 2-digit FIPS code for the 50 states,
// DC, and the territories present in the TIGER county file.
var FIPSCodes = map[string]string{
	"AL": "01", "AK": "02", "AZ": "04", "AR": "05", "CA": "06",
	"CO": "08", "CT": "09", "DE": "10", "DC": "11", "FL": "12",
	"GA": "13", "HI": "15", "ID": "16", "IL": "17", "IN": "18",
	"IA": "19", "KS": "20", "KY": "21", "LA": "22", "ME": "23",
	"MD": "24", "MA": "25", "MI": "26", "MN": "27", "MS": "28",
	"MO": "29", "MT": "30", "NE": "31", "NV": "32", "NH": "33",
	"NJ": "34", "NM": "35", "NY": "36", "NC": "37", "ND": "38",
	"OH": "39", "OK": "40", "OR": "41", "PA": "42", "RI": "44",
	"SC": "45", "SD": "46", "TN": "47", "TX": "48", "UT": "49",
	"VT": "50", "VA": "51", "WA": "53", "WV": "54", "WI": "55",
	"WY": "56", "AS": "60", "GU": "66", "MP": "69", "PR": "72",
	"VI": "78",
}

// outsideConus lists state FIPS codes not covered by the CONUS land-cover
// grid: Alaska, Hawaii and the territories.
var outsideConus = map[string]bool{
	"02": true, "15": true, "60": true, "66": true, "69": true, "72": true, "78": true,
}

var abbrByFIPS map[string]string

func init() {
	abbrByFIPS = make(map[string]string, len(FIPSCodes))
	for abbr, fips := range FIPSCodes {
		abbrByFIPS[fips] = abbr
	}
}

// AbbrFromFIPS returns the state abbreviation for a FIPS code.
func AbbrFromFIPS(fips string) (string, bool) {
	abbr, ok := abbrByFIPS[fips]
	return abbr, ok
}

// IsContinental reports whether a state FIPS code belongs to the
// conterminous United States (48 states plus DC).
func IsContinental(stateFIPS string) bool {
	_, known := abbrByFIPS[stateFIPS]
	return known && !outsideConus[stateFIPS]
}

// AllStateFIPS returns every known state FIPS code, sorted.
func AllStateFIPS() []string {
	codes := make([]string, 0, len(FIPSCodes))
	for _, fips := range FIPSCodes {
		codes = append(codes, fips)
	}
	sort.Strings(codes)
	return codes
}

// ResolveStates converts abbreviations or FIPS codes ("TX", "48", "8") into
// sorted, de-duplicated 2-digit FIPS codes.
func ResolveStates(states []string) ([]string, error) {
	seen := make(map[string]bool, len(states))
	var out []string
	for _, s := range states {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		fips, ok := FIPSCodes[s]
		if !ok {
			if len(s) == 1 {
				s = "0" + s
			}
			if _, known := abbrByFIPS[s]; !known {
				return nil, eris.Errorf("tiger: unknown state %q", s)
			}
			fips = s
		}
		if !seen[fips] {
			seen[fips] = true
			out = append(out, fips)
		}
	}
	sort.Strings(out)
	return out, nil
}
