package landcover

import (
	"strings"

	"github.com/rotisserie/eris"
)

// CountyRecord is one row of the output table: a county FIPS code and the
// share of its valid pixels in each real class.
type CountyRecord struct {
	FIPS        string  `json:"county_fips" yaml:"county_fips"`
	Forest      float64 `json:"forest_proportion" yaml:"forest_proportion"`
	Agriculture float64 `json:"agriculture_proportion" yaml:"agriculture_proportion"`
	Developed   float64 `json:"developed_proportion" yaml:"developed_proportion"`
	Wetland     float64 `json:"wetland_proportion" yaml:"wetland_proportion"`
	Other       float64 `json:"other_proportion" yaml:"other_proportion"`
}

// NewRecord normalizes a pixel tally into proportions of valid pixels.
// A tally with no valid pixels yields the all-zero record.
func NewRecord(fips string, t PixelTally) CountyRecord {
	total := t.TotalValid()
	if total == 0 {
		return DegenerateRecord(fips)
	}
	d := float64(total)
	return CountyRecord{
		FIPS:        fips,
		Forest:      float64(t[Forest]) / d,
		Agriculture: float64(t[Agriculture]) / d,
		Developed:   float64(t[Developed]) / d,
		Wetland:     float64(t[Wetland]) / d,
		Other:       float64(t[Other]) / d,
	}
}

// DegenerateRecord returns the record used for counties without any valid
// pixels, whatever the cause.
func DegenerateRecord(fips string) CountyRecord {
	return CountyRecord{FIPS: fips}
}

// Proportion returns the proportion for a real class; Nodata yields 0.
func (r CountyRecord) Proportion(c Class) float64 {
	switch c {
	case Forest:
		return r.Forest
	case Agriculture:
		return r.Agriculture
	case Developed:
		return r.Developed
	case Wetland:
		return r.Wetland
	case Other:
		return r.Other
	default:
		return 0
	}
}

// Proportions returns the five proportions in RealClasses order.
func (r CountyRecord) Proportions() [5]float64 {
	return [5]float64{r.Forest, r.Agriculture, r.Developed, r.Wetland, r.Other}
}

// Total sums the five proportions.
func (r CountyRecord) Total() float64 {
	return r.Forest + r.Agriculture + r.Developed + r.Wetland + r.Other
}

// HasData reports whether the county had any valid pixels. Downstream
// consumers detect "no data" by a zero proportion sum, not a null marker.
func (r CountyRecord) HasData() bool {
	return r.Total() > 0
}

// StateFIPS returns the two-digit state prefix of the county code.
func (r CountyRecord) StateFIPS() string {
	if len(r.FIPS) < 2 {
		return ""
	}
	return r.FIPS[:2]
}

// Dominant returns the real class with the largest proportion. Ties resolve
// to the earlier class in RealClasses order. ok is false for records without data.
func (r CountyRecord) Dominant() (Class, bool) {
	if !r.HasData() {
		return 0, false
	}
	best := Forest
	for _, c := range RealClasses[1:] {
		if r.Proportion(c) > r.Proportion(best) {
			best = c
		}
	}
	return best, true
}

// NormalizeFIPS returns a 5-character zero-padded county code.
func NormalizeFIPS(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", eris.New("landcover: empty county FIPS")
	}
	if len(s) > 5 {
		return "", eris.Errorf("landcover: county FIPS %q longer than 5 digits", s)
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return "", eris.Errorf("landcover: county FIPS %q is not numeric", s)
		}
	}
	return strings.Repeat("0", 5-len(s)) + s, nil
}
