// Package landcover holds the NLCD reclassification table and the pure
// value types derived from it: pixel tallies, county proportion records,
// partition validation and summary statistics.
package landcover

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// Code is a raw category code as stored in the NLCD raster.
type Code int

// Class is a semantic land-cover class.
type Class int

// Semantic classes. Nodata is a tallying pseudo-class and never appears in
// proportion outputs.
const (
	Forest Class = iota
	Agriculture
	Developed
	Wetland
	Other
	Nodata
)

// RealClasses lists the classes that receive a proportion, in output column order.
var RealClasses = []Class{Forest, Agriculture, Developed, Wetland, Other}

// Classes lists every semantic class including Nodata.
var Classes = []Class{Forest, Agriculture, Developed, Wetland, Other, Nodata}

var classNames = [...]string{
	Forest:      "forest",
	Agriculture: "agriculture",
	Developed:   "developed",
	Wetland:     "wetland",
	Other:       "other",
	Nodata:      "nodata",
}

func (c Class) String() string {
	if c < 0 || int(c) >= len(classNames) {
		return "unknown"
	}
	return classNames[c]
}

// IsReal reports whether c contributes to the valid-pixel denominator.
func (c Class) IsReal() bool {
	return c >= Forest && c <= Other
}

// ParseClass resolves a class name (case-insensitive).
func ParseClass(name string) (Class, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range classNames {
		if n == name {
			return Class(i), nil
		}
	}
	return 0, eris.Errorf("landcover: unknown class %q", name)
}

// NLCD legend. Codes absent from this table are dropped from every tally.
var reclassification = map[Code]Class{
	41: Forest, // Deciduous Forest
	42: Forest, // Evergreen Forest
	43: Forest, // Mixed Forest

	81: Agriculture, // Pasture/Hay
	82: Agriculture, // Cultivated Crops

	21: Developed, // Developed, Open Space
	22: Developed, // Developed, Low Intensity
	23: Developed, // Developed, Medium Intensity
	24: Developed, // Developed, High Intensity

	90: Wetland, // Woody Wetlands
	95: Wetland, // Emergent Herbaceous Wetlands

	11: Other, // Open Water
	12: Other, // Perennial Ice/Snow
	31: Other, // Barren Land
	52: Other, // Shrub/Scrub
	71: Other, // Grassland/Herbaceous

	250: Nodata,
}

// Lookup returns the semantic class for a raw code. ok is false for codes
// outside the NLCD legend.
func Lookup(code Code) (Class, bool) {
	c, ok := reclassification[code]
	return c, ok
}

// Codes returns every documented raw code in ascending order.
func Codes() []Code {
	codes := make([]Code, 0, len(reclassification))
	for code := range reclassification {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}

// CodesFor returns the raw codes that fold into class c, ascending.
func CodesFor(c Class) []Code {
	var codes []Code
	for code, class := range reclassification {
		if class == c {
			codes = append(codes, code)
		}
	}
	slices.Sort(codes)
	return codes
}
