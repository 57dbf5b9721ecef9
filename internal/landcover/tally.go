package landcover

// RawTally maps raw raster codes to pixel counts for a single polygon.
type RawTally map[Code]int64

// Total returns the number of pixels across all raw codes.
func (r RawTally) Total() int64 {
	var n int64
	for _, count := range r {
		n += count
	}
	return n
}

// PixelTally holds pixel counts per semantic class, including Nodata.
// It is a value type; every class always has an entry.
type PixelTally [len(classNames)]int64

// Fold reclassifies a raw tally into semantic classes. Unknown codes and
// non-positive counts are dropped.
func Fold(raw RawTally) PixelTally {
	var t PixelTally
	for code, count := range raw {
		if count <= 0 {
			continue
		}
		class, ok := Lookup(code)
		if !ok {
			continue
		}
		t[class] += count
	}
	return t
}

// Count returns the pixel count for class c.
func (t PixelTally) Count(c Class) int64 {
	if c < 0 || int(c) >= len(t) {
		return 0
	}
	return t[c]
}

// TotalValid sums the real classes, excluding Nodata.
func (t PixelTally) TotalValid() int64 {
	var n int64
	for _, c := range RealClasses {
		n += t[c]
	}
	return n
}
