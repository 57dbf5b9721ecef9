package raster

import (
	"context"
	"image"
	"math"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/nlcd-county/internal/landcover"
)

// DefaultExcludeValue is the fill value outside the NLCD coverage area.
const DefaultExcludeValue uint8 = 0

// ErrUnsupportedGeometry is returned for geometries other than polygons.
var ErrUnsupportedGeometry = eris.New("raster: unsupported geometry type")

// bandRows is how many scanlines are read from the source per window.
// A worker holds at most one band of the county's bounding box in memory.
const bandRows = 256

// GridSampler tallies the cells of a Source whose centers fall inside a
// polygon. Cells equal to the exclude value are never counted.
type GridSampler struct {
	src     Source
	exclude uint8
}

// NewGridSampler creates a sampler over src. The sampler holds no mutable
// state and may be shared by concurrent workers.
func NewGridSampler(src Source, exclude uint8) *GridSampler {
	return &GridSampler{src: src, exclude: exclude}
}

// Source returns the underlying raster.
func (s *GridSampler) Source() Source {
	return s.src
}

// edge is a polygon edge in pixel space with yLo < yHi.
type edge struct {
	x0, y0 float64 // endpoint with the smaller y
	dxdy   float64
	first  int // first row whose center line the edge crosses
	last   int // last row whose center line the edge crosses
}

// extent is the pixel bounding box of a set of edges, inclusive.
type extent struct {
	rowMin, rowMax int
	colMin, colMax int
}

// Sample returns the per-code pixel tally of g. The geometry must be in the
// raster's coordinate reference system. A geometry that does not overlap
// the raster yields an empty tally and no error.
func (s *GridSampler) Sample(ctx context.Context, g geom.T) (landcover.RawTally, error) {
	if g == nil {
		return nil, eris.Wrap(ErrUnsupportedGeometry, "raster: nil geometry")
	}

	rings, err := polygonRings(g)
	if err != nil {
		return nil, err
	}

	edges, ext := buildEdges(s.src.GeoTransform(), rings, g.Stride())
	if len(edges) == 0 {
		return landcover.RawTally{}, nil
	}

	// Clamp to the raster.
	width, height := s.src.Size()
	ext.rowMin = max(ext.rowMin, 0)
	ext.rowMax = min(ext.rowMax, height-1)
	ext.colMin = max(ext.colMin, 0)
	ext.colMax = min(ext.colMax, width-1)
	if ext.rowMin > ext.rowMax || ext.colMin > ext.colMax {
		return landcover.RawTally{}, nil
	}

	// Bucket edges by the first row they affect.
	starts := make([][]int, ext.rowMax-ext.rowMin+1)
	for i, e := range edges {
		if e.last < ext.rowMin || e.first > ext.rowMax {
			continue
		}
		first := max(e.first, ext.rowMin)
		starts[first-ext.rowMin] = append(starts[first-ext.rowMin], i)
	}

	var counts [256]int64
	var active []int
	var xs []float64

	bandW := ext.colMax - ext.colMin + 1
	band := make([]uint8, bandW*min(bandRows, ext.rowMax-ext.rowMin+1))
	bandStart := -1

	for row := ext.rowMin; row <= ext.rowMax; row++ {
		if (row-ext.rowMin)%bandRows == 0 {
			if err := ctx.Err(); err != nil {
				return nil, eris.Wrap(err, "raster: sample cancelled")
			}
			bandStart = row
			bandEnd := min(row+bandRows, ext.rowMax+1)
			win := image.Rect(ext.colMin, row, ext.colMax+1, bandEnd)
			if err := s.src.ReadWindow(win, band); err != nil {
				return nil, eris.Wrapf(err, "raster: read window %v", win)
			}
		}

		active = append(active, starts[row-ext.rowMin]...)
		active = slices.DeleteFunc(active, func(i int) bool { return edges[i].last < row })
		if len(active) < 2 {
			continue
		}

		yc := float64(row) + 0.5
		xs = xs[:0]
		for _, i := range active {
			e := edges[i]
			xs = append(xs, e.x0+(yc-e.y0)*e.dxdy)
		}
		slices.Sort(xs)

		line := band[(row-bandStart)*bandW : (row-bandStart+1)*bandW]
		for k := 0; k+1 < len(xs); k += 2 {
			c0 := int(math.Ceil(xs[k] - 0.5))
			c1 := int(math.Ceil(xs[k+1]-0.5)) - 1
			c0 = max(c0, ext.colMin)
			c1 = min(c1, ext.colMax)
			if c0 > c1 {
				continue
			}
			for _, v := range line[c0-ext.colMin : c1-ext.colMin+1] {
				counts[v]++
			}
		}
	}

	tally := make(landcover.RawTally)
	for v, n := range counts {
		if n == 0 || uint8(v) == s.exclude {
			continue
		}
		tally[landcover.Code(v)] = n
	}
	return tally, nil
}

// buildEdges converts rings into pixel-space edges and returns the pixel
// extent they span. Horizontal edges never cross a row center line and are
// dropped.
func buildEdges(gt GeoTransform, rings [][]float64, stride int) ([]edge, extent) {
	ext := extent{rowMin: math.MaxInt, rowMax: math.MinInt, colMin: math.MaxInt, colMax: math.MinInt}
	var edges []edge

	for _, ring := range rings {
		n := len(ring) / stride
		if n < 3 {
			continue
		}
		for i := 0; i < n; i++ {
			// The wrap-around edge closes rings that do not repeat their
			// first vertex; for closed rings it has zero length.
			j := (i + 1) % n
			ax, ay := gt.ToPixel(ring[i*stride], ring[i*stride+1])
			bx, by := gt.ToPixel(ring[j*stride], ring[j*stride+1])
			if ay == by {
				continue
			}
			if ay > by {
				ax, ay, bx, by = bx, by, ax, ay
			}
			// Row centers r+0.5 with ay <= r+0.5 < by.
			first := int(math.Ceil(ay - 0.5))
			last := int(math.Ceil(by-0.5)) - 1
			if last < first {
				continue
			}
			edges = append(edges, edge{
				x0:    ax,
				y0:    ay,
				dxdy:  (bx - ax) / (by - ay),
				first: first,
				last:  last,
			})
			ext.rowMin = min(ext.rowMin, first)
			ext.rowMax = max(ext.rowMax, last)
			ext.colMin = min(ext.colMin, int(math.Floor(math.Min(ax, bx))))
			ext.colMax = max(ext.colMax, int(math.Ceil(math.Max(ax, bx))))
		}
	}
	return edges, ext
}

// polygonRings returns the flat coordinates of every ring (shells and holes)
// of a Polygon or MultiPolygon.
func polygonRings(g geom.T) ([][]float64, error) {
	var rings [][]float64
	flat := g.FlatCoords()

	switch t := g.(type) {
	case *geom.Polygon:
		offset := 0
		for _, end := range t.Ends() {
			rings = append(rings, flat[offset:end])
			offset = end
		}
	case *geom.MultiPolygon:
		offset := 0
		for _, ends := range t.Endss() {
			for _, end := range ends {
				rings = append(rings, flat[offset:end])
				offset = end
			}
		}
	default:
		return nil, eris.Wrapf(ErrUnsupportedGeometry, "raster: %T", g)
	}
	return rings, nil
}
