// Package raster provides categorical land-cover grids and the zonal
// sampling capability used by the aggregator.
package raster

import (
	"image"
	"math"

	"github.com/rotisserie/eris"
)

// GeoTransform maps pixel indices to projected coordinates for a north-up
// raster. OriginX/OriginY locate the outer corner of the upper-left cell;
// PixelHeight is negative when rows run southwards.
type GeoTransform struct {
	OriginX     float64 `json:"origin_x"`
	OriginY     float64 `json:"origin_y"`
	PixelWidth  float64 `json:"pixel_width"`
	PixelHeight float64 `json:"pixel_height"`
}

// Validate rejects transforms that cannot address cells.
func (gt GeoTransform) Validate() error {
	if gt.PixelWidth == 0 || gt.PixelHeight == 0 {
		return eris.New("raster: geotransform has zero pixel size")
	}
	if math.IsNaN(gt.OriginX) || math.IsNaN(gt.OriginY) ||
		math.IsNaN(gt.PixelWidth) || math.IsNaN(gt.PixelHeight) {
		return eris.New("raster: geotransform contains NaN")
	}
	return nil
}

// CellCenter returns the world coordinates of the center of cell (col, row).
func (gt GeoTransform) CellCenter(col, row int) (x, y float64) {
	return gt.OriginX + (float64(col)+0.5)*gt.PixelWidth,
		gt.OriginY + (float64(row)+0.5)*gt.PixelHeight
}

// ToPixel returns the fractional pixel position of a world coordinate.
func (gt GeoTransform) ToPixel(x, y float64) (col, row float64) {
	return (x - gt.OriginX) / gt.PixelWidth, (y - gt.OriginY) / gt.PixelHeight
}

// Source is a georeferenced single-band 8-bit raster read by windows.
// Implementations must allow concurrent ReadWindow calls.
type Source interface {
	Size() (width, height int)
	GeoTransform() GeoTransform
	// ReadWindow copies the cells of r, row-major, into dst. r must lie
	// within the raster and dst must hold r.Dx()*r.Dy() cells.
	ReadWindow(r image.Rectangle, dst []uint8) error
}

// Grid is an in-memory categorical raster: one uint8 class code per cell,
// row-major from the upper-left corner. A Grid is read-only after
// construction and safe for concurrent use.
type Grid struct {
	Width     int
	Height    int
	Cells     []uint8
	Transform GeoTransform
	CRS       string // informational, e.g. "EPSG:5070"
}

// NewGrid validates dimensions and wraps cells without copying.
func NewGrid(width, height int, cells []uint8, gt GeoTransform) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, eris.Errorf("raster: invalid grid size %dx%d", width, height)
	}
	if len(cells) != width*height {
		return nil, eris.Errorf("raster: grid has %d cells, want %d", len(cells), width*height)
	}
	if err := gt.Validate(); err != nil {
		return nil, err
	}
	return &Grid{Width: width, Height: height, Cells: cells, Transform: gt}, nil
}

// Size returns the grid dimensions.
func (g *Grid) Size() (width, height int) {
	return g.Width, g.Height
}

// GeoTransform returns the grid's pixel-to-world transform.
func (g *Grid) GeoTransform() GeoTransform {
	return g.Transform
}

// ReadWindow copies the cells of r into dst.
func (g *Grid) ReadWindow(r image.Rectangle, dst []uint8) error {
	if err := checkWindow(r, g.Width, g.Height, len(dst)); err != nil {
		return err
	}
	w := r.Dx()
	for row := r.Min.Y; row < r.Max.Y; row++ {
		src := g.Cells[row*g.Width+r.Min.X : row*g.Width+r.Max.X]
		copy(dst[(row-r.Min.Y)*w:], src)
	}
	return nil
}

func checkWindow(r image.Rectangle, width, height, n int) error {
	if r.Empty() || !r.In(image.Rect(0, 0, width, height)) {
		return eris.Errorf("raster: window %v outside %dx%d raster", r, width, height)
	}
	if n < r.Dx()*r.Dy() {
		return eris.Errorf("raster: window buffer holds %d cells, want %d", n, r.Dx()*r.Dy())
	}
	return nil
}

// At returns the code at (col, row). Out-of-range positions return 0.
func (g *Grid) At(col, row int) uint8 {
	if col < 0 || row < 0 || col >= g.Width || row >= g.Height {
		return 0
	}
	return g.Cells[row*g.Width+col]
}

// Bounds returns the world extent of the grid as min/max corners.
func (g *Grid) Bounds() (minX, minY, maxX, maxY float64) {
	x0, y0 := g.Transform.OriginX, g.Transform.OriginY
	x1 := x0 + float64(g.Width)*g.Transform.PixelWidth
	y1 := y0 + float64(g.Height)*g.Transform.PixelHeight
	return math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1)
}

// Histogram counts every code in the grid. Useful for diagnostics on a
// freshly loaded raster.
func (g *Grid) Histogram() map[uint8]int64 {
	var counts [256]int64
	for _, v := range g.Cells {
		counts[v]++
	}
	h := make(map[uint8]int64)
	for v, n := range counts {
		if n > 0 {
			h[uint8(v)] = n
		}
	}
	return h
}
