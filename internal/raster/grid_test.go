package raster

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGrid_Validation(t *testing.T) {
	gt := GeoTransform{PixelWidth: 30, PixelHeight: -30}

	_, err := NewGrid(0, 2, nil, gt)
	assert.Error(t, err)

	_, err = NewGrid(2, 2, make([]uint8, 3), gt)
	assert.Error(t, err)

	_, err = NewGrid(2, 2, make([]uint8, 4), GeoTransform{PixelWidth: 30})
	assert.Error(t, err)

	g, err := NewGrid(2, 2, make([]uint8, 4), gt)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Width)
	assert.Empty(t, g.CRS)
}

func TestGeoTransform_CellCenterAndToPixel(t *testing.T) {
	gt := GeoTransform{OriginX: -2000, OriginY: 3000, PixelWidth: 30, PixelHeight: -30}

	x, y := gt.CellCenter(0, 0)
	assert.Equal(t, -1985.0, x)
	assert.Equal(t, 2985.0, y)

	col, row := gt.ToPixel(x, y)
	assert.InDelta(t, 0.5, col, 1e-12)
	assert.InDelta(t, 0.5, row, 1e-12)

	col, row = gt.ToPixel(-2000+30*7, 3000-30*3)
	assert.InDelta(t, 7.0, col, 1e-12)
	assert.InDelta(t, 3.0, row, 1e-12)
}

func TestGrid_At(t *testing.T) {
	g := testGrid(t)

	assert.Equal(t, uint8(41), g.At(0, 0))
	assert.Equal(t, uint8(82), g.At(9, 9))
	assert.Equal(t, uint8(0), g.At(-1, 0))
	assert.Equal(t, uint8(0), g.At(0, 10))
}

func TestGrid_Bounds(t *testing.T) {
	g := testGrid(t)

	minX, minY, maxX, maxY := g.Bounds()
	assert.Equal(t, []float64{0, 0, 10, 10}, []float64{minX, minY, maxX, maxY})
}

func TestGrid_Histogram(t *testing.T) {
	g := testGrid(t)
	assert.Equal(t, map[uint8]int64{41: 50, 82: 50}, g.Histogram())
}

func TestGrid_ReadWindow(t *testing.T) {
	g := testGrid(t)

	dst := make([]uint8, 4)
	require.NoError(t, g.ReadWindow(image.Rect(4, 2, 6, 4), dst))
	assert.Equal(t, []uint8{41, 82, 41, 82}, dst)

	assert.Error(t, g.ReadWindow(image.Rect(8, 8, 11, 10), make([]uint8, 6)))
	assert.Error(t, g.ReadWindow(image.Rect(0, 0, 2, 2), make([]uint8, 3)))
}
