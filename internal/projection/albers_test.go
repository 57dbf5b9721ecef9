package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func forward(t *testing.T, p *Albers, lon, lat float64) (float64, float64) {
	t.Helper()
	x, y, err := p.Forward(lon, lat)
	require.NoError(t, err)
	return x, y
}

func TestAlbers_SnyderExample(t *testing.T) {
	// Snyder, Map Projections: A Working Manual, p. 292.
	p, err := New("+proj=aea +lat_1=29.5 +lat_2=45.5 +lat_0=23 +lon_0=-96 +ellps=clrk66", 0)
	require.NoError(t, err)

	x, y := forward(t, p, -75, 35)
	assert.InDelta(t, 1885472.7, x, 0.1)
	assert.InDelta(t, 1535925.0, y, 0.1)
}

func TestConusAlbers_Forward(t *testing.T) {
	p := ConusAlbers()
	assert.Equal(t, 5070, p.SRID)

	x, y := forward(t, p, -96, 23)
	assert.InDelta(t, 0, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)

	// Points mirrored about the central meridian mirror in x.
	xe, ye := forward(t, p, -90, 40)
	xw, yw := forward(t, p, -102, 40)
	assert.InDelta(t, -xe, xw, 1e-6)
	assert.InDelta(t, ye, yw, 1e-6)

	x, y = forward(t, p, -122.4194, 37.7749)
	assert.InDelta(t, -2275431.9, x, 1)
	assert.InDelta(t, 1955935.4, y, 1)
}

func TestConusAlbers_RoundTrip(t *testing.T) {
	p := ConusAlbers()
	for _, pt := range [][2]float64{
		{-96, 23},
		{-77.0365, 38.8977},
		{-122.4194, 37.7749},
		{-68.0, 47.0},
		{-81.5, 24.6},
	} {
		x, y := forward(t, p, pt[0], pt[1])
		lon, lat, err := p.Inverse(x, y)
		require.NoError(t, err)
		assert.InDelta(t, pt[0], lon, 1e-8, "lon for %v", pt)
		assert.InDelta(t, pt[1], lat, 1e-8, "lat for %v", pt)
	}
}

func TestNew_InvalidDefinition(t *testing.T) {
	_, err := New("+proj=no_such_projection +ellps=GRS80", 0)
	assert.Error(t, err)

	assert.Panics(t, func() { MustNew("+proj=no_such_projection", 0) })
}

func TestProjectGeometry_Polygon(t *testing.T) {
	p := ConusAlbers()
	src := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{
		{{-97, 30}, {-95, 30}, {-95, 32}, {-97, 32}, {-97, 30}},
		{{-96.5, 30.5}, {-96.5, 31}, {-96, 31}, {-96, 30.5}, {-96.5, 30.5}},
	})

	out, err := p.ProjectGeometry(src)
	require.NoError(t, err)

	poly, ok := out.(*geom.Polygon)
	require.True(t, ok)
	assert.Equal(t, 5070, poly.SRID())
	assert.Equal(t, src.Ends(), poly.Ends())

	x, y := forward(t, p, -95, 32)
	assert.Equal(t, geom.Coord{x, y}, poly.LinearRing(0).Coord(2))

	// The source is untouched.
	assert.Equal(t, geom.Coord{-95, 32}, src.LinearRing(0).Coord(2))
}

func TestProjectGeometry_MultiPolygonKeepsExtraOrdinates(t *testing.T) {
	p := ConusAlbers()
	src := geom.NewMultiPolygon(geom.XYZ).MustSetCoords([][][]geom.Coord{
		{{{-90, 35, 7}, {-89, 35, 7}, {-89, 36, 7}, {-90, 35, 7}}},
		{{{-80, 35, 9}, {-79, 35, 9}, {-79, 36, 9}, {-80, 35, 9}}},
	})

	out, err := p.ProjectGeometry(src)
	require.NoError(t, err)

	mp, ok := out.(*geom.MultiPolygon)
	require.True(t, ok)
	assert.Equal(t, 2, mp.NumPolygons())
	assert.Equal(t, 9.0, mp.Polygon(1).LinearRing(0).Coord(0)[2])
}

func TestProjectGeometry_Errors(t *testing.T) {
	p := ConusAlbers()

	_, err := p.ProjectGeometry(nil)
	assert.Error(t, err)

	_, err = p.ProjectGeometry(geom.NewPointFlat(geom.XY, []float64{-90, 35}))
	assert.Error(t, err)

	bad := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{{-90, 95}, {-89, 35}, {-89, 36}, {-90, 95}}})
	_, err = p.ProjectGeometry(bad)
	assert.Error(t, err)
}
