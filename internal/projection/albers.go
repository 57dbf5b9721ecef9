// Package projection reprojects geographic county boundaries into the
// Albers equal-area grid used by NLCD rasters.
package projection

import (
	"math"

	"github.com/go-spatial/proj/core"
	_ "github.com/go-spatial/proj/operations" // registers aea
	"github.com/go-spatial/proj/support"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// ConusAlbersDef is NAD83 / Conus Albers (EPSG:5070), the CRS of the NLCD
// CONUS land-cover products.
const ConusAlbersDef = "+proj=aea +lat_1=29.5 +lat_2=45.5 +lat_0=23 +lon_0=-96 +x_0=0 +y_0=0 +ellps=GRS80 +units=m +no_defs"

// Albers is a forward/inverse map projection defined by a PROJ string,
// normally an Albers equal-area conic.
type Albers struct {
	SRID int
	conv core.IConvertLPToXY
}

// New builds a projection from a PROJ definition. srid is stamped on
// projected geometries.
func New(def string, srid int) (*Albers, error) {
	ps, err := support.NewProjString(def)
	if err != nil {
		return nil, eris.Wrapf(err, "projection: parse %q", def)
	}
	_, op, err := core.NewSystem(ps)
	if err != nil {
		return nil, eris.Wrapf(err, "projection: build %q", def)
	}
	if !op.GetDescription().IsConvertLPToXY() {
		return nil, eris.Errorf("projection: %q is not a lon/lat to x/y projection", def)
	}
	return &Albers{SRID: srid, conv: op.(core.IConvertLPToXY)}, nil
}

// MustNew is New for definitions known to be valid.
func MustNew(def string, srid int) *Albers {
	p, err := New(def, srid)
	if err != nil {
		panic(err)
	}
	return p
}

// ConusAlbers returns the EPSG:5070 projection.
func ConusAlbers() *Albers {
	return MustNew(ConusAlbersDef, 5070)
}

// Forward projects a longitude/latitude pair in degrees to easting and
// northing in meters.
func (p *Albers) Forward(lon, lat float64) (x, y float64, err error) {
	xy, err := p.conv.Forward(&core.CoordLP{Lam: support.DDToR(lon), Phi: support.DDToR(lat)})
	if err != nil {
		return 0, 0, eris.Wrapf(err, "projection: forward (%g, %g)", lon, lat)
	}
	return xy.X, xy.Y, nil
}

// Inverse maps projected meters back to longitude/latitude in degrees.
func (p *Albers) Inverse(x, y float64) (lon, lat float64, err error) {
	lp, err := p.conv.Inverse(&core.CoordXY{X: x, Y: y})
	if err != nil {
		return 0, 0, eris.Wrapf(err, "projection: inverse (%g, %g)", x, y)
	}
	return support.RToDD(lp.Lam), support.RToDD(lp.Phi), nil
}

// ProjectGeometry returns a projected copy of a Polygon or MultiPolygon.
// The input coordinates are longitude/latitude in degrees; extra ordinates
// such as Z or M are copied unchanged.
func (p *Albers) ProjectGeometry(g geom.T) (geom.T, error) {
	if g == nil {
		return nil, eris.New("projection: nil geometry")
	}
	switch g.(type) {
	case *geom.Polygon, *geom.MultiPolygon:
	default:
		return nil, eris.Errorf("projection: unsupported geometry %T", g)
	}

	stride := g.Stride()
	flat := append([]float64(nil), g.FlatCoords()...)
	for i := 0; i+1 < len(flat); i += stride {
		lon, lat := flat[i], flat[i+1]
		if math.IsNaN(lon) || math.IsNaN(lat) || lat < -90 || lat > 90 {
			return nil, eris.Errorf("projection: invalid coordinate (%g, %g)", lon, lat)
		}
		x, y, err := p.Forward(lon, lat)
		if err != nil {
			return nil, err
		}
		flat[i], flat[i+1] = x, y
	}

	switch t := g.(type) {
	case *geom.Polygon:
		return geom.NewPolygonFlat(t.Layout(), flat, append([]int(nil), t.Ends()...)).SetSRID(p.SRID), nil
	default:
		mp := g.(*geom.MultiPolygon)
		endss := make([][]int, len(mp.Endss()))
		for i, ends := range mp.Endss() {
			endss[i] = append([]int(nil), ends...)
		}
		return geom.NewMultiPolygonFlat(mp.Layout(), flat, endss).SetSRID(p.SRID), nil
	}
}
