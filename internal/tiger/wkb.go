package tiger

import (
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// SRIDNAD83 is the geographic CRS of TIGER/Line shapefiles.
const SRIDNAD83 = 4269

// ShapeToMultiPolygon converts a shapefile polygon into a MultiPolygon.
// Shapefile shells wind clockwise and holes counter-clockwise; each hole is
// attached to the shell that precedes it. A hole with no preceding shell is
// promoted to a shell. Rings with fewer than four points are skipped.
func ShapeToMultiPolygon(shape shp.Shape) (*geom.MultiPolygon, error) {
	p, ok := shape.(*shp.Polygon)
	if !ok || p == nil {
		return nil, eris.Errorf("tiger: shape %T is not a polygon", shape)
	}
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil, eris.New("tiger: empty polygon shape")
	}

	var polys [][][]float64 // polygon -> ring -> flat coords
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < 0 || end > int32(len(p.Points)) || end-start < 4 {
			zap.L().Debug("tiger: skipping degenerate ring", zap.Int32("part", i))
			continue
		}

		ring := make([]float64, 0, 2*(end-start))
		for _, pt := range p.Points[start:end] {
			ring = append(ring, pt.X, pt.Y)
		}

		if xy.IsRingCounterClockwise(geom.XY, ring) && len(polys) > 0 {
			last := len(polys) - 1
			polys[last] = append(polys[last], ring)
			continue
		}
		polys = append(polys, [][]float64{ring})
	}
	if len(polys) == 0 {
		return nil, eris.New("tiger: polygon has no usable rings")
	}

	var flat []float64
	endss := make([][]int, 0, len(polys))
	for _, rings := range polys {
		ends := make([]int, 0, len(rings))
		for _, ring := range rings {
			flat = append(flat, ring...)
			ends = append(ends, len(flat))
		}
		endss = append(endss, ends)
	}
	return geom.NewMultiPolygonFlat(geom.XY, flat, endss).SetSRID(SRIDNAD83), nil
}

// EncodeEWKB encodes a geometry as little-endian EWKB for COPY loading.
func EncodeEWKB(g geom.T) ([]byte, error) {
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: encode EWKB")
	}
	return data, nil
}

// DecodeEWKB decodes EWKB as returned by ST_AsEWKB. Polygons are promoted
// to single-member MultiPolygons.
func DecodeEWKB(data []byte) (*geom.MultiPolygon, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: decode EWKB")
	}
	switch t := g.(type) {
	case *geom.MultiPolygon:
		return t, nil
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(t.Layout()).SetSRID(t.SRID())
		if err := mp.Push(t); err != nil {
			return nil, eris.Wrap(err, "tiger: promote polygon")
		}
		return mp, nil
	default:
		return nil, eris.Errorf("tiger: geometry %T is not polygonal", g)
	}
}
