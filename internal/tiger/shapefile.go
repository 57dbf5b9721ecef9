package tiger

import (
	"slices"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/nlcd-county/internal/landcover"
)

// County is one county boundary with its TIGER attributes.
type County struct {
	FIPS      string // 5-digit GEOID
	StateFIPS string
	Name      string
	NameLSAD  string // legal/statistical name, e.g. "Orleans Parish"
	ALand     int64
	AWater    int64
	Geometry  *geom.MultiPolygon // nil when the shapefile record has no usable geometry
}

// ReadOptions filters and keys the counties read from a source.
type ReadOptions struct {
	IDField         string   // attribute holding the county FIPS (default GEOID)
	States          []string // 2-digit state FIPS codes to keep; empty keeps all
	ContinentalOnly bool     // drop Alaska, Hawaii and territories
}

func (o ReadOptions) keep(stateFIPS string) bool {
	if o.ContinentalOnly && !IsContinental(stateFIPS) {
		return false
	}
	return len(o.States) == 0 || slices.Contains(o.States, stateFIPS)
}

// ReadCounties reads county polygons from a TIGER county shapefile in
// file order. When the ID field is missing, GEOID is composed from STATEFP
// and COUNTYFP. Records whose geometry cannot be converted are kept with
// a nil Geometry so they still produce an output row.
func ReadCounties(shpPath string, opts ReadOptions) ([]County, error) {
	log := zap.L().With(
		zap.String("component", "tiger.shapefile"),
		zap.String("path", shpPath),
	)

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "tiger: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	idField := opts.IDField
	if idField == "" {
		idField = "GEOID"
	}

	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	attr := func(name string) string {
		idx, ok := fieldIdx[strings.ToLower(name)]
		if !ok {
			return ""
		}
		return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
	}

	_, hasID := fieldIdx[strings.ToLower(idField)]
	_, hasState := fieldIdx["statefp"]
	_, hasCounty := fieldIdx["countyfp"]
	if !hasID && !(hasState && hasCounty) {
		return nil, eris.Errorf("tiger: shapefile %s has no %s field and no STATEFP/COUNTYFP", shpPath, idField)
	}

	var counties []County
	var badGeom, filtered int
	seen := make(map[string]bool)

	for reader.Next() {
		_, shape := reader.Shape()

		raw := attr(idField)
		if !hasID {
			raw = attr("STATEFP") + attr("COUNTYFP")
		}
		fips, err := landcover.NormalizeFIPS(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "tiger: record %d", len(counties)+filtered+1)
		}

		c := County{
			FIPS:      fips,
			StateFIPS: fips[:2],
			Name:      attr("NAME"),
			NameLSAD:  attr("NAMELSAD"),
			ALand:     parseInt(attr("ALAND")),
			AWater:    parseInt(attr("AWATER")),
		}
		if !opts.keep(c.StateFIPS) {
			filtered++
			continue
		}

		if mp, err := ShapeToMultiPolygon(shape); err != nil {
			badGeom++
			log.Warn("county geometry unusable", zap.String("county_fips", fips), zap.Error(err))
		} else {
			c.Geometry = mp
		}

		if seen[fips] {
			log.Warn("duplicate county FIPS", zap.String("county_fips", fips))
		}
		seen[fips] = true
		counties = append(counties, c)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "tiger: read shapefile %s after %d records", shpPath, len(counties)+filtered)
	}

	log.Info("counties read",
		zap.Int("counties", len(counties)),
		zap.Int("filtered", filtered),
		zap.Int("bad_geometry", badGeom),
	)
	return counties, nil
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
