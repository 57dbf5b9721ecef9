package tiger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCounty struct {
	statefp, countyfp, geoid, name string
	rings                          [][]shp.Point
}

// writeCountyShapefile writes a polygon shapefile with TIGER-like fields.
func writeCountyShapefile(t *testing.T, withGEOID bool, counties []testCounty) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tl_2024_us_county.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)

	fields := []shp.Field{
		shp.StringField("STATEFP", 2),
		shp.StringField("COUNTYFP", 3),
		shp.StringField("NAME", 40),
		shp.NumberField("ALAND", 14),
	}
	if withGEOID {
		fields = append(fields, shp.StringField("GEOID", 5))
	}
	require.NoError(t, w.SetFields(fields))

	for _, c := range counties {
		poly := shp.Polygon(*shp.NewPolyLine(c.rings))
		row := int(w.Write(&poly))
		require.NoError(t, w.WriteAttribute(row, 0, c.statefp))
		require.NoError(t, w.WriteAttribute(row, 1, c.countyfp))
		require.NoError(t, w.WriteAttribute(row, 2, c.name))
		require.NoError(t, w.WriteAttribute(row, 3, 1000))
		if withGEOID {
			require.NoError(t, w.WriteAttribute(row, 4, c.geoid))
		}
	}
	w.Close()
	return path
}

func fixtureCounties() []testCounty {
	return []testCounty{
		{"48", "201", "48201", "Harris", [][]shp.Point{shellPoints(-95.9, 29.5, -94.9, 30.2)}},
		{"02", "013", "02013", "Aleutians East", [][]shp.Point{shellPoints(-165, 54, -160, 56)}},
		{"06", "037", "06037", "Los Angeles", [][]shp.Point{shellPoints(-118.9, 33.7, -117.6, 34.8), holePoints(-118.5, 34, -118.4, 34.1)}},
		{"01", "001", "1001", "Autauga", [][]shp.Point{shellPoints(-86.9, 32.3, -86.4, 32.7)}},
	}
}

func TestReadCounties_All(t *testing.T) {
	path := writeCountyShapefile(t, true, fixtureCounties())

	counties, err := ReadCounties(path, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, counties, 4)

	var fips []string
	for _, c := range counties {
		fips = append(fips, c.FIPS)
	}
	assert.Equal(t, []string{"48201", "02013", "06037", "01001"}, fips, "file order, zero padded")

	la := counties[2]
	assert.Equal(t, "06", la.StateFIPS)
	assert.Equal(t, "Los Angeles", la.Name)
	assert.Equal(t, int64(1000), la.ALand)
	require.NotNil(t, la.Geometry)
	assert.Equal(t, 2, la.Geometry.Polygon(0).NumLinearRings())
}

func TestReadCounties_Filters(t *testing.T) {
	path := writeCountyShapefile(t, true, fixtureCounties())

	counties, err := ReadCounties(path, ReadOptions{ContinentalOnly: true})
	require.NoError(t, err)
	assert.Len(t, counties, 3)
	for _, c := range counties {
		assert.NotEqual(t, "02", c.StateFIPS)
	}

	counties, err = ReadCounties(path, ReadOptions{States: []string{"06", "48"}})
	require.NoError(t, err)
	require.Len(t, counties, 2)
	assert.Equal(t, "48201", counties[0].FIPS)
	assert.Equal(t, "06037", counties[1].FIPS)
}

func TestReadCounties_ComposesFIPSWithoutIDField(t *testing.T) {
	path := writeCountyShapefile(t, false, fixtureCounties())

	counties, err := ReadCounties(path, ReadOptions{IDField: "GEOID"})
	require.NoError(t, err)
	require.Len(t, counties, 4)
	assert.Equal(t, "01001", counties[3].FIPS)
}

func TestReadCounties_UnusableGeometryKept(t *testing.T) {
	bad := fixtureCounties()[:1]
	bad[0].rings = [][]shp.Point{{{X: 0, Y: 0}, {X: 1, Y: 1}}}
	path := writeCountyShapefile(t, true, bad)

	counties, err := ReadCounties(path, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, counties, 1)
	assert.Nil(t, counties[0].Geometry)
}

func TestReadCounties_TruncatedShapefile(t *testing.T) {
	path := writeCountyShapefile(t, true, fixtureCounties())

	info, err := os.Stat(path)
	require.NoError(t, err)
	// Cut into the point array of the last polygon.
	require.NoError(t, os.Truncate(path, info.Size()-8))

	_, err = ReadCounties(path, ReadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read shapefile")
}

func TestReadCounties_Missing(t *testing.T) {
	_, err := ReadCounties(filepath.Join(t.TempDir(), "nope.shp"), ReadOptions{})
	assert.Error(t, err)
}

func TestReadCounties_UnknownIDField(t *testing.T) {
	path := writeCountyShapefile(t, true, fixtureCounties())

	counties, err := ReadCounties(path, ReadOptions{IDField: "COUNTY_ID"})
	require.NoError(t, err, "falls back to STATEFP+COUNTYFP")
	assert.Len(t, counties, 4)
}
