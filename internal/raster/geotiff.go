package raster

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/tiff"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/image/tiff/lzw"
	"golang.org/x/sync/singleflight"
)

// Baseline and GeoTIFF tags read from the first IFD.
const (
	tagImageWidth         = 256
	tagImageLength        = 257
	tagBitsPerSample      = 258
	tagCompression        = 259
	tagStripOffsets       = 273
	tagSamplesPerPixel    = 277
	tagRowsPerStrip       = 278
	tagStripByteCounts    = 279
	tagPredictor          = 317
	tagTileWidth          = 322
	tagTileLength         = 323
	tagTileOffsets        = 324
	tagTileByteCounts     = 325
	tagModelPixelScale    = 33550
	tagModelTiepoint      = 33922
	tagModelTransform     = 34264
	tagGeoKeyDirectory    = 34735
	geoKeyRasterType      = 1025
	geoKeyProjectedCSType = 3072
	rasterPixelIsPoint    = 2
)

// Supported compression schemes and predictors.
const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionPackBits   = 32773
	compressionDeflateOld = 32946
	predictorHorizontal   = 2
)

// DefaultBlockCache is the number of decoded blocks kept per open raster.
// NLCD tiles are 512x512, so the default holds 64 MiB.
const DefaultBlockCache = 256

// GeoTIFF is a single-band 8-bit GeoTIFF opened for windowed reads. Only
// the blocks (strips or tiles) a window touches are read and decoded, so
// rasters far larger than memory can be sampled. Safe for concurrent use.
type GeoTIFF struct {
	Path      string
	CRS       string // e.g. "EPSG:5070"; empty when undeclared
	width     int
	height    int
	transform GeoTransform

	f           *os.File
	compression uint16
	predictor   uint16
	blockW      int
	blockH      int
	across      int // blocks per block row
	offsets     []uint64
	counts      []uint64

	cache   *lru.Cache[int, []uint8]
	flight  singleflight.Group
	decoded atomic.Int64
}

// OpenGeoTIFF opens the first image of a single-band 8-bit GeoTIFF.
// Georeferencing comes from worldFile when set, else from a sidecar world
// file (.tfw/.tifw/.wld) next to the image, else from the GeoTIFF model
// tags. The caller must Close the raster.
func OpenGeoTIFF(path, worldFile string) (*GeoTIFF, error) {
	log := zap.L().With(
		zap.String("component", "raster.geotiff"),
		zap.String("path", path),
	)

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", path)
	}

	g, err := newGeoTIFF(f, path, worldFile)
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, err
	}
	log.Info("raster opened",
		zap.Int("width", g.width),
		zap.Int("height", g.height),
		zap.Int("block_width", g.blockW),
		zap.Int("block_height", g.blockH),
		zap.Uint16("compression", g.compression),
		zap.Float64("pixel_width", g.transform.PixelWidth),
		zap.String("crs", g.CRS),
	)
	return g, nil
}

func newGeoTIFF(f *os.File, path, worldFile string) (*GeoTIFF, error) {
	t, err := tiff.Parse(f, nil, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: parse tiff %s", path)
	}
	ifds := t.IFDs()
	if len(ifds) == 0 {
		return nil, eris.Errorf("raster: %s has no images", path)
	}
	ifd := ifds[0]

	g := &GeoTIFF{Path: path, f: f}
	if err := g.readLayout(ifd); err != nil {
		return nil, eris.Wrapf(err, "raster: %s", path)
	}

	tags, err := readGeoTags(ifd)
	if err != nil {
		return nil, err
	}
	if tags.epsg != 0 {
		g.CRS = "EPSG:" + strconv.Itoa(tags.epsg)
	}

	if worldFile == "" {
		worldFile = findWorldFile(path)
	}
	if worldFile != "" {
		g.transform, err = ReadWorldFile(worldFile)
	} else {
		g.transform, err = tags.transform()
	}
	if err != nil {
		return nil, err
	}

	g.cache, err = lru.New[int, []uint8](DefaultBlockCache)
	if err != nil {
		return nil, eris.Wrap(err, "raster: block cache")
	}
	return g, nil
}

// readLayout reads the image structure and validates that the raster is a
// single 8-bit band in a supported compression.
func (g *GeoTIFF) readLayout(ifd tiff.IFD) error {
	width, err := fieldUint(ifd, tagImageWidth, 0)
	if err != nil {
		return err
	}
	height, err := fieldUint(ifd, tagImageLength, 0)
	if err != nil {
		return err
	}
	if width == 0 || height == 0 {
		return eris.New("tiff has no image dimensions")
	}
	g.width, g.height = int(width), int(height)

	bits, err := fieldUint(ifd, tagBitsPerSample, 1)
	if err != nil {
		return err
	}
	samples, err := fieldUint(ifd, tagSamplesPerPixel, 1)
	if err != nil {
		return err
	}
	if bits != 8 || samples != 1 {
		return eris.Errorf("unsupported pixel layout: %d samples of %d bits, want one 8-bit band", samples, bits)
	}

	compression, err := fieldUint(ifd, tagCompression, compressionNone)
	if err != nil {
		return err
	}
	switch compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld, compressionPackBits:
		g.compression = uint16(compression)
	default:
		return eris.Errorf("unsupported compression %d", compression)
	}
	predictor, err := fieldUint(ifd, tagPredictor, 1)
	if err != nil {
		return err
	}
	g.predictor = uint16(predictor)

	var offsetTag, countTag uint16
	if ifd.HasField(tagTileWidth) {
		tw, err := fieldUint(ifd, tagTileWidth, 0)
		if err != nil {
			return err
		}
		th, err := fieldUint(ifd, tagTileLength, 0)
		if err != nil {
			return err
		}
		if tw == 0 || th == 0 {
			return eris.New("tiff has zero tile size")
		}
		g.blockW, g.blockH = int(tw), int(th)
		offsetTag, countTag = tagTileOffsets, tagTileByteCounts
	} else {
		rps, err := fieldUint(ifd, tagRowsPerStrip, height)
		if err != nil {
			return err
		}
		g.blockW, g.blockH = g.width, int(min(max(rps, 1), height))
		offsetTag, countTag = tagStripOffsets, tagStripByteCounts
	}
	g.across = (g.width + g.blockW - 1) / g.blockW
	down := (g.height + g.blockH - 1) / g.blockH

	if g.offsets, err = fieldUints(ifd, offsetTag); err != nil {
		return err
	}
	if g.counts, err = fieldUints(ifd, countTag); err != nil {
		return err
	}
	if len(g.offsets) != g.across*down || len(g.counts) != len(g.offsets) {
		return eris.Errorf("tiff has %d block offsets and %d byte counts, want %d",
			len(g.offsets), len(g.counts), g.across*down)
	}
	return nil
}

// Size returns the raster dimensions.
func (g *GeoTIFF) Size() (width, height int) {
	return g.width, g.height
}

// GeoTransform returns the pixel-to-world transform.
func (g *GeoTIFF) GeoTransform() GeoTransform {
	return g.transform
}

// BlocksDecoded reports how many compressed blocks have been decoded since
// the raster was opened.
func (g *GeoTIFF) BlocksDecoded() int64 {
	return g.decoded.Load()
}

// Close releases the underlying file.
func (g *GeoTIFF) Close() error {
	g.cache.Purge()
	return g.f.Close()
}

// ReadWindow copies the cells of r into dst, reading only the blocks the
// window intersects.
func (g *GeoTIFF) ReadWindow(r image.Rectangle, dst []uint8) error {
	if err := checkWindow(r, g.width, g.height, len(dst)); err != nil {
		return err
	}
	w := r.Dx()
	for row := r.Min.Y; row < r.Max.Y; row++ {
		out := dst[(row-r.Min.Y)*w : (row-r.Min.Y+1)*w]
		brow, y := row/g.blockH, row%g.blockH
		for col := r.Min.X; col < r.Max.X; {
			bcol, x := col/g.blockW, col%g.blockW
			n := min(r.Max.X-col, g.blockW-x)
			idx := brow*g.across + bcol
			off := y*g.blockW + x

			if g.compression == compressionNone {
				if _, err := g.f.ReadAt(out[col-r.Min.X:col-r.Min.X+n], int64(g.offsets[idx])+int64(off)); err != nil {
					return eris.Wrapf(err, "raster: read block %d", idx)
				}
			} else {
				block, err := g.block(idx)
				if err != nil {
					return err
				}
				if off+n > len(block) {
					return eris.Errorf("raster: block %d decoded to %d bytes, want at least %d", idx, len(block), off+n)
				}
				copy(out[col-r.Min.X:], block[off:off+n])
			}
			col += n
		}
	}
	return nil
}

// block returns the decoded cells of a compressed block, decoding it at
// most once across concurrent readers while it stays cached.
func (g *GeoTIFF) block(idx int) ([]uint8, error) {
	if b, ok := g.cache.Get(idx); ok {
		return b, nil
	}
	v, err, _ := g.flight.Do(strconv.Itoa(idx), func() (any, error) {
		if b, ok := g.cache.Get(idx); ok {
			return b, nil
		}
		b, err := g.decodeBlock(idx)
		if err != nil {
			return nil, err
		}
		g.cache.Add(idx, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]uint8), nil
}

func (g *GeoTIFF) decodeBlock(idx int) ([]uint8, error) {
	raw := make([]byte, g.counts[idx])
	if _, err := g.f.ReadAt(raw, int64(g.offsets[idx])); err != nil {
		return nil, eris.Wrapf(err, "raster: read block %d", idx)
	}

	rows := g.blockH
	if g.blockW == g.width {
		// The last strip may be short.
		rows = min(g.blockH, g.height-(idx/g.across)*g.blockH)
	}
	out := make([]uint8, g.blockW*rows)

	var rd io.Reader
	switch g.compression {
	case compressionLZW:
		lr := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer lr.Close() //nolint:errcheck
		rd = lr
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, eris.Wrapf(err, "raster: inflate block %d", idx)
		}
		defer zr.Close() //nolint:errcheck
		rd = zr
	case compressionPackBits:
		rd = bytes.NewReader(unpackBits(raw))
	}
	if _, err := io.ReadFull(rd, out); err != nil {
		return nil, eris.Wrapf(err, "raster: decode block %d", idx)
	}

	if g.predictor == predictorHorizontal {
		for r := 0; r < rows; r++ {
			line := out[r*g.blockW : (r+1)*g.blockW]
			for x := 1; x < len(line); x++ {
				line[x] += line[x-1]
			}
		}
	}
	g.decoded.Add(1)
	return out, nil
}

// unpackBits expands PackBits run-length data.
func unpackBits(src []byte) []byte {
	var dst []byte
	for i := 0; i < len(src); {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			end := min(i+n+1, len(src))
			dst = append(dst, src[i:end]...)
			i = end
		case n != -128 && i < len(src):
			dst = append(dst, bytes.Repeat(src[i:i+1], 1-n)...)
			i++
		}
	}
	return dst
}

// LoadGrid reads the whole raster into an in-memory Grid. Only suitable
// for rasters that fit in memory.
func (g *GeoTIFF) LoadGrid() (*Grid, error) {
	cells := make([]uint8, g.width*g.height)
	if err := g.ReadWindow(image.Rect(0, 0, g.width, g.height), cells); err != nil {
		return nil, err
	}
	grid, err := NewGrid(g.width, g.height, cells, g.transform)
	if err != nil {
		return nil, err
	}
	grid.CRS = g.CRS
	return grid, nil
}

// findWorldFile returns the first sidecar world file that exists for path.
func findWorldFile(path string) string {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range []string{".tfw", ".tifw", ".wld"} {
		candidate := base + ext
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// ReadWorldFile parses an ESRI world file. The six lines are pixel width,
// row rotation, column rotation, pixel height, and the center of the
// upper-left cell. Rotated rasters are rejected.
func ReadWorldFile(path string) (GeoTransform, error) {
	f, err := os.Open(path)
	if err != nil {
		return GeoTransform{}, eris.Wrapf(err, "raster: open world file %s", path)
	}
	defer f.Close() //nolint:errcheck

	var vals []float64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return GeoTransform{}, eris.Wrapf(err, "raster: world file %s line %d", path, len(vals)+1)
		}
		vals = append(vals, v)
	}
	if err := sc.Err(); err != nil {
		return GeoTransform{}, eris.Wrapf(err, "raster: read world file %s", path)
	}
	if len(vals) != 6 {
		return GeoTransform{}, eris.Errorf("raster: world file %s has %d values, want 6", path, len(vals))
	}
	if vals[1] != 0 || vals[2] != 0 {
		return GeoTransform{}, eris.Errorf("raster: world file %s describes a rotated raster", path)
	}

	gt := GeoTransform{
		OriginX:     vals[4] - vals[0]/2,
		OriginY:     vals[5] - vals[3]/2,
		PixelWidth:  vals[0],
		PixelHeight: vals[3],
	}
	return gt, gt.Validate()
}

// geoTags holds the GeoTIFF fields read from the first IFD.
type geoTags struct {
	pixelScale   []float64
	tiepoint     []float64
	transform16  []float64
	pixelIsPoint bool
	epsg         int
}

func (t geoTags) transform() (GeoTransform, error) {
	var gt GeoTransform
	switch {
	case len(t.transform16) == 16:
		if t.transform16[1] != 0 || t.transform16[4] != 0 {
			return gt, eris.New("raster: rotated model transformation is not supported")
		}
		gt = GeoTransform{
			OriginX:     t.transform16[3],
			OriginY:     t.transform16[7],
			PixelWidth:  t.transform16[0],
			PixelHeight: t.transform16[5],
		}
	case len(t.pixelScale) >= 2 && len(t.tiepoint) >= 6:
		// Tiepoint (I,J,K) -> (X,Y,Z); the Y scale is positive for north-up.
		i, j := t.tiepoint[0], t.tiepoint[1]
		x, y := t.tiepoint[3], t.tiepoint[4]
		sx, sy := t.pixelScale[0], t.pixelScale[1]
		gt = GeoTransform{
			OriginX:     x - i*sx,
			OriginY:     y + j*sy,
			PixelWidth:  sx,
			PixelHeight: -sy,
		}
	default:
		return gt, eris.New("raster: tiff has no georeferencing tags and no world file")
	}

	if t.pixelIsPoint {
		gt.OriginX -= gt.PixelWidth / 2
		gt.OriginY -= gt.PixelHeight / 2
	}
	return gt, gt.Validate()
}

// readGeoTags collects the model transform tags and GeoKeys of an IFD.
func readGeoTags(ifd tiff.IFD) (geoTags, error) {
	var tags geoTags
	var err error
	if tags.pixelScale, err = fieldDoubles(ifd, tagModelPixelScale); err != nil {
		return tags, err
	}
	if tags.tiepoint, err = fieldDoubles(ifd, tagModelTiepoint); err != nil {
		return tags, err
	}
	if tags.transform16, err = fieldDoubles(ifd, tagModelTransform); err != nil {
		return tags, err
	}
	keys, err := fieldUints(ifd, tagGeoKeyDirectory)
	if err != nil {
		return tags, err
	}
	tags.applyGeoKeys(keys)
	return tags, nil
}

// applyGeoKeys reads the raster type and projected CRS from a GeoKey
// directory: a header of four values, then one (id, location, count,
// value) quadruple per key. Only keys stored inline are read.
func (t *geoTags) applyGeoKeys(keys []uint64) {
	if len(keys) < 4 {
		return
	}
	numKeys := int(keys[3])
	for k := 0; k < numKeys && 4+k*4+3 < len(keys); k++ {
		id, loc, value := keys[4+k*4], keys[4+k*4+1], keys[4+k*4+3]
		if loc != 0 {
			continue
		}
		switch id {
		case geoKeyRasterType:
			t.pixelIsPoint = value == rasterPixelIsPoint
		case geoKeyProjectedCSType:
			if value != 32767 {
				t.epsg = int(value)
			}
		}
	}
}

// fieldUint returns the first value of an unsigned integer field, or def
// when the field is absent.
func fieldUint(ifd tiff.IFD, tag uint16, def uint64) (uint64, error) {
	vals, err := fieldUints(ifd, tag)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return def, nil
	}
	return vals[0], nil
}

// fieldUints decodes a BYTE, SHORT, LONG or LONG8 field. An absent field
// yields nil.
func fieldUints(ifd tiff.IFD, tag uint16) ([]uint64, error) {
	if !ifd.HasField(tag) {
		return nil, nil
	}
	f := ifd.GetField(tag)
	size := int(f.Type().Size())
	n := int(f.Count())
	v := f.Value()
	b, bo := v.Bytes(), v.Order()
	if len(b) < n*size {
		return nil, eris.Errorf("raster: tiff tag %d holds %d bytes, want %d", tag, len(b), n*size)
	}

	vals := make([]uint64, n)
	for i := range vals {
		switch size {
		case 1:
			vals[i] = uint64(b[i])
		case 2:
			vals[i] = uint64(bo.Uint16(b[i*2:]))
		case 4:
			vals[i] = uint64(bo.Uint32(b[i*4:]))
		case 8:
			vals[i] = bo.Uint64(b[i*8:])
		default:
			return nil, eris.Errorf("raster: tiff tag %d has %d-byte values, want an integer type", tag, size)
		}
	}
	return vals, nil
}

// fieldDoubles decodes a DOUBLE field. An absent field yields nil.
func fieldDoubles(ifd tiff.IFD, tag uint16) ([]float64, error) {
	if !ifd.HasField(tag) {
		return nil, nil
	}
	f := ifd.GetField(tag)
	if f.Type().Size() != 8 {
		return nil, eris.Errorf("raster: geotiff tag %d is not DOUBLE", tag)
	}
	n := int(f.Count())
	v := f.Value()
	b, bo := v.Bytes(), v.Order()
	if len(b) < n*8 {
		return nil, eris.Errorf("raster: geotiff tag %d holds %d bytes, want %d", tag, len(b), n*8)
	}
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = math.Float64frombits(bo.Uint64(b[i*8:]))
	}
	return vals, nil
}
