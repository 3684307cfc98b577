package geo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngce-pmdm/contour-builder/internal/raster"
)

func writeLines(t *testing.T, path string, lines ...orb.Geometry) {
	t.Helper()
	fc := geojson.NewFeatureCollection()
	for i, g := range lines {
		f := geojson.NewFeature(g)
		f.Properties["ID"] = i + 1
		f.Properties["CONTOUR"] = 10.0 * float64(i+1)
		fc.Append(f)
	}
	require.NoError(t, WriteLayer(path, fc))
}

func rampGrid() *raster.Grid {
	g := raster.NewGrid(4, 3, 0, 3, 1)
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			g.Set(r, c, float64(c)+0.5)
		}
	}
	return g
}

func TestContourRamp(t *testing.T) {
	g := rampGrid()
	src, err := raster.NewMosaic(g)
	require.NoError(t, err)

	e := NewLocalEngine()
	out := filepath.Join(t.TempDir(), "base.geojson")
	require.NoError(t, e.Contour(context.Background(), Env{Extent: g.Bound()}, src, out, 1))

	fc, err := ReadLayer(out)
	require.NoError(t, err)
	require.Len(t, fc.Features, 3)

	for i, f := range fc.Features {
		level := float64(i + 1)
		assert.Equal(t, level, f.Properties["CONTOUR"])
		assert.Equal(t, float64(i+1), f.Properties["ID"])

		ls, ok := f.Geometry.(orb.LineString)
		require.True(t, ok)
		require.Len(t, ls, 3)
		for _, p := range ls {
			assert.InDelta(t, level, p[0], 1e-9)
		}
	}
}

func TestContourRequiresExtent(t *testing.T) {
	src, err := raster.NewMosaic(rampGrid())
	require.NoError(t, err)

	e := NewLocalEngine()
	err = e.Contour(context.Background(), Env{}, src, filepath.Join(t.TempDir(), "x.geojson"), 1)
	assert.Error(t, err)
}

func TestContourClosedLoop(t *testing.T) {
	g := raster.NewGrid(5, 5, 0, 5, 1)
	for r := 0; r < 5; r++ {
		for c := 0; c < 5; c++ {
			g.Set(r, c, 0)
		}
	}
	g.Set(2, 2, 10)

	lines := traceLevel(g, 5)
	require.Len(t, lines, 1)
	ls := lines[0]
	assert.Len(t, ls, 5)
	assert.Equal(t, ls[0], ls[len(ls)-1])
}

func TestClipToPolygon(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "smooth.geojson")
	out := filepath.Join(dir, "clip.geojson")
	writeLines(t, in,
		orb.LineString{{-1, 0.5}, {2, 0.5}},
		orb.LineString{{5, 5}, {6, 6}},
	)

	square := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}
	e := NewLocalEngine()
	require.NoError(t, e.Clip(context.Background(), Env{}, in, out, square))

	fc, err := ReadLayer(out)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, 10.0, fc.Features[0].Properties["CONTOUR"])

	ls := fc.Features[0].Geometry.(orb.LineString)
	require.Len(t, ls, 2)
	assert.InDelta(t, 0, ls[0][0], 1e-9)
	assert.InDelta(t, 1, ls[1][0], 1e-9)
}

func TestClipConcavePolygonSplitsLine(t *testing.T) {
	u := orb.Polygon{{{0, 0}, {3, 0}, {3, 3}, {2, 3}, {2, 1}, {1, 1}, {1, 3}, {0, 3}, {0, 0}}}
	parts := clipLineToPolygon(orb.LineString{{-1, 2}, {4, 2}}, u)
	require.Len(t, parts, 2)
	assert.InDelta(t, 0, parts[0][0][0], 1e-9)
	assert.InDelta(t, 1, parts[0][1][0], 1e-9)
	assert.InDelta(t, 2, parts[1][0][0], 1e-9)
	assert.InDelta(t, 3, parts[1][1][0], 1e-9)
}

func TestSimplifyFlagsCollapsedLines(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "base.geojson")
	out := filepath.Join(dir, "simple.geojson")
	writeLines(t, in,
		orb.LineString{{0, 0}, {1, 0.0000001}, {2, 0}, {3, 0}},
		orb.LineString{{0, 0}, {0.0000001, 0}, {0, 0.0000001}, {0, 0}},
	)

	e := NewLocalEngine()
	opts := SimplifyOptions{Algorithm: "POINT_REMOVE", Tolerance: 0.001, FlagErrors: true}
	require.NoError(t, e.SimplifyLine(context.Background(), Env{}, in, out, opts))

	fc, err := ReadLayer(out)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	assert.Len(t, fc.Features[0].Geometry.(orb.LineString), 2)
	assert.Equal(t, 0.0, fc.Features[0].Properties["SimLnFlag"])
	assert.Equal(t, 0.001, fc.Features[0].Properties["MaxSimpTol"])

	assert.Len(t, fc.Features[1].Geometry.(orb.LineString), 4, "collapsed ring kept as is")
	assert.Equal(t, 1.0, fc.Features[1].Properties["SimLnFlag"])
}

func TestSmoothKeepsEndpoints(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "simple.geojson")
	out := filepath.Join(dir, "smooth.geojson")
	writeLines(t, in, orb.LineString{{0, 0}, {1, 1}, {2, 0}, {3, 1}})

	for _, algo := range []string{"CHAIKIN", "MOVING_AVERAGE"} {
		t.Run(algo, func(t *testing.T) {
			e := NewLocalEngine()
			require.NoError(t, e.SmoothLine(context.Background(), Env{}, in, out, SmoothOptions{Algorithm: algo, Tolerance: 0.1}))

			fc, err := ReadLayer(out)
			require.NoError(t, err)
			require.Len(t, fc.Features, 1)
			assert.Equal(t, 0.0, fc.Features[0].Properties["InLine_FID"])

			ls := fc.Features[0].Geometry.(orb.LineString)
			assert.Equal(t, orb.Point{0, 0}, ls[0])
			assert.Equal(t, orb.Point{3, 1}, ls[len(ls)-1])
			assert.NotEqual(t, orb.Point{1, 1}, ls[1])
		})
	}
}

func TestSmoothRejectsUnknownAlgorithm(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "simple.geojson")
	writeLines(t, in, orb.LineString{{0, 0}, {1, 1}, {2, 0}})

	e := NewLocalEngine()
	err := e.SmoothLine(context.Background(), Env{}, in, filepath.Join(dir, "out.geojson"), SmoothOptions{Algorithm: "PAEK", Tolerance: 1})
	assert.Error(t, err)
}

func TestRepairDeletesNullAndDegenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.geojson")
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.LineString{{0, 0}, {0, 0}, {1, 1}}))
	fc.Append(geojson.NewFeature(orb.LineString{{2, 2}, {2, 2}}))
	fc.Append(geojson.NewFeature(nil))
	require.NoError(t, WriteLayer(path, fc))

	e := NewLocalEngine()
	require.NoError(t, e.RepairGeometry(context.Background(), path))

	n, err := e.CountRows(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := ReadLayer(path)
	require.NoError(t, err)
	assert.Len(t, got.Features[0].Geometry.(orb.LineString), 2)
}

func TestCalculateAndDeleteFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.geojson")
	writeLines(t, path, orb.LineString{{0, 0}, {1, 1}}, orb.LineString{{1, 1}, {2, 2}})

	e := NewLocalEngine()
	ctx := context.Background()
	require.NoError(t, e.CalculateField(ctx, path, "DOUBLE", func(p geojson.Properties) (any, error) {
		v, _ := toFloat(p["CONTOUR"])
		return v * 2, nil
	}))

	fc, err := ReadLayer(path)
	require.NoError(t, err)
	assert.Equal(t, 20.0, fc.Features[0].Properties["DOUBLE"])
	assert.Equal(t, 40.0, fc.Features[1].Properties["DOUBLE"])

	err = e.DeleteFields(ctx, path, "ID", "SimLnFlag")
	assert.ErrorContains(t, err, "SimLnFlag")

	fc, err = ReadLayer(path)
	require.NoError(t, err)
	_, ok := fc.Features[0].Properties["ID"]
	assert.False(t, ok, "present fields are still removed")
}

func TestMergeAndProject(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.geojson")
	b := filepath.Join(dir, "b.geojson")
	writeLines(t, a, orb.LineString{{0, 0}, {1, 0}})
	writeLines(t, b, orb.LineString{{0, 1}, {1, 1}}, orb.LineString{{0, 2}, {1, 2}})

	e := NewLocalEngine()
	ctx := context.Background()
	merged := filepath.Join(dir, "out", "Contours_OCS.geojson")
	require.NoError(t, e.Merge(ctx, []string{a, b}, merged))

	n, err := e.CountRows(ctx, merged)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	wm := filepath.Join(dir, "out", "Contours_WM.geojson")
	require.NoError(t, e.Project(ctx, merged, wm, WebAuxSphere))

	fc, err := ReadLayer(wm)
	require.NoError(t, err)
	ls := fc.Features[0].Geometry.(orb.LineString)
	assert.InDelta(t, 0, ls[0][0], 1e-6)
	assert.InDelta(t, 111319.49, ls[1][0], 0.01)

	raw, err := os.ReadFile(wm)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "EPSG:3857")
}

func TestMergeMissingInput(t *testing.T) {
	e := NewLocalEngine()
	err := e.Merge(context.Background(), []string{filepath.Join(t.TempDir(), "nope.geojson")}, filepath.Join(t.TempDir(), "out.geojson"))
	assert.ErrorIs(t, err, ErrLayerNotFound)
}

func TestBufferAndSearchFootprints(t *testing.T) {
	dir := t.TempDir()
	prints := filepath.Join(dir, "DTM_Footprints.shp")
	fields := []shp.Field{
		shp.StringField("Name", 50),
		shp.FloatField("zran", 12, 3),
		shp.StringField("V_UNIT", 10),
	}
	tile := orb.Polygon{{{-97, 35}, {-97, 35.01}, {-96.99, 35.01}, {-96.99, 35}, {-97, 35}}}
	rows := []shapeRow{
		{Geometry: tile, Attrs: map[string]string{"Name": "tile_a", "zran": "12.500", "V_UNIT": "MT"}},
		{Geometry: tile, Attrs: map[string]string{"Name": "tile_b", "zran": "0.000", "V_UNIT": "MT"}},
	}
	require.NoError(t, writePolygonShapefile(prints, fields, rows))

	e := NewLocalEngine()
	ctx := context.Background()
	out := filepath.Join(dir, "footprints_clip_md.shp")
	require.NoError(t, e.Buffer(ctx, prints, out, 50))
	assert.True(t, e.Exists(out))

	got, err := e.SearchFootprints(ctx, out)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "tile_a", got[0].Name)
	assert.Equal(t, 12.5, got[0].ZRange)
	assert.Equal(t, "MT", got[0].VerticalUnit)
	assert.Zero(t, got[1].ZRange)

	b := got[0].Geometry.Bound()
	assert.InDelta(t, 35-50/110574.0, b.Min[1], 1e-9)
	assert.InDelta(t, 35.01+50/110574.0, b.Max[1], 1e-9)
	assert.Less(t, b.Min[0], -97.0)

	n, err := e.CountRows(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, e.Delete(out))
	assert.False(t, e.Exists(out))
	assert.False(t, e.Exists(filepath.Join(dir, "footprints_clip_md.dbf")))
}

func TestExtensionCheckouts(t *testing.T) {
	e := NewLocalEngine()

	require.NoError(t, e.CheckOutExtension(Extension3D))
	require.NoError(t, e.CheckOutExtension(Extension3D))
	assert.Equal(t, 2, e.Checkouts(Extension3D))

	require.NoError(t, e.CheckInExtension(Extension3D))
	require.NoError(t, e.CheckInExtension(Extension3D))
	assert.Error(t, e.CheckInExtension(Extension3D))

	assert.ErrorIs(t, e.CheckOutExtension("Network"), ErrExtensionUnavailable)
	assert.Equal(t, []string{Extension3D, ExtensionSpatial}, e.Extensions())
}

func TestContourDropsExactLevelPeak(t *testing.T) {
	g := raster.NewGrid(5, 5, 0, 5, 1)
	for r := 0; r < 5; r++ {
		for c := 0; c < 5; c++ {
			g.Set(r, c, 100.3)
		}
	}
	g.Set(2, 2, 102.0)

	lines := traceLevel(g, 102)
	require.Len(t, lines, 1)
	assert.Zero(t, planar.Length(lines[0]), "every crossing lands on the peak cell center")

	assert.Empty(t, traceContours(g, 2))
}

func TestSmoothCollapsedRing(t *testing.T) {
	ring := orb.LineString{{2.5, 2.5}, {2.5, 2.5}, {2.5, 2.5}, {2.5, 2.5}, {2.5, 2.5}}
	for _, algo := range []string{"CHAIKIN", "MOVING_AVERAGE"} {
		t.Run(algo, func(t *testing.T) {
			var out orb.LineString
			require.NotPanics(t, func() {
				var err error
				out, err = smoothLine(ring, algo, 0.00001)
				require.NoError(t, err)
			})
			assert.Equal(t, ring, out)
		})
	}
}
