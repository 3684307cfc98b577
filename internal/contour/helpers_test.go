package contour

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ngce-pmdm/contour-builder/internal/catalog"
	"github.com/ngce-pmdm/contour-builder/internal/config"
	"github.com/ngce-pmdm/contour-builder/internal/geo"
	"github.com/ngce-pmdm/contour-builder/internal/raster"
)

func TestMain(m *testing.M) {
	// gocloud's opencensus view worker is started at init and never exits
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const (
	testXMin = -97.0
	testYMax = 35.02
	testCell = 0.001
)

func box(xmin, ymin, xmax, ymax float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{xmin, ymin}, {xmin, ymax}, {xmax, ymax}, {xmax, ymin}, {xmin, ymin},
	}}
}

// testFootprints are two halves of the test raster plus a flat tile.
func testFootprints() []geo.FootprintRow {
	return []geo.FootprintRow{
		{Name: "T01", Geometry: box(-97.0, 35.0, -96.99, 35.02), ZRange: 20, VerticalUnit: "US Survey Feet"},
		{Name: "T02", Geometry: box(-96.99, 35.0, -96.98, 35.02), ZRange: 20, VerticalUnit: "US Survey Feet"},
		{Name: "T03", Geometry: box(-97.0, 35.0, -96.98, 35.02), ZRange: 0, VerticalUnit: "US Survey Feet"},
	}
}

// rampTile rises 2 ft per column from west to east.
func rampTile() *raster.Grid {
	g := raster.NewGrid(20, 20, testXMin, testYMax, testCell)
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			g.Set(r, c, 100.3+2*float64(c))
		}
	}
	return g
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Pool.Workers = 2
	cfg.Pool.TriesAllowed = 1
	cfg.Status.Backend = "file"
	return cfg
}

// newTestProject lays out a project directory with a DTM tile and a
// footprint layer and returns its job record.
func newTestProject(t *testing.T, cfg config.Config) catalog.ProjectJob {
	t.Helper()
	job := catalog.ProjectJob{
		WMXJobID:   7,
		ProjectID:  "OK_Test_2020",
		ProjectDir: filepath.Join(t.TempDir(), "OK_Test_2020"),
	}
	folders := catalog.NewProjectFolders(job, Layout(cfg.Paths))

	require.NoError(t, os.MkdirAll(folders.Mosaic(), 0755))
	require.NoError(t, raster.WriteASCIIGridFile(filepath.Join(folders.Mosaic(), "tile_0001.asc"), rampTile()))
	require.NoError(t, geo.WriteFootprints(folders.Footprints(), testFootprints()))
	return job
}

func writeArtifact(t *testing.T, path string, lines int) {
	t.Helper()
	fc := geojson.NewFeatureCollection()
	for i := 0; i < lines; i++ {
		f := geojson.NewFeature(orb.LineString{{0, float64(i)}, {1, float64(i)}})
		f.Properties["CONTOUR"] = float64(10 * i)
		fc.Append(f)
	}
	require.NoError(t, geo.WriteLayer(path, fc))
}

func writeRaw(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}
