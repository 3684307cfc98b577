package contour

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngce-pmdm/contour-builder/internal/geo"
)

func newPartitionFixture(t *testing.T) (*Partitioner, string, Workspace) {
	t.Helper()
	dir := t.TempDir()
	prints := filepath.Join(dir, "DTM_Footprints.shp")
	require.NoError(t, geo.WriteFootprints(prints, testFootprints()))

	ws := Workspace{Scratch: filepath.Join(dir, "CONTOURS", "C01Scratch")}
	return NewPartitioner(geo.NewLocalEngine(), ws, 50, 5), prints, ws
}

func unitNames(units []SpatialUnit) []string {
	var out []string
	for _, u := range units {
		out = append(out, u.Name)
	}
	return out
}

func TestPartitionExcludesZeroRange(t *testing.T) {
	p, prints, ws := newPartitionFixture(t)

	part, err := p.Partition(context.Background(), prints)
	require.NoError(t, err)

	assert.Equal(t, []string{"T01", "T02"}, unitNames(part.Units))
	assert.Equal(t, []string{"T03"}, part.Excluded)
	assert.Empty(t, part.Completed)

	for i, u := range part.Units {
		assert.Equal(t, i, u.Sequence)
		assert.Equal(t, 20.0, u.ElevationRange)
		// the raster clip is buffered further than the vector clip
		assert.True(t, u.RasterClip.Bound().Contains(u.VectorClip.Bound().Min))
		assert.Greater(t, u.RasterClip.Bound().Right(), u.VectorClip.Bound().Right())
	}

	sideDir := filepath.Dir(ws.Scratch)
	assert.FileExists(t, filepath.Join(sideDir, RasterClipLayer))
	assert.FileExists(t, filepath.Join(sideDir, VectorClipLayer))
}

func TestPartitionSkipsCompletedUnits(t *testing.T) {
	p, prints, ws := newPartitionFixture(t)

	writeArtifact(t, ws.Final("T01"), 2)
	writeArtifact(t, ws.Final("T02"), 0)

	part, err := p.Partition(context.Background(), prints)
	require.NoError(t, err)

	assert.Equal(t, []string{"T01"}, part.Completed)
	assert.Equal(t, []string{"T02"}, unitNames(part.Units))
	assert.Equal(t, 0, part.Units[0].Sequence)
	assert.NoFileExists(t, ws.Final("T02"), "empty artifact is removed")
}

func TestPartitionRereadsUnreadableArtifact(t *testing.T) {
	p, prints, ws := newPartitionFixture(t)
	writeArtifact(t, ws.Final("T01"), 1)
	require.NoError(t, writeRaw(ws.Final("T02"), "{not json"))

	part, err := p.Partition(context.Background(), prints)
	require.NoError(t, err)
	assert.Equal(t, []string{"T02"}, unitNames(part.Units))
}

func TestPartitionReusesSideLayers(t *testing.T) {
	p, prints, _ := newPartitionFixture(t)
	_, err := p.Partition(context.Background(), prints)
	require.NoError(t, err)

	// footprints change after the side layers were cached
	rows := testFootprints()
	rows[1].ZRange = 0
	require.NoError(t, geo.WriteFootprints(prints, rows))

	part, err := p.Partition(context.Background(), prints)
	require.NoError(t, err)
	assert.Equal(t, []string{"T01", "T02"}, unitNames(part.Units))
}

func TestVerticalUnit(t *testing.T) {
	_, prints, _ := newPartitionFixture(t)
	engine := geo.NewLocalEngine()

	assert.Equal(t, "US Survey Feet", VerticalUnit(context.Background(), engine, prints))
	assert.Equal(t, DefaultVerticalUnit, VerticalUnit(context.Background(), engine, filepath.Join(t.TempDir(), "missing.shp")))
}
