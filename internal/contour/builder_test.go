package contour

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngce-pmdm/contour-builder/internal/catalog"
	"github.com/ngce-pmdm/contour-builder/internal/events"
	"github.com/ngce-pmdm/contour-builder/internal/export"
	"github.com/ngce-pmdm/contour-builder/internal/geo"
	"github.com/ngce-pmdm/contour-builder/internal/raster"
	"github.com/ngce-pmdm/contour-builder/internal/status"
	"github.com/ngce-pmdm/contour-builder/internal/storage"
)

// recordingRecorder keeps every run record it is given.
type recordingRecorder struct {
	runs []catalog.RunRecord
}

func (r *recordingRecorder) RecordRun(_ context.Context, rec catalog.RunRecord) error {
	r.runs = append(r.runs, rec)
	return nil
}

// failingUnitEngine contours every unit except one.
type failingUnitEngine struct {
	*geo.LocalEngine
	unit string

	mu    sync.Mutex
	calls int
}

func (e *failingUnitEngine) Contour(ctx context.Context, env geo.Env, src raster.Source, out string, interval float64) error {
	if filepath.Base(env.Workspace) == e.unit {
		e.mu.Lock()
		e.calls++
		e.mu.Unlock()
		return errors.New("surface unavailable")
	}
	return e.LocalEngine.Contour(ctx, env, src, out, interval)
}

func TestBuilderEndToEnd(t *testing.T) {
	cfg := testConfig()
	job := newTestProject(t, cfg)
	rec := &recordingRecorder{}

	b, err := NewBuilder(cfg, "7", job, Options{Recorder: rec})
	require.NoError(t, err)
	report := b.Run(context.Background())

	require.Empty(t, report.SetupErr)
	require.Empty(t, report.ReconcileErr)
	assert.Equal(t, 1, report.Passes)
	assert.Equal(t, []string{"T03"}, report.Excluded)
	assert.Empty(t, report.Dropped)
	assert.True(t, report.Complete())
	require.Len(t, report.Units, 2)
	for _, u := range report.Units {
		assert.Equal(t, UnitDone, u.State, u.Unit)
		assert.Positive(t, u.Features, u.Unit)
	}

	out := report.Outputs
	assert.Equal(t, 2, out.Inputs)
	assert.FileExists(t, out.Projected)
	fc, err := geo.ReadLayer(out.Merged)
	require.NoError(t, err)
	assert.Equal(t, out.Features, len(fc.Features))
	for _, f := range fc.Features {
		assert.Contains(t, []string{"T01", "T02"}, f.Properties.MustString(FieldName, ""))
		assert.Equal(t, "FOOT_US", f.Properties.MustString(FieldUnits, ""))
		v := f.Properties.MustFloat64(FieldContour, -1)
		assert.Equal(t, ContourClass(v), int(f.Properties.MustFloat64(FieldClass, 0)))
		for _, name := range HousekeepingFields {
			assert.NotContains(t, f.Properties, name)
		}
	}

	data, err := os.ReadFile(filepath.Join(b.Folders().ContourDir, ReportName))
	require.NoError(t, err)
	var written BatchReport
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, report.RunID, written.RunID)

	require.Len(t, rec.runs, 1)
	assert.Equal(t, 2, rec.runs[0].UnitsDone)
	assert.Empty(t, rec.runs[0].Err)
}

func TestBuilderDropsDeterministicFailure(t *testing.T) {
	cfg := testConfig()
	job := newTestProject(t, cfg)
	engine := &failingUnitEngine{LocalEngine: geo.NewLocalEngine(), unit: "T02"}

	b, err := NewBuilder(cfg, "7", job, Options{Engine: engine})
	require.NoError(t, err)
	report := b.Run(context.Background())

	require.Empty(t, report.SetupErr)
	require.Empty(t, report.ReconcileErr)
	assert.Equal(t, 2, report.Passes)
	assert.Equal(t, []string{"T02"}, report.Dropped)
	assert.False(t, report.Complete())
	assert.Equal(t, 2*(cfg.Pool.TriesAllowed+1), engine.calls, "each pass spends the full retry bound")

	require.Len(t, report.Units, 2)
	assert.Equal(t, UnitDone, report.Units[0].State)
	assert.Equal(t, UnitAbandoned, report.Units[1].State)
	assert.Equal(t, 2, report.Units[1].Pass)

	assert.Equal(t, 1, report.Outputs.Inputs)
	fc, err := geo.ReadLayer(report.Outputs.Merged)
	require.NoError(t, err)
	require.NotEmpty(t, fc.Features)
	for _, f := range fc.Features {
		assert.Equal(t, "T01", f.Properties.MustString(FieldName, ""))
	}
	assert.FileExists(t, report.Outputs.Projected)
}

func TestBuilderRerunIsIdempotent(t *testing.T) {
	cfg := testConfig()
	job := newTestProject(t, cfg)

	b, err := NewBuilder(cfg, "7", job, Options{})
	require.NoError(t, err)
	first := b.Run(context.Background())
	require.True(t, first.Complete())
	before, err := os.ReadFile(first.Outputs.Merged)
	require.NoError(t, err)

	b, err = NewBuilder(cfg, "7", job, Options{})
	require.NoError(t, err)
	second := b.Run(context.Background())

	assert.Equal(t, 0, second.Passes)
	assert.Equal(t, 2, second.Count(UnitSkipped))
	assert.Equal(t, 0, second.Count(UnitDone))
	after, err := os.ReadFile(second.Outputs.Merged)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestBuilderReportsInterruptedUnits(t *testing.T) {
	cfg := testConfig()
	job := newTestProject(t, cfg)
	b, err := NewBuilder(cfg, "7", job, Options{})
	require.NoError(t, err)

	path := filepath.Join(b.Folders().ContourDir, "contour_status.json")
	st, err := status.NewManager(status.Config{Backend: "file", Path: path})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.Save(ctx, status.Record{Unit: "T01", State: status.StateRunning, Attempts: 1, Pass: 1, UpdatedAt: time.Now().UTC()}))
	require.NoError(t, st.Save(ctx, status.Record{Unit: "T02", State: status.StateAbandoned, Attempts: 2, Pass: 2, UpdatedAt: time.Now().UTC()}))
	require.NoError(t, st.Close())

	report := b.Run(ctx)

	assert.Equal(t, []string{"T01"}, report.Interrupted)
	assert.True(t, report.Complete())

	st, err = status.NewManager(status.Config{Backend: "file", Path: path})
	require.NoError(t, err)
	defer st.Close()
	rec, err := st.Get(ctx, "T01")
	require.NoError(t, err)
	assert.Equal(t, status.StateDone, rec.State)
}

func TestBuilderSetupFailureSkipsStage(t *testing.T) {
	cfg := testConfig()
	job := newTestProject(t, cfg)
	b, err := NewBuilder(cfg, "7", job, Options{})
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(b.Folders().Mosaic()))

	report := b.Run(context.Background())

	assert.NotEmpty(t, report.SetupErr)
	assert.Empty(t, report.Units)
	assert.Zero(t, report.Passes)
	assert.Empty(t, report.Outputs.Merged)
	assert.False(t, report.Complete())
	assert.FileExists(t, filepath.Join(b.Folders().ContourDir, ReportName))
}

func TestBuilderPublishesAndEmits(t *testing.T) {
	cfg := testConfig()
	job := newTestProject(t, cfg)

	storeDir := t.TempDir()
	store, err := storage.NewLocalStore(storeDir, "contours/")
	require.NoError(t, err)
	eventsDir := t.TempDir()
	emitter, err := events.NewEmitter(events.Config{Enabled: true, BackupDir: eventsDir})
	require.NoError(t, err)
	defer emitter.Close()

	pub := NewPublisher(store, "local", "contours/", storage.ProducerInfo{Name: "contour-builder", Version: "test"})
	b, err := NewBuilder(cfg, "7", job, Options{Publisher: pub, Emitter: emitter, Version: "test"})
	require.NoError(t, err)
	report := b.Run(context.Background())

	require.Empty(t, report.PublishErr)
	published := report.Outputs.Published
	require.Len(t, published, 3)
	names := []string{published[0].Name, published[1].Name, published[2].Name}
	assert.Equal(t, []string{"Contours_OCS.geojson.gz", "Contours_WM.geojson.gz", ParquetName}, names)

	var table PublishedFile
	for _, f := range published {
		if f.Name == ParquetName {
			table = f
		}
	}
	assert.Equal(t, int64(report.Outputs.Features), table.Rows)
	assert.Equal(t, table.Checksum, report.Outputs.Checksum())

	key := storage.PublishRef{ProjectID: job.ProjectID, Name: ParquetName}.Key("contours/")
	assert.Equal(t, store.URI(key), table.URI)
	data, err := os.ReadFile(filepath.Join(storeDir, key))
	require.NoError(t, err)
	assert.True(t, export.Matches(data, table.Checksum))

	backup, err := events.NewFileBackup(eventsDir)
	require.NoError(t, err)
	evts, err := backup.ReadAll()
	require.NoError(t, err)
	require.Len(t, evts, 1)
	evt := evts[0]
	assert.Equal(t, report.RunID, evt.Job.RunID)
	assert.Equal(t, job.ProjectID, evt.ChainKey())
	assert.Equal(t, 2, evt.Units.Done)
	assert.Contains(t, evt.Outputs, ParquetName)
	assert.NotEmpty(t, evt.Chain.EventHash)
}
