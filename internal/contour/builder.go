// Package contour derives tiled contour lines from a referenced DTM
// mosaic: footprints are partitioned into units, each unit is contoured
// by a worker pool with bounded retry, and the unit outputs are merged
// and projected.
package contour

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ngce-pmdm/contour-builder/internal/catalog"
	"github.com/ngce-pmdm/contour-builder/internal/config"
	"github.com/ngce-pmdm/contour-builder/internal/events"
	"github.com/ngce-pmdm/contour-builder/internal/geo"
	"github.com/ngce-pmdm/contour-builder/internal/logging"
	"github.com/ngce-pmdm/contour-builder/internal/metrics"
	"github.com/ngce-pmdm/contour-builder/internal/raster"
	"github.com/ngce-pmdm/contour-builder/internal/status"
	"github.com/ngce-pmdm/contour-builder/internal/units"
	"github.com/ngce-pmdm/contour-builder/internal/util"
)

// ReportName is written to the contour directory after every run.
const ReportName = "contour_report.json"

// Options carries the collaborators of a Builder. Nil fields get
// defaults: the local engine, the default unit chains, a status manager
// from config, and no-op recorder and emitter.
type Options struct {
	Engine    geo.Engine
	Router    *units.Router
	Status    status.Manager
	Recorder  catalog.RunRecorder
	Emitter   events.Emitter
	Publisher *Publisher
	Version   string
}

// Builder runs the contour stage for one project.
type Builder struct {
	cfg     config.Config
	jobID   string
	job     catalog.ProjectJob
	folders catalog.ProjectFolders
	ws      Workspace

	engine    geo.Engine
	router    *units.Router
	status    status.Manager
	recorder  catalog.RunRecorder
	emitter   events.Emitter
	publisher *Publisher
	version   string

	ownsStatus bool
	logger     *slog.Logger
}

func NewBuilder(cfg config.Config, jobID string, job catalog.ProjectJob, opts Options) (*Builder, error) {
	folders := catalog.NewProjectFolders(job, Layout(cfg.Paths))

	b := &Builder{
		cfg:       cfg,
		jobID:     jobID,
		job:       job,
		folders:   folders,
		ws:        Workspace{Scratch: folders.Scratch()},
		engine:    opts.Engine,
		router:    opts.Router,
		status:    opts.Status,
		recorder:  opts.Recorder,
		emitter:   opts.Emitter,
		publisher: opts.Publisher,
		version:   opts.Version,
		logger:    slog.With("component", "builder", "project", job.ProjectID),
	}

	if b.engine == nil {
		b.engine = geo.NewLocalEngine()
	}
	if b.router == nil {
		r, err := units.NewRouter(units.DefaultChains())
		if err != nil {
			return nil, err
		}
		b.router = r
	}
	if b.recorder == nil {
		b.recorder = catalog.NoopRecorder{}
	}
	if b.emitter == nil {
		b.emitter, _ = events.NewEmitter(events.Config{})
	}
	if b.version == "" {
		b.version = "dev"
	}
	return b, nil
}

// Layout maps path configuration onto project folders.
func Layout(p config.PathsConfig) catalog.Layout {
	return catalog.Layout{
		DerivedFolder:   p.DerivedFolder,
		PublishedFolder: p.PublishedFolder,
		ContourFolder:   p.ContourFolder,
		ScratchFolder:   p.ScratchFolder,
		FootprintLayer:  p.FootprintLayer,
		RefMosaicName:   p.RefMosaicName,
		MosaicName:      p.MosaicName,
	}
}

// Folders returns the resolved project folders.
func (b *Builder) Folders() catalog.ProjectFolders {
	return b.folders
}

// OutputDir is the directory holding the merged and projected layers.
func (b *Builder) OutputDir() string {
	return filepath.Join(b.folders.ContourDir, b.cfg.Contour.GDBName)
}

// Run executes the stage and returns its report. Failures are recorded
// in the report rather than returned: a setup failure skips the tiled
// stage, a reconcile failure leaves the outputs empty, and dropped units
// are listed by name.
func (b *Builder) Run(ctx context.Context) *BatchReport {
	start := time.Now()
	report := &BatchReport{
		RunID:     uuid.NewString(),
		JobID:     b.jobID,
		ProjectID: b.job.ProjectID,
		StartedAt: start.UTC(),
	}
	ctx = logging.WithCorrelationID(ctx, logging.GenerateCorrelationID())
	defer func() {
		b.logger.Info("Script Ran", "duration", time.Since(start).Round(time.Millisecond))
	}()

	b.logger.Info("creating contours from mosaic", "job_id", b.jobID, "run_id", report.RunID, "path", b.folders.Path)

	part, err := b.setup(ctx)
	if err != nil {
		b.logger.Warn("exception raised during script initialization", "error", err)
		report.SetupErr = err.Error()
	} else {
		b.runTiled(ctx, part, report)
	}
	if b.ownsStatus {
		defer b.status.Close()
	}

	report.FinishedAt = time.Now().UTC()
	b.writeReport(report)
	b.recordRun(ctx, report)
	b.emitEvent(ctx, report)
	return report
}

// setup creates the workspace, the referenced mosaic and the partition.
func (b *Builder) setup(ctx context.Context) (*Partition, error) {
	outDir := b.OutputDir()
	for _, dir := range []string{b.folders.ContourDir, outDir, b.ws.Scratch} {
		if err := util.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("create contour workspace: %w", err)
		}
	}
	b.logger.Info("created contour workspace", "gdb", outDir, "scratch", b.ws.Scratch)

	if b.status == nil {
		b.status = b.openStatus()
		b.ownsStatus = true
	}

	footprints := b.folders.Footprints()
	vu := VerticalUnit(ctx, b.engine, footprints)
	b.logger.Info("got input raster vertical unit", "vertical_unit", vu)

	def, created, err := raster.CreateReferenced(ctx, b.folders.Mosaic(), b.folders.RefMosaic(), vu, b.router, b.cfg.Contour.SkipFactor)
	if err != nil {
		return nil, fmt.Errorf("create referenced mosaic: %w", err)
	}
	if created {
		b.logger.Info("created referenced mosaic", "path", b.folders.RefMosaic(), "chain", def.Chain.Name,
			"min", def.Statistics.Min, "max", def.Statistics.Max)
	} else {
		b.logger.Info("referenced mosaic exists", "path", b.folders.RefMosaic())
	}

	p := NewPartitioner(b.engine, b.ws, b.cfg.Contour.ClipMosaicDistance, b.cfg.Contour.ClipContourDistance)
	part, err := p.Partition(ctx, footprints)
	if err != nil {
		return nil, fmt.Errorf("collect processing extents: %w", err)
	}
	return part, nil
}

func (b *Builder) openStatus() status.Manager {
	cfg := status.Config{Backend: b.cfg.Status.Backend, Path: b.cfg.Status.Path}
	if cfg.Path == "" {
		name := "contour_status.db"
		if cfg.Backend == "file" {
			name = "contour_status.json"
		}
		cfg.Path = filepath.Join(b.folders.ContourDir, name)
	}
	m, err := status.NewManager(cfg)
	if err != nil {
		b.logger.Warn("status tracking disabled", "backend", cfg.Backend, "error", err)
		m, _ = status.NewManager(status.Config{Backend: "none"})
	}
	return m
}

func (b *Builder) runTiled(ctx context.Context, part *Partition, report *BatchReport) {
	labels := metrics.Labels{Project: b.job.ProjectID}
	report.Excluded = part.Excluded

	for _, name := range part.Completed {
		report.Units = append(report.Units, UnitResult{Unit: name, Sequence: -1, State: UnitSkipped, Artifact: b.ws.Final(name)})
		if m := metrics.Get(); m != nil {
			m.IncUnitsSkipped(labels)
		}
	}

	report.Interrupted = b.interrupted(ctx, part.Units)

	now := time.Now().UTC()
	for _, u := range part.Units {
		if err := b.status.Save(ctx, status.Record{Unit: u.Name, State: status.StatePending, UpdatedAt: now}); err != nil {
			b.logger.Warn("failed to save unit status", "unit", u.Name, "error", err)
		}
	}

	c := b.cfg.Contour
	params := Params{
		Interval:          c.Interval,
		Units:             c.Unit,
		SimplifyTolerance: c.SimplifyTolerance,
		SmoothTolerance:   c.SmoothTolerance,
		SmoothAlgorithm:   c.SmoothAlgorithm,
		TriesAllowed:      b.cfg.Pool.TriesAllowed,
		RetryBackoff:      time.Duration(b.cfg.Pool.RetryBackoffMs) * time.Millisecond,
		UnitTimeout:       b.cfg.Pool.UnitTimeout,
	}
	deriver := NewDeriver(b.engine, b.ws, ReferencedSource(b.folders.RefMosaic()), b.status, params, b.job.ProjectID)
	workers := PoolSize(b.cfg.Pool.Workers, b.cfg.Pool.CPUHandicap)
	pool := NewPool(deriver, b.engine, b.ws, b.status, workers, b.cfg.Pool.MaxPasses, b.job.ProjectID)

	results, passes := pool.Run(ctx, part.Units)
	report.Passes = passes
	for _, r := range results {
		report.Units = append(report.Units, r)
		if !r.OK() {
			report.Dropped = append(report.Dropped, r.Unit)
		}
	}
	if len(report.Dropped) > 0 {
		b.logger.Error("units dropped", "count", len(report.Dropped), "units", report.Dropped)
		if m := metrics.Get(); m != nil {
			m.AddUnitsDropped(labels, float64(len(report.Dropped)))
		}
	}

	rec := NewReconciler(b.engine, b.ws, b.OutputDir(), c.OCSName, c.WMName, b.job.ProjectID)
	out, err := rec.Reconcile(ctx)
	if err != nil {
		b.logger.Error("exception raised during reconcile", "error", err)
		report.ReconcileErr = err.Error()
		return
	}
	report.Outputs = out

	if b.publisher == nil {
		return
	}
	files, err := b.publisher.Publish(ctx, b.job.ProjectID, report.RunID, out)
	if err != nil {
		b.logger.Warn("publish failed", "error", err)
		report.PublishErr = err.Error()
		return
	}
	report.Outputs.Published = files
}

// interrupted returns the runnable units whose last recorded state is
// running, i.e. a previous run stopped while deriving them.
func (b *Builder) interrupted(ctx context.Context, units []SpatialUnit) []string {
	prev, err := b.status.Load(ctx)
	if err != nil {
		b.logger.Warn("failed to load unit status", "error", err)
		return nil
	}

	var out []string
	for _, u := range units {
		rec, ok := prev[u.Name]
		if !ok || rec.State != status.StateRunning {
			continue
		}
		b.logger.Warn("unit interrupted in a previous run, rebuilding",
			"unit", u.Name, "attempts", rec.Attempts, "updated_at", rec.UpdatedAt)
		out = append(out, u.Name)
	}
	return out
}

func (b *Builder) writeReport(report *BatchReport) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		b.logger.Warn("failed to encode report", "error", err)
		return
	}
	path := filepath.Join(b.folders.ContourDir, ReportName)
	if err := util.WriteFileAtomic(path, data); err != nil {
		b.logger.Warn("failed to write report", "path", path, "error", err)
		return
	}
	b.logger.Info("wrote batch report", "path", path,
		"done", report.Count(UnitDone),
		"skipped", report.Count(UnitSkipped),
		"dropped", len(report.Dropped),
	)
}

func (b *Builder) recordRun(ctx context.Context, report *BatchReport) {
	rec := catalog.RunRecord{
		RunID:       report.RunID,
		WMXJobID:    b.job.WMXJobID,
		ProjectID:   report.ProjectID,
		StartedAt:   report.StartedAt,
		FinishedAt:  report.FinishedAt,
		Passes:      report.Passes,
		UnitsDone:   report.Count(UnitDone) + report.Count(UnitSkipped),
		UnitsFailed: len(report.Dropped),
		Dropped:     report.Dropped,
		Output:      report.Outputs.Merged,
		Checksum:    report.Outputs.Checksum(),
		Err:         firstNonEmpty(report.SetupErr, report.ReconcileErr, report.PublishErr),
	}
	if err := b.recorder.RecordRun(ctx, rec); err != nil {
		b.logger.Warn("failed to record run", "error", err)
		if m := metrics.Get(); m != nil {
			m.IncCatalogErrors(metrics.Labels{Project: report.ProjectID})
		}
	}
}

func (b *Builder) emitEvent(ctx context.Context, report *BatchReport) {
	evt := &events.RunEvent{
		Timestamp: report.FinishedAt,
		Job: events.JobInfo{
			RunID:     report.RunID,
			WMXJobID:  b.job.WMXJobID,
			ProjectID: report.ProjectID,
			Passes:    report.Passes,
		},
		Units: events.UnitSummary{
			Total:     len(report.Units),
			Done:      report.Count(UnitDone),
			Skipped:   report.Count(UnitSkipped),
			Abandoned: report.Count(UnitAbandoned),
			Dropped:   report.Dropped,
		},
		Producer: events.ProducerInfo{Name: "contour-builder", Version: b.version},
	}
	if len(report.Outputs.Published) > 0 {
		evt.Outputs = make(map[string]events.OutputInfo, len(report.Outputs.Published))
		for _, f := range report.Outputs.Published {
			evt.Outputs[f.Name] = events.OutputInfo{
				Checksum:    f.Checksum,
				RowCount:    f.Rows,
				ByteSize:    f.Bytes,
				StoragePath: f.URI,
			}
		}
	}

	if err := b.emitter.Emit(ctx, evt); err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Warn("failed to emit run event", "error", err)
		if m := metrics.Get(); m != nil {
			m.IncEventErrors(metrics.Labels{Project: report.ProjectID})
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
