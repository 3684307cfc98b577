package contour

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/paulmach/orb/geojson"

	"github.com/ngce-pmdm/contour-builder/internal/geo"
	"github.com/ngce-pmdm/contour-builder/internal/logging"
	"github.com/ngce-pmdm/contour-builder/internal/metrics"
	"github.com/ngce-pmdm/contour-builder/internal/raster"
	"github.com/ngce-pmdm/contour-builder/internal/status"
)

// Attribute fields stamped on every contour line.
const (
	FieldContour = "CONTOUR"
	FieldClass   = "CTYPE"
	FieldIndex   = "INDEX"
	FieldUnits   = "UNITS"
	FieldName    = "name"

	unitsFieldLen = 20
	nameFieldLen  = 79
)

// HousekeepingFields are left behind by contouring, simplification and
// smoothing and are dropped from finished layers.
var HousekeepingFields = []string{"ID", "InLine_FID", "SimLnFlag", "MaxSimpTol", "MinSimpTol"}

const maxBackoff = time.Minute

// Params are the derivation settings shared by every unit.
type Params struct {
	Interval          float64
	Units             string
	SimplifyTolerance float64
	SmoothTolerance   float64
	SmoothAlgorithm   string

	TriesAllowed int
	RetryBackoff time.Duration // doubled per attempt; 0 retries at once
	UnitTimeout  time.Duration // 0 disables
}

// SourceFunc returns the raster units contour from. It fails when the
// raster is not ready.
type SourceFunc func(ctx context.Context) (raster.Source, error)

// ReferencedSource opens the referenced mosaic at path on first success
// and shares it afterwards. Failed opens are retried on the next call.
func ReferencedSource(path string) SourceFunc {
	var (
		mu  sync.Mutex
		src *raster.Referenced
	)
	return func(ctx context.Context) (raster.Source, error) {
		mu.Lock()
		defer mu.Unlock()
		if src != nil {
			return src, nil
		}
		r, err := raster.OpenReferenced(path)
		if err != nil {
			return nil, fmt.Errorf("referenced mosaic not available: %w", err)
		}
		src = r
		return src, nil
	}
}

// Deriver runs the per-unit derivation with bounded retry.
type Deriver struct {
	engine  geo.Engine
	ws      Workspace
	source  SourceFunc
	status  status.Manager
	params  Params
	project string
}

func NewDeriver(engine geo.Engine, ws Workspace, source SourceFunc, st status.Manager, params Params, project string) *Deriver {
	return &Deriver{
		engine:  engine,
		ws:      ws,
		source:  source,
		status:  st,
		params:  params,
		project: project,
	}
}

// Run derives one unit, retrying from the first step until it succeeds
// or TriesAllowed+1 attempts have failed. Finished steps are skipped on
// retry. Run never panics the pool and never returns an error: the
// outcome is in the result.
func (d *Deriver) Run(ctx context.Context, unit SpatialUnit, pass int) UnitResult {
	start := time.Now()
	log := logging.UnitLogger(ctx, unit.Name, unit.Sequence, pass)
	labels := metrics.Labels{Project: d.project}

	res := UnitResult{Unit: unit.Name, Sequence: unit.Sequence, Pass: pass}

	release := d.checkOutExtensions(log)
	defer release()

	d.saveStatus(ctx, log, res, status.StateRunning, nil)

	maxAttempts := d.params.TriesAllowed + 1
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		res.Attempts = attempt + 1

		features, err := d.attempt(ctx, unit, log)
		if err == nil {
			res.State = UnitDone
			res.Artifact = d.ws.Final(unit.Name)
			res.Features = features
			res.Duration = time.Since(start)
			d.saveStatus(ctx, log, res, status.StateDone, nil)

			log.Info("unit finished", "attempts", res.Attempts, "features", features,
				"duration_ms", res.Duration.Milliseconds())
			if m := metrics.Get(); m != nil {
				m.IncUnitsProcessed(labels)
				m.ObserveUnitDuration(labels, res.Duration.Seconds())
				m.ObserveUnitFeatures(labels, float64(features))
			}
			return res
		}

		lastErr = err
		log.Warn("process dropped", "attempt", res.Attempts, "max_attempts", maxAttempts, "error", err)
		if res.Attempts >= maxAttempts {
			break
		}
		if m := metrics.Get(); m != nil {
			m.IncRetryAttempts(labels)
		}
		if err := d.backoff(ctx, attempt); err != nil {
			lastErr = err
			break
		}
	}

	res.Duration = time.Since(start)
	if ctx.Err() != nil {
		res.State = UnitFailed
		res.setErr(fmt.Errorf("cancelled after %d attempts: %w", res.Attempts, lastErr))
		d.saveStatus(ctx, log, res, status.StateFailed, res.Err)
		return res
	}

	res.State = UnitAbandoned
	res.setErr(fmt.Errorf("too many tries (%d): %w", res.Attempts, lastErr))
	log.Error("too many tries, dropped", "attempts", res.Attempts, "error", lastErr)
	d.saveStatus(ctx, log, res, status.StateAbandoned, res.Err)
	if m := metrics.Get(); m != nil {
		m.IncUnitsAbandoned(labels)
	}
	return res
}

func (d *Deriver) backoff(ctx context.Context, attempt int) error {
	if d.params.RetryBackoff <= 0 {
		return nil
	}
	wait := d.params.RetryBackoff * time.Duration(1<<min(attempt, 16))
	if wait > maxBackoff {
		wait = maxBackoff
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attempt walks the derivation steps once and returns the feature count
// of the final artifact.
func (d *Deriver) attempt(ctx context.Context, unit SpatialUnit, log *slog.Logger) (int, error) {
	if d.params.UnitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.params.UnitTimeout)
		defer cancel()
	}

	name := unit.Name
	final := d.ws.Final(name)
	if !d.engine.Exists(final) {
		if err := d.build(ctx, unit, log); err != nil {
			return 0, err
		}
	}

	n, err := d.engine.CountRows(ctx, final)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", final, err)
	}
	return n, nil
}

func (d *Deriver) build(ctx context.Context, unit SpatialUnit, log *slog.Logger) error {
	name := unit.Name
	if err := d.ws.Ensure(name); err != nil {
		return err
	}

	src, err := d.source(ctx)
	if err != nil {
		return err
	}
	log.Debug("referenced mosaic found")

	env := geo.Env{Extent: unit.RasterClip.Bound(), Workspace: d.ws.UnitDir(name)}
	base, simple, smooth, staged := d.ws.Base(name), d.ws.Simple(name), d.ws.Smooth(name), d.ws.Staged(name)

	if err := d.step(ctx, log, "contour", base, func() error {
		return d.engine.Contour(ctx, env, src, base, float64(int(d.params.Interval)))
	}); err != nil {
		return err
	}

	if err := d.step(ctx, log, "simplify", simple, func() error {
		return d.engine.SimplifyLine(ctx, env, base, simple, geo.SimplifyOptions{
			Algorithm:  "POINT_REMOVE",
			Tolerance:  d.params.SimplifyTolerance,
			FlagErrors: true,
		})
	}); err != nil {
		return err
	}

	if err := d.step(ctx, log, "smooth", smooth, func() error {
		return d.engine.SmoothLine(ctx, env, simple, smooth, geo.SmoothOptions{
			Algorithm: d.params.SmoothAlgorithm,
			Tolerance: d.params.SmoothTolerance,
		})
	}); err != nil {
		return err
	}

	if err := d.step(ctx, log, "clip", staged, func() error {
		return d.engine.Clip(ctx, env, smooth, staged, unit.VectorClip)
	}); err != nil {
		return err
	}

	if err := d.finish(ctx, staged, name, log); err != nil {
		return err
	}

	final := d.ws.Final(name)
	if err := os.Rename(staged, final); err != nil {
		return fmt.Errorf("promote %s: %w", staged, err)
	}
	log.Debug("promoted clipped contours", "path", final)
	return nil
}

// step runs fn unless out already exists.
func (d *Deriver) step(ctx context.Context, log *slog.Logger, name, out string, fn func() error) error {
	if d.engine.Exists(out) {
		log.Debug("step output exists, skipping", "step", name, "path", out)
		return nil
	}

	start := time.Now()
	if err := fn(); err != nil {
		if m := metrics.Get(); m != nil {
			m.IncUnitsFailed(metrics.Labels{Project: d.project, Step: name})
		}
		return fmt.Errorf("%s: %w", name, err)
	}

	elapsed := time.Since(start)
	log.Info("step complete", "step", name, "path", out, "duration_ms", elapsed.Milliseconds())
	if m := metrics.Get(); m != nil {
		m.ObserveStepDuration(metrics.Labels{Project: d.project, Step: name}, elapsed.Seconds())
	}
	return nil
}

// finish repairs and attributes the clipped layer in place. Repair and
// attribution are idempotent so they run on every attempt.
func (d *Deriver) finish(ctx context.Context, path, unit string, log *slog.Logger) error {
	if err := d.engine.RepairGeometry(ctx, path); err != nil {
		return fmt.Errorf("repair: %w", err)
	}

	interval := d.params.Interval
	fields := []struct {
		name string
		fn   geo.FieldFunc
	}{
		{FieldClass, func(p geojson.Properties) (any, error) {
			v, err := contourValue(p)
			return ContourClass(v), err
		}},
		{FieldIndex, func(p geojson.Properties) (any, error) {
			v, err := contourValue(p)
			return MajorIndex(v, interval), err
		}},
		{FieldUnits, constant(truncate(d.params.Units, unitsFieldLen))},
		{FieldName, constant(truncate(unit, nameFieldLen))},
	}
	for _, f := range fields {
		if err := d.engine.CalculateField(ctx, path, f.name, f.fn); err != nil {
			return fmt.Errorf("calculate %s: %w", f.name, err)
		}
	}
	log.Debug("added fields", "path", path)

	if err := d.engine.DeleteFields(ctx, path, HousekeepingFields...); err != nil {
		log.Debug("delete fields", "path", path, "error", err)
	}
	return nil
}

func (d *Deriver) checkOutExtensions(log *slog.Logger) func() {
	var held []string
	for _, ext := range []string{geo.Extension3D, geo.ExtensionSpatial} {
		if err := d.engine.CheckOutExtension(ext); err != nil {
			log.Warn("failed to check out extension", "extension", ext, "error", err)
			continue
		}
		held = append(held, ext)
	}
	return func() {
		for _, ext := range held {
			if err := d.engine.CheckInExtension(ext); err != nil {
				log.Debug("check in extension", "extension", ext, "error", err)
			}
		}
	}
}

func (d *Deriver) saveStatus(ctx context.Context, log *slog.Logger, res UnitResult, state status.State, err error) {
	rec := status.Record{
		Unit:      res.Unit,
		State:     state,
		Attempts:  res.Attempts,
		Pass:      res.Pass,
		UpdatedAt: time.Now().UTC(),
	}
	if err != nil {
		rec.LastError = err.Error()
	}
	// a cancelled run still records where it stopped
	if serr := d.status.Save(context.WithoutCancel(ctx), rec); serr != nil {
		log.Warn("failed to save unit status", "state", state, "error", serr)
	}
}

func contourValue(p geojson.Properties) (float64, error) {
	v, ok := p[FieldContour].(float64)
	if !ok {
		return 0, errors.New("feature has no numeric CONTOUR")
	}
	return v, nil
}

func constant(v string) geo.FieldFunc {
	return func(geojson.Properties) (any, error) { return v, nil }
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
