package contour

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ngce-pmdm/contour-builder/internal/geo"
	"github.com/ngce-pmdm/contour-builder/internal/metrics"
)

// ErrNothingToMerge is returned when no unit produced a final artifact.
var ErrNothingToMerge = errors.New("no unit outputs to merge")

// Reconciler merges unit artifacts into one layer and projects a
// publication copy.
type Reconciler struct {
	engine  geo.Engine
	ws      Workspace
	outDir  string
	ocsName string
	wmName  string
	sr      geo.SpatialReference
	project string
	logger  *slog.Logger
}

func NewReconciler(engine geo.Engine, ws Workspace, outDir, ocsName, wmName, project string) *Reconciler {
	return &Reconciler{
		engine:  engine,
		ws:      ws,
		outDir:  outDir,
		ocsName: ocsName,
		wmName:  wmName,
		sr:      geo.WebAuxSphere,
		project: project,
		logger:  slog.With("component", "reconcile"),
	}
}

func (r *Reconciler) MergedPath() string {
	return filepath.Join(r.outDir, r.ocsName+layerExt)
}

func (r *Reconciler) ProjectedPath() string {
	return filepath.Join(r.outDir, r.wmName+layerExt)
}

// Reconcile merges every final artifact found in the scratch root. An
// existing merged layer is kept; when the merge is redone the projected
// copy is deleted first so a stale one never outlives it.
func (r *Reconciler) Reconcile(ctx context.Context) (Outputs, error) {
	start := time.Now()
	merged, projected := r.MergedPath(), r.ProjectedPath()

	inputs, err := r.ws.Discover()
	if err != nil {
		return Outputs{}, err
	}
	out := Outputs{Inputs: len(inputs)}

	if r.engine.Exists(merged) {
		r.logger.Info("merged contours exist", "path", merged)
	} else {
		if len(inputs) == 0 {
			return out, ErrNothingToMerge
		}
		if err := r.engine.Delete(projected); err != nil {
			return out, fmt.Errorf("delete stale projection: %w", err)
		}
		if err := r.engine.Merge(ctx, inputs, merged); err != nil {
			return out, fmt.Errorf("merge: %w", err)
		}
		if err := r.engine.DeleteFields(ctx, merged, HousekeepingFields...); err != nil {
			r.logger.Debug("delete fields", "path", merged, "error", err)
		}
		r.logger.Info("merged unit results", "inputs", len(inputs), "path", merged)
	}
	out.Merged = merged

	if r.engine.Exists(projected) {
		r.logger.Info("projected contours exist", "path", projected)
	} else {
		if err := r.engine.Project(ctx, merged, projected, r.sr); err != nil {
			return out, fmt.Errorf("project: %w", err)
		}
		r.logger.Info("projected merged contours", "path", projected, "wkid", r.sr.WKID)
	}
	out.Projected = projected

	n, err := r.engine.CountRows(ctx, merged)
	if err != nil {
		return out, fmt.Errorf("count merged: %w", err)
	}
	out.Features = n

	if m := metrics.Get(); m != nil {
		m.ObserveReconcileDuration(metrics.Labels{Project: r.project}, time.Since(start).Seconds())
	}
	return out, nil
}
