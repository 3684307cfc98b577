package contour

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ngce-pmdm/contour-builder/internal/geo"
)

// DefaultVerticalUnit is used when the footprints carry no V_UNIT.
const DefaultVerticalUnit = "MT"

// Partition is the runnable unit set plus the names left out of it.
type Partition struct {
	Units     []SpatialUnit
	Completed []string // final artifact already present
	Excluded  []string // zero elevation range or no clip polygon
}

// Partitioner builds spatial units from a footprint layer.
type Partitioner struct {
	engine geo.Engine
	ws     Workspace
	logger *slog.Logger

	// side layers are cached here, one level above the scratch root
	sideDir string

	RasterClipDistance float64
	VectorClipDistance float64
}

func NewPartitioner(engine geo.Engine, ws Workspace, rasterClip, vectorClip float64) *Partitioner {
	return &Partitioner{
		engine:             engine,
		ws:                 ws,
		logger:             slog.With("component", "partition"),
		sideDir:            filepath.Dir(ws.Scratch),
		RasterClipDistance: rasterClip,
		VectorClipDistance: vectorClip,
	}
}

// Partition reads footprints and returns the units that still need work.
// The raster-clip pass decides membership; the vector-clip pass only
// attaches clip polygons to units already admitted.
func (p *Partitioner) Partition(ctx context.Context, footprints string) (*Partition, error) {
	rasterRows, err := p.bufferedRows(ctx, footprints, RasterClipLayer, p.RasterClipDistance)
	if err != nil {
		return nil, err
	}

	part := &Partition{}
	byName := make(map[string]*SpatialUnit)
	var order []string

	for _, row := range rasterRows {
		if row.Name == "" {
			continue
		}
		if _, dup := byName[row.Name]; dup {
			p.logger.Warn("duplicate footprint name, keeping first", "unit", row.Name)
			continue
		}
		if row.ZRange <= 0 {
			p.logger.Debug("excluding unit with no elevation range", "unit", row.Name)
			part.Excluded = append(part.Excluded, row.Name)
			continue
		}
		if !p.needsProcessing(ctx, row.Name) {
			part.Completed = append(part.Completed, row.Name)
			continue
		}
		byName[row.Name] = &SpatialUnit{
			Name:           row.Name,
			RasterClip:     row.Geometry,
			ElevationRange: row.ZRange,
		}
		order = append(order, row.Name)
	}

	vectorRows, err := p.bufferedRows(ctx, footprints, VectorClipLayer, p.VectorClipDistance)
	if err != nil {
		return nil, err
	}
	for _, row := range vectorRows {
		if u, ok := byName[row.Name]; ok && u.VectorClip == nil {
			u.VectorClip = row.Geometry
		}
	}

	for _, name := range order {
		u := byName[name]
		if len(u.VectorClip) == 0 {
			p.logger.Warn("unit has no clip polygon, excluding", "unit", name)
			part.Excluded = append(part.Excluded, name)
			continue
		}
		u.Sequence = len(part.Units)
		part.Units = append(part.Units, *u)
	}

	p.logger.Info("partitioned footprints",
		"runnable", len(part.Units),
		"completed", len(part.Completed),
		"excluded", len(part.Excluded),
	)
	return part, nil
}

// bufferedRows buffers footprints into the named side layer, reusing an
// existing one, and reads it back.
func (p *Partitioner) bufferedRows(ctx context.Context, footprints, name string, meters float64) ([]geo.FootprintRow, error) {
	side := filepath.Join(p.sideDir, name)
	if p.engine.Exists(side) {
		p.logger.Debug("reusing buffered footprints", "path", side)
	} else if err := p.engine.Buffer(ctx, footprints, side, meters); err != nil {
		return nil, fmt.Errorf("buffer footprints by %vm: %w", meters, err)
	}

	rows, err := p.engine.SearchFootprints(ctx, side)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return rows, nil
}

// needsProcessing reports whether a unit lacks a usable final artifact.
// An empty artifact is deleted; an unreadable one is rerun.
func (p *Partitioner) needsProcessing(ctx context.Context, unit string) bool {
	final := p.ws.Final(unit)
	if !p.engine.Exists(final) {
		p.logger.Debug("process (missing)", "unit", unit, "path", final)
		return true
	}

	n, err := p.engine.CountRows(ctx, final)
	if err != nil {
		p.logger.Warn("failed to read unit artifact, reprocessing", "unit", unit, "error", err)
		return true
	}
	if n <= 0 {
		p.logger.Info("process (0 rows)", "unit", unit, "path", final)
		if err := p.engine.Delete(final); err != nil {
			p.logger.Warn("failed to delete empty artifact", "unit", unit, "error", err)
		}
		return true
	}
	return false
}

// VerticalUnit returns the V_UNIT of the first footprint row.
func VerticalUnit(ctx context.Context, engine geo.Engine, footprints string) string {
	rows, err := engine.SearchFootprints(ctx, footprints)
	if err != nil || len(rows) == 0 || rows[0].VerticalUnit == "" {
		return DefaultVerticalUnit
	}
	return rows[0].VerticalUnit
}
