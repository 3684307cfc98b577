package geo

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"

	"github.com/ngce-pmdm/contour-builder/internal/raster"
	"github.com/ngce-pmdm/contour-builder/internal/util"
)

// Footprint attribute names.
const (
	FieldName         = "Name"
	FieldZRange       = "zran"
	FieldVerticalUnit = "V_UNIT"
)

// LocalEngine implements Engine on the local filesystem. Line layers are
// GeoJSON, footprint layers are shapefiles.
type LocalEngine struct {
	logger *slog.Logger

	mu         sync.Mutex
	checkouts  map[string]int
	extensions map[string]bool
}

// NewLocalEngine creates an engine with the 3D and Spatial extensions
// available.
func NewLocalEngine() *LocalEngine {
	return &LocalEngine{
		logger:    slog.With("component", "geo"),
		checkouts: make(map[string]int),
		extensions: map[string]bool{
			Extension3D:      true,
			ExtensionSpatial: true,
		},
	}
}

// Exists reports whether a layer exists.
func (e *LocalEngine) Exists(path string) bool {
	return util.Exists(path)
}

// Delete removes a layer and, for shapefiles, its sidecars.
func (e *LocalEngine) Delete(path string) error {
	if isShapefile(path) {
		return deleteShapefile(path)
	}
	return util.RemoveIfExists(path)
}

// CountRows returns the number of features in a layer.
func (e *LocalEngine) CountRows(ctx context.Context, path string) (int, error) {
	if isShapefile(path) {
		_, rows, err := readPolygonShapefile(path)
		if err != nil {
			return 0, err
		}
		return len(rows), nil
	}
	fc, err := ReadLayer(path)
	if err != nil {
		return 0, err
	}
	return len(fc.Features), nil
}

// Buffer writes the footprints of in, each grown by meters, to out.
// Footprints are rectangular tiles, so each is buffered as its envelope.
func (e *LocalEngine) Buffer(ctx context.Context, in, out string, meters float64) error {
	fields, rows, err := readPolygonShapefile(in)
	if err != nil {
		return err
	}
	for i := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(rows[i].Geometry) == 0 {
			continue
		}
		rows[i].Geometry = bufferEnvelope(rows[i].Geometry, meters)
	}
	if err := writePolygonShapefile(out, fields, rows); err != nil {
		return fmt.Errorf("buffer %s: %w", in, err)
	}
	e.logger.Debug("buffered footprints", "in", in, "out", out, "meters", meters, "rows", len(rows))
	return nil
}

// SearchFootprints returns the Name, shape, zran and V_UNIT of every row.
func (e *LocalEngine) SearchFootprints(ctx context.Context, path string) ([]FootprintRow, error) {
	_, rows, err := readPolygonShapefile(path)
	if err != nil {
		return nil, err
	}

	out := make([]FootprintRow, 0, len(rows))
	for _, row := range rows {
		name, _ := lookupAttr(row.Attrs, FieldName)
		vu, _ := lookupAttr(row.Attrs, FieldVerticalUnit)
		zran, _ := attrFloat(row.Attrs, FieldZRange)
		out = append(out, FootprintRow{
			Name:         strings.TrimSpace(name),
			Geometry:     row.Geometry,
			ZRange:       zran,
			VerticalUnit: strings.TrimSpace(vu),
		})
	}
	return out, nil
}

// Contour traces isolines of src within env.Extent.
func (e *LocalEngine) Contour(ctx context.Context, env Env, src raster.Source, out string, interval float64) error {
	if !env.Restricted() {
		return fmt.Errorf("contour %s: processing extent required", out)
	}
	if interval <= 0 {
		return fmt.Errorf("contour %s: invalid interval %v", out, interval)
	}

	g, err := src.Window(ctx, env.Extent)
	if err != nil {
		return fmt.Errorf("read surface: %w", err)
	}

	fc := geojson.NewFeatureCollection()
	fc.Features = traceContours(g, interval)
	if err := WriteLayer(out, fc); err != nil {
		return err
	}
	e.logger.Debug("contoured", "out", out, "lines", len(fc.Features), "interval", interval)
	return nil
}

// SimplifyLine drops vertices within opts.Tolerance. Lines that would
// collapse are kept unchanged and flagged in SimLnFlag when
// opts.FlagErrors is set.
func (e *LocalEngine) SimplifyLine(ctx context.Context, env Env, in, out string, opts SimplifyOptions) error {
	return e.mapLines(ctx, env, in, out, func(i int, f *geojson.Feature, ls orb.LineString) (orb.LineString, error) {
		simple, ok, err := simplifyLine(ls, opts.Algorithm, opts.Tolerance)
		if err != nil {
			return nil, err
		}
		if opts.FlagErrors {
			flag := 0
			if !ok {
				flag = 1
			}
			f.Properties["SimLnFlag"] = flag
		}
		f.Properties["MaxSimpTol"] = opts.Tolerance
		f.Properties["MinSimpTol"] = opts.Tolerance
		return simple, nil
	})
}

// SmoothLine smooths every line and records its source row in InLine_FID.
func (e *LocalEngine) SmoothLine(ctx context.Context, env Env, in, out string, opts SmoothOptions) error {
	return e.mapLines(ctx, env, in, out, func(i int, f *geojson.Feature, ls orb.LineString) (orb.LineString, error) {
		smooth, err := smoothLine(ls, opts.Algorithm, opts.Tolerance)
		if err != nil {
			return nil, err
		}
		f.Properties["InLine_FID"] = i
		return smooth, nil
	})
}

// mapLines rewrites every line of in through fn. Features outside a
// restricted env are dropped.
func (e *LocalEngine) mapLines(ctx context.Context, env Env, in, out string,
	fn func(i int, f *geojson.Feature, ls orb.LineString) (orb.LineString, error)) error {

	fc, err := ReadLayer(in)
	if err != nil {
		return err
	}

	result := geojson.NewFeatureCollection()
	for i, f := range fc.Features {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.Geometry == nil {
			continue
		}
		if env.Restricted() && !env.Extent.Intersects(f.Geometry.Bound()) {
			continue
		}

		var g orb.Geometry
		switch geom := f.Geometry.(type) {
		case orb.LineString:
			ls, err := fn(i, f, geom)
			if err != nil {
				return fmt.Errorf("%s feature %d: %w", in, i, err)
			}
			g = ls
		case orb.MultiLineString:
			mls := make(orb.MultiLineString, 0, len(geom))
			for _, part := range geom {
				ls, err := fn(i, f, part)
				if err != nil {
					return fmt.Errorf("%s feature %d: %w", in, i, err)
				}
				mls = append(mls, ls)
			}
			g = mls
		default:
			return fmt.Errorf("%s feature %d: expected lines, got %s", in, i, f.Geometry.GeoJSONType())
		}

		nf := geojson.NewFeature(g)
		nf.Properties = f.Properties
		result.Append(nf)
	}
	return WriteLayer(out, result)
}

// Clip keeps the parts of each line inside clip. Features with nothing
// inside are dropped.
func (e *LocalEngine) Clip(ctx context.Context, env Env, in, out string, clip orb.Polygon) error {
	fc, err := ReadLayer(in)
	if err != nil {
		return err
	}

	result := geojson.NewFeatureCollection()
	for _, f := range fc.Features {
		if err := ctx.Err(); err != nil {
			return err
		}

		var lines orb.MultiLineString
		switch g := f.Geometry.(type) {
		case orb.LineString:
			lines = clipLineToPolygon(g, clip)
		case orb.MultiLineString:
			for _, ls := range g {
				lines = append(lines, clipLineToPolygon(ls, clip)...)
			}
		default:
			continue
		}

		var g orb.Geometry
		switch len(lines) {
		case 0:
			continue
		case 1:
			g = lines[0]
		default:
			g = lines
		}
		nf := geojson.NewFeature(g)
		nf.Properties = f.Properties
		result.Append(nf)
	}

	if err := WriteLayer(out, result); err != nil {
		return err
	}
	e.logger.Debug("clipped", "in", in, "out", out, "kept", len(result.Features), "of", len(fc.Features))
	return nil
}

// RepairGeometry removes repeated vertices and deletes features whose
// geometry is null or degenerate.
func (e *LocalEngine) RepairGeometry(ctx context.Context, path string) error {
	fc, err := ReadLayer(path)
	if err != nil {
		return err
	}

	kept := fc.Features[:0]
	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.LineString:
			ls, ok := repairLine(g)
			if !ok {
				continue
			}
			f.Geometry = ls
		case orb.MultiLineString:
			var mls orb.MultiLineString
			for _, part := range g {
				if ls, ok := repairLine(part); ok {
					mls = append(mls, ls)
				}
			}
			if len(mls) == 0 {
				continue
			}
			f.Geometry = mls
		case nil:
			continue
		}
		kept = append(kept, f)
	}

	removed := len(fc.Features) - len(kept)
	fc.Features = kept
	if err := WriteLayer(path, fc); err != nil {
		return err
	}
	if removed > 0 {
		e.logger.Debug("repaired geometry", "path", path, "deleted", removed)
	}
	return nil
}

// CalculateField sets field on every row to fn's result, adding the field
// if needed.
func (e *LocalEngine) CalculateField(ctx context.Context, path, field string, fn FieldFunc) error {
	fc, err := ReadLayer(path)
	if err != nil {
		return err
	}
	for i, f := range fc.Features {
		v, err := fn(f.Properties)
		if err != nil {
			return fmt.Errorf("calculate %s on row %d: %w", field, i, err)
		}
		f.Properties[field] = v
	}
	return WriteLayer(path, fc)
}

// DeleteFields removes fields from every row. Fields missing from the
// layer are reported after the present ones are removed.
func (e *LocalEngine) DeleteFields(ctx context.Context, path string, fields ...string) error {
	fc, err := ReadLayer(path)
	if err != nil {
		return err
	}

	present := make(map[string]bool, len(fields))
	for _, f := range fc.Features {
		for _, name := range fields {
			if _, ok := f.Properties[name]; ok {
				present[name] = true
				delete(f.Properties, name)
			}
		}
	}
	if err := WriteLayer(path, fc); err != nil {
		return err
	}

	var missing []string
	for _, name := range fields {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 && len(fc.Features) > 0 {
		return fmt.Errorf("fields not found in %s: %s", path, strings.Join(missing, ", "))
	}
	return nil
}

// Merge concatenates the features of inputs, in order, into out.
func (e *LocalEngine) Merge(ctx context.Context, inputs []string, out string) error {
	result := geojson.NewFeatureCollection()
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		fc, err := ReadLayer(in)
		if err != nil {
			return err
		}
		result.Features = append(result.Features, fc.Features...)
	}
	if err := WriteLayer(out, result); err != nil {
		return err
	}
	e.logger.Info("merged layers", "inputs", len(inputs), "out", out, "rows", len(result.Features))
	return nil
}

// Project reprojects in from geographic coordinates to sr.
func (e *LocalEngine) Project(ctx context.Context, in, out string, sr SpatialReference) error {
	if sr.Project == nil {
		return fmt.Errorf("project %s: spatial reference %s has no projection", in, sr.Name)
	}
	fc, err := ReadLayer(in)
	if err != nil {
		return err
	}
	for _, f := range fc.Features {
		if f.Geometry != nil {
			f.Geometry = project.Geometry(orb.Clone(f.Geometry), sr.Project)
		}
	}
	fc.ExtraMembers = geojson.Properties{
		"crs": map[string]any{
			"type":       "name",
			"properties": map[string]any{"name": "EPSG:" + strconv.Itoa(sr.WKID)},
		},
	}
	return WriteLayer(out, fc)
}

// CheckOutExtension checks out a named license. Checkouts are counted so
// each unit can check in independently.
func (e *LocalEngine) CheckOutExtension(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.extensions[name] {
		return fmt.Errorf("%w: %s", ErrExtensionUnavailable, name)
	}
	e.checkouts[name]++
	return nil
}

// CheckInExtension returns a license.
func (e *LocalEngine) CheckInExtension(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.checkouts[name] == 0 {
		return fmt.Errorf("extension %s not checked out", name)
	}
	e.checkouts[name]--
	return nil
}

// Checkouts returns the number of outstanding checkouts of name.
func (e *LocalEngine) Checkouts(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkouts[name]
}

// Extensions lists the licenses this engine can hand out.
func (e *LocalEngine) Extensions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.extensions))
	for n := range e.extensions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func isShapefile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".shp")
}
