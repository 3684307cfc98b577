package geo

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/ngce-pmdm/contour-builder/internal/util"
)

// shapeRow is a polygon record with its attributes as text.
type shapeRow struct {
	Geometry orb.Polygon
	Attrs    map[string]string
}

// readPolygonShapefile reads every polygon record of path together with
// its attribute table.
func readPolygonShapefile(path string) ([]shp.Field, []shapeRow, error) {
	if !util.Exists(path) {
		return nil, nil, fmt.Errorf("%w: %s", ErrLayerNotFound, path)
	}

	r, err := shp.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open shapefile %s: %w", path, err)
	}
	defer r.Close()

	fields := r.Fields()
	var rows []shapeRow
	for r.Next() {
		n, shape := r.Shape()

		row := shapeRow{Attrs: make(map[string]string, len(fields))}
		switch s := shape.(type) {
		case *shp.Polygon:
			row.Geometry = polygonFromShape(s.Parts, s.Points)
		case *shp.PolyLine:
			row.Geometry = polygonFromShape(s.Parts, s.Points)
		case *shp.Null:
		default:
			return nil, nil, fmt.Errorf("shapefile %s: unsupported shape %T", path, shape)
		}

		for i, f := range fields {
			// unwritten dBase bytes are NUL, not blanks
			row.Attrs[f.String()] = strings.TrimRight(r.ReadAttribute(n, i), "\x00 ")
		}
		rows = append(rows, row)
	}
	if err := r.Err(); err != nil {
		return nil, nil, fmt.Errorf("read shapefile %s: %w", path, err)
	}
	return fields, rows, nil
}

// writePolygonShapefile writes rows into a scratch directory next to path
// and moves the sidecar files into place, .shp last, so a visible .shp
// always has its .shx and .dbf.
func writePolygonShapefile(path string, fields []shp.Field, rows []shapeRow) error {
	dir := filepath.Dir(path)
	if err := util.EnsureDir(dir); err != nil {
		return err
	}
	tmpDir, err := os.MkdirTemp(dir, ".shp-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	tmpBase := filepath.Join(tmpDir, base)

	w, err := shp.Create(tmpBase+".shp", shp.POLYGON)
	if err != nil {
		return fmt.Errorf("create shapefile: %w", err)
	}
	if err := w.SetFields(fields); err != nil {
		w.Close()
		return fmt.Errorf("set fields: %w", err)
	}
	for _, row := range rows {
		poly := shp.Polygon(*shp.NewPolyLine(shapeParts(row.Geometry)))
		n := int(w.Write(&poly))
		for i, f := range fields {
			if err := w.WriteAttribute(n, i, row.Attrs[f.String()]); err != nil {
				w.Close()
				return fmt.Errorf("write attribute %s: %w", f.String(), err)
			}
		}
	}
	w.Close()

	target := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range []string{"shx", "dbf", "shp"} {
		src := tmpBase + "." + ext
		if !util.Exists(src) {
			// go-shp v0.1.1 names the table "<base>dbf"
			src = tmpBase + ext
		}
		if err := os.Rename(src, target+"."+ext); err != nil {
			return fmt.Errorf("move %s into place: %w", ext, err)
		}
	}
	return nil
}

// deleteShapefile removes a shapefile and its sidecars.
func deleteShapefile(path string) error {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj", ".cpg"} {
		if err := util.RemoveIfExists(base + ext); err != nil {
			return err
		}
	}
	return nil
}

func polygonFromShape(parts []int32, points []shp.Point) orb.Polygon {
	var poly orb.Polygon
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		ring := make(orb.Ring, 0, end-start)
		for _, p := range points[start:end] {
			ring = append(ring, orb.Point{p.X, p.Y})
		}
		poly = append(poly, ring)
	}
	return poly
}

func shapeParts(p orb.Polygon) [][]shp.Point {
	parts := make([][]shp.Point, 0, len(p))
	for _, ring := range p {
		part := make([]shp.Point, 0, len(ring))
		for _, pt := range ring {
			part = append(part, shp.Point{X: pt[0], Y: pt[1]})
		}
		parts = append(parts, part)
	}
	return parts
}

// bufferEnvelope grows the envelope of p by meters. Geographic
// coordinates are converted to degrees at the envelope's latitude.
func bufferEnvelope(p orb.Polygon, meters float64) orb.Polygon {
	b := p.Bound()
	dx, dy := meters, meters
	if isGeographic(b) {
		lat := b.Center()[1] * math.Pi / 180
		dy = meters / 110574.0
		dx = meters / (111320.0 * math.Max(math.Cos(lat), 1e-6))
	}
	b = orb.Bound{
		Min: orb.Point{b.Min[0] - dx, b.Min[1] - dy},
		Max: orb.Point{b.Max[0] + dx, b.Max[1] + dy},
	}
	// clockwise, as shapefile outer rings are
	return orb.Polygon{orb.Ring{
		{b.Min[0], b.Min[1]},
		{b.Min[0], b.Max[1]},
		{b.Max[0], b.Max[1]},
		{b.Max[0], b.Min[1]},
		{b.Min[0], b.Min[1]},
	}}
}

func isGeographic(b orb.Bound) bool {
	return b.Min[0] >= -180 && b.Max[0] <= 180 && b.Min[1] >= -90 && b.Max[1] <= 90
}

func attrFloat(attrs map[string]string, name string) (float64, bool) {
	v, ok := lookupAttr(attrs, name)
	if !ok || v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// lookupAttr matches field names case-insensitively, as dBase does.
func lookupAttr(attrs map[string]string, name string) (string, bool) {
	if v, ok := attrs[name]; ok {
		return v, true
	}
	for k, v := range attrs {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// WriteFootprints writes a footprint layer with Name, zran and V_UNIT
// columns.
func WriteFootprints(path string, rows []FootprintRow) error {
	fields := []shp.Field{
		shp.StringField(FieldName, 79),
		shp.FloatField(FieldZRange, 18, 3),
		shp.StringField(FieldVerticalUnit, 20),
	}
	out := make([]shapeRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, shapeRow{
			Geometry: r.Geometry,
			Attrs: map[string]string{
				fields[0].String(): r.Name,
				fields[1].String(): strconv.FormatFloat(r.ZRange, 'f', 3, 64),
				fields[2].String(): r.VerticalUnit,
			},
		})
	}
	return writePolygonShapefile(path, fields, out)
}
