// Package geo defines the geospatial engine the contour pipeline drives and
// a local implementation on top of orb and go-shp.
package geo

import (
	"context"
	"errors"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"

	"github.com/ngce-pmdm/contour-builder/internal/raster"
)

// Extension names checked out around unit derivation.
const (
	Extension3D      = "3D"
	ExtensionSpatial = "Spatial"
)

var (
	// ErrLayerNotFound is returned when an input layer does not exist.
	ErrLayerNotFound = errors.New("layer not found")

	// ErrExtensionUnavailable is returned when a license cannot be checked out.
	ErrExtensionUnavailable = errors.New("extension unavailable")
)

// Env scopes a single engine call. It replaces process-wide environment
// settings so concurrent units never see each other's extent.
type Env struct {
	Extent    orb.Bound // zero means unrestricted
	Workspace string
}

// Restricted reports whether an extent was set.
func (e Env) Restricted() bool {
	return !e.Extent.IsZero()
}

// FootprintRow is one row of a footprint search cursor.
type FootprintRow struct {
	Name         string
	Geometry     orb.Polygon
	ZRange       float64
	VerticalUnit string
}

// SimplifyOptions configures line simplification.
type SimplifyOptions struct {
	Algorithm  string // "POINT_REMOVE"
	Tolerance  float64
	FlagErrors bool
}

// SmoothOptions configures line smoothing.
type SmoothOptions struct {
	Algorithm string // "CHAIKIN" | "MOVING_AVERAGE"
	Tolerance float64
}

// SpatialReference names a target coordinate system and how to reach it
// from geographic coordinates.
type SpatialReference struct {
	Name    string
	WKID    int
	Project orb.Projection
}

// WebAuxSphere is WGS 1984 Web Mercator (auxiliary sphere).
var WebAuxSphere = SpatialReference{
	Name:    "WGS_1984_Web_Mercator_Auxiliary_Sphere",
	WKID:    3857,
	Project: project.WGS84.ToMercator,
}

// FieldFunc computes a field value from a row's attributes.
type FieldFunc func(props geojson.Properties) (any, error)

// Engine is the set of geoprocessing operations the pipeline consumes.
// Operations that write a layer never leave a partial output behind.
type Engine interface {
	Exists(path string) bool
	Delete(path string) error
	CountRows(ctx context.Context, path string) (int, error)

	Buffer(ctx context.Context, in, out string, meters float64) error
	SearchFootprints(ctx context.Context, path string) ([]FootprintRow, error)

	Contour(ctx context.Context, env Env, src raster.Source, out string, interval float64) error
	SimplifyLine(ctx context.Context, env Env, in, out string, opts SimplifyOptions) error
	SmoothLine(ctx context.Context, env Env, in, out string, opts SmoothOptions) error
	Clip(ctx context.Context, env Env, in, out string, clip orb.Polygon) error

	RepairGeometry(ctx context.Context, path string) error
	CalculateField(ctx context.Context, path, field string, fn FieldFunc) error
	DeleteFields(ctx context.Context, path string, fields ...string) error

	Merge(ctx context.Context, inputs []string, out string) error
	Project(ctx context.Context, in, out string, sr SpatialReference) error

	CheckOutExtension(name string) error
	CheckInExtension(name string) error
}
