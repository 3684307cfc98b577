// Package export flattens reconciled contour layers into columnar tables.
package export

import (
	"time"
)

// ContourRow is one contour feature of a published layer.
type ContourRow struct {
	FeatureID int64   `parquet:"feature_id"`
	Name      string  `parquet:"name"`
	Contour   float64 `parquet:"contour"`
	CType     int32   `parquet:"ctype"`
	Index     int32   `parquet:"index"`
	Units     string  `parquet:"units"`

	// Geometry as ISO WKB, original coordinate system.
	Geometry   []byte `parquet:"geometry"`
	PointCount int32  `parquet:"point_count"`

	ProjectID  string    `parquet:"project_id"`
	ExportedAt time.Time `parquet:"exported_at,timestamp(millisecond)"`
}

// TableName returns the canonical table name.
func (ContourRow) TableName() string {
	return "contours"
}

// SchemaVersion returns the version of the schema.
// Increment this when making breaking changes.
const SchemaVersion = "1.0.0"
