package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
)

// Rows converts a contour layer into table rows. Features without
// geometry are skipped.
func Rows(projectID string, fc *geojson.FeatureCollection, now time.Time) ([]ContourRow, error) {
	rows := make([]ContourRow, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		data, err := wkb.Marshal(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("encode feature %d: %w", i, err)
		}
		rows = append(rows, ContourRow{
			FeatureID:  int64(i + 1),
			Name:       f.Properties.MustString("name", ""),
			Contour:    f.Properties.MustFloat64("CONTOUR", 0),
			CType:      int32(f.Properties.MustFloat64("CTYPE", 0)),
			Index:      int32(f.Properties.MustFloat64("INDEX", 0)),
			Units:      f.Properties.MustString("UNITS", ""),
			Geometry:   data,
			PointCount: int32(pointCount(f.Geometry)),
			ProjectID:  projectID,
			ExportedAt: now,
		})
	}
	return rows, nil
}

// ToParquet writes rows as a zstd-compressed parquet file.
func ToParquet(rows []ContourRow) ([]byte, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[ContourRow](&buf, parquet.Compression(&parquet.Zstd))
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("write rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// FromParquet reads rows back from parquet bytes.
func FromParquet(data []byte) ([]ContourRow, error) {
	rows, err := parquet.Read[ContourRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	return rows, nil
}

func pointCount(g orb.Geometry) int {
	switch g := g.(type) {
	case orb.LineString:
		return len(g)
	case orb.MultiLineString:
		n := 0
		for _, ls := range g {
			n += len(ls)
		}
		return n
	default:
		return 0
	}
}
