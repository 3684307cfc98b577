package geo

import (
	"fmt"
	"os"

	"github.com/paulmach/orb/geojson"

	"github.com/ngce-pmdm/contour-builder/internal/util"
)

// ReadLayer loads a GeoJSON feature layer. Every feature comes back with a
// non-nil property map.
func ReadLayer(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrLayerNotFound, path)
		}
		return nil, fmt.Errorf("read layer %s: %w", path, err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode layer %s: %w", path, err)
	}
	for _, f := range fc.Features {
		if f.Properties == nil {
			f.Properties = geojson.Properties{}
		}
	}
	return fc, nil
}

// WriteLayer encodes fc and renames it into place.
func WriteLayer(path string, fc *geojson.FeatureCollection) error {
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode layer %s: %w", path, err)
	}
	return util.WriteFileAtomic(path, data)
}

// toFloat reads a numeric attribute regardless of how it was decoded.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
