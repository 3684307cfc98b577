package raster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	"github.com/ngce-pmdm/contour-builder/internal/units"
	"github.com/ngce-pmdm/contour-builder/internal/util"
)

// ErrNotReferenced is returned when a definition is not a prepared
// referenced mosaic.
var ErrNotReferenced = errors.New("mosaic is not a referenced mosaic")

// Statistics are sampled every SkipFactor-th cell in both directions.
type Statistics struct {
	Min        float64 `yaml:"min"`
	Max        float64 `yaml:"max"`
	Mean       float64 `yaml:"mean"`
	Samples    int     `yaml:"samples"`
	SkipFactor int     `yaml:"skip_factor"`
}

// Definition is the persisted referenced mosaic.
type Definition struct {
	Name         string      `yaml:"name"`
	Source       string      `yaml:"source"`
	Referenced   bool        `yaml:"referenced"`
	VerticalUnit string      `yaml:"vertical_unit"`
	Chain        units.Chain `yaml:"chain"`
	Statistics   Statistics  `yaml:"statistics"`
	CreatedAt    time.Time   `yaml:"created_at"`
}

// CreateReferenced writes the referenced mosaic definition at out for the
// mosaic in source. An existing definition is returned unchanged and
// created is false.
func CreateReferenced(ctx context.Context, source, out, verticalUnit string, router *units.Router, skipFactor int) (def *Definition, created bool, err error) {
	if util.Exists(out) {
		def, err := Describe(out)
		return def, false, err
	}

	chain, err := router.Route(verticalUnit)
	if err != nil {
		return nil, false, err
	}

	m, err := OpenMosaic(source)
	if err != nil {
		return nil, false, err
	}

	stats, err := computeStatistics(ctx, m, *chain, skipFactor)
	if err != nil {
		return nil, false, err
	}

	def = &Definition{
		Name:         trimExt(out),
		Source:       source,
		Referenced:   true,
		VerticalUnit: verticalUnit,
		Chain:        *chain,
		Statistics:   stats,
		CreatedAt:    time.Now().UTC(),
	}

	data, err := yaml.Marshal(def)
	if err != nil {
		return nil, false, fmt.Errorf("marshal mosaic definition: %w", err)
	}
	if err := util.WriteFileAtomic(out, data); err != nil {
		return nil, false, err
	}
	return def, true, nil
}

// Describe reads a mosaic definition.
func Describe(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mosaic definition: %w", err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse mosaic definition %s: %w", path, err)
	}
	return &def, nil
}

// Referenced is an opened referenced mosaic. Windows come back with the
// function chain applied.
type Referenced struct {
	Def    *Definition
	mosaic *Mosaic
}

// OpenReferenced opens the definition at path and its source mosaic.
func OpenReferenced(path string) (*Referenced, error) {
	def, err := Describe(path)
	if err != nil {
		return nil, err
	}
	if !def.Referenced {
		return nil, fmt.Errorf("%w: %s", ErrNotReferenced, path)
	}
	m, err := OpenMosaic(def.Source)
	if err != nil {
		return nil, err
	}
	return &Referenced{Def: def, mosaic: m}, nil
}

// Window pads the request by one cell so focal functions see the same
// neighbors as they would over the whole mosaic, then trims the pad.
func (r *Referenced) Window(ctx context.Context, b orb.Bound) (*Grid, error) {
	raw, err := r.mosaic.Window(ctx, b.Pad(r.mosaic.CellSize()))
	if err != nil {
		return nil, err
	}
	processed := ApplyChain(r.Def.Chain, raw)
	return crop(processed, b), nil
}

func crop(g *Grid, b orb.Bound) *Grid {
	r0, c0 := g.cellOf(orb.Point{b.Min[0], b.Max[1]})
	c1 := int(math.Ceil((b.Max[0]-g.XMin)/g.CellSize)) - 1
	r1 := int(math.Ceil((g.YMax-b.Min[1])/g.CellSize)) - 1
	r0, c0 = max(r0, 0), max(c0, 0)
	r1, c1 = min(r1, g.Rows-1), min(c1, g.Cols-1)
	if r1 < r0 || c1 < c0 {
		return g
	}

	out := NewGrid(c1-c0+1, r1-r0+1, g.XMin+float64(c0)*g.CellSize, g.YMax-float64(r0)*g.CellSize, g.CellSize)
	out.NoData = g.NoData
	for r := r0; r <= r1; r++ {
		copy(out.Values[(r-r0)*out.Cols:(r-r0+1)*out.Cols], g.Values[r*g.Cols+c0:r*g.Cols+c1+1])
	}
	return out
}

func computeStatistics(ctx context.Context, m *Mosaic, chain units.Chain, skip int) (Statistics, error) {
	if skip < 1 {
		skip = 1
	}
	stats := Statistics{Min: math.Inf(1), Max: math.Inf(-1), SkipFactor: skip}
	var sum float64
	for _, t := range m.Tiles() {
		if err := ctx.Err(); err != nil {
			return Statistics{}, err
		}
		for r := 0; r < t.Rows; r += skip {
			for c := 0; c < t.Cols; c += skip {
				v, ok := t.At(r, c)
				if !ok {
					continue
				}
				v *= chain.ZFactor
				stats.Min = math.Min(stats.Min, v)
				stats.Max = math.Max(stats.Max, v)
				sum += v
				stats.Samples++
			}
		}
	}
	if stats.Samples == 0 {
		return Statistics{SkipFactor: skip}, nil
	}
	stats.Mean = sum / float64(stats.Samples)
	return stats, nil
}

func trimExt(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
