// Package raster reads elevation tiles, assembles them into a mosaic and
// prepares the referenced mosaic that contouring reads from.
package raster

import (
	"context"
	"errors"
	"math"

	"github.com/paulmach/orb"
)

// ErrEmptyWindow is returned when a requested extent misses the raster.
var ErrEmptyWindow = errors.New("window does not intersect raster")

// DefaultNoData marks cells without elevation.
const DefaultNoData = -9999.0

// Source yields elevation windows.
type Source interface {
	Window(ctx context.Context, b orb.Bound) (*Grid, error)
}

// Grid is a north-up raster with square cells. Row 0 is the northern row.
type Grid struct {
	Cols     int
	Rows     int
	XMin     float64
	YMax     float64
	CellSize float64
	NoData   float64
	Values   []float64
}

// NewGrid allocates a grid filled with NoData.
func NewGrid(cols, rows int, xmin, ymax, cellSize float64) *Grid {
	g := &Grid{
		Cols:     cols,
		Rows:     rows,
		XMin:     xmin,
		YMax:     ymax,
		CellSize: cellSize,
		NoData:   DefaultNoData,
		Values:   make([]float64, cols*rows),
	}
	for i := range g.Values {
		g.Values[i] = g.NoData
	}
	return g
}

// At returns the cell value and whether it holds data.
func (g *Grid) At(r, c int) (float64, bool) {
	if r < 0 || c < 0 || r >= g.Rows || c >= g.Cols {
		return 0, false
	}
	v := g.Values[r*g.Cols+c]
	if v == g.NoData || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Set stores a value.
func (g *Grid) Set(r, c int, v float64) {
	g.Values[r*g.Cols+c] = v
}

// Bound is the outer edge of the grid.
func (g *Grid) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{g.XMin, g.YMax - float64(g.Rows)*g.CellSize},
		Max: orb.Point{g.XMin + float64(g.Cols)*g.CellSize, g.YMax},
	}
}

// CellCenter returns the coordinate of a cell center.
func (g *Grid) CellCenter(r, c int) orb.Point {
	return orb.Point{
		g.XMin + (float64(c)+0.5)*g.CellSize,
		g.YMax - (float64(r)+0.5)*g.CellSize,
	}
}

// cellOf returns the row and column containing p.
func (g *Grid) cellOf(p orb.Point) (int, int) {
	c := int(math.Floor((p[0] - g.XMin) / g.CellSize))
	r := int(math.Floor((g.YMax - p[1]) / g.CellSize))
	return r, c
}

// Range returns the minimum and maximum data values.
func (g *Grid) Range() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			v, valid := g.At(r, c)
			if !valid {
				continue
			}
			ok = true
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	return lo, hi, ok
}

func (g *Grid) clone() *Grid {
	out := *g
	out.Values = make([]float64, len(g.Values))
	copy(out.Values, g.Values)
	return &out
}
