package raster

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb"
)

// Mosaic is a set of aligned tiles sharing one cell size.
type Mosaic struct {
	Dir      string
	tiles    []*Grid
	cellSize float64
	bound    orb.Bound
}

// OpenMosaic loads every .asc tile in dir.
func OpenMosaic(dir string) (*Mosaic, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read mosaic directory %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".asc") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("mosaic %s has no tiles", dir)
	}

	m := &Mosaic{Dir: dir}
	for i, name := range names {
		g, err := ReadASCIIGridFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if i == 0 {
			m.cellSize = g.CellSize
			m.bound = g.Bound()
		} else {
			if math.Abs(g.CellSize-m.cellSize) > m.cellSize*1e-9 {
				return nil, fmt.Errorf("tile %s: cell size %v differs from %v", name, g.CellSize, m.cellSize)
			}
			m.bound = m.bound.Union(g.Bound())
		}
		m.tiles = append(m.tiles, g)
	}
	return m, nil
}

// NewMosaic wraps in-memory tiles.
func NewMosaic(tiles ...*Grid) (*Mosaic, error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("mosaic needs at least one tile")
	}
	m := &Mosaic{tiles: tiles, cellSize: tiles[0].CellSize, bound: tiles[0].Bound()}
	for _, t := range tiles[1:] {
		m.bound = m.bound.Union(t.Bound())
	}
	return m, nil
}

// Bound is the union of tile extents.
func (m *Mosaic) Bound() orb.Bound { return m.bound }

// CellSize is the shared tile cell size.
func (m *Mosaic) CellSize() float64 { return m.cellSize }

// Tiles returns the loaded tiles.
func (m *Mosaic) Tiles() []*Grid { return m.tiles }

// Window assembles the cells covering b, aligned to the first tile.
func (m *Mosaic) Window(ctx context.Context, b orb.Bound) (*Grid, error) {
	if !m.bound.Intersects(b) {
		return nil, ErrEmptyWindow
	}
	b = intersect(m.bound, b)

	ref := m.tiles[0]
	cs := m.cellSize
	c0 := int(math.Floor((b.Min[0] - ref.XMin) / cs))
	c1 := int(math.Ceil((b.Max[0] - ref.XMin) / cs))
	r0 := int(math.Floor((ref.YMax - b.Max[1]) / cs))
	r1 := int(math.Ceil((ref.YMax - b.Min[1]) / cs))
	if c1 <= c0 || r1 <= r0 {
		return nil, ErrEmptyWindow
	}

	out := NewGrid(c1-c0, r1-r0, ref.XMin+float64(c0)*cs, ref.YMax-float64(r0)*cs, cs)
	for _, t := range m.tiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !t.Bound().Intersects(out.Bound()) {
			continue
		}
		for r := 0; r < out.Rows; r++ {
			for c := 0; c < out.Cols; c++ {
				tr, tc := t.cellOf(out.CellCenter(r, c))
				if v, ok := t.At(tr, tc); ok {
					out.Set(r, c, v)
				}
			}
		}
	}
	return out, nil
}

func intersect(a, b orb.Bound) orb.Bound {
	return orb.Bound{
		Min: orb.Point{math.Max(a.Min[0], b.Min[0]), math.Max(a.Min[1], b.Min[1])},
		Max: orb.Point{math.Min(a.Max[0], b.Max[0]), math.Min(a.Max[1], b.Max[1])},
	}
}
