package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/ngce-pmdm/contour-builder/internal/raster"
)

// edgeKey identifies the edge between two neighboring cell centers:
// horizontal edges join (r,c)-(r,c+1), vertical edges join (r,c)-(r+1,c).
type edgeKey struct {
	horiz bool
	r, c  int
}

type segment struct {
	a, b edgeKey
}

// traceContours runs marching squares over g for every multiple of
// interval within the grid's range. Lines are returned grouped by level in
// ascending order. Zero-length lines are dropped.
func traceContours(g *raster.Grid, interval float64) []*geojson.Feature {
	lo, hi, ok := g.Range()
	if !ok || g.Rows < 2 || g.Cols < 2 {
		return nil
	}

	minLength := g.CellSize * 1e-9
	var out []*geojson.Feature
	id := 1
	for level := math.Ceil(lo/interval) * interval; level <= hi; level += interval {
		for _, ls := range traceLevel(g, level) {
			// a cell exactly on the level traces a ring of one repeated point
			if planar.Length(ls) <= minLength {
				continue
			}
			f := geojson.NewFeature(ls)
			f.Properties["ID"] = id
			f.Properties["CONTOUR"] = level
			out = append(out, f)
			id++
		}
	}
	return out
}

func traceLevel(g *raster.Grid, level float64) []orb.LineString {
	var segs []segment
	for r := 0; r < g.Rows-1; r++ {
		for c := 0; c < g.Cols-1; c++ {
			tl, ok1 := g.At(r, c)
			tr, ok2 := g.At(r, c+1)
			br, ok3 := g.At(r+1, c+1)
			bl, ok4 := g.At(r+1, c)
			if !ok1 || !ok2 || !ok3 || !ok4 {
				continue
			}

			idx := 0
			if tl >= level {
				idx |= 8
			}
			if tr >= level {
				idx |= 4
			}
			if br >= level {
				idx |= 2
			}
			if bl >= level {
				idx |= 1
			}

			top := edgeKey{true, r, c}
			bottom := edgeKey{true, r + 1, c}
			left := edgeKey{false, r, c}
			right := edgeKey{false, r, c + 1}
			centerAbove := (tl+tr+br+bl)/4 >= level

			switch idx {
			case 1, 14:
				segs = append(segs, segment{left, bottom})
			case 2, 13:
				segs = append(segs, segment{bottom, right})
			case 3, 12:
				segs = append(segs, segment{left, right})
			case 4, 11:
				segs = append(segs, segment{top, right})
			case 6, 9:
				segs = append(segs, segment{top, bottom})
			case 7, 8:
				segs = append(segs, segment{left, top})
			case 5:
				if centerAbove {
					segs = append(segs, segment{left, top}, segment{bottom, right})
				} else {
					segs = append(segs, segment{top, right}, segment{left, bottom})
				}
			case 10:
				if centerAbove {
					segs = append(segs, segment{top, right}, segment{left, bottom})
				} else {
					segs = append(segs, segment{left, top}, segment{bottom, right})
				}
			}
		}
	}

	return joinSegments(segs, func(k edgeKey) orb.Point {
		return edgePoint(g, k, level)
	})
}

// edgePoint interpolates the crossing of level along an edge.
func edgePoint(g *raster.Grid, k edgeKey, level float64) orb.Point {
	r2, c2 := k.r+1, k.c
	if k.horiz {
		r2, c2 = k.r, k.c+1
	}
	v1, _ := g.At(k.r, k.c)
	v2, _ := g.At(r2, c2)
	p1 := g.CellCenter(k.r, k.c)
	p2 := g.CellCenter(r2, c2)

	t := 0.5
	if v2 != v1 {
		t = (level - v1) / (v2 - v1)
	}
	return orb.Point{p1[0] + t*(p2[0]-p1[0]), p1[1] + t*(p2[1]-p1[1])}
}

// joinSegments chains segments sharing an edge into polylines. A chain
// that returns to its starting edge is emitted closed.
func joinSegments(segs []segment, point func(edgeKey) orb.Point) []orb.LineString {
	adj := make(map[edgeKey][]int, len(segs)*2)
	for i, s := range segs {
		adj[s.a] = append(adj[s.a], i)
		adj[s.b] = append(adj[s.b], i)
	}

	used := make([]bool, len(segs))
	next := func(at edgeKey) (edgeKey, bool) {
		for _, i := range adj[at] {
			if used[i] {
				continue
			}
			used[i] = true
			if segs[i].a == at {
				return segs[i].b, true
			}
			return segs[i].a, true
		}
		return edgeKey{}, false
	}

	var lines []orb.LineString
	for i, s := range segs {
		if used[i] {
			continue
		}
		used[i] = true

		forward := []edgeKey{s.a, s.b}
		for {
			k, ok := next(forward[len(forward)-1])
			if !ok {
				break
			}
			forward = append(forward, k)
		}

		var backward []edgeKey
		if forward[0] != forward[len(forward)-1] {
			at := forward[0]
			for {
				k, ok := next(at)
				if !ok {
					break
				}
				backward = append(backward, k)
				at = k
			}
		}

		ls := make(orb.LineString, 0, len(backward)+len(forward))
		for j := len(backward) - 1; j >= 0; j-- {
			ls = append(ls, point(backward[j]))
		}
		for _, k := range forward {
			ls = append(ls, point(k))
		}
		lines = append(lines, ls)
	}
	return lines
}
