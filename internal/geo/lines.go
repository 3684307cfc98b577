package geo

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// simplifyLine removes vertices within tolerance. ok is false when the
// result would no longer be a usable line.
func simplifyLine(ls orb.LineString, algorithm string, tolerance float64) (orb.LineString, bool, error) {
	var out orb.LineString
	switch algorithm {
	case "", "POINT_REMOVE":
		out = simplify.DouglasPeucker(tolerance).LineString(ls.Clone())
	case "BEND_SIMPLIFY":
		out = simplify.VisvalingamThreshold(tolerance * tolerance).LineString(ls.Clone())
	default:
		return nil, false, fmt.Errorf("unknown simplification algorithm: %s", algorithm)
	}

	if len(out) < 2 || (isClosed(ls) && len(out) < 4) {
		return ls, false, nil
	}
	return out, true, nil
}

// smoothLine applies the named smoothing algorithm. End points of open
// lines stay fixed; closed lines stay closed.
func smoothLine(ls orb.LineString, algorithm string, tolerance float64) (orb.LineString, error) {
	if len(ls) < 3 || tolerance <= 0 {
		return ls.Clone(), nil
	}
	switch algorithm {
	case "CHAIKIN":
		out := ls
		for i := 0; i < 2; i++ {
			out = chaikin(out, tolerance)
		}
		return out, nil
	case "MOVING_AVERAGE":
		return movingAverage(ls, tolerance), nil
	default:
		return nil, fmt.Errorf("unknown smoothing algorithm: %s", algorithm)
	}
}

// chaikin cuts every corner at a quarter of the segment length, capped at
// tolerance.
func chaikin(ls orb.LineString, tolerance float64) orb.LineString {
	closed := isClosed(ls)
	n := len(ls)
	out := make(orb.LineString, 0, 2*n)
	if !closed {
		out = append(out, ls[0])
	}
	for i := 0; i < n-1; i++ {
		a, b := ls[i], ls[i+1]
		d := planar.Distance(a, b)
		if d == 0 {
			continue
		}
		t := math.Min(0.25, tolerance/d)
		q := lerp(a, b, t)
		r := lerp(a, b, 1-t)
		if !closed && i == 0 {
			out = append(out, r)
			continue
		}
		if !closed && i == n-2 {
			out = append(out, q)
			continue
		}
		out = append(out, q, r)
	}
	if closed {
		if len(out) == 0 {
			return ls.Clone()
		}
		out = append(out, out[0])
	} else {
		out = append(out, ls[n-1])
	}
	return out
}

// movingAverage replaces each vertex with the mean of itself and its
// neighbors, moving no vertex further than tolerance.
func movingAverage(ls orb.LineString, tolerance float64) orb.LineString {
	closed := isClosed(ls)
	n := len(ls)
	out := ls.Clone()

	for i := 0; i < n; i++ {
		var prev, next orb.Point
		switch {
		case closed && (i == 0 || i == n-1):
			prev, next = ls[n-2], ls[1]
		case i == 0 || i == n-1:
			continue
		default:
			prev, next = ls[i-1], ls[i+1]
		}
		avg := orb.Point{(prev[0] + ls[i][0] + next[0]) / 3, (prev[1] + ls[i][1] + next[1]) / 3}
		if d := planar.Distance(ls[i], avg); d > tolerance {
			avg = lerp(ls[i], avg, tolerance/d)
		}
		out[i] = avg
	}
	return out
}

// clipLineToPolygon keeps the parts of ls inside poly.
func clipLineToPolygon(ls orb.LineString, poly orb.Polygon) orb.MultiLineString {
	var out orb.MultiLineString
	for _, piece := range clip.LineString(poly.Bound(), ls.Clone()) {
		out = append(out, splitInside(piece, poly)...)
	}
	return out
}

func splitInside(ls orb.LineString, poly orb.Polygon) orb.MultiLineString {
	var out orb.MultiLineString
	var cur orb.LineString
	flush := func() {
		if len(cur) >= 2 {
			out = append(out, cur)
		}
		cur = nil
	}

	for i := 0; i < len(ls)-1; i++ {
		a, b := ls[i], ls[i+1]
		ts := []float64{0, 1}
		for _, ring := range poly {
			for j := 0; j < len(ring)-1; j++ {
				if t, ok := segmentIntersection(a, b, ring[j], ring[j+1]); ok {
					ts = append(ts, t)
				}
			}
		}
		sort.Float64s(ts)

		for k := 0; k < len(ts)-1; k++ {
			if ts[k+1]-ts[k] < 1e-12 {
				continue
			}
			p, q := lerp(a, b, ts[k]), lerp(a, b, ts[k+1])
			if planar.PolygonContains(poly, lerp(p, q, 0.5)) {
				if len(cur) == 0 || cur[len(cur)-1] != p {
					cur = append(cur, p)
				}
				cur = append(cur, q)
			} else {
				flush()
			}
		}
	}
	flush()
	return out
}

// segmentIntersection returns the parameter along a-b where it crosses p-q.
func segmentIntersection(a, b, p, q orb.Point) (float64, bool) {
	rx, ry := b[0]-a[0], b[1]-a[1]
	sx, sy := q[0]-p[0], q[1]-p[1]
	den := rx*sy - ry*sx
	if den == 0 {
		return 0, false
	}
	wx, wy := p[0]-a[0], p[1]-a[1]
	t := (wx*sy - wy*sx) / den
	u := (wx*ry - wy*rx) / den
	if t < 0 || t > 1 || u < 0 || u > 1 {
		return 0, false
	}
	return t, true
}

// repairLine drops repeated vertices. ok is false for a degenerate line.
func repairLine(ls orb.LineString) (orb.LineString, bool) {
	out := make(orb.LineString, 0, len(ls))
	for _, p := range ls {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	return out, len(out) >= 2
}

func isClosed(ls orb.LineString) bool {
	return len(ls) > 2 && ls[0] == ls[len(ls)-1]
}

func lerp(a, b orb.Point, t float64) orb.Point {
	return orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
}
