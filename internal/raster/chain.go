package raster

import (
	"math"

	"github.com/ngce-pmdm/contour-builder/internal/units"
)

// ApplyChain runs the contour preparation functions on g: convert to US
// survey feet, 3x3 focal mean, round to hundredths, 3x3 focal mean.
func ApplyChain(chain units.Chain, g *Grid) *Grid {
	out := scale(g, chain.ZFactor)
	out = focalMean(out)
	out = roundHundredths(out)
	return focalMean(out)
}

func scale(g *Grid, f float64) *Grid {
	out := g.clone()
	for i, v := range out.Values {
		if v != out.NoData {
			out.Values[i] = v * f
		}
	}
	return out
}

func roundHundredths(g *Grid) *Grid {
	out := g.clone()
	for i, v := range out.Values {
		if v != out.NoData {
			out.Values[i] = math.Floor(v*100+0.5) / 100
		}
	}
	return out
}

// focalMean averages the valid cells of each 3x3 neighborhood. NoData
// cells stay NoData.
func focalMean(g *Grid) *Grid {
	out := g.clone()
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			if _, ok := g.At(r, c); !ok {
				continue
			}
			var sum float64
			var n int
			for dr := -1; dr <= 1; dr++ {
				for dc := -1; dc <= 1; dc++ {
					if v, ok := g.At(r+dr, c+dc); ok {
						sum += v
						n++
					}
				}
			}
			out.Set(r, c, sum/float64(n))
		}
	}
	return out
}
