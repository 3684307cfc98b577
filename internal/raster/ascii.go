package raster

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ngce-pmdm/contour-builder/internal/util"
)

// ReadASCIIGrid parses an ESRI ASCII grid.
func ReadASCIIGrid(r io.Reader) (*Grid, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	sc.Split(bufio.ScanWords)

	header := make(map[string]float64)
	var first string
	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			first = key
			break
		}
		if !sc.Scan() {
			return nil, fmt.Errorf("header %q has no value", key)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("header %q: %w", key, err)
		}
		header[key] = v
	}

	for _, k := range []string{"ncols", "nrows", "cellsize"} {
		if _, ok := header[k]; !ok {
			return nil, fmt.Errorf("missing header %q", k)
		}
	}

	cols, rows, cs := int(header["ncols"]), int(header["nrows"]), header["cellsize"]
	var xll, yll float64
	switch {
	case hasKey(header, "xllcorner"):
		xll, yll = header["xllcorner"], header["yllcorner"]
	case hasKey(header, "xllcenter"):
		xll, yll = header["xllcenter"]-cs/2, header["yllcenter"]-cs/2
	default:
		return nil, fmt.Errorf("missing lower-left header")
	}

	g := NewGrid(cols, rows, xll, yll+float64(rows)*cs, cs)
	if nd, ok := header["nodata_value"]; ok {
		g.NoData = nd
	}

	n := 0
	parse := func(tok string) error {
		if n >= len(g.Values) {
			return fmt.Errorf("more than %d values", len(g.Values))
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return fmt.Errorf("value %d: %w", n, err)
		}
		g.Values[n] = v
		n++
		return nil
	}
	if first != "" {
		if err := parse(first); err != nil {
			return nil, err
		}
	}
	for sc.Scan() {
		if err := parse(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if n != len(g.Values) {
		return nil, fmt.Errorf("expected %d values, read %d", len(g.Values), n)
	}
	return g, nil
}

// ReadASCIIGridFile opens and parses path.
func ReadASCIIGridFile(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	g, err := ReadASCIIGrid(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return g, nil
}

// WriteASCIIGridFile writes g atomically.
func WriteASCIIGridFile(path string, g *Grid) error {
	var b strings.Builder
	fmt.Fprintf(&b, "ncols %d\nnrows %d\n", g.Cols, g.Rows)
	fmt.Fprintf(&b, "xllcorner %s\nyllcorner %s\n", ftoa(g.XMin), ftoa(g.YMax-float64(g.Rows)*g.CellSize))
	fmt.Fprintf(&b, "cellsize %s\nNODATA_value %s\n", ftoa(g.CellSize), ftoa(g.NoData))
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			if c > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(ftoa(g.Values[r*g.Cols+c]))
		}
		b.WriteByte('\n')
	}
	return util.WriteFileAtomic(path, []byte(b.String()))
}

func hasKey(m map[string]float64, k string) bool {
	_, ok := m[k]
	return ok
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
