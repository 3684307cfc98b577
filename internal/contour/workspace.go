package contour

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ngce-pmdm/contour-builder/internal/util"
)

// Artifact prefixes, in step order.
const (
	PrefixBase   = "O08_BaseCont_"
	PrefixSimple = "O09_SimpleCont_"
	PrefixSmooth = "O10_SmoothCont_"
	PrefixClip   = "O11_ClipCont_"

	layerExt = ".geojson"
)

// Side layers written next to the scratch root.
const (
	RasterClipLayer = "footprints_clip_md.shp"
	VectorClipLayer = "footprints_clip_cont.shp"
)

// Workspace lays out the scratch root. Each unit owns {scratch}/{unit};
// the final clipped artifact of a unit lives in the scratch root itself
// so clearing a unit directory never discards finished work.
type Workspace struct {
	Scratch string
}

func (w Workspace) UnitDir(unit string) string {
	return filepath.Join(w.Scratch, unit)
}

func (w Workspace) Base(unit string) string {
	return filepath.Join(w.UnitDir(unit), PrefixBase+unit+layerExt)
}

func (w Workspace) Simple(unit string) string {
	return filepath.Join(w.UnitDir(unit), PrefixSimple+unit+layerExt)
}

func (w Workspace) Smooth(unit string) string {
	return filepath.Join(w.UnitDir(unit), PrefixSmooth+unit+layerExt)
}

// Staged is the clipped layer while it is repaired and attributed.
func (w Workspace) Staged(unit string) string {
	return filepath.Join(w.UnitDir(unit), PrefixClip+unit+layerExt)
}

// Final is the unit's finished artifact.
func (w Workspace) Final(unit string) string {
	return filepath.Join(w.Scratch, PrefixClip+unit+layerExt)
}

// Ensure creates the unit directory if it does not exist.
func (w Workspace) Ensure(unit string) error {
	if err := util.EnsureDir(w.UnitDir(unit)); err != nil {
		return fmt.Errorf("create unit workspace %s: %w", unit, err)
	}
	return nil
}

// Discover returns the final artifact of every unit directory in the
// scratch root that has one, sorted by unit name.
func (w Workspace) Discover() ([]string, error) {
	entries, err := os.ReadDir(w.Scratch)
	if err != nil {
		return nil, fmt.Errorf("scan scratch %s: %w", w.Scratch, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		if p := w.Final(name); util.Exists(p) {
			out = append(out, p)
		}
	}
	return out, nil
}
