package catalog

import (
	"path/filepath"
)

// Layout names the folders and layers inside a project directory.
type Layout struct {
	DerivedFolder   string
	PublishedFolder string
	ContourFolder   string
	ScratchFolder   string
	FootprintLayer  string
	RefMosaicName   string
	MosaicName      string
}

// ProjectFolders are the resolved paths a contour run reads and writes.
type ProjectFolders struct {
	Path         string
	Derived      string
	Published    string
	DerivedGDB   string
	PublishedGDB string
	ContourDir   string

	layout Layout
}

// NewProjectFolders lays out the folders of job. The derived and
// published geodatabases are directories named after the project.
func NewProjectFolders(job ProjectJob, layout Layout) ProjectFolders {
	path := job.ProjectDir
	if path == "" {
		path = filepath.Join(job.ParentDir, job.ProjectID)
	}
	derived := filepath.Join(path, layout.DerivedFolder)
	published := filepath.Join(path, layout.PublishedFolder)

	return ProjectFolders{
		Path:         path,
		Derived:      derived,
		Published:    published,
		DerivedGDB:   filepath.Join(derived, job.ProjectID),
		PublishedGDB: filepath.Join(published, job.ProjectID+"_DTM"),
		ContourDir:   filepath.Join(derived, layout.ContourFolder),
		layout:       layout,
	}
}

// Mosaic is the published DTM mosaic tile directory.
func (f ProjectFolders) Mosaic() string {
	return filepath.Join(f.PublishedGDB, f.layout.MosaicName)
}

// RefMosaic is the referenced mosaic definition used for contouring.
func (f ProjectFolders) RefMosaic() string {
	return filepath.Join(f.DerivedGDB, f.layout.RefMosaicName)
}

// Footprints is the DTM footprint shapefile.
func (f ProjectFolders) Footprints() string {
	return filepath.Join(f.DerivedGDB, f.layout.FootprintLayer)
}

// Scratch is the per-unit working root under the contour directory.
func (f ProjectFolders) Scratch() string {
	return filepath.Join(f.ContourDir, f.layout.ScratchFolder)
}
