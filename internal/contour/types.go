package contour

import (
	"time"

	"github.com/paulmach/orb"
)

// SpatialUnit is one footprint tile to derive contours for. Units are
// passed to workers by value and never modified after partitioning.
type SpatialUnit struct {
	Name           string
	RasterClip     orb.Polygon
	VectorClip     orb.Polygon
	ElevationRange float64
	Sequence       int
}

// UnitState is the outcome of a unit in a run.
type UnitState string

const (
	UnitDone      UnitState = "done"
	UnitSkipped   UnitState = "skipped"
	UnitFailed    UnitState = "failed"
	UnitAbandoned UnitState = "abandoned"
)

// UnitResult is what a worker reports back for one unit.
type UnitResult struct {
	Unit     string        `json:"unit"`
	Sequence int           `json:"sequence"`
	State    UnitState     `json:"state"`
	Attempts int           `json:"attempts"`
	Pass     int           `json:"pass"`
	Artifact string        `json:"artifact,omitempty"`
	Features int           `json:"features"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`

	Err error `json:"-"`
}

// OK reports whether the unit has a usable final artifact.
func (r UnitResult) OK() bool {
	return r.State == UnitDone || r.State == UnitSkipped
}

func (r *UnitResult) setErr(err error) {
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
}

// Outputs are the reconciled and published layers of a run.
type Outputs struct {
	Merged    string          `json:"merged,omitempty"`
	Projected string          `json:"projected,omitempty"`
	Inputs    int             `json:"inputs"`
	Features  int             `json:"features"`
	Published []PublishedFile `json:"published,omitempty"`
}

// BatchReport aggregates a whole run. It is returned to the caller,
// written next to the outputs and emitted as a run event.
type BatchReport struct {
	RunID      string    `json:"run_id"`
	JobID      string    `json:"job_id"`
	ProjectID  string    `json:"project_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Passes     int       `json:"passes"`

	Units    []UnitResult `json:"units"`
	Excluded []string     `json:"excluded,omitempty"`
	Dropped  []string     `json:"dropped,omitempty"`

	// Interrupted units were left running by an earlier run.
	Interrupted []string `json:"interrupted,omitempty"`

	SetupErr     string `json:"setup_error,omitempty"`
	ReconcileErr string `json:"reconcile_error,omitempty"`
	PublishErr   string `json:"publish_error,omitempty"`

	Outputs Outputs `json:"outputs"`
}

// Checksum returns the checksum of the published parquet table, if any.
func (o Outputs) Checksum() string {
	for _, f := range o.Published {
		if f.Name == ParquetName {
			return f.Checksum
		}
	}
	return ""
}

// Count returns the number of units in state s.
func (r *BatchReport) Count(s UnitState) int {
	n := 0
	for _, u := range r.Units {
		if u.State == s {
			n++
		}
	}
	return n
}

// Complete reports whether every unit ended with an artifact and the
// outputs were reconciled.
func (r *BatchReport) Complete() bool {
	return r.SetupErr == "" && r.ReconcileErr == "" && len(r.Dropped) == 0
}
