package events

import (
	"time"
)

// EventType is the only event the builder emits.
const EventType = "contour_run"

// SchemaVersion of RunEvent.
const SchemaVersion = "1.0"

// RunEvent records one completed contour run for a project.
// Events for the same project are hash-chained.
type RunEvent struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Job      JobInfo               `json:"job"`
	Units    UnitSummary           `json:"units"`
	Outputs  map[string]OutputInfo `json:"outputs,omitempty"`
	Producer ProducerInfo          `json:"producer"`
	Chain    ChainInfo             `json:"chain"`
}

// JobInfo identifies the project a run belongs to.
type JobInfo struct {
	RunID     string `json:"run_id"`
	WMXJobID  int64  `json:"wmx_job_id"`
	ProjectID string `json:"project_id"`
	Passes    int    `json:"passes"`
}

type UnitSummary struct {
	Total     int      `json:"total"`
	Done      int      `json:"done"`
	Skipped   int      `json:"skipped"`
	Abandoned int      `json:"abandoned"`
	Dropped   []string `json:"dropped,omitempty"`
}

// OutputInfo describes a published artifact.
type OutputInfo struct {
	Checksum    string `json:"checksum"`
	RowCount    int64  `json:"row_count"`
	ByteSize    int64  `json:"byte_size"`
	StoragePath string `json:"storage_path"`
}

type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the key events are chained under.
func (e *RunEvent) ChainKey() string {
	return e.Job.ProjectID
}

// SetChainHashes links the event to prevHash and seals it.
func (e *RunEvent) SetChainHashes(prevHash string) {
	e.Chain.PrevEventHash = prevHash
	e.Chain.EventHash = ComputeEventHash(e)
}
