// Package catalog resolves workflow job IDs to project records and keeps
// a lineage row per contour run.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoJob is returned when a job ID has no project row.
	ErrNoJob = errors.New("no project for job")
)

// ProjectJob is one row of the project job table.
type ProjectJob struct {
	UID        string
	WMXJobID   int64
	ProjectID  string
	Alias      string
	AliasClean string
	State      string
	Year       int
	ParentDir  string
	ArchiveDir string
	ProjectDir string
}

// Resolver maps a job ID to its project.
type Resolver interface {
	Resolve(ctx context.Context, jobID string) (ProjectJob, error)
}

// RunRecord is the lineage entry written after each run.
type RunRecord struct {
	RunID       string
	WMXJobID    int64
	ProjectID   string
	StartedAt   time.Time
	FinishedAt  time.Time
	Passes      int
	UnitsDone   int
	UnitsFailed int
	Dropped     []string
	Output      string
	Checksum    string
	Err         string
}

// RunRecorder persists run lineage.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec RunRecord) error
}

// StaticResolver returns a fixed project for any job ID. It backs runs
// started without a catalog.
type StaticResolver struct {
	Job ProjectJob
}

// Resolve returns the static project.
func (s StaticResolver) Resolve(ctx context.Context, jobID string) (ProjectJob, error) {
	if s.Job.ProjectID == "" {
		return ProjectJob{}, fmt.Errorf("%w %s", ErrNoJob, jobID)
	}
	return s.Job, nil
}

// NoopRecorder discards run records.
type NoopRecorder struct{}

func (NoopRecorder) RecordRun(ctx context.Context, rec RunRecord) error { return nil }

// CleanAlias strips the characters a project alias may not carry into
// folder and layer names.
func CleanAlias(alias string) string {
	var b strings.Builder
	for _, r := range alias {
		if r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
