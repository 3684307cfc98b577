// Package status records per-unit progress so an interrupted run can
// resume without redoing finished units.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoStatus is returned when no record exists for a unit.
	ErrNoStatus = errors.New("no status record found")
)

// State is the lifecycle position of a unit.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateAbandoned State = "abandoned"
)

// Terminal reports whether no further attempt will be made in this run.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAbandoned
}

// Record is the persisted status of one spatial unit.
type Record struct {
	Unit      string    `json:"unit"`
	State     State     `json:"state"`
	Attempts  int       `json:"attempts"`
	Pass      int       `json:"pass"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Manager handles status persistence and retrieval.
type Manager interface {
	// Load returns every known record keyed by unit name.
	Load(ctx context.Context) (map[string]Record, error)

	// Get returns the record for one unit or ErrNoStatus.
	Get(ctx context.Context, unit string) (Record, error)

	// Save upserts a record.
	Save(ctx context.Context, rec Record) error

	Close() error
}

// Config configures the status manager.
type Config struct {
	Backend string // "sqlite" | "file" | "none"
	Path    string // database or manifest file
}

// NewManager creates a status manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	switch cfg.Backend {
	case "", "none":
		return &noopManager{}, nil
	case "sqlite":
		return newSQLiteManager(cfg.Path)
	case "file":
		return newFileManager(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown status backend: %s", cfg.Backend)
	}
}

// noopManager is used when status tracking is disabled.
type noopManager struct{}

func (m *noopManager) Load(ctx context.Context) (map[string]Record, error) {
	return map[string]Record{}, nil
}

func (m *noopManager) Get(ctx context.Context, unit string) (Record, error) {
	return Record{}, ErrNoStatus
}

func (m *noopManager) Save(ctx context.Context, rec Record) error { return nil }

func (m *noopManager) Close() error { return nil }
