// Package events emits hash-chained run-completion events.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Config selects how run events are emitted.
type Config struct {
	Enabled   bool
	Endpoint  string
	BackupDir string
}

// Emitter publishes run events.
type Emitter interface {
	Emit(ctx context.Context, evt *RunEvent) error
	Close() error
}

// NewEmitter builds an emitter from cfg. Disabled configs get a no-op
// emitter; an endpoint enables HTTP delivery with a file backup.
func NewEmitter(cfg Config) (Emitter, error) {
	if !cfg.Enabled {
		return &noopEmitter{}, nil
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = "./state/events"
	}

	if cfg.Endpoint != "" {
		emitter, err := NewHTTPEmitter(cfg)
		if err != nil {
			return nil, err
		}
		slog.Info("run events enabled", "component", "events", "endpoint", cfg.Endpoint, "backup_dir", cfg.BackupDir)
		return emitter, nil
	}

	emitter, err := NewFileEmitter(cfg.BackupDir)
	if err != nil {
		return nil, err
	}
	slog.Info("run events enabled (file only)", "component", "events", "backup_dir", cfg.BackupDir)
	return emitter, nil
}

// prepare fills the identity fields of evt and chains it to prevHash.
func prepare(evt *RunEvent, prevHash string) {
	evt.Version = SchemaVersion
	evt.EventType = EventType
	evt.EventID = GenerateEventID()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.SetChainHashes(prevHash)
}

type noopEmitter struct{}

func (n *noopEmitter) Emit(context.Context, *RunEvent) error { return nil }
func (n *noopEmitter) Close() error                          { return nil }
