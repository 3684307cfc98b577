package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileBackup appends events to a JSONL audit file.
type FileBackup struct {
	mu   sync.Mutex
	path string
}

func NewFileBackup(dir string) (*FileBackup, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &FileBackup{path: filepath.Join(dir, "contour-runs.jsonl")}, nil
}

// Save appends evt as one line.
func (f *FileBackup) Save(evt *RunEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open backup file: %w", err)
	}
	defer fh.Close()

	if _, err := fh.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write backup file: %w", err)
	}
	return nil
}

// ReadAll returns every event in the backup file in append order.
func (f *FileBackup) ReadAll() ([]RunEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []RunEvent
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var evt RunEvent
		if err := dec.Decode(&evt); err != nil {
			return nil, fmt.Errorf("decode backup event: %w", err)
		}
		out = append(out, evt)
	}
	return out, nil
}

// FileEmitter writes events to the backup file only.
type FileEmitter struct {
	chain  *ChainTracker
	backup *FileBackup
	logger *slog.Logger
}

func NewFileEmitter(dir string) (*FileEmitter, error) {
	chain, err := NewChainTracker(dir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}
	backup, err := NewFileBackup(dir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}
	return &FileEmitter{
		chain:  chain,
		backup: backup,
		logger: slog.With("component", "events"),
	}, nil
}

func (e *FileEmitter) Emit(_ context.Context, evt *RunEvent) error {
	key := evt.ChainKey()
	prevHash, err := e.chain.GetHead(key)
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return fmt.Errorf("get chain head: %w", err)
	}

	prepare(evt, prevHash)

	if err := e.backup.Save(evt); err != nil {
		return err
	}
	e.logger.Info("run event written", "project", key, "event_hash", evt.Chain.EventHash)

	if err := e.chain.SetHead(key, evt.Chain.EventHash); err != nil {
		e.logger.Warn("failed to update chain head", "error", err)
	}
	return nil
}

func (e *FileEmitter) Close() error { return nil }
