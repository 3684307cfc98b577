package status

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ngce-pmdm/contour-builder/internal/util"
)

// fileManager keeps the manifest as one JSON document, rewritten
// atomically on every save.
type fileManager struct {
	path string

	mu      sync.Mutex
	records map[string]Record
}

type manifest struct {
	UpdatedAt time.Time `json:"updated_at"`
	Units     []Record  `json:"units"`
}

func newFileManager(path string) (*fileManager, error) {
	if path == "" {
		return nil, fmt.Errorf("status manifest path required")
	}
	m := &fileManager{path: path, records: make(map[string]Record)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("read status manifest: %w", err)
	}

	var doc manifest
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse status manifest: %w", err)
	}
	for _, r := range doc.Units {
		m.records[r.Unit] = r
	}
	return m, nil
}

func (m *fileManager) Load(ctx context.Context) (map[string]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Record, len(m.records))
	for k, v := range m.records {
		out[k] = v
	}
	return out, nil
}

func (m *fileManager) Get(ctx context.Context, unit string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[unit]
	if !ok {
		return Record{}, ErrNoStatus
	}
	return r, nil
}

func (m *fileManager) Save(ctx context.Context, rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Unit] = rec

	doc := manifest{UpdatedAt: rec.UpdatedAt, Units: make([]Record, 0, len(m.records))}
	for _, r := range m.records {
		doc.Units = append(doc.Units, r)
	}
	sort.Slice(doc.Units, func(i, j int) bool { return doc.Units[i].Unit < doc.Units[j].Unit })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status manifest: %w", err)
	}
	return util.WriteFileAtomic(m.path, data)
}

func (m *fileManager) Close() error { return nil }
