package contour

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"github.com/ngce-pmdm/contour-builder/internal/export"
	"github.com/ngce-pmdm/contour-builder/internal/geo"
	"github.com/ngce-pmdm/contour-builder/internal/metrics"
	"github.com/ngce-pmdm/contour-builder/internal/storage"
)

// ParquetName is the published attribute table.
const ParquetName = "contours.parquet"

// Publisher pushes reconciled layers to a store: each layer as gzipped
// GeoJSON, the merged layer also as a parquet table, then a manifest.
type Publisher struct {
	store    storage.Store
	prefix   string
	backend  string
	producer storage.ProducerInfo
	logger   *slog.Logger
}

func NewPublisher(store storage.Store, backend, prefix string, producer storage.ProducerInfo) *Publisher {
	return &Publisher{
		store:    store,
		prefix:   prefix,
		backend:  backend,
		producer: producer,
		logger:   slog.With("component", "publish"),
	}
}

type publishFile struct {
	name string
	data []byte
	rows int64
}

// PublishedFile is one object written by Publish.
type PublishedFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	Checksum string `json:"checksum"`
	Rows     int64  `json:"rows"`
	Bytes    int64  `json:"bytes"`
}

// Publish uploads out and returns the published files sorted by name.
// Files whose key and checksum match the previous manifest are not
// rewritten. The manifest is written only after every file.
func (p *Publisher) Publish(ctx context.Context, projectID, runID string, out Outputs) ([]PublishedFile, error) {
	labels := metrics.Labels{Project: projectID, Backend: p.backend}
	now := time.Now().UTC()

	files, err := p.encode(projectID, out, now)
	if err != nil {
		return nil, err
	}

	var (
		mu        sync.Mutex
		manifest  = &storage.Manifest{ProjectID: projectID, RunID: runID, Files: map[string]storage.FileInfo{}, Producer: p.producer, CreatedAt: now}
		published = make([]PublishedFile, 0, len(files))
	)

	prev, err := p.store.ReadManifest(ctx, storage.PublishRef{ProjectID: projectID})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		p.logger.Warn("previous manifest unreadable, republishing everything", "project", projectID, "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	for _, f := range files {
		g.Go(func() error {
			ref := storage.PublishRef{ProjectID: projectID, Name: f.name}
			key := ref.Key(p.prefix)
			info := storage.FileInfo{
				Key:      key,
				Checksum: export.Checksum(f.data),
				RowCount: f.rows,
				ByteSize: int64(len(f.data)),
			}

			if prev != nil && prev.Files[f.name] == info {
				p.logger.Debug("published file unchanged", "key", key)
			} else if err := p.store.WriteObject(gctx, ref, f.data); err != nil {
				if m := metrics.Get(); m != nil {
					m.IncStorageErrors(labels)
				}
				return fmt.Errorf("write %s: %w", f.name, err)
			} else {
				p.logger.Debug("published file", "key", key, "bytes", len(f.data))
			}

			mu.Lock()
			manifest.Files[f.name] = info
			published = append(published, PublishedFile{
				Name:     f.name,
				URI:      p.store.URI(key),
				Checksum: info.Checksum,
				Rows:     info.RowCount,
				Bytes:    info.ByteSize,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ref := storage.PublishRef{ProjectID: projectID}
	if err := p.store.WriteManifest(ctx, ref, manifest); err != nil {
		if m := metrics.Get(); m != nil {
			m.IncStorageErrors(labels)
		}
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	sort.Slice(published, func(i, j int) bool { return published[i].Name < published[j].Name })
	p.logger.Info("published contours", "project", projectID, "files", len(files), "manifest", p.store.URI(ref.ManifestKey(p.prefix)))
	return published, nil
}

func (p *Publisher) encode(projectID string, out Outputs, now time.Time) ([]publishFile, error) {
	var files []publishFile
	for _, path := range []string{out.Merged, out.Projected} {
		if path == "" {
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		gz, err := gzipBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("compress %s: %w", path, err)
		}
		files = append(files, publishFile{name: filepath.Base(path) + ".gz", data: gz, rows: int64(out.Features)})
	}

	if out.Merged != "" {
		fc, err := geo.ReadLayer(out.Merged)
		if err != nil {
			return nil, err
		}
		rows, err := export.Rows(projectID, fc, now)
		if err != nil {
			return nil, err
		}
		data, err := export.ToParquet(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, publishFile{name: ParquetName, data: data, rows: int64(len(rows))})
	}
	return files, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
