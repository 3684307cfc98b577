package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"
)

// PublishRef names one published contour product of a project.
type PublishRef struct {
	ProjectID string
	Name      string // "Contours_OCS.geojson.gz"
}

// Key returns the storage key for this product.
func (r PublishRef) Key(prefix string) string {
	return prefix + path.Join(r.ProjectID, "contours", r.Name)
}

// ManifestKey returns the storage key of the project's manifest.
func (r PublishRef) ManifestKey(prefix string) string {
	return prefix + path.Join(r.ProjectID, "contours", "_manifest.json")
}

// Manifest describes the published contour products of a project.
type Manifest struct {
	ProjectID string              `json:"project_id"`
	RunID     string              `json:"run_id"`
	Files     map[string]FileInfo `json:"files"`
	Producer  ProducerInfo        `json:"producer"`
	CreatedAt time.Time           `json:"created_at"`
}

// FileInfo describes a single published file.
type FileInfo struct {
	Key      string `json:"key"`
	Checksum string `json:"checksum"`
	RowCount int64  `json:"row_count"`
	ByteSize int64  `json:"byte_size"`
}

// ProducerInfo describes the software that produced the files.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ErrNotFound is returned by ReadManifest for an unpublished project.
var ErrNotFound = errors.New("not found")

func decodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// MarshalJSON returns the manifest as JSON bytes.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.MarshalIndent((*Alias)(m), "", "  ")
}

// Store abstracts writing published products. Writes are atomic: a
// reader never sees a partial object under its final key.
type Store interface {
	// WriteObject writes data under ref's key.
	WriteObject(ctx context.Context, ref PublishRef, data []byte) error

	// WriteManifest writes the project manifest.
	WriteManifest(ctx context.Context, ref PublishRef, manifest *Manifest) error

	// ReadManifest returns the last manifest written for ref's project.
	ReadManifest(ctx context.Context, ref PublishRef) (*Manifest, error)

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	Close() error
}

// Config configures the storage backend.
type Config struct {
	Backend string // "local" | "gcs" | "s3" | "mem"

	// Local filesystem
	LocalDir string

	// GCS
	GCSBucket string

	// S3 (also works for B2, R2, MinIO)
	S3Bucket   string
	S3Endpoint string // custom endpoint for B2/MinIO/R2
	S3Region   string

	// Common
	Prefix string // "contours/" (path prefix within bucket or local dir)
}

// NewStore creates a storage backend based on configuration.
func NewStore(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir, cfg.Prefix)
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("GCSBucket required for gcs backend")
		}
		return NewGCSStore(cfg.GCSBucket, cfg.Prefix)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3Bucket required for s3 backend")
		}
		return NewS3Store(cfg.S3Bucket, cfg.Prefix, cfg.S3Endpoint, cfg.S3Region)
	case "mem":
		return OpenBlobStore(context.Background(), "mem://", cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
