package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ngce-pmdm/contour-builder/internal/util"
)

// LocalStore publishes into a directory tree mirroring the bucket keys.
type LocalStore struct {
	root   string
	prefix string
}

func NewLocalStore(root, prefix string) (*LocalStore, error) {
	if err := util.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("create publish root %s: %w", root, err)
	}
	return &LocalStore{root: root, prefix: prefix}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *LocalStore) WriteObject(ctx context.Context, ref PublishRef, data []byte) error {
	return util.WriteFileAtomic(s.path(ref.Key(s.prefix)), data)
}

func (s *LocalStore) WriteManifest(ctx context.Context, ref PublishRef, manifest *Manifest) error {
	data, err := manifest.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return util.WriteFileAtomic(s.path(ref.ManifestKey(s.prefix)), data)
}

// ReadManifest returns ErrNotFound when the project was never published.
func (s *LocalStore) ReadManifest(ctx context.Context, ref PublishRef) (*Manifest, error) {
	data, err := os.ReadFile(s.path(ref.ManifestKey(s.prefix)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeManifest(data)
}

// URI returns a file:// URI for key.
func (s *LocalStore) URI(key string) string {
	abs, err := filepath.Abs(s.path(key))
	if err != nil {
		abs = s.path(key)
	}
	return "file://" + abs
}

func (s *LocalStore) Close() error { return nil }

var _ Store = (*LocalStore)(nil)
