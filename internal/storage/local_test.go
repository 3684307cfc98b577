package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLocalStoreAtomicWrites(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewLocalStore(tmpDir, "contours/")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ctx := context.Background()
	ref := PublishRef{ProjectID: "OK_SugarCreek_2008", Name: "Contours_OCS.geojson.gz"}

	if _, err := store.ReadManifest(ctx, ref); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadManifest before publish = %v, want ErrNotFound", err)
	}

	if err := store.WriteObject(ctx, ref, []byte("compressed layer")); err != nil {
		t.Fatalf("WriteObject failed: %v", err)
	}

	path := filepath.Join(tmpDir, "contours", "OK_SugarCreek_2008", "contours", "Contours_OCS.geojson.gz")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read product: %v", err)
	}
	if string(data) != "compressed layer" {
		t.Errorf("content = %q", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	manifest := &Manifest{
		ProjectID: ref.ProjectID,
		Files: map[string]FileInfo{
			ref.Name: {Key: ref.Key("contours/"), Checksum: "sha256:abc", ByteSize: 16},
		},
		Producer:  ProducerInfo{Name: "contour-builder", Version: "test"},
		CreatedAt: time.Now().UTC(),
	}
	if err := store.WriteManifest(ctx, ref, manifest); err != nil {
		t.Fatalf("WriteManifest failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(path), "_manifest.json")); err != nil {
		t.Errorf("manifest missing: %v", err)
	}

	got, err := store.ReadManifest(ctx, ref)
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if got.Files[ref.Name].Checksum != "sha256:abc" {
		t.Errorf("manifest files = %v", got.Files)
	}
}

func TestBlobStoreInMemory(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(Config{Backend: "mem", Prefix: "contours/"})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()

	ref := PublishRef{ProjectID: "P", Name: "Contours_WM.geojson.gz"}
	if err := store.WriteObject(ctx, ref, []byte("wm")); err != nil {
		t.Fatalf("WriteObject failed: %v", err)
	}
	if err := store.WriteManifest(ctx, ref, &Manifest{ProjectID: "P"}); err != nil {
		t.Fatalf("WriteManifest failed: %v", err)
	}

	if _, err := store.ReadManifest(ctx, PublishRef{ProjectID: "Q"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadManifest of unknown project = %v, want ErrNotFound", err)
	}
	m, err := store.ReadManifest(ctx, ref)
	if err != nil || m.ProjectID != "P" {
		t.Fatalf("ReadManifest = %v, %v", m, err)
	}

	bs := store.(*BlobStore)
	data, err := bs.ReadObject(ctx, ref.Key("contours/"))
	if err != nil || string(data) != "wm" {
		t.Errorf("ReadObject = %q, %v", data, err)
	}
	if got := store.URI("a/b"); got != "mem://a/b" {
		t.Errorf("URI = %q", got)
	}
}

func TestUnknownBackend(t *testing.T) {
	if _, err := NewStore(Config{Backend: "ftp"}); err == nil {
		t.Error("expected error")
	}
	if _, err := NewStore(Config{Backend: "local"}); err == nil {
		t.Error("expected error for missing LocalDir")
	}
}
