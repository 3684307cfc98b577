package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	_ "gocloud.dev/blob/memblob" // in-memory driver
	_ "gocloud.dev/blob/s3blob"  // S3 driver
)

// BlobStore writes products to a gocloud bucket. Objects are written to
// a temporary key and copied into place, then the temporary is deleted.
type BlobStore struct {
	bucket  *blob.Bucket
	baseURI string
	prefix  string
}

// OpenBlobStore opens any bucket URL gocloud understands.
func OpenBlobStore(ctx context.Context, bucketURL, prefix string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}

	base := bucketURL
	if i := strings.Index(base, "?"); i >= 0 {
		base = base[:i]
	}
	return &BlobStore{
		bucket:  bucket,
		baseURI: strings.TrimSuffix(base, "/"),
		prefix:  prefix,
	}, nil
}

// NewGCSStore creates a new GCS store.
func NewGCSStore(bucketName, prefix string) (*BlobStore, error) {
	return OpenBlobStore(context.Background(), fmt.Sprintf("gs://%s", bucketName), prefix)
}

// NewS3Store creates a new S3-compatible store.
// Works with AWS S3, Backblaze B2, Cloudflare R2, and MinIO.
func NewS3Store(bucketName, prefix, endpoint, region string) (*BlobStore, error) {
	bucketURL := fmt.Sprintf("s3://%s", bucketName)

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}
	return OpenBlobStore(context.Background(), bucketURL, prefix)
}

// WriteObject writes data under ref's key.
func (s *BlobStore) WriteObject(ctx context.Context, ref PublishRef, data []byte) error {
	return s.writeAtomic(ctx, ref.Key(s.prefix), data)
}

// WriteManifest writes the project manifest.
func (s *BlobStore) WriteManifest(ctx context.Context, ref PublishRef, manifest *Manifest) error {
	data, err := manifest.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return s.writeAtomic(ctx, ref.ManifestKey(s.prefix), data)
}

func (s *BlobStore) writeAtomic(ctx context.Context, key string, data []byte) error {
	tempKey := key + ".tmp." + uuid.New().String()

	w, err := s.bucket.NewWriter(ctx, tempKey, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", tempKey, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", tempKey, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", tempKey, err)
	}

	if err := s.copyObject(ctx, tempKey, key); err != nil {
		s.bucket.Delete(ctx, tempKey)
		return fmt.Errorf("finalize %s -> %s: %w", tempKey, key, err)
	}
	s.bucket.Delete(ctx, tempKey) // ignore errors
	return nil
}

// copyObject copies an object within the bucket.
func (s *BlobStore) copyObject(ctx context.Context, srcKey, dstKey string) error {
	r, err := s.bucket.NewReader(ctx, srcKey, nil)
	if err != nil {
		return fmt.Errorf("open source %s: %w", srcKey, err)
	}
	defer r.Close()

	w, err := s.bucket.NewWriter(ctx, dstKey, nil)
	if err != nil {
		return fmt.Errorf("create destination %s: %w", dstKey, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("copy to %s: %w", dstKey, err)
	}
	return w.Close()
}

// ReadManifest returns ErrNotFound when the project was never published.
func (s *BlobStore) ReadManifest(ctx context.Context, ref PublishRef) (*Manifest, error) {
	data, err := s.ReadObject(ctx, ref.ManifestKey(s.prefix))
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeManifest(data)
}

// ReadObject returns the bytes stored under key.
func (s *BlobStore) ReadObject(ctx context.Context, key string) ([]byte, error) {
	return s.bucket.ReadAll(ctx, key)
}

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(key string) string {
	return s.baseURI + "/" + key
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

var _ Store = (*BlobStore)(nil)
