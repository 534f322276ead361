// Package gcs stores WARC captures in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// KeyMetadata names the object metadata entry that records the capture key
// as the job computed it, before any prefix is applied.
const KeyMetadata = "linkkeeper-key"

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object path.
	Prefix string
	// CredentialsFile overrides Application Default Credentials.
	CredentialsFile string
}

// BlobStore uploads captures to one bucket.
type BlobStore struct {
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// NewClient builds a storage client from cfg plus any extra options.
func NewClient(ctx context.Context, cfg Config, opts ...option.ClientOption) (*storage.Client, error) {
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}
	return client, nil
}

// New binds a blob store to cfg.Bucket. The caller owns client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("gcs: storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("gcs: bucket name is required")
	}
	return &BlobStore{
		bucket: client.Bucket(cfg.Bucket),
		name:   cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// CheckBucket fails when the bucket is missing or not readable.
func (s *BlobStore) CheckBucket(ctx context.Context) error {
	if _, err := s.bucket.Attrs(ctx); err != nil {
		return fmt.Errorf("gcs: bucket %q attributes: %w", s.name, err)
	}
	return nil
}

func (s *BlobStore) objectName(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// PutObject uploads r under key and returns a gs:// URI. The upload is
// rejected when the CRC32C the service reports differs from the bytes sent.
func (s *BlobStore) PutObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("gcs: object key is required")
	}
	name := s.objectName(key)

	// Canceling the writer's context before Close abandons the upload, so a
	// failed read never commits a truncated object.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{KeyMetadata: key}

	sum := crc32.New(castagnoli)
	if _, err := io.Copy(io.MultiWriter(w, sum), r); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("gcs: upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs: finalize %s: %w", name, err)
	}
	if attrs := w.Attrs(); attrs != nil && attrs.CRC32C != 0 && attrs.CRC32C != sum.Sum32() {
		return "", fmt.Errorf("gcs: %s checksum mismatch: sent %08x, stored %08x", name, sum.Sum32(), attrs.CRC32C)
	}
	return fmt.Sprintf("gs://%s/%s", s.name, name), nil
}
