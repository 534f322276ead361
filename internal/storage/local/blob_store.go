// Package local keeps WARC captures in a directory on disk, for single-host
// deployments that have no bucket.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/linkkeeper/internal/hash/sha256"
)

// ChecksumSuffix is appended to an object's file name for its sidecar.
const ChecksumSuffix = ".sha256"

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory that object keys resolve under.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// Checksums writes "<object>.sha256" in sha256sum format next to every
	// stored object.
	Checksums bool `mapstructure:"checksums" yaml:"checksums"`
}

// BlobStore writes captures under a base directory.
type BlobStore struct {
	root      string
	checksums bool
}

// New prepares the base directory and confirms it is writable.
func New(cfg Config) (*BlobStore, error) {
	root := strings.TrimSpace(cfg.BaseDir)
	if root == "" {
		return nil, errors.New("local store: base directory is required")
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("local store: create %s: %w", root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("local store: stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local store: %s is not a directory", root)
	}

	probe, err := os.CreateTemp(root, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("local store: %s is not writable: %w", root, err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("local store: remove probe: %w", err)
	}

	return &BlobStore{root: root, checksums: cfg.Checksums}, nil
}

// resolve maps a slash-separated object key to a path under the root.
func (s *BlobStore) resolve(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("local store: object key is required")
	}
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("local store: key %q escapes the base directory", key)
	}
	return filepath.Join(s.root, rel), nil
}

// PutObject stores data under key and returns its file:// URI. The object
// appears under its final name only once fully written.
func (s *BlobStore) PutObject(_ context.Context, key string, _ string, data io.Reader) (string, error) {
	dst, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("local store: create %s: %w", dir, err)
	}

	digest := sha256.NewDigest()
	if err := writeAtomic(dst, io.TeeReader(data, digest)); err != nil {
		return "", err
	}
	if s.checksums {
		line := fmt.Sprintf("%s  %s\n", digest.Hex(), filepath.Base(dst))
		if err := writeAtomic(dst+ChecksumSuffix, strings.NewReader(line)); err != nil {
			return "", err
		}
	}
	return "file://" + filepath.ToSlash(dst), nil
}

func writeAtomic(dst string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("local store: create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("local store: write %s: %w", filepath.Base(dst), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("local store: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("local store: move %s into place: %w", filepath.Base(dst), err)
	}
	return nil
}
