// Package sha256 provides SHA-256 hashing utilities for link fingerprints,
// WARC record digests and stored capture checksums.
package sha256

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"hash"
)

// Hex returns the lowercase hex SHA-256 digest of data.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Labelled returns the digest in WARC labelled form, "sha256:" followed by
// the base32 encoding of the raw sum.
func Labelled(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + base32.StdEncoding.EncodeToString(sum[:])
}

// Digest accumulates a sum over data streamed through Write.
type Digest struct {
	h hash.Hash
	n int64
}

// NewDigest returns an empty Digest.
func NewDigest() *Digest {
	return &Digest{h: sha256.New()}
}

func (d *Digest) Write(p []byte) (int, error) {
	d.n += int64(len(p))
	return d.h.Write(p)
}

// Hex returns the lowercase hex digest of everything written so far.
func (d *Digest) Hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Size is the number of bytes written.
func (d *Digest) Size() int64 { return d.n }
