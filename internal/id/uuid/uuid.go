// Package uuid issues the identifiers linkkeeper stamps on job runs and WARC
// records. Both are UUID v7, so they sort by creation time in logs and in
// object listings.
package uuid

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Generator produces WARC-Record-ID values. It satisfies link.IDGenerator.
type Generator struct {
	entropy io.Reader
}

// New returns a Generator backed by crypto/rand.
func New() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewFromReader returns a Generator that draws its random bits from r.
func NewFromReader(r io.Reader) *Generator {
	return &Generator{entropy: r}
}

// NewID returns a UUID v7 string.
func (g *Generator) NewID() (string, error) {
	id, err := uuid.NewV7FromReader(g.entropy)
	if err != nil {
		return "", fmt.Errorf("generate record id: %w", err)
	}
	return id.String(), nil
}

// RunID returns the identifier for one job run. A v4 id is used if the
// v7 source fails.
func RunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
