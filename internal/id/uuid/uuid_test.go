package uuid

import (
	"bytes"
	"errors"
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestGeneratorNewIDIsTimeOrdered(t *testing.T) {
	t.Parallel()

	gen := New()
	first, err := gen.NewID()
	require.NoError(t, err)
	second, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.Less(t, first, second)

	parsed, err := goUUID.Parse(first)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestGeneratorFromReader(t *testing.T) {
	t.Parallel()

	gen := NewFromReader(bytes.NewReader(bytes.Repeat([]byte{0xab}, 64)))
	id, err := gen.NewID()
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), goUUID.MustParse(id).Version())

	_, err = NewFromReader(failingReader{}).NewID()
	require.ErrorContains(t, err, "generate record id")
}

func TestRunID(t *testing.T) {
	t.Parallel()

	a, b := RunID(), RunID()
	require.NotEqual(t, a, b)
	require.Equal(t, goUUID.Version(7), goUUID.MustParse(a).Version())
}
