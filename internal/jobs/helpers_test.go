package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkkeeper/internal/clock/fake"
	"github.com/JakeFAU/linkkeeper/internal/link"
	"github.com/JakeFAU/linkkeeper/internal/storage/memory"
	"github.com/JakeFAU/linkkeeper/internal/urlnorm"
)

var runStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) (*memory.LinkStore, *fake.Clock) {
	t.Helper()
	return memory.NewLinkStore(), fake.New(runStart)
}

// seed inserts rec, filling identity fields from its URL.
func seed(t *testing.T, store *memory.LinkStore, rec link.Record) link.Record {
	t.Helper()
	canonical := urlnorm.Normalize(rec.URL)
	require.NotEmpty(t, canonical)
	rec.URL = canonical
	rec.Fingerprint = urlnorm.Fingerprint(canonical)
	if rec.Domain == "" {
		rec.Domain = urlnorm.Domain(canonical)
	}
	id, err := store.InsertRecord(context.Background(), rec)
	require.NoError(t, err)
	got, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return got
}

func mustGet(t *testing.T, store *memory.LinkStore, id int64) link.Record {
	t.Helper()
	rec, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func ptr[T any](v T) *T { return &v }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("00000000-0000-7000-8000-%012d", s.n), nil
}
