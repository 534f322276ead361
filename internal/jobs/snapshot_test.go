package jobs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/linkkeeper/internal/fetcher/colly"
	"github.com/JakeFAU/linkkeeper/internal/link"
	"github.com/JakeFAU/linkkeeper/internal/storage/memory"
)

type stubFetcher struct {
	pages map[string]link.Page
}

func (f *stubFetcher) Fetch(_ context.Context, rawURL string) (link.Page, error) {
	page, ok := f.pages[rawURL]
	if !ok {
		return link.Page{}, errors.New("connection refused")
	}
	return page, nil
}

func decodeWARC(t *testing.T, data []byte) string {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	return string(out)
}

func TestSnapshotterStoresWARC(t *testing.T) {
	t.Parallel()

	store, clock := newFixture(t)
	rec := seed(t, store, link.Record{URL: "https://homeofpoi.com/lessons"})
	seed(t, store, link.Record{URL: "https://elsewhere.example/"})
	fetcher := &stubFetcher{pages: map[string]link.Page{
		rec.URL: {
			URL:           rec.URL,
			StatusCode:    http.StatusOK,
			Header:        http.Header{"Content-Type": {"text/html"}, "Content-Encoding": {"gzip"}},
			Body:          []byte("<html>lessons</html>"),
			FetchedAt:     runStart,
			RequestHeader: http.Header{"User-Agent": {"LinkKeeper/1.0"}},
		},
	}}
	blobs := memory.NewBlobStore()
	tmp := t.TempDir()

	snap := NewSnapshotter(store, fetcher, blobs, &seqIDs{}, clock,
		link.NewCapabilities(link.CapabilitySnapshot),
		SnapshotConfig{Domains: []string{"homeofpoi.com"}, TempDir: tmp}, nil)
	sum, err := snap.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Processed)
	require.Equal(t, 1, sum.Succeeded)

	key := "warcs/homeofpoi.com/linkkeeper-https_homeofpoi.com_lessons-20240601120000.warc.gz"
	require.Equal(t, []string{key}, blobs.Keys())
	data, contentType, ok := blobs.Object(key)
	require.True(t, ok)
	require.Equal(t, "application/warc", contentType)

	body := decodeWARC(t, data)
	require.Contains(t, body, "WARC-Type: warcinfo")
	require.Contains(t, body, "WARC-Target-URI: https://homeofpoi.com/lessons\r\n")
	require.Contains(t, body, "Content-Length: 20\r\nContent-Type: text/html\r\n\r\n<html>lessons</html>")
	require.NotContains(t, body, "Content-Encoding")
	require.Contains(t, body, "WARC-Type: request\r\n")
	require.Contains(t, body, "GET /lessons HTTP/1.1\r\nHost: homeofpoi.com\r\nUser-Agent: LinkKeeper/1.0\r\n")

	got := mustGet(t, store, rec.ID)
	require.Equal(t, key, got.StorageKey)
	require.EqualValues(t, len(data), got.StorageSize)
	require.Equal(t, runStart, *got.StorageCheckedAt)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	require.Empty(t, entries, "temp files are removed")
}

func TestSnapshotterFailureLeavesRecord(t *testing.T) {
	t.Parallel()

	store, clock := newFixture(t)
	rec := seed(t, store, link.Record{URL: "https://flowtoys.com/"})
	tmp := t.TempDir()

	snap := NewSnapshotter(store, &stubFetcher{}, memory.NewBlobStore(), &seqIDs{}, clock,
		link.NewCapabilities(link.CapabilitySnapshot), SnapshotConfig{TempDir: tmp}, nil)
	sum, err := snap.Run(context.Background(), Options{Domain: "flowtoys.com"})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Failed)

	got := mustGet(t, store, rec.ID)
	require.Empty(t, got.StorageKey)
	require.Nil(t, got.StorageCheckedAt)
	require.False(t, got.IsDead)
}

func TestSnapshotterUnavailable(t *testing.T) {
	t.Parallel()

	store, clock := newFixture(t)
	seed(t, store, link.Record{URL: "https://flowtoys.com/"})

	sum, err := NewSnapshotter(store, &stubFetcher{}, nil, &seqIDs{}, clock, link.NewCapabilities(), SnapshotConfig{}, nil).
		Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, link.CapabilitySnapshot, sum.Unavailable)
	require.ErrorIs(t, sum.Err(), ErrUnavailable)
	require.Zero(t, sum.Processed)
}

func TestSnapshotterWithCollyFetcher(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>spin</body></html>"))
	}))
	t.Cleanup(srv.Close)

	store, clock := newFixture(t)
	rec := seed(t, store, link.Record{URL: srv.URL + "/page"})
	blobs := memory.NewBlobStore()
	fetcher := collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second}, clock)

	snap := NewSnapshotter(store, fetcher, blobs, &seqIDs{}, clock,
		link.NewCapabilities(link.CapabilitySnapshot), SnapshotConfig{TempDir: t.TempDir()}, nil)
	sum, err := snap.Run(context.Background(), Options{Domain: rec.Domain, Limit: 5})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Succeeded)

	keys := blobs.Keys()
	require.Len(t, keys, 1)
	require.True(t, strings.HasPrefix(keys[0], "warcs/"+rec.Domain+"/linkkeeper-"))
	data, _, _ := blobs.Object(keys[0])
	require.Contains(t, decodeWARC(t, data), "<html><body>spin</body></html>")
}
