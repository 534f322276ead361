package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": {"application/json"}},
		Request:    r,
	}
}

func newTestStore(t *testing.T, cfg Config, rt roundTripperFunc) *BlobStore {
	t.Helper()
	client, err := NewClient(context.Background(), cfg,
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{Transport: rt}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	store, err := New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := NewClient(context.Background(), Config{}, option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		uploads []string
		bodies  []string
	)
	store := newTestStore(t, Config{Bucket: "linkkeeper-warcs", Prefix: "/prod/"}, func(r *http.Request) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		uploads = append(uploads, r.URL.Path+"?"+r.URL.RawQuery)
		if r.Body != nil {
			b, _ := io.ReadAll(r.Body)
			bodies = append(bodies, string(b))
		}
		// crc32c("WARC") = 0xc43de653
		return jsonResponse(r, http.StatusOK,
			`{"bucket":"linkkeeper-warcs","name":"prod/warcs/homeofpoi.com/a.warc.gz","size":"4","crc32c":"xD3mUw=="}`), nil
	})

	uri, err := store.PutObject(context.Background(), "warcs/homeofpoi.com/a.warc.gz", "application/warc", strings.NewReader("WARC"))
	require.NoError(t, err)
	require.Equal(t, "gs://linkkeeper-warcs/prod/warcs/homeofpoi.com/a.warc.gz", uri)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, uploads, 1)
	require.Contains(t, uploads[0], "/b/linkkeeper-warcs/o")
	// The multipart body carries the object metadata ahead of the media.
	require.Contains(t, bodies[0], `"linkkeeper-key":"warcs/homeofpoi.com/a.warc.gz"`)
	require.Contains(t, bodies[0], `"contentType":"application/warc"`)
}

func TestPutObjectRejectsChecksumMismatch(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, Config{Bucket: "linkkeeper-warcs"}, func(r *http.Request) (*http.Response, error) {
		if r.Body != nil {
			_, _ = io.Copy(io.Discard, r.Body)
		}
		return jsonResponse(r, http.StatusOK,
			`{"bucket":"linkkeeper-warcs","name":"warcs/a.warc.gz","size":"4","crc32c":"AAAAAQ=="}`), nil
	})

	_, err := store.PutObject(context.Background(), "warcs/a.warc.gz", "application/warc", strings.NewReader("WARC"))
	require.ErrorContains(t, err, "checksum mismatch")
}

func TestPutObjectRequiresKey(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, Config{Bucket: "linkkeeper-warcs"}, func(r *http.Request) (*http.Response, error) {
		t.Errorf("unexpected request %s", r.URL)
		return jsonResponse(r, http.StatusInternalServerError, `{}`), nil
	})
	_, err := store.PutObject(context.Background(), " ", "", strings.NewReader(""))
	require.ErrorContains(t, err, "object key is required")
}

func TestPutObjectReportsUploadFailure(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, Config{Bucket: "linkkeeper-warcs"}, func(r *http.Request) (*http.Response, error) {
		if r.Body != nil {
			_, _ = io.Copy(io.Discard, r.Body)
		}
		return jsonResponse(r, http.StatusForbidden, `{"error":{"code":403,"message":"denied"}}`), nil
	})
	_, err := store.PutObject(context.Background(), "warcs/a.warc.gz", "application/warc", strings.NewReader("WARC"))
	require.Error(t, err)
}

// brokenReader yields some bytes, then fails.
type brokenReader struct{ sent bool }

func (b *brokenReader) Read(p []byte) (int, error) {
	if b.sent {
		return 0, errors.New("capture file truncated")
	}
	b.sent = true
	return copy(p, "WARC/1.1\r\n"), nil
}

func TestPutObjectAbortsOnReadFailure(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		committed int
	)
	store := newTestStore(t, Config{Bucket: "linkkeeper-warcs"}, func(r *http.Request) (*http.Response, error) {
		if err := r.Context().Err(); err != nil {
			return nil, err
		}
		if r.Body != nil {
			_, _ = io.Copy(io.Discard, r.Body)
		}
		mu.Lock()
		committed++
		mu.Unlock()
		return jsonResponse(r, http.StatusOK, `{"bucket":"linkkeeper-warcs","name":"warcs/a.warc.gz","size":"10"}`), nil
	})

	_, err := store.PutObject(context.Background(), "warcs/a.warc.gz", "application/warc", &brokenReader{})
	require.ErrorContains(t, err, "capture file truncated")

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, committed, "a partial object must not reach the bucket")
}

func TestCheckBucket(t *testing.T) {
	t.Parallel()

	ok := newTestStore(t, Config{Bucket: "present"}, func(r *http.Request) (*http.Response, error) {
		require.Contains(t, r.URL.Path, "/storage/v1/b/present")
		return jsonResponse(r, http.StatusOK, `{"name":"present"}`), nil
	})
	require.NoError(t, ok.CheckBucket(context.Background()))

	missing := newTestStore(t, Config{Bucket: "absent"}, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusNotFound, `{"error":{"code":404,"message":"Not Found"}}`), nil
	})
	err := missing.CheckBucket(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), fmt.Sprintf("%q", "absent"))
}
