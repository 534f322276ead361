package warc

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("00000000-0000-7000-8000-%012d", s.n), nil
}

func readAll(t *testing.T, buf *bytes.Buffer) string {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	return string(out)
}

func TestWriterRecords(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf, &seqIDs{})
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	infoID, err := w.WriteInfo(date, "capture.warc.gz", DefaultInfo)
	require.NoError(t, err)
	require.Equal(t, "<urn:uuid:00000000-0000-7000-8000-000000000001>", infoID)

	respID, err := w.WriteResponse(Response{
		TargetURI:  "https://homeofpoi.com/",
		Date:       date,
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/html"}, "Server": {"nginx"}},
		Body:       []byte("<html>poi</html>"),
	}, infoID)
	require.NoError(t, err)
	require.NotEqual(t, infoID, respID)

	out := readAll(t, &buf)
	records := strings.Split(strings.TrimSuffix(out, "\r\n\r\n"), "\r\n\r\nWARC/1.1\r\n")
	require.Len(t, records, 2)

	info := records[0]
	require.True(t, strings.HasPrefix(info, "WARC/1.1\r\nWARC-Type: warcinfo\r\n"))
	require.Contains(t, info, "WARC-Date: 2024-03-01T12:00:00Z\r\n")
	require.Contains(t, info, "WARC-Filename: capture.warc.gz\r\n")
	require.Contains(t, info, "software: LinkKeeper/1.0\r\n")
	require.Contains(t, info, "operator: flowarts.wiki\r\n")

	resp := records[1]
	require.Contains(t, resp, "WARC-Type: response\r\n")
	require.Contains(t, resp, "WARC-Target-URI: https://homeofpoi.com/\r\n")
	require.Contains(t, resp, "WARC-Warcinfo-ID: "+infoID+"\r\n")
	require.Contains(t, resp, "WARC-Payload-Digest: sha256:")
	require.Contains(t, resp, "Content-Type: application/http; msgtype=response\r\n")
	require.Contains(t, resp, "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nServer: nginx\r\n\r\n<html>poi</html>")
}

func TestWriterContentLengthMatchesBlock(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf, &seqIDs{})
	_, err := w.WriteResponse(Response{TargetURI: "http://x.example/", StatusCode: 404, Body: []byte("gone")}, "")
	require.NoError(t, err)

	out := readAll(t, &buf)
	head, block, ok := strings.Cut(out, "\r\n\r\n")
	require.True(t, ok)
	require.NotContains(t, head, "WARC-Warcinfo-ID")
	block = strings.TrimSuffix(block, "\r\n\r\n")
	require.Contains(t, head, fmt.Sprintf("Content-Length: %d", len(block)))
	require.Equal(t, "HTTP/1.1 404 Not Found\r\n\r\ngone", block)
}

func TestWriteRequestFollowsResponse(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf, &seqIDs{})
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	respID, err := w.WriteResponse(Response{TargetURI: "https://homeofpoi.com/lessons?page=2", Date: date, StatusCode: 200}, "<urn:uuid:info>")
	require.NoError(t, err)
	reqID, err := w.WriteRequest(Request{
		TargetURI: "https://homeofpoi.com/lessons?page=2",
		Date:      date,
		Header:    http.Header{"User-Agent": {"LinkKeeper/1.0"}, "Accept": {"*/*"}},
	}, "<urn:uuid:info>", respID)
	require.NoError(t, err)
	require.NotEqual(t, respID, reqID)

	out := readAll(t, &buf)
	records := strings.Split(strings.TrimSuffix(out, "\r\n\r\n"), "\r\n\r\nWARC/1.1\r\n")
	require.Len(t, records, 2)

	req := records[1]
	require.Contains(t, req, "WARC-Type: request\r\n")
	require.Contains(t, req, "WARC-Concurrent-To: "+respID+"\r\n")
	require.Contains(t, req, "Content-Type: application/http; msgtype=request\r\n")
	require.True(t, strings.HasSuffix(req,
		"GET /lessons?page=2 HTTP/1.1\r\nAccept: */*\r\nHost: homeofpoi.com\r\nUser-Agent: LinkKeeper/1.0\r\n\r\n"))
}

func TestFilename(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 1, 12, 30, 5, 0, time.UTC)
	require.Equal(t, "linkkeeper-https_homeofpoi.com_lessons-20240301123005.warc.gz",
		Filename("https://homeofpoi.com/lessons", ts))

	long := Filename("https://example.com/"+strings.Repeat("a", 200), ts)
	require.Equal(t, len("linkkeeper-")+80+len("-20240301123005.warc.gz"), len(long))
}
