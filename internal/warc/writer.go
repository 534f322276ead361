// Package warc writes WARC/1.1 files with one gzip member per record.
package warc

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/linkkeeper/internal/hash/sha256"
	"github.com/klauspost/compress/gzip"
)

// ContentType is the media type of a WARC file.
const ContentType = "application/warc"

// Info populates the warcinfo record.
type Info struct {
	Software    string
	Description string
	Operator    string
}

// DefaultInfo describes captures made by this service.
var DefaultInfo = Info{
	Software:    "LinkKeeper/1.0",
	Description: "Flow Arts Wiki link preservation snapshot",
	Operator:    "flowarts.wiki",
}

// Response is an HTTP response to be stored verbatim.
type Response struct {
	TargetURI  string
	Date       time.Time
	Proto      string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Request is the HTTP request that produced a stored Response.
type Request struct {
	TargetURI string
	Date      time.Time
	Method    string
	Header    http.Header
}

// IDGenerator yields unique identifiers for WARC-Record-ID.
type IDGenerator interface {
	NewID() (string, error)
}

// Writer appends records to an underlying stream.
type Writer struct {
	w   io.Writer
	ids IDGenerator
}

// NewWriter wraps w.
func NewWriter(w io.Writer, ids IDGenerator) *Writer {
	return &Writer{w: w, ids: ids}
}

// Filename builds the conventional file name for a capture of rawURL at ts.
func Filename(rawURL string, ts time.Time) string {
	safe := strings.ReplaceAll(strings.ReplaceAll(rawURL, "://", "_"), "/", "_")
	if len(safe) > 80 {
		safe = safe[:80]
	}
	return fmt.Sprintf("linkkeeper-%s-%s.warc.gz", safe, ts.UTC().Format("20060102150405"))
}

// WriteInfo writes the warcinfo record and returns its record id.
func (w *Writer) WriteInfo(date time.Time, filename string, info Info) (string, error) {
	var block bytes.Buffer
	fmt.Fprintf(&block, "software: %s\r\n", info.Software)
	fmt.Fprintf(&block, "description: %s\r\n", info.Description)
	fmt.Fprintf(&block, "operator: %s\r\n", info.Operator)

	id, err := w.recordID()
	if err != nil {
		return "", err
	}
	headers := []field{
		{"WARC-Type", "warcinfo"},
		{"WARC-Record-ID", id},
		{"WARC-Date", formatDate(date)},
		{"WARC-Filename", filename},
		{"Content-Type", "application/warc-fields"},
	}
	if err := w.writeRecord(headers, block.Bytes()); err != nil {
		return "", fmt.Errorf("write warcinfo: %w", err)
	}
	return id, nil
}

// WriteResponse writes a response record linked to the warcinfo record.
func (w *Writer) WriteResponse(resp Response, warcinfoID string) (string, error) {
	var block bytes.Buffer
	proto := resp.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	fmt.Fprintf(&block, "%s %d %s\r\n", proto, resp.StatusCode, http.StatusText(resp.StatusCode))
	writeHTTPHeader(&block, resp.Header)
	block.Write(resp.Body)

	id, err := w.recordID()
	if err != nil {
		return "", err
	}
	headers := []field{
		{"WARC-Type", "response"},
		{"WARC-Record-ID", id},
		{"WARC-Date", formatDate(resp.Date)},
		{"WARC-Target-URI", resp.TargetURI},
		{"WARC-Warcinfo-ID", warcinfoID},
		{"WARC-Block-Digest", sha256.Labelled(block.Bytes())},
		{"WARC-Payload-Digest", sha256.Labelled(resp.Body)},
		{"Content-Type", "application/http; msgtype=response"},
	}
	if err := w.writeRecord(headers, block.Bytes()); err != nil {
		return "", fmt.Errorf("write response: %w", err)
	}
	return id, nil
}

// WriteRequest writes a request record tied to the response record it
// produced.
func (w *Writer) WriteRequest(req Request, warcinfoID, responseID string) (string, error) {
	u, err := url.Parse(req.TargetURI)
	if err != nil {
		return "", fmt.Errorf("write request: parse target: %w", err)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Host", u.Host)

	var block bytes.Buffer
	fmt.Fprintf(&block, "%s %s HTTP/1.1\r\n", method, u.RequestURI())
	writeHTTPHeader(&block, header)

	id, err := w.recordID()
	if err != nil {
		return "", err
	}
	headers := []field{
		{"WARC-Type", "request"},
		{"WARC-Record-ID", id},
		{"WARC-Date", formatDate(req.Date)},
		{"WARC-Target-URI", req.TargetURI},
		{"WARC-Warcinfo-ID", warcinfoID},
		{"WARC-Concurrent-To", responseID},
		{"WARC-Block-Digest", sha256.Labelled(block.Bytes())},
		{"Content-Type", "application/http; msgtype=request"},
	}
	if err := w.writeRecord(headers, block.Bytes()); err != nil {
		return "", fmt.Errorf("write request: %w", err)
	}
	return id, nil
}

// writeHTTPHeader writes h in sorted order followed by the blank line.
func writeHTTPHeader(b *bytes.Buffer, h http.Header) {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			fmt.Fprintf(b, "%s: %s\r\n", k, v)
		}
	}
	b.WriteString("\r\n")
}

type field struct {
	name, value string
}

func (w *Writer) writeRecord(headers []field, block []byte) error {
	gz := gzip.NewWriter(w.w)
	var head bytes.Buffer
	head.WriteString("WARC/1.1\r\n")
	for _, h := range headers {
		if h.value == "" {
			continue
		}
		fmt.Fprintf(&head, "%s: %s\r\n", h.name, h.value)
	}
	head.WriteString("Content-Length: " + strconv.Itoa(len(block)) + "\r\n\r\n")

	for _, chunk := range [][]byte{head.Bytes(), block, []byte("\r\n\r\n")} {
		if _, err := gz.Write(chunk); err != nil {
			return fmt.Errorf("compress record: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip member: %w", err)
	}
	return nil
}

func (w *Writer) recordID() (string, error) {
	id, err := w.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("warc record id: %w", err)
	}
	return "<urn:uuid:" + id + ">", nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}
