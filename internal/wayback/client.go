// Package wayback talks to the Internet Archive: the CDX index for existing
// snapshots and Save Page Now 2 for new captures.
package wayback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/linkkeeper/internal/link"
)

const (
	// DefaultCDXEndpoint is the public CDX search API.
	DefaultCDXEndpoint = "https://web.archive.org/cdx/search/cdx"
	// DefaultAvailabilityEndpoint is the lightweight availability API.
	DefaultAvailabilityEndpoint = "https://archive.org/wayback/available"
	// DefaultSaveEndpoint is the Save Page Now 2 API.
	DefaultSaveEndpoint = "https://web.archive.org/save"
	// DefaultReplayBase prefixes snapshot URLs.
	DefaultReplayBase = "https://web.archive.org/web/"

	timestampLayout = "20060102150405"
)

// Config locates the archive endpoints.
type Config struct {
	CDXEndpoint          string
	AvailabilityEndpoint string
	SaveEndpoint         string
	ReplayBase           string
}

// Credentials authenticate paid capture requests.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// Valid reports whether both halves are present.
func (c Credentials) Valid() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}

// Client queries and submits to the archive.
type Client struct {
	cfg    Config
	client *http.Client
}

// New builds a Client, filling endpoint defaults.
func New(cfg Config, client *http.Client) *Client {
	if cfg.CDXEndpoint == "" {
		cfg.CDXEndpoint = DefaultCDXEndpoint
	}
	if cfg.AvailabilityEndpoint == "" {
		cfg.AvailabilityEndpoint = DefaultAvailabilityEndpoint
	}
	if cfg.SaveEndpoint == "" {
		cfg.SaveEndpoint = DefaultSaveEndpoint
	}
	if cfg.ReplayBase == "" {
		cfg.ReplayBase = DefaultReplayBase
	}
	if !strings.HasSuffix(cfg.ReplayBase, "/") {
		cfg.ReplayBase += "/"
	}
	return &Client{cfg: cfg, client: client}
}

// LookupLatest returns the newest snapshot of rawURL. found is false when the
// archive has none. The availability API is consulted when the CDX index
// cannot be reached.
func (c *Client) LookupLatest(ctx context.Context, rawURL string) (link.Snapshot, bool, error) {
	snap, found, err := c.lookupCDX(ctx, rawURL)
	if err == nil {
		return snap, found, nil
	}
	snap, found, availErr := c.lookupAvailability(ctx, rawURL)
	if availErr != nil {
		return link.Snapshot{}, false, fmt.Errorf("%w (availability fallback: %w)", err, availErr)
	}
	return snap, found, nil
}

func (c *Client) lookupCDX(ctx context.Context, rawURL string) (link.Snapshot, bool, error) {
	params := url.Values{}
	params.Set("url", rawURL)
	params.Set("output", "json")
	params.Set("limit", "1")
	params.Set("fl", "timestamp,original,statuscode,mimetype")
	params.Set("sort", "reverse")

	var rows [][]string
	if err := c.getJSON(ctx, c.cfg.CDXEndpoint+"?"+params.Encode(), &rows); err != nil {
		return link.Snapshot{}, false, fmt.Errorf("cdx lookup %s: %w", rawURL, err)
	}
	// The first row is the field header.
	if len(rows) < 2 {
		return link.Snapshot{}, false, nil
	}
	fields := make(map[string]string, len(rows[0]))
	for i, name := range rows[0] {
		if i < len(rows[1]) {
			fields[name] = rows[1][i]
		}
	}
	original := fields["original"]
	if original == "" {
		original = rawURL
	}
	return c.snapshot(fields["timestamp"], original)
}

type availabilityResponse struct {
	ArchivedSnapshots struct {
		Closest *struct {
			Available bool   `json:"available"`
			URL       string `json:"url"`
			Timestamp string `json:"timestamp"`
			Status    string `json:"status"`
		} `json:"closest"`
	} `json:"archived_snapshots"`
}

func (c *Client) lookupAvailability(ctx context.Context, rawURL string) (link.Snapshot, bool, error) {
	params := url.Values{}
	params.Set("url", rawURL)

	var body availabilityResponse
	if err := c.getJSON(ctx, c.cfg.AvailabilityEndpoint+"?"+params.Encode(), &body); err != nil {
		return link.Snapshot{}, false, fmt.Errorf("availability lookup %s: %w", rawURL, err)
	}
	closest := body.ArchivedSnapshots.Closest
	if closest == nil || !closest.Available || closest.URL == "" {
		return link.Snapshot{}, false, nil
	}
	ts, err := parseTimestamp(closest.Timestamp)
	if err != nil {
		return link.Snapshot{}, false, err
	}
	return link.Snapshot{URL: closest.URL, Timestamp: ts}, true, nil
}

func (c *Client) snapshot(timestamp, original string) (link.Snapshot, bool, error) {
	ts, err := parseTimestamp(timestamp)
	if err != nil {
		return link.Snapshot{}, false, err
	}
	return link.Snapshot{
		URL:       c.cfg.ReplayBase + timestamp + "/" + original,
		Timestamp: ts,
	}, true, nil
}

type saveResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Submit asks Save Page Now 2 to capture rawURL. Transport failures are
// returned as errors; archive refusals are reported in the result.
func (c *Client) Submit(ctx context.Context, rawURL string, creds Credentials) (link.SubmitResult, error) {
	form := url.Values{}
	form.Set("url", rawURL)
	form.Set("capture_all", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SaveEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return link.SubmitResult{}, fmt.Errorf("build save request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("LOW %s:%s", creds.AccessKey, creds.SecretKey))

	resp, err := c.client.Do(req)
	if err != nil {
		return link.SubmitResult{}, fmt.Errorf("save %s: %w", rawURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return link.SubmitResult{}, fmt.Errorf("read save response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var parsed saveResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return link.SubmitResult{}, fmt.Errorf("decode save response: %w", err)
		}
		if parsed.JobID == "" {
			return link.SubmitResult{Outcome: link.SubmitRejected, Message: parsed.Message}, nil
		}
		return link.SubmitResult{Outcome: link.SubmitAccepted, JobID: parsed.JobID}, nil
	case http.StatusTooManyRequests:
		return link.SubmitResult{Outcome: link.SubmitRateLimited, Message: "rate limited"}, nil
	default:
		return link.SubmitResult{
			Outcome: link.SubmitRejected,
			Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200)),
		}, nil
	}
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	// CDX answers an empty body when nothing matches.
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func parseTimestamp(ts string) (time.Time, error) {
	// Partial timestamps name the start of their period.
	const pad = "00000101000000"
	if len(ts) < len(pad) {
		ts += pad[len(ts):]
	}
	parsed, err := time.Parse(timestampLayout, ts[:len(timestampLayout)])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse snapshot timestamp %q: %w", ts, err)
	}
	return parsed, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
