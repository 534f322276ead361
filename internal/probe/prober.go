// Package probe checks whether a URL is reachable, following the HEAD-then-GET
// routine and recognizing soft 404 pages.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/linkkeeper/internal/link"
)

// DefaultHeadDenyList names hosts whose HEAD responses are unreliable.
var DefaultHeadDenyList = []string{"tumblr.com", "wordpress.com", "blogspot.com"}

// Pacer spaces requests per key.
type Pacer interface {
	Wait(ctx context.Context, key string) error
}

// Config controls probe behavior.
type Config struct {
	Timeout      time.Duration
	HeadDenyList []string
	// Soft404Bytes is the body size below which soft 404 matching applies.
	Soft404Bytes int
}

// Prober runs reachability checks.
type Prober struct {
	client   *http.Client
	cfg      Config
	pacer    Pacer
	detector *Soft404Detector
}

// New builds a Prober. The pacer may be nil.
func New(cfg Config, client *http.Client, pacer Pacer) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.HeadDenyList == nil {
		cfg.HeadDenyList = DefaultHeadDenyList
	}
	detector := NewSoft404Detector(cfg.Soft404Bytes)
	cfg.Soft404Bytes = detector.MaxBodyBytes
	return &Prober{client: client, cfg: cfg, pacer: pacer, detector: detector}
}

// Probe checks rawURL, pacing against domain. Failures are reported in the
// result, never as errors.
func (p *Prober) Probe(ctx context.Context, rawURL, domain string) link.ProbeResult {
	if p.pacer != nil {
		if err := p.pacer.Wait(ctx, domain); err != nil {
			return link.ProbeResult{Err: err.Error()}
		}
	}

	if !p.skipHead(domain) {
		res, fallback := p.head(ctx, rawURL)
		if !fallback {
			return res
		}
	}
	return p.get(ctx, rawURL)
}

func (p *Prober) skipHead(domain string) bool {
	domain = strings.ToLower(domain)
	for _, suffix := range p.cfg.HeadDenyList {
		if domain == suffix || strings.HasSuffix(domain, "."+suffix) {
			return true
		}
	}
	return false
}

// head returns the HEAD verdict, or fallback=true when a GET is needed.
func (p *Prober) head(ctx context.Context, rawURL string) (link.ProbeResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := p.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return link.ProbeResult{}, true
	}
	defer closeBody(resp)

	switch {
	case resp.StatusCode < http.StatusBadRequest:
		return link.ProbeResult{
			Status:      resp.StatusCode,
			Alive:       true,
			RedirectURL: redirectTarget(rawURL, resp),
		}, false
	case resp.StatusCode == http.StatusMethodNotAllowed:
		return link.ProbeResult{}, true
	default:
		return link.ProbeResult{Status: resp.StatusCode, RedirectURL: redirectTarget(rawURL, resp)}, false
	}
}

func (p *Prober) get(ctx context.Context, rawURL string) link.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := p.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return link.ProbeResult{Err: err.Error()}
	}
	defer closeBody(resp)

	res := link.ProbeResult{
		Status:      resp.StatusCode,
		RedirectURL: redirectTarget(rawURL, resp),
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return res
	}
	res.Alive = true
	if p.soft404(resp) {
		res.Alive = false
		res.Soft404 = true
	}
	return res
}

// soft404 inspects short bodies only; long pages are assumed genuine.
func (p *Prober) soft404(resp *http.Response) bool {
	limit := p.cfg.Soft404Bytes
	switch {
	case resp.ContentLength >= 0 && resp.ContentLength < int64(limit):
		body, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)))
		if err != nil {
			return false
		}
		return p.detector.Matches(body)
	case resp.ContentLength < 0:
		body, err := io.ReadAll(io.LimitReader(resp.Body, int64(2*limit)))
		if err != nil || len(body) >= limit {
			return false
		}
		return p.detector.Matches(body)
	default:
		return false
	}
}

func (p *Prober) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		var urlErr interface{ Timeout() bool }
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return nil, fmt.Errorf("%s %s: timeout", method, rawURL)
		}
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	return resp, nil
}

func redirectTarget(rawURL string, resp *http.Response) string {
	if resp.Request == nil || resp.Request.URL == nil {
		return ""
	}
	final := resp.Request.URL.String()
	if final == rawURL {
		return ""
	}
	return final
}

func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
