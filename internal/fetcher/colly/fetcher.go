// Package collyfetcher captures single pages for self-hosted archival using
// gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/linkkeeper/internal/httpclient"
	"github.com/JakeFAU/linkkeeper/internal/link"
)

// DefaultMaxBodySize caps captured bodies.
const DefaultMaxBodySize = 50 << 20

// DefaultMaxRedirects bounds how many hops a capture follows.
const DefaultMaxRedirects = 10

// ErrTooManyRedirects is returned when a capture exceeds MaxRedirects.
var ErrTooManyRedirects = errors.New("too many redirects")

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodySize  int
	MaxRedirects int
}

// Fetcher performs one GET per capture and keeps the response as received,
// after transport decoding.
type Fetcher struct {
	cfg   Config
	clock link.Clock
	base  *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// capture is filled in by the collector callbacks of one Fetch.
type capture struct {
	page link.Page
	err  error
}

// New builds a Fetcher. Zero fields take the package defaults.
func New(cfg Config, clock link.Clock) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = httpclient.DefaultUserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	base := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	// Captures are operator-selected links, not a crawl.
	base.IgnoreRobotsTxt = true
	base.WithTransport(httpclient.NewTransport())
	// Clones share the base backend, so client settings live here.
	base.SetRequestTimeout(cfg.Timeout)
	maxRedirects := cfg.MaxRedirects
	base.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, len(via))
		}
		return nil
	})
	return &Fetcher{cfg: cfg, clock: clock, base: base}
}

// Fetch captures rawURL. Responses with status >= 400 are errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (link.Page, error) {
	if err := ctx.Err(); err != nil {
		return link.Page{}, fmt.Errorf("capture %s: %w", rawURL, err)
	}
	c := &capture{}
	collector := f.collector(c)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return link.Page{}, fmt.Errorf("capture %s: %w", rawURL, ctx.Err())
	case err := <-done:
		if c.err != nil {
			return link.Page{}, fmt.Errorf("capture %s: %w", rawURL, c.err)
		}
		if err != nil {
			return link.Page{}, fmt.Errorf("capture %s: %w", rawURL, err)
		}
		return c.page, nil
	}
}

func (f *Fetcher) collector(c *capture) *colly.Collector {
	collector := f.base.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.MaxBodySize = f.cfg.MaxBodySize
	f.attach(collector, c)
	return collector
}

func (f *Fetcher) attach(hooks collectorHooks, c *capture) {
	hooks.OnResponse(func(r *colly.Response) {
		c.page = link.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Proto:      "HTTP/1.1",
			Header:     cloneHeader(r.Headers),
			Body:       append([]byte(nil), r.Body...),
			FetchedAt:  f.clock.Now(),
		}
		if r.Request.Headers != nil {
			c.page.RequestHeader = r.Request.Headers.Clone()
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			c.err = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		c.err = err
	})
}

func cloneHeader(h *http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}
