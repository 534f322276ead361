// Package httpclient builds the pooled HTTP clients shared by the probe,
// archive, wiki, and capture components.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// DefaultUserAgent identifies the bot to remote servers.
const DefaultUserAgent = "LinkKeeper/1.0 (https://flowarts.wiki; link preservation bot) Mozilla/5.0 (compatible)"

// NewTransport returns a transport tuned for many short requests to many hosts.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}

// New returns a client that stamps userAgent on every request and gives up
// after timeout.
func New(timeout time.Duration, userAgent string) *http.Client {
	return Wrap(&http.Client{Timeout: timeout, Transport: NewTransport()}, userAgent)
}

// Wrap installs the user agent on an existing client, which is useful for
// clients built by httptest.
func Wrap(client *http.Client, userAgent string) *http.Client {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	out := *client
	out.Transport = &userAgentTransport{base: base, userAgent: userAgent}
	return &out
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(clone)
}
