// Package wiki is a small MediaWiki action API client covering what the
// link jobs need: bot login, page text by id or title, edits, and the
// external link inventory.
package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// ErrPageMissing is returned when the requested page does not exist.
var ErrPageMissing = errors.New("wiki: page missing")

// DefaultAPIURL is the in-cluster MediaWiki endpoint.
const DefaultAPIURL = "http://mediawiki/api.php"

// Config locates and authenticates against the wiki.
type Config struct {
	APIURL   string
	Username string
	Password string
}

// HasCredentials reports whether bot credentials are configured.
func (c Config) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// Client talks to one wiki. It logs in lazily on first use when credentials
// are configured.
type Client struct {
	cfg    Config
	client *http.Client

	mu       sync.Mutex
	loggedIn bool
}

// APIError is an error payload returned by the wiki.
type APIError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wiki api error %s: %s", e.Code, e.Info)
}

// New builds a Client with its own cookie jar.
func New(cfg Config, base *http.Client) (*Client, error) {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	client := *base
	client.Jar = jar
	return &Client{cfg: cfg, client: &client}, nil
}

// Login authenticates the bot account. It is a no-op once logged in.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn {
		return nil
	}
	if !c.cfg.HasCredentials() {
		return errors.New("wiki: bot credentials not configured")
	}

	token, err := c.token(ctx, "login")
	if err != nil {
		return err
	}
	var resp struct {
		Login struct {
			Result string `json:"result"`
			Reason string `json:"reason"`
		} `json:"login"`
	}
	form := url.Values{
		"action":     {"login"},
		"lgname":     {c.cfg.Username},
		"lgpassword": {c.cfg.Password},
		"lgtoken":    {token},
	}
	if err := c.post(ctx, form, &resp); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.Login.Result != "Success" {
		return fmt.Errorf("login rejected: %s %s", resp.Login.Result, resp.Login.Reason)
	}
	c.loggedIn = true
	return nil
}

func (c *Client) ensureSession(ctx context.Context) error {
	if !c.cfg.HasCredentials() {
		return nil
	}
	return c.Login(ctx)
}

type pageQuery struct {
	Query struct {
		Pages []struct {
			PageID    int64  `json:"pageid"`
			Title     string `json:"title"`
			Missing   bool   `json:"missing"`
			Invalid   bool   `json:"invalid"`
			Revisions []struct {
				Slots struct {
					Main struct {
						Content string `json:"content"`
					} `json:"main"`
				} `json:"slots"`
			} `json:"revisions"`
		} `json:"pages"`
	} `json:"query"`
}

// GetText returns the current wikitext of the page with the given id.
func (c *Client) GetText(ctx context.Context, pageID int64) (string, error) {
	return c.getText(ctx, url.Values{"pageids": {strconv.FormatInt(pageID, 10)}})
}

// GetTextByTitle returns the current wikitext of the titled page.
func (c *Client) GetTextByTitle(ctx context.Context, title string) (string, error) {
	return c.getText(ctx, url.Values{"titles": {title}})
}

func (c *Client) getText(ctx context.Context, selector url.Values) (string, error) {
	if err := c.ensureSession(ctx); err != nil {
		return "", err
	}
	params := url.Values{
		"action":  {"query"},
		"prop":    {"revisions"},
		"rvprop":  {"content"},
		"rvslots": {"main"},
	}
	for k, v := range selector {
		params[k] = v
	}
	var resp pageQuery
	if err := c.get(ctx, params, &resp); err != nil {
		return "", fmt.Errorf("fetch page %s: %w", selector.Encode(), err)
	}
	if len(resp.Query.Pages) == 0 {
		return "", ErrPageMissing
	}
	page := resp.Query.Pages[0]
	if page.Missing || page.Invalid || len(page.Revisions) == 0 {
		return "", ErrPageMissing
	}
	return page.Revisions[0].Slots.Main.Content, nil
}

// SaveText replaces the wikitext of the page with the given id.
func (c *Client) SaveText(ctx context.Context, pageID int64, text, summary string) error {
	return c.edit(ctx, url.Values{"pageid": {strconv.FormatInt(pageID, 10)}, "nocreate": {"1"}}, text, summary)
}

// SaveTextByTitle replaces, or creates, the titled page.
func (c *Client) SaveTextByTitle(ctx context.Context, title, text, summary string) error {
	return c.edit(ctx, url.Values{"title": {title}}, text, summary)
}

func (c *Client) edit(ctx context.Context, target url.Values, text, summary string) error {
	if err := c.Login(ctx); err != nil {
		return err
	}
	token, err := c.token(ctx, "csrf")
	if err != nil {
		return err
	}
	form := url.Values{
		"action":  {"edit"},
		"text":    {text},
		"summary": {summary},
		"bot":     {"1"},
		"token":   {token},
	}
	for k, v := range target {
		form[k] = v
	}
	var resp struct {
		Edit struct {
			Result string `json:"result"`
		} `json:"edit"`
	}
	if err := c.post(ctx, form, &resp); err != nil {
		return fmt.Errorf("edit %s: %w", target.Encode(), err)
	}
	if resp.Edit.Result != "Success" {
		return fmt.Errorf("edit %s: result %q", target.Encode(), resp.Edit.Result)
	}
	return nil
}

// ExternalLinks walks every external link recorded by the wiki, calling fn
// with the URL and the id of the page that contains it.
func (c *Client) ExternalLinks(ctx context.Context, fn func(rawURL string, pageID int64) error) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}
	cont := url.Values{}
	for {
		params := url.Values{
			"action":  {"query"},
			"list":    {"exturlusage"},
			"euprop":  {"ids|url"},
			"eulimit": {"max"},
		}
		for k, v := range cont {
			params[k] = v
		}
		var resp struct {
			Continue map[string]any `json:"continue"`
			Query    struct {
				ExtURLUsage []struct {
					PageID int64  `json:"pageid"`
					URL    string `json:"url"`
				} `json:"exturlusage"`
			} `json:"query"`
		}
		if err := c.get(ctx, params, &resp); err != nil {
			return fmt.Errorf("list external links: %w", err)
		}
		for _, item := range resp.Query.ExtURLUsage {
			if err := fn(item.URL, item.PageID); err != nil {
				return err
			}
		}
		if len(resp.Continue) == 0 {
			return nil
		}
		cont = url.Values{}
		for k, v := range resp.Continue {
			cont.Set(k, fmt.Sprint(v))
		}
	}
}

func (c *Client) token(ctx context.Context, kind string) (string, error) {
	var resp struct {
		Query struct {
			Tokens map[string]string `json:"tokens"`
		} `json:"query"`
	}
	params := url.Values{"action": {"query"}, "meta": {"tokens"}, "type": {kind}}
	if err := c.get(ctx, params, &resp); err != nil {
		return "", fmt.Errorf("fetch %s token: %w", kind, err)
	}
	token := resp.Query.Tokens[kind+"token"]
	if token == "" {
		return "", fmt.Errorf("fetch %s token: empty token", kind)
	}
	return token, nil
}

func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	params.Set("format", "json")
	params.Set("formatversion", "2")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, form url.Values, out any) error {
	form.Set("format", "json")
	form.Set("formatversion", "2")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
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
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
