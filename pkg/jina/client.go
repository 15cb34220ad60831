// Package jina is a client for the Jina Reader (r.jina.ai) and Search
// (s.jina.ai) APIs. The finder uses Search to locate portfolio pages and the
// scrape chain uses Read as its hosted fallback.
package jina

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-discovery/internal/resilience"
)

const (
	defaultReadURL   = "https://r.jina.ai"
	defaultSearchURL = "https://s.jina.ai"
	maxBody          = 4 << 20
)

// Client defines the Jina operations used by discovery.
type Client interface {
	Read(ctx context.Context, targetURL string) (*ReadResponse, error)
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
}

// ReadResponse is the Reader API envelope.
type ReadResponse struct {
	Code int      `json:"code"`
	Data ReadData `json:"data"`
}

// ReadData is the page content returned by Reader.
type ReadData struct {
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	Content string    `json:"content"`
	Usage   ReadUsage `json:"usage"`
}

// ReadUsage reports token consumption.
type ReadUsage struct {
	Tokens int `json:"tokens"`
}

// SearchResponse is the Search API envelope.
type SearchResponse struct {
	Code int            `json:"code"`
	Data []SearchResult `json:"data"`
}

// URLs returns the non-empty result URLs in rank order.
func (r *SearchResponse) URLs() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Data))
	for _, d := range r.Data {
		if u := strings.TrimSpace(d.URL); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// SearchResult is one ranked hit.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// SearchOption configures a search.
type SearchOption func(*searchOpts)

type searchOpts struct {
	site string
}

// WithSiteFilter restricts results to one domain.
func WithSiteFilter(domain string) SearchOption {
	return func(o *searchOpts) { o.site = domain }
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the Reader endpoint.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.readURL = u }
}

// WithSearchBaseURL overrides the Search endpoint.
func WithSearchBaseURL(u string) Option {
	return func(c *httpClient) { c.searchURL = u }
}

// WithHTTPClient sets the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

type httpClient struct {
	apiKey    string
	readURL   string
	searchURL string
	http      *http.Client
	retry     resilience.RetryConfig
}

// NewClient creates a Jina client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:    apiKey,
		readURL:   defaultReadURL,
		searchURL: defaultSearchURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry.OnRetry = resilience.RetryLogger("jina", "request")
	return c
}

func (c *httpClient) Read(ctx context.Context, targetURL string) (*ReadResponse, error) {
	body, status, err := c.get(ctx, c.readURL+"/"+targetURL, map[string]string{
		"X-Return-Format": "markdown",
	})
	if err != nil {
		return nil, eris.Wrap(err, "jina: read")
	}
	if status != http.StatusOK {
		return nil, &resilience.StatusError{Service: "jina", StatusCode: status, Body: string(body)}
	}

	var out ReadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal read response")
	}
	return &out, nil
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	so := searchOpts{}
	for _, opt := range opts {
		opt(&so)
	}

	reqURL := c.searchURL + "/" + url.PathEscape(query)
	if so.site != "" {
		reqURL += "?site=" + url.QueryEscape(so.site)
	}

	body, status, err := c.get(ctx, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: search")
	}
	// 422 means no results for the query.
	if status == http.StatusUnprocessableEntity {
		return &SearchResponse{Code: status}, nil
	}
	if status != http.StatusOK {
		return nil, &resilience.StatusError{Service: "jina", StatusCode: status, Body: string(body)}
	}

	var out SearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal search response")
	}
	return &out, nil
}

type rawResponse struct {
	body   []byte
	status int
}

// get retries transient failures and returns the final status and body.
func (c *httpClient) get(ctx context.Context, reqURL string, headers map[string]string) ([]byte, int, error) {
	res, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (rawResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return rawResponse{}, eris.Wrap(err, "create request")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return rawResponse{}, err
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return rawResponse{}, eris.Wrap(err, "read response body")
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return rawResponse{}, &resilience.StatusError{Service: "jina", StatusCode: resp.StatusCode, Body: string(body)}
		}
		return rawResponse{body: body, status: resp.StatusCode}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return res.body, res.status, nil
}
