// Package firecrawl is a client for the Firecrawl scrape API. The scrape
// chain uses it last, for pages the local fetcher and Jina could not read.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-discovery/internal/resilience"
)

const defaultBaseURL = "https://api.firecrawl.dev/v1"

// Client defines the Firecrawl operations used by the scrape chain.
type Client interface {
	Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResponse, error)
	BatchScrape(ctx context.Context, req BatchScrapeRequest) (*BatchScrapeResponse, error)
	GetBatchScrapeStatus(ctx context.Context, id string) (*BatchScrapeStatusResponse, error)
}

// ScrapeRequest is the body for POST /scrape.
type ScrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats,omitempty"`
}

// ScrapeResponse is the response from POST /scrape.
type ScrapeResponse struct {
	Success bool     `json:"success"`
	Data    PageData `json:"data"`
}

// BatchScrapeRequest is the body for POST /batch/scrape.
type BatchScrapeRequest struct {
	URLs    []string `json:"urls"`
	Formats []string `json:"formats,omitempty"`
}

// BatchScrapeResponse is the response from POST /batch/scrape.
type BatchScrapeResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// BatchScrapeStatusResponse is the response from GET /batch/scrape/{id}.
type BatchScrapeStatusResponse struct {
	Status string     `json:"status"`
	Total  int        `json:"total"`
	Data   []PageData `json:"data"`
}

// PageData is one scraped page.
type PageData struct {
	URL        string `json:"url"`
	Markdown   string `json:"markdown"`
	Title      string `json:"title"`
	StatusCode int    `json:"statusCode"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
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
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a Firecrawl client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
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
	c.retry.OnRetry = resilience.RetryLogger("firecrawl", "request")
	return c
}

func (c *httpClient) Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResponse, error) {
	var resp ScrapeResponse
	if err := c.do(ctx, http.MethodPost, "/scrape", req, &resp); err != nil {
		return nil, eris.Wrap(err, "firecrawl: scrape")
	}
	return &resp, nil
}

func (c *httpClient) BatchScrape(ctx context.Context, req BatchScrapeRequest) (*BatchScrapeResponse, error) {
	var resp BatchScrapeResponse
	if err := c.do(ctx, http.MethodPost, "/batch/scrape", req, &resp); err != nil {
		return nil, eris.Wrap(err, "firecrawl: start batch scrape")
	}
	return &resp, nil
}

func (c *httpClient) GetBatchScrapeStatus(ctx context.Context, id string) (*BatchScrapeStatusResponse, error) {
	var resp BatchScrapeStatusResponse
	if err := c.do(ctx, http.MethodGet, "/batch/scrape/"+id, nil, &resp); err != nil {
		return nil, eris.Wrapf(err, "firecrawl: get batch scrape status %s", id)
	}
	return &resp, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, body, out any) error {
	var buf []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
		buf = b
	}

	data, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		var rdr io.Reader
		if buf != nil {
			rdr = bytes.NewReader(buf)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		if buf != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "read response body")
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &resilience.StatusError{Service: "firecrawl", StatusCode: resp.StatusCode, Body: string(data)}
		}
		return data, nil
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
