package firecrawl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portfolio-discovery/internal/resilience"
)

func newTestClient(url string) Client {
	return NewClient("fc-key",
		WithBaseURL(url),
		WithRetry(resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}),
	)
}

func TestScrape(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/scrape", r.URL.Path)
		assert.Equal(t, "Bearer fc-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ScrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://acmecap.com/portfolio", req.URL)
		assert.Equal(t, []string{"markdown"}, req.Formats)

		_, _ = w.Write([]byte(`{"success":true,"data":{"url":"https://acmecap.com/portfolio","markdown":"# Portfolio","title":"Portfolio","statusCode":200}}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Scrape(context.Background(), ScrapeRequest{
		URL:     "https://acmecap.com/portfolio",
		Formats: []string{"markdown"},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "# Portfolio", resp.Data.Markdown)
	assert.Equal(t, 200, resp.Data.StatusCode)
}

func TestScrape_StatusError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":"credits exhausted"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Scrape(context.Background(), ScrapeRequest{URL: "https://x.com"})
	require.Error(t, err)

	var se *resilience.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusPaymentRequired, se.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestScrape_RetriesServerError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"markdown":"ok"}}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Scrape(context.Background(), ScrapeRequest{URL: "https://x.com"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Data.Markdown)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBatchScrape(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/batch/scrape", r.URL.Path)
		var req BatchScrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.URLs, 2)
		_, _ = w.Write([]byte(`{"success":true,"id":"batch-1"}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).BatchScrape(context.Background(), BatchScrapeRequest{
		URLs: []string{"https://a.com", "https://b.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "batch-1", resp.ID)
}

func TestGetBatchScrapeStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/batch/scrape/batch-1", r.URL.Path)
		assert.Empty(t, r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"status":"completed","total":1,"data":[{"url":"https://a.com","markdown":"A"}]}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).GetBatchScrapeStatus(context.Background(), "batch-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", resp.Status)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "A", resp.Data[0].Markdown)
}

func TestMalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Scrape(context.Background(), ScrapeRequest{URL: "https://x.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}
