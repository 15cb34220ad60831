package scrape

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portfolio-discovery/internal/model"
	"github.com/sells-group/portfolio-discovery/pkg/firecrawl"
	firecrawlmocks "github.com/sells-group/portfolio-discovery/pkg/firecrawl/mocks"
)

type stubScraper struct {
	name     string
	supports bool
	pages    map[string]string
	err      error

	mu    sync.Mutex
	calls []string
}

func (s *stubScraper) Name() string { return s.name }

func (s *stubScraper) Supports(_ string) bool { return s.supports }

func (s *stubScraper) Scrape(_ context.Context, u string) (*Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, u)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	md, ok := s.pages[u]
	if !ok {
		return nil, errors.New("not found")
	}
	return &Result{Page: model.CrawledPage{URL: u, Markdown: md}, Source: s.name}, nil
}

func TestChain_Scrape_FirstSuccessWins(t *testing.T) {
	primary := &stubScraper{name: "primary", supports: true, pages: map[string]string{"https://kohlberg.com/portfolio": "Acme Widgets"}}
	fallback := &stubScraper{name: "fallback", supports: true}

	res, err := NewChain(nil, primary, fallback).Scrape(context.Background(), "https://kohlberg.com/portfolio")
	require.NoError(t, err)
	assert.Equal(t, "primary", res.Source)
	assert.Empty(t, fallback.calls)
}

func TestChain_Scrape_FallsThrough(t *testing.T) {
	primary := &stubScraper{name: "primary", supports: true, err: errors.New("blocked")}
	skipped := &stubScraper{name: "skipped", supports: false}
	fallback := &stubScraper{name: "fallback", supports: true, pages: map[string]string{"https://a.com/x": "body"}}

	res, err := NewChain(nil, primary, skipped, fallback).Scrape(context.Background(), "https://a.com/x")
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Source)
	assert.Empty(t, skipped.calls)
}

func TestChain_Scrape_AllFail(t *testing.T) {
	s1 := &stubScraper{name: "one", supports: true, err: errors.New("boom")}
	_, err := NewChain(nil, s1).Scrape(context.Background(), "https://a.com/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all scrapers failed")
}

func TestChain_Scrape_NoneSupport(t *testing.T) {
	s1 := &stubScraper{name: "one", supports: false}
	_, err := NewChain(nil, s1).Scrape(context.Background(), "https://a.com/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scraper available")
}

func TestChain_Scrape_Excluded(t *testing.T) {
	s1 := &stubScraper{name: "one", supports: true}
	_, err := NewChain(NewPathMatcher([]string{"/careers/*"}), s1).Scrape(context.Background(), "https://a.com/careers/eng")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "excluded")
	assert.Empty(t, s1.calls)
}

func TestChain_ScrapeAll_KeyedByRequestedURL(t *testing.T) {
	s := &stubScraper{name: "primary", supports: true, pages: map[string]string{
		"https://a.com/portfolio": "one",
		"https://a.com/companies": "two",
	}}
	urls := []string{"https://a.com/portfolio", "https://a.com/companies", "https://a.com/missing", "https://a.com/careers/x"}

	pages := NewChain(NewPathMatcher([]string{"/careers/*"}), s).ScrapeAll(context.Background(), urls, 2)
	require.Len(t, pages, 2)
	assert.Equal(t, "one", pages["https://a.com/portfolio"].Markdown)
	assert.Equal(t, "two", pages["https://a.com/companies"].Markdown)
	assert.NotContains(t, s.calls, "https://a.com/careers/x")
}

func TestChain_ScrapeAll_FirecrawlBatchForMisses(t *testing.T) {
	local := &stubScraper{name: localName, supports: true, pages: map[string]string{"https://a.com/ok": "local"}}
	fc := firecrawlmocks.NewMockClient(t)

	fc.On("BatchScrape", mock.Anything, firecrawl.BatchScrapeRequest{
		URLs:    []string{"https://a.com/hard"},
		Formats: []string{"markdown"},
	}).Return(&firecrawl.BatchScrapeResponse{Success: true, ID: "job-1"}, nil)
	fc.On("GetBatchScrapeStatus", mock.Anything, "job-1").Return(&firecrawl.BatchScrapeStatusResponse{
		Status: "completed",
		Data:   []firecrawl.PageData{{URL: "https://a.com/hard", Markdown: "from firecrawl", Title: "Hard"}},
	}, nil)

	chain := NewChain(nil, local, NewFirecrawlAdapter(fc)).
		WithFirecrawlBatch(fc, firecrawl.WithPollInterval(time.Millisecond))

	pages := chain.ScrapeAll(context.Background(), []string{"https://a.com/ok", "https://a.com/hard"}, 4)
	require.Len(t, pages, 2)
	assert.Equal(t, "local", pages["https://a.com/ok"].Markdown)
	assert.Equal(t, "from firecrawl", pages["https://a.com/hard"].Markdown)
}

func TestChain_ScrapeAll_BatchFailureIsSoft(t *testing.T) {
	local := &stubScraper{name: localName, supports: true, pages: map[string]string{"https://a.com/ok": "local"}}
	fc := firecrawlmocks.NewMockClient(t)
	fc.On("BatchScrape", mock.Anything, mock.Anything).Return(nil, errors.New("quota"))

	chain := NewChain(nil, local, NewFirecrawlAdapter(fc)).WithFirecrawlBatch(fc)
	pages := chain.ScrapeAll(context.Background(), []string{"https://a.com/ok", "https://a.com/hard"}, 2)
	assert.Len(t, pages, 1)
}

func TestChain_ScrapeAll_RespectsConcurrency(t *testing.T) {
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	s := &funcScraper{fn: func(u string) (*Result, error) {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return &Result{Page: model.CrawledPage{URL: u, Markdown: strings.Repeat("x", 10)}}, nil
	}}

	var urls []string
	for i := 0; i < 10; i++ {
		urls = append(urls, "https://a.com/p"+string(rune('a'+i)))
	}
	pages := NewChain(nil, s).ScrapeAll(context.Background(), urls, 3)
	assert.Len(t, pages, 10)
	assert.LessOrEqual(t, maxSeen, 3)
}

type funcScraper struct {
	fn func(string) (*Result, error)
}

func (f *funcScraper) Name() string { return "func" }

func (f *funcScraper) Supports(_ string) bool { return true }

func (f *funcScraper) Scrape(_ context.Context, u string) (*Result, error) { return f.fn(u) }
