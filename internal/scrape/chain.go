package scrape

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/portfolio-discovery/internal/model"
	"github.com/sells-group/portfolio-discovery/pkg/firecrawl"
)

const firecrawlName = "firecrawl"

// Chain tries scrapers in priority order and returns the first success.
type Chain struct {
	PathMatcher *PathMatcher
	scrapers    []Scraper
	batch       firecrawl.Client
	pollOpts    []firecrawl.PollOption
}

// NewChain creates a Chain. Scrapers are tried in the order given.
func NewChain(matcher *PathMatcher, scrapers ...Scraper) *Chain {
	if matcher == nil {
		matcher = NewPathMatcher(nil)
	}
	return &Chain{PathMatcher: matcher, scrapers: scrapers}
}

// WithFirecrawlBatch makes ScrapeAll collect URLs that every other scraper
// missed and send them to Firecrawl in one batch job. It only applies when
// the last scraper in the chain is the Firecrawl adapter.
func (c *Chain) WithFirecrawlBatch(fc firecrawl.Client, opts ...firecrawl.PollOption) *Chain {
	c.batch = fc
	c.pollOpts = opts
	return c
}

// Scrape tries each supporting scraper for one URL.
func (c *Chain) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	return c.scrapeWith(ctx, c.scrapers, targetURL)
}

func (c *Chain) scrapeWith(ctx context.Context, scrapers []Scraper, targetURL string) (*Result, error) {
	if c.PathMatcher.IsExcluded(targetURL) {
		return nil, eris.Errorf("scrape: url excluded: %s", targetURL)
	}

	var lastErr error
	for _, s := range scrapers {
		if !s.Supports(targetURL) {
			continue
		}
		res, err := s.Scrape(ctx, targetURL)
		if err == nil && res != nil {
			return res, nil
		}
		if err != nil {
			zap.L().Debug("scrape: scraper failed, trying next",
				zap.String("scraper", s.Name()),
				zap.String("url", targetURL),
				zap.Error(err),
			)
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, eris.Wrapf(lastErr, "scrape: all scrapers failed for %s", targetURL)
	}
	return nil, eris.Errorf("scrape: no scraper available for %s", targetURL)
}

// ScrapeAll fetches urls with at most maxConcurrent in flight and returns
// the pages keyed by requested URL. Failed or excluded URLs are absent from
// the result; they are logged, never returned as errors.
func (c *Chain) ScrapeAll(ctx context.Context, urls []string, maxConcurrent int) map[string]model.CrawledPage {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	primary := c.scrapers
	useBatch := false
	if n := len(c.scrapers); c.batch != nil && n > 1 && c.scrapers[n-1].Name() == firecrawlName {
		primary = c.scrapers[:n-1]
		useBatch = true
	}

	var (
		mu     sync.Mutex
		pages  = make(map[string]model.CrawledPage, len(urls))
		missed []string
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for _, u := range urls {
		g.Go(func() error {
			if c.PathMatcher.IsExcluded(u) {
				zap.L().Debug("scrape: skipping excluded url", zap.String("url", u))
				return nil
			}
			res, err := c.scrapeWith(gCtx, primary, u)
			if err == nil {
				mu.Lock()
				pages[u] = res.Page
				mu.Unlock()
				return nil
			}
			if useBatch {
				mu.Lock()
				missed = append(missed, u)
				mu.Unlock()
				return nil
			}
			zap.L().Info("scrape: url failed", zap.String("url", u), zap.Error(err))
			return nil
		})
	}
	_ = g.Wait()

	if useBatch && len(missed) > 0 {
		for u, p := range c.batchScrape(ctx, missed) {
			pages[u] = p
		}
	}
	return pages
}

// batchScrape submits urls as one Firecrawl batch and maps results back to
// the requested URLs where the returned URL matches.
func (c *Chain) batchScrape(ctx context.Context, urls []string) map[string]model.CrawledPage {
	log := zap.L().With(zap.Int("urls", len(urls)))
	log.Info("scrape: batch-scraping via firecrawl")

	resp, err := c.batch.BatchScrape(ctx, firecrawl.BatchScrapeRequest{
		URLs:    urls,
		Formats: []string{"markdown"},
	})
	if err != nil {
		log.Warn("scrape: firecrawl batch scrape failed", zap.Error(err))
		return nil
	}

	opts := c.pollOpts
	if len(opts) == 0 {
		opts = []firecrawl.PollOption{
			firecrawl.WithPollInterval(2 * time.Second),
			firecrawl.WithPollCap(10 * time.Second),
		}
	}
	status, err := firecrawl.PollBatchScrape(ctx, c.batch, resp.ID, opts...)
	if err != nil {
		log.Warn("scrape: firecrawl batch poll failed", zap.Error(err))
		return nil
	}

	requested := make(map[string]bool, len(urls))
	for _, u := range urls {
		requested[u] = true
	}

	out := make(map[string]model.CrawledPage)
	for _, d := range status.Data {
		if d.Markdown == "" {
			continue
		}
		key := d.URL
		if !requested[key] && len(urls) == 1 {
			key = urls[0]
		}
		out[key] = model.CrawledPage{
			URL:        d.URL,
			Title:      d.Title,
			Markdown:   d.Markdown,
			StatusCode: d.StatusCode,
		}
	}
	log.Info("scrape: firecrawl batch complete", zap.Int("received", len(out)))
	return out
}
