package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/portfolio-discovery/internal/model"
)

// PageFetcher fetches many URLs and returns the pages that succeeded, keyed
// by requested URL. *scrape.Chain implements it.
type PageFetcher interface {
	ScrapeAll(ctx context.Context, urls []string, maxConcurrent int) map[string]model.CrawledPage
}

// Crawler turns the finder's URLs into page content. Individual failures
// are logged by the fetcher and never fail the stage.
type Crawler struct {
	fetcher     PageFetcher
	concurrency int
}

func NewCrawler(fetcher PageFetcher, concurrency int) *Crawler {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Crawler{fetcher: fetcher, concurrency: concurrency}
}

func (c *Crawler) Name() model.StepID { return model.StepCrawler }

func (c *Crawler) Run(ctx context.Context, in State) (State, error) {
	if len(in.URLs) == 0 {
		return in.WithPages(map[string]string{}), nil
	}

	fetched := c.fetcher.ScrapeAll(ctx, in.URLs, c.concurrency)
	pages := make(map[string]string, len(fetched))
	for u, p := range fetched {
		if strings.TrimSpace(p.Markdown) == "" {
			continue
		}
		pages[u] = p.Markdown
	}

	zap.L().Info("crawler: crawl complete",
		zap.String("run_id", in.RunID),
		zap.Int("requested", len(in.URLs)),
		zap.Int("crawled", len(pages)),
	)
	return in.WithPages(pages), nil
}
