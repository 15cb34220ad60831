package scrape

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-discovery/internal/model"
	"github.com/sells-group/portfolio-discovery/pkg/firecrawl"
)

// FirecrawlAdapter is the last-resort Scraper.
type FirecrawlAdapter struct {
	client firecrawl.Client
}

// NewFirecrawlAdapter wraps a Firecrawl client.
func NewFirecrawlAdapter(client firecrawl.Client) *FirecrawlAdapter {
	return &FirecrawlAdapter{client: client}
}

func (f *FirecrawlAdapter) Name() string { return firecrawlName }

func (f *FirecrawlAdapter) Supports(_ string) bool { return true }

func (f *FirecrawlAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:     targetURL,
		Formats: []string{"markdown"},
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success || resp.Data.Markdown == "" {
		return nil, eris.Errorf("firecrawl: no content for %s", targetURL)
	}
	return &Result{
		Page: model.CrawledPage{
			URL:        targetURL,
			Title:      resp.Data.Title,
			Markdown:   model.SanitizeUTF8(resp.Data.Markdown),
			StatusCode: resp.Data.StatusCode,
		},
		Source: firecrawlName,
	}, nil
}
