// Package scrape fetches portfolio pages through an ordered chain of
// scrapers: a local goquery fetcher first, then hosted readers.
package scrape

import (
	"context"

	"github.com/sells-group/portfolio-discovery/internal/model"
)

// Result is one fetched page and the scraper that produced it.
type Result struct {
	Page   model.CrawledPage
	Source string
}

// Scraper fetches a single URL.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	// Supports reports whether the scraper should be tried for url right now.
	Supports(url string) bool
}
