package pipeline

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-discovery/internal/model"
	"github.com/sells-group/portfolio-discovery/pkg/jina"
)

const defaultMaxURLs = 8

// Finder produces candidate source URLs for a sponsor: the caller-supplied
// portfolio URL first, then web search results.
type Finder struct {
	search  jina.Client
	maxURLs int
}

// NewFinder creates a Finder. maxURLs <= 0 selects the default cap.
func NewFinder(search jina.Client, maxURLs int) *Finder {
	if maxURLs <= 0 {
		maxURLs = defaultMaxURLs
	}
	return &Finder{search: search, maxURLs: maxURLs}
}

func (f *Finder) Name() model.StepID { return model.StepFinder }

func (f *Finder) Run(ctx context.Context, in State) (State, error) {
	query := strings.TrimSpace(in.SponsorName)
	var urls []string
	if in.PortfolioURL != "" {
		urls = append(urls, in.PortfolioURL)
	}
	if query == "" {
		return in.WithURLs(dedupeURLs(urls, f.maxURLs)), nil
	}

	if f.search != nil {
		resp, err := f.search.Search(ctx, query+" portfolio companies")
		switch {
		case err != nil && len(urls) == 0:
			return in, eris.Wrap(err, "finder: search")
		case err != nil:
			zap.L().Warn("finder: search failed, continuing with seed url",
				zap.String("run_id", in.RunID), zap.Error(err))
		default:
			urls = append(urls, resp.URLs()...)
		}
	}

	out := dedupeURLs(urls, f.maxURLs)
	zap.L().Info("finder: urls found",
		zap.String("run_id", in.RunID),
		zap.String("sponsor", in.SponsorName),
		zap.Int("urls", len(out)),
	)
	return in.WithURLs(out), nil
}

// dedupeURLs canonicalizes http(s) URLs, drops duplicates and anything
// unparseable, and keeps the first limit in order.
func dedupeURLs(raw []string, limit int) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		c, ok := canonicalURL(r)
		if !ok || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out
}

func canonicalURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String(), true
}
