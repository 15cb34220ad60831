package scrape

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-discovery/internal/model"
	"github.com/sells-group/portfolio-discovery/internal/resilience"
	"github.com/sells-group/portfolio-discovery/pkg/jina"
)

const minContentLen = 100

var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"attention required",
}

// JinaAdapter is a Scraper over Jina Reader guarded by a circuit breaker.
type JinaAdapter struct {
	client  jina.Client
	breaker *resilience.Breaker
}

// NewJinaAdapter creates a JinaAdapter. Three failures within 30s open the
// breaker for 60s, during which the chain skips Jina.
func NewJinaAdapter(client jina.Client) *JinaAdapter {
	return &JinaAdapter{
		client:  client,
		breaker: resilience.NewBreaker("jina", 3, 30*time.Second, 60*time.Second),
	}
}

func (j *JinaAdapter) Name() string { return "jina" }

func (j *JinaAdapter) Supports(_ string) bool { return !j.breaker.Open() }

func (j *JinaAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	if j.breaker.Open() {
		return nil, eris.New("jina: circuit open")
	}

	resp, err := j.client.Read(ctx, targetURL)
	if err != nil {
		j.breaker.Failure()
		return nil, err
	}
	if unusable(resp) {
		j.breaker.Failure()
		return nil, eris.Errorf("jina: unusable content for %s", targetURL)
	}

	j.breaker.Success()
	pageURL := resp.Data.URL
	if pageURL == "" {
		pageURL = targetURL
	}
	return &Result{
		Page: model.CrawledPage{
			URL:        pageURL,
			Title:      resp.Data.Title,
			Markdown:   model.SanitizeUTF8(resp.Data.Content),
			StatusCode: resp.Code,
		},
		Source: "jina",
	}, nil
}

// unusable reports a non-200 envelope, near-empty content, or a short
// bot-challenge page.
func unusable(resp *jina.ReadResponse) bool {
	if resp == nil {
		return true
	}
	if resp.Code != 0 && resp.Code != 200 {
		return true
	}
	content := strings.TrimSpace(resp.Data.Content)
	if len(content) < minContentLen {
		return true
	}
	if len(content) >= 1000 {
		return false
	}
	lower := strings.ToLower(content)
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
