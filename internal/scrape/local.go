package scrape

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/portfolio-discovery/internal/model"
)

const (
	localName    = "local_http"
	maxBodyBytes = 1 << 20
)

// LocalScraper fetches HTML directly and reduces it to text with goquery.
// Requests to the same host are spaced by a token-bucket limiter.
type LocalScraper struct {
	client    *http.Client
	userAgent string
	perSecond rate.Limit

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// LocalOption configures a LocalScraper.
type LocalOption func(*LocalScraper)

// WithLocalHTTPClient replaces the default HTTP client.
func WithLocalHTTPClient(c *http.Client) LocalOption {
	return func(l *LocalScraper) { l.client = c }
}

// WithHostRate sets the per-host request rate. Zero or negative disables
// limiting.
func WithHostRate(perSecond float64) LocalOption {
	return func(l *LocalScraper) {
		if perSecond <= 0 {
			l.perSecond = rate.Inf
			return
		}
		l.perSecond = rate.Limit(perSecond)
	}
}

// NewLocalScraper creates a LocalScraper limited to 2 requests/sec per host.
func NewLocalScraper(opts ...LocalOption) *LocalScraper {
	l := &LocalScraper{
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		userAgent: "Mozilla/5.0 (compatible; PortfolioDiscovery/1.0)",
		perSecond: 2,
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *LocalScraper) Name() string { return localName }

func (l *LocalScraper) Supports(_ string) bool { return true }

func (l *LocalScraper) limiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.perSecond, 1)
		l.limiters[host] = lim
	}
	return lim
}

func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	u, err := url.Parse(targetURL)
	if err != nil || u.Host == "" {
		return nil, eris.Errorf("local_http: invalid url %q", targetURL)
	}
	if err := l.limiter(strings.ToLower(u.Host)).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "local_http: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: create request")
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "local_http: read body")
	}

	if blocked, kind := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("local_http: blocked (%s)", kind)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("local_http: status %d", resp.StatusCode)
	}

	title, text, err := ExtractText(body)
	if err != nil {
		return nil, err
	}
	if len(text) < minContentLen {
		return nil, eris.New("local_http: empty page")
	}

	return &Result{
		Page: model.CrawledPage{
			URL:        targetURL,
			Title:      title,
			Markdown:   model.SanitizeUTF8(text),
			StatusCode: resp.StatusCode,
		},
		Source: localName,
	}, nil
}

var (
	spaceRun   = regexp.MustCompile(`[ \t\r\f\v]+`)
	newlineRun = regexp.MustCompile(`\n\s*\n+`)
)

// ExtractText parses an HTML document and returns its title and visible
// body text. Script, style, navigation and footer elements are dropped.
func ExtractText(body []byte) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", eris.Wrap(err, "local_http: parse html")
	}
	title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script, style, noscript, nav, footer, svg, iframe").Remove()
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6, tr, br, section, article").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	raw := doc.Find("body").Text()
	if raw == "" {
		raw = doc.Text()
	}
	raw = spaceRun.ReplaceAllString(raw, " ")
	lines := strings.Split(raw, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimSpace(ln)
	}
	text = newlineRun.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return title, strings.TrimSpace(text), nil
}
