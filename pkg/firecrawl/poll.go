package firecrawl

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rotisserie/eris"
)

const (
	defaultPollInitial = 2 * time.Second
	defaultPollCap     = 15 * time.Second
	defaultPollTimeout = 5 * time.Minute
)

var errPending = errors.New("firecrawl: batch pending")

// PollOption configures PollBatchScrape.
type PollOption func(*pollConfig)

type pollConfig struct {
	initial time.Duration
	cap     time.Duration
	timeout time.Duration
}

// WithPollInterval sets the first wait between status checks.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) { c.initial = d }
}

// WithPollCap caps the wait between status checks.
func WithPollCap(d time.Duration) PollOption {
	return func(c *pollConfig) { c.cap = d }
}

// WithPollTimeout bounds total polling time.
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) { c.timeout = d }
}

// PollBatchScrape checks a batch job with exponential backoff until it
// completes, fails, times out, or ctx is done.
func PollBatchScrape(ctx context.Context, client Client, id string, opts ...PollOption) (*BatchScrapeStatusResponse, error) {
	cfg := pollConfig{initial: defaultPollInitial, cap: defaultPollCap, timeout: defaultPollTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.initial
	bo.MaxInterval = cfg.cap
	bo.MaxElapsedTime = cfg.timeout
	bo.RandomizationFactor = 0

	var result *BatchScrapeStatusResponse
	err := backoff.Retry(func() error {
		status, err := client.GetBatchScrapeStatus(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		switch status.Status {
		case "completed":
			result = status
			return nil
		case "failed":
			return backoff.Permanent(eris.Errorf("firecrawl: batch scrape %s failed", id))
		}
		return errPending
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		if errors.Is(err, errPending) {
			return nil, eris.Errorf("firecrawl: poll batch scrape %s timed out", id)
		}
		return nil, eris.Wrapf(err, "firecrawl: poll batch scrape %s", id)
	}
	return result, nil
}
