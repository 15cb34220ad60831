package firecrawl

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusClient struct {
	status func(ctx context.Context, id string) (*BatchScrapeStatusResponse, error)
}

func (s *statusClient) Scrape(context.Context, ScrapeRequest) (*ScrapeResponse, error) {
	return nil, nil
}

func (s *statusClient) BatchScrape(context.Context, BatchScrapeRequest) (*BatchScrapeResponse, error) {
	return nil, nil
}

func (s *statusClient) GetBatchScrapeStatus(ctx context.Context, id string) (*BatchScrapeStatusResponse, error) {
	return s.status(ctx, id)
}

func fastPoll() []PollOption {
	return []PollOption{
		WithPollInterval(time.Millisecond),
		WithPollCap(5 * time.Millisecond),
		WithPollTimeout(time.Second),
	}
}

func TestPollBatchScrape_CompletesAfterPending(t *testing.T) {
	var calls atomic.Int32
	c := &statusClient{status: func(context.Context, string) (*BatchScrapeStatusResponse, error) {
		if calls.Add(1) < 3 {
			return &BatchScrapeStatusResponse{Status: "scraping"}, nil
		}
		return &BatchScrapeStatusResponse{Status: "completed", Data: []PageData{{URL: "https://a.com"}}}, nil
	}}

	resp, err := PollBatchScrape(context.Background(), c, "b1", fastPoll()...)
	require.NoError(t, err)
	assert.Len(t, resp.Data, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPollBatchScrape_Failed(t *testing.T) {
	c := &statusClient{status: func(context.Context, string) (*BatchScrapeStatusResponse, error) {
		return &BatchScrapeStatusResponse{Status: "failed"}, nil
	}}

	_, err := PollBatchScrape(context.Background(), c, "b1", fastPoll()...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestPollBatchScrape_ErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	c := &statusClient{status: func(context.Context, string) (*BatchScrapeStatusResponse, error) {
		calls.Add(1)
		return nil, errors.New("boom")
	}}

	_, err := PollBatchScrape(context.Background(), c, "b1", fastPoll()...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, int32(1), calls.Load())
}

func TestPollBatchScrape_Timeout(t *testing.T) {
	c := &statusClient{status: func(context.Context, string) (*BatchScrapeStatusResponse, error) {
		return &BatchScrapeStatusResponse{Status: "scraping"}, nil
	}}

	_, err := PollBatchScrape(context.Background(), c, "b1",
		WithPollInterval(time.Millisecond),
		WithPollCap(2*time.Millisecond),
		WithPollTimeout(30*time.Millisecond),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}
