// Package mocks provides test doubles for the firecrawl client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	firecrawl "github.com/sells-group/portfolio-discovery/pkg/firecrawl"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Scrape provides a mock function with given fields: ctx, req
func (_m *MockClient) Scrape(ctx context.Context, req firecrawl.ScrapeRequest) (*firecrawl.ScrapeResponse, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for Scrape")
	}

	var r0 *firecrawl.ScrapeResponse
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*firecrawl.ScrapeResponse)
	}
	return r0, ret.Error(1)
}

// BatchScrape provides a mock function with given fields: ctx, req
func (_m *MockClient) BatchScrape(ctx context.Context, req firecrawl.BatchScrapeRequest) (*firecrawl.BatchScrapeResponse, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for BatchScrape")
	}

	var r0 *firecrawl.BatchScrapeResponse
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*firecrawl.BatchScrapeResponse)
	}
	return r0, ret.Error(1)
}

// GetBatchScrapeStatus provides a mock function with given fields: ctx, id
func (_m *MockClient) GetBatchScrapeStatus(ctx context.Context, id string) (*firecrawl.BatchScrapeStatusResponse, error) {
	ret := _m.Called(ctx, id)

	if len(ret) == 0 {
		panic("no return value specified for GetBatchScrapeStatus")
	}

	var r0 *firecrawl.BatchScrapeStatusResponse
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*firecrawl.BatchScrapeStatusResponse)
	}
	return r0, ret.Error(1)
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
