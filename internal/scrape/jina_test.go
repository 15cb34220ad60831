package scrape

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portfolio-discovery/pkg/jina"
	jinamocks "github.com/sells-group/portfolio-discovery/pkg/jina/mocks"
)

func TestJinaAdapter_Success(t *testing.T) {
	client := jinamocks.NewMockClient(t)
	content := strings.Repeat("Portfolio: Acme Widgets, Beta Logistics. ", 10)
	client.On("Read", mock.Anything, "https://kohlberg.com/portfolio").Return(&jina.ReadResponse{
		Code: 200,
		Data: jina.ReadData{Title: "Portfolio", URL: "https://kohlberg.com/portfolio", Content: content},
	}, nil)

	res, err := NewJinaAdapter(client).Scrape(context.Background(), "https://kohlberg.com/portfolio")
	require.NoError(t, err)
	assert.Equal(t, "jina", res.Source)
	assert.Equal(t, "Portfolio", res.Page.Title)
	assert.Equal(t, content, res.Page.Markdown)
}

func TestJinaAdapter_ChallengePageRejected(t *testing.T) {
	client := jinamocks.NewMockClient(t)
	client.On("Read", mock.Anything, mock.Anything).Return(&jina.ReadResponse{
		Code: 200,
		Data: jina.ReadData{Content: "Just a moment... Checking your browser before accessing this site. " + strings.Repeat(".", 60)},
	}, nil)

	_, err := NewJinaAdapter(client).Scrape(context.Background(), "https://a.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unusable")
}

func TestJinaAdapter_BreakerOpensAfterFailures(t *testing.T) {
	client := jinamocks.NewMockClient(t)
	client.On("Read", mock.Anything, mock.Anything).Return(nil, errors.New("502")).Times(3)

	a := NewJinaAdapter(client)
	for i := 0; i < 3; i++ {
		_, err := a.Scrape(context.Background(), "https://a.com")
		require.Error(t, err)
	}
	assert.False(t, a.Supports("https://a.com"))

	_, err := a.Scrape(context.Background(), "https://a.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
}

func TestUnusable(t *testing.T) {
	long := strings.Repeat("real content ", 20)
	tests := []struct {
		name string
		resp *jina.ReadResponse
		want bool
	}{
		{"nil", nil, true},
		{"non-200", &jina.ReadResponse{Code: 451, Data: jina.ReadData{Content: long}}, true},
		{"short", &jina.ReadResponse{Code: 200, Data: jina.ReadData{Content: "hi"}}, true},
		{"ok", &jina.ReadResponse{Code: 200, Data: jina.ReadData{Content: long}}, false},
		{"long page mentioning access denied", &jina.ReadResponse{Code: 200, Data: jina.ReadData{Content: strings.Repeat("x", 1200) + " access denied"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, unusable(tt.resp))
		})
	}
}
