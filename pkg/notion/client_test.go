package notion

import (
	"context"
	"net/http"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ampersand-strategies/candidate-tracker/internal/resilience"
)

// MockClient is a testify mock for the Client interface.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *MockClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func TestNewClient_DefaultLimiter(t *testing.T) {
	c := NewClient("secret").(*notionClient)
	assert.NotNil(t, c.limiter)
	assert.InDelta(t, 3.0, float64(c.limiter.Limit()), 0.001)
}

func TestWithRateLimit(t *testing.T) {
	c := NewClient("secret", WithRateLimit(10)).(*notionClient)
	assert.InDelta(t, 10.0, float64(c.limiter.Limit()), 0.001)
	assert.Equal(t, 10, c.limiter.Burst())

	c = NewClient("secret", WithRateLimit(0)).(*notionClient)
	assert.Nil(t, c.limiter)
	assert.NoError(t, c.wait(context.Background()))
}

func TestWait_Cancelled(t *testing.T) {
	c := NewClient("secret", WithRateLimit(0.001)).(*notionClient)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The first token is available immediately; the second must wait.
	_ = c.wait(context.Background())
	assert.Error(t, c.wait(ctx))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		cause     error
		transient bool
		status    int
	}{
		{"rate limited", &notionapi.Error{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "slow down"}, true, 429},
		{"validation", &notionapi.Error{Status: http.StatusBadRequest, Code: "validation_error", Message: "bad property"}, false, 400},
		{"server", &notionapi.Error{Status: http.StatusBadGateway, Message: "bad gateway"}, false, 502},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(eris.Wrap(tt.cause, "notion: create page"), tt.cause)
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
			assert.Equal(t, tt.status, resilience.StatusCode(err))
		})
	}
}

func TestClassify_NonAPIError(t *testing.T) {
	cause := eris.New("boom")
	wrapped := eris.Wrap(cause, "notion: query")
	assert.Equal(t, wrapped, classify(wrapped, cause))
	assert.Equal(t, 0, resilience.StatusCode(wrapped))
}
