package notion

import (
	"context"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/time/rate"
)

// MockClient stands in for the API in sync tests.
type MockClient struct {
	mock.Mock
}

var _ Client = (*MockClient)(nil)

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

func (m *MockClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func TestNewClient_ThrottledByDefault(t *testing.T) {
	c := NewClient("secret-token")
	assert.NotNil(t, c)
	assert.NotNil(t, c.(*apiClient).limiter)
}

func TestWithRateLimit_AdjustsLimiter(t *testing.T) {
	c := NewClient("secret-token", WithRateLimit(10)).(*apiClient)
	assert.NotNil(t, c.limiter)
	assert.InDelta(t, 10.0, float64(c.limiter.Limit()), 1e-9)
}

func TestWithRateLimit_ZeroDisablesThrottle(t *testing.T) {
	c := NewClient("secret-token", WithRateLimit(0)).(*apiClient)
	assert.Nil(t, c.limiter)
}

func TestThrottled_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &apiClient{limiter: newBlockedLimiter()}
	_, err := throttled(ctx, c, func(context.Context) (int, error) {
		t.Error("call must not run once the context is dead")
		return 0, nil
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

// newBlockedLimiter has no tokens available, so Wait always blocks until the
// context is cancelled.
func newBlockedLimiter() *rate.Limiter {
	l := rate.NewLimiter(rate.Every(time.Hour), 1)
	l.Allow()
	return l
}
