package assist

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/harborview/tradescope/internal/resilience"
	"github.com/harborview/tradescope/internal/schema"
	"github.com/harborview/tradescope/pkg/anthropic"
)

type mockAnthropicClient struct{ mock.Mock }

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     1,
	}
}

var smallJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}

func TestIdentifyImage_OK(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) == 1 && req.Messages[0].Image != nil &&
			req.Messages[0].Image.MediaType == "image/jpeg"
	})).Return(&anthropic.MessageResponse{
		Text: "```json\n{\"product_name\": \"Ceramic mug\", \"category\": \"kitchenware\", \"suggested_hs_code\": \"6912.00\", \"estimated_cost\": 2.5, \"unit\": \"per piece\", \"description\": \"Glazed stoneware mug\"}\n```",
	}, nil)

	svc := New(client, "claude-haiku-4-5-20251001", WithRetryConfig(fastRetry()))
	out, err := svc.IdentifyImage(context.Background(), smallJPEG, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "Ceramic mug", out.ProductName)
	assert.Equal(t, "6912.00", out.SuggestedHS)
	assert.InDelta(t, 2.5, out.EstimatedCost, 1e-9)
	client.AssertExpectations(t)
}

func TestIdentifyImage_TooLarge(t *testing.T) {
	client := &mockAnthropicClient{}
	svc := New(client, "m", WithMaxImageBytes(4))

	_, err := svc.IdentifyImage(context.Background(), smallJPEG, "image/jpeg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "byte limit")
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestIdentifyImage_UnsupportedMediaType(t *testing.T) {
	svc := New(&mockAnthropicClient{}, "m")
	_, err := svc.IdentifyImage(context.Background(), smallJPEG, "image/tiff")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported media type")
}

func TestSuggest_OK(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{
		Text: `{"product_name": "Bamboo chopsticks", "suggested_hs_code": "4419.12", "estimated_cost": 0.4, "unit": "per pair", "notes": "Commodity item, price-sensitive"}`,
	}, nil)

	svc := New(client, "claude-haiku-4-5-20251001")
	out, err := svc.Suggest(context.Background(), "bamboo chopsticks")
	require.NoError(t, err)
	assert.Equal(t, "Bamboo chopsticks", out.ProductName)
	assert.Equal(t, "4419.12", out.SuggestedHS)
}

func TestSuggest_MissingProductNameViolation(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{
		Text: `{"suggested_hs_code": "4419.12"}`,
	}, nil)

	svc := New(client, "m")
	_, err := svc.Suggest(context.Background(), "chopsticks")
	require.Error(t, err)
	assert.True(t, schema.IsViolation(err))
}

func TestSuggest_RetriesTransientFailure(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, eris.New("connection reset by peer")).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(&anthropic.MessageResponse{
			Text: `{"product_name": "Chopsticks", "suggested_hs_code": "4419.12"}`,
		}, nil).Once()

	svc := New(client, "m", WithRetryConfig(fastRetry()))
	out, err := svc.Suggest(context.Background(), "chopsticks")
	require.NoError(t, err)
	assert.Equal(t, "Chopsticks", out.ProductName)
	client.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestSuggest_EmptyName(t *testing.T) {
	svc := New(&mockAnthropicClient{}, "m")
	_, err := svc.Suggest(context.Background(), "")
	require.Error(t, err)
}
