package research

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/harborview/tradescope/internal/prompt"
	"github.com/harborview/tradescope/internal/resilience"
	"github.com/harborview/tradescope/pkg/perplexity"
)

type mockPerplexityClient struct{ mock.Mock }

func (m *mockPerplexityClient) ChatCompletion(ctx context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*perplexity.ChatCompletionResponse), args.Error(1)
}

func TestRun_NonGroundedMakesNoCall(t *testing.T) {
	client := &mockPerplexityClient{}
	s := New(client)

	result, usage, err := s.Run(context.Background(), "any query", false)
	require.NoError(t, err)

	assert.Equal(t, prompt.NoResearchPlaceholder, result.Narrative)
	assert.Empty(t, result.Citations)
	assert.NotNil(t, result.Citations) // empty, not nil: serializes as []
	assert.Zero(t, usage.InputTokens+usage.OutputTokens)
	client.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything)
}

func TestRun_GroundedMapsCitationsInOrder(t *testing.T) {
	client := &mockPerplexityClient{}
	client.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(req perplexity.ChatCompletionRequest) bool {
		return len(req.Messages) == 2 && req.Messages[1].Content == "tariffs for widgets"
	})).Return(&perplexity.ChatCompletionResponse{
		Choices: []perplexity.Choice{
			{Message: perplexity.Message{Role: "assistant", Content: "Germany applies 6% duty."}},
		},
		Usage: perplexity.Usage{PromptTokens: 120, CompletionTokens: 480},
		SearchResults: []perplexity.SearchResult{
			{Title: "EU TARIC", URL: "https://example.eu/taric"},
			{Title: "Handelsblatt", URL: "https://example.de/article"},
		},
	}, nil)

	s := New(client)
	result, usage, err := s.Run(context.Background(), "tariffs for widgets", true)
	require.NoError(t, err)

	assert.Equal(t, "Germany applies 6% duty.", result.Narrative)
	require.Len(t, result.Citations, 2)
	assert.Equal(t, "EU TARIC", result.Citations[0].Title)
	assert.Equal(t, "https://example.de/article", result.Citations[1].URI)
	assert.Equal(t, 120, usage.InputTokens)
	assert.Equal(t, 480, usage.OutputTokens)
}

func TestRun_StatusErrorCarriesCode(t *testing.T) {
	client := &mockPerplexityClient{}
	client.On("ChatCompletion", mock.Anything, mock.Anything).
		Return(nil, &perplexity.StatusError{StatusCode: 429, Body: "rate limited"})

	s := New(client)
	_, _, err := s.Run(context.Background(), "q", true)
	require.Error(t, err)
	assert.True(t, resilience.IsRemote(err))
	assert.True(t, resilience.IsRateLimited(err))
}

func TestRun_EmptyChoices(t *testing.T) {
	client := &mockPerplexityClient{}
	client.On("ChatCompletion", mock.Anything, mock.Anything).
		Return(&perplexity.ChatCompletionResponse{}, nil)

	s := New(client)
	_, _, err := s.Run(context.Background(), "q", true)
	require.Error(t, err)
	assert.True(t, resilience.IsRemote(err))
	assert.False(t, resilience.IsRateLimited(err))
}
