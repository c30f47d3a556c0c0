// Package research implements the optional web-grounded research stage:
// exactly one external call when grounded, a fixed placeholder with no call
// when not. Failures propagate as RemoteServiceError without internal retry;
// cancellation is the caller's concern via ctx.
package research

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborview/tradescope/internal/model"
	"github.com/harborview/tradescope/internal/prompt"
	"github.com/harborview/tradescope/internal/resilience"
	"github.com/harborview/tradescope/pkg/perplexity"
)

const systemText = "You are a trade compliance researcher. Answer with current, " +
	"sourced figures for tariffs, trade measures, VAT, and market prices. " +
	"Prefer official sources (customs authorities, WTO, official gazettes) and " +
	"recent market listings."

// Stage performs the research call.
type Stage struct {
	client perplexity.Client
}

// New creates a research stage backed by the given client.
func New(client perplexity.Client) *Stage {
	return &Stage{client: client}
}

// Run executes the research stage. When grounded is false it returns the
// placeholder narrative and an empty citation list without any external
// call.
func (s *Stage) Run(ctx context.Context, query string, grounded bool) (*model.ResearchResult, *model.TokenUsage, error) {
	if !grounded {
		return &model.ResearchResult{
			Narrative: prompt.NoResearchPlaceholder,
			Citations: []model.SourceCitation{},
		}, &model.TokenUsage{}, nil
	}

	resp, err := s.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: systemText},
			{Role: "user", Content: query},
		},
	})
	if err != nil {
		var se *perplexity.StatusError
		if errors.As(err, &se) {
			return nil, nil, resilience.NewRemoteServiceError("research", se.StatusCode, err)
		}
		return nil, nil, resilience.NewRemoteServiceError("research", 0, err)
	}

	if len(resp.Choices) == 0 {
		return nil, nil, resilience.NewRemoteServiceError("research", 0,
			eris.New("research: response has no choices"))
	}

	result := &model.ResearchResult{
		Narrative: resp.Choices[0].Message.Content,
		Citations: make([]model.SourceCitation, 0, len(resp.SearchResults)),
	}
	for _, sr := range resp.SearchResults {
		result.Citations = append(result.Citations, model.SourceCitation{
			Title: sr.Title,
			URI:   sr.URL,
		})
	}

	usage := &model.TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}

	zap.L().Debug("research complete",
		zap.Int("citations", len(result.Citations)),
		zap.Int("narrative_chars", len(result.Narrative)),
	)

	return result, usage, nil
}
