// Package synthesis implements the constrained generation stage: one
// external call that must return JSON conforming to the dashboard schema.
// Transport failures surface as RemoteServiceError, nonconforming payloads
// as schema.ViolationError; neither is retried here.
package synthesis

import (
	"context"

	"github.com/harborview/tradescope/internal/model"
	"github.com/harborview/tradescope/internal/resilience"
	"github.com/harborview/tradescope/internal/schema"
	"github.com/harborview/tradescope/pkg/anthropic"
)

const systemText = `You are a trade feasibility analyst. Respond with a single JSON object and nothing else, matching exactly this shape:
{
  "primary": {
    "country": string, "regionCode": string (ISO 3166-1 alpha-2), "currency": string,
    "breakdown": {"baseCost": number, "shipping": number, "tariffs": number, "vat": number, "compliance": number},
    "tariffRate": number, "tariffRateNote": string, "vatRate": number,
    "complianceRisk": "Low" | "Medium" | "High",
    "complianceNotes": string, "tradeBarrierNotes": string,
    "localMarketPrice": number,
    "optimizationStrategy": {
      "taxStrategy": {"title": string, "details": [string], "savingsEstimate": string},
      "vatHandling": {"rate": number, "mechanism": string, "advice": string},
      "complianceDeepDive": {"requiredCertifications": [string], "legalPitfalls": [string]},
      "logisticsStrategy": {"bestRoute": string, "alternativeRoute": string, "transitTime": string}
    },
    "landedCost": number, "profitMargin": number, "roiPercentage": number
  },
  "marketIntelligence": {
    "competitors": [{"name": string, "price": number}],
    "priceRange": {"min": number, "max": number, "average": number},
    "currency": string, "unit": string, "searchNote": string
  },
  "alternatives": [same shape as primary]
}`

const maxOutputTokens = 8192

// Stage performs the synthesis call.
type Stage struct {
	client anthropic.Client
	model  string
}

// New creates a synthesis stage using the given model.
func New(client anthropic.Client, modelID string) *Stage {
	return &Stage{client: client, model: modelID}
}

// Run executes the synthesis call and validates the payload against the
// schema contract.
func (s *Stage) Run(ctx context.Context, instruction string) (*model.DashboardData, *model.TokenUsage, error) {
	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: maxOutputTokens,
		System:    systemText,
		Messages: []anthropic.Message{
			{Role: "user", Content: instruction},
		},
	})
	if err != nil {
		return nil, nil, resilience.NewRemoteServiceError("synthesis", anthropic.StatusCode(err), err)
	}

	usage := &model.TokenUsage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	resp.Usage.LogCost(s.model, "synthesis")

	dashboard, err := schema.Parse(resp.Text)
	if err != nil {
		return nil, usage, err
	}

	return dashboard, usage, nil
}
