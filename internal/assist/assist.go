// Package assist implements the auxiliary seeding calls: identifying a
// product from a photo and suggesting request fields from a free-text name.
// Unlike the main pipeline these calls retry transient failures, since they
// are cheap and carry no run-lifecycle state.
package assist

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/harborview/tradescope/internal/model"
	"github.com/harborview/tradescope/internal/resilience"
	"github.com/harborview/tradescope/internal/schema"
	"github.com/harborview/tradescope/pkg/anthropic"
)

// DefaultMaxImageBytes caps accepted image payloads at 10 MiB.
const DefaultMaxImageBytes = 10 * 1024 * 1024

const maxSeedTokens = 1024

const identifySystem = `You identify trade goods from photos. Respond with a single JSON object:
{"product_name": string, "category": string, "suggested_hs_code": string, "estimated_cost": number, "unit": string, "description": string}
estimated_cost is a typical per-unit wholesale cost in USD. Respond with JSON only, no prose.`

const suggestSystem = `You seed trade feasibility requests from a product name. Respond with a single JSON object:
{"product_name": string, "suggested_hs_code": string, "estimated_cost": number, "unit": string, "notes": string}
estimated_cost is a typical per-unit wholesale cost in USD. Respond with JSON only, no prose.`

// Service wraps the seeding calls.
type Service struct {
	client        anthropic.Client
	model         string
	maxImageBytes int
	retry         resilience.RetryConfig
}

// Option configures a Service.
type Option func(*Service)

// WithMaxImageBytes overrides the image size ceiling.
func WithMaxImageBytes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxImageBytes = n
		}
	}
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(s *Service) { s.retry = cfg }
}

// New creates a seeding service using the given model.
func New(client anthropic.Client, modelID string, opts ...Option) *Service {
	s := &Service{
		client:        client,
		model:         modelID,
		maxImageBytes: DefaultMaxImageBytes,
		retry:         resilience.DefaultRetryConfig(),
	}
	s.retry.OnRetry = resilience.RetryLogger("assist", "seed")
	for _, o := range opts {
		o(s)
	}
	return s
}

// IdentifyImage identifies a product from raw image bytes.
func (s *Service) IdentifyImage(ctx context.Context, image []byte, mediaType string) (*model.ImageAnalysisResult, error) {
	if len(image) == 0 {
		return nil, eris.New("assist: empty image")
	}
	if len(image) > s.maxImageBytes {
		return nil, eris.Errorf("assist: image exceeds %d byte limit", s.maxImageBytes)
	}
	switch mediaType {
	case "image/jpeg", "image/png", "image/webp", "image/gif":
	default:
		return nil, eris.Errorf("assist: unsupported media type %q", mediaType)
	}

	resp, err := s.call(ctx, anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: maxSeedTokens,
		System:    identifySystem,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: "Identify this product for international trade analysis.",
			Image: &anthropic.ImageBlock{
				MediaType: mediaType,
				Data:      base64.StdEncoding.EncodeToString(image),
			},
		}},
	})
	if err != nil {
		return nil, err
	}
	return schema.ParseImageAnalysis(resp.Text)
}

// Suggest fills in likely request fields for a product name.
func (s *Service) Suggest(ctx context.Context, productName string) (*model.ProductSuggestion, error) {
	if productName == "" {
		return nil, eris.New("assist: empty product name")
	}

	resp, err := s.call(ctx, anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: maxSeedTokens,
		System:    suggestSystem,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Product: %s", productName),
		}},
	})
	if err != nil {
		return nil, err
	}
	return schema.ParseSuggestion(resp.Text)
}

func (s *Service) call(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	resp, err := resilience.Do(ctx, s.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := s.client.CreateMessage(ctx, req)
		if err != nil {
			return nil, resilience.NewRemoteServiceError("assist", anthropic.StatusCode(err), err)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(s.model, "assist")
	return resp, nil
}
