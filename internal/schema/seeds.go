package schema

import (
	"encoding/json"
	"strings"

	"github.com/harborview/tradescope/internal/model"
)

// ParseImageAnalysis validates an image-identification payload.
func ParseImageAnalysis(payload string) (*model.ImageAnalysisResult, error) {
	cleaned := CleanJSON(payload)
	if cleaned == "" {
		return nil, violationf("(root)", "payload contains no JSON object")
	}

	var out model.ImageAnalysisResult
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, violationf("(root)", "not valid JSON: %v", err)
	}
	if strings.TrimSpace(out.ProductName) == "" {
		return nil, violationf("product_name", "required string missing or empty")
	}
	return &out, nil
}

// ParseSuggestion validates a product-suggestion payload.
func ParseSuggestion(payload string) (*model.ProductSuggestion, error) {
	cleaned := CleanJSON(payload)
	if cleaned == "" {
		return nil, violationf("(root)", "payload contains no JSON object")
	}

	var out model.ProductSuggestion
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, violationf("(root)", "not valid JSON: %v", err)
	}
	if strings.TrimSpace(out.ProductName) == "" {
		return nil, violationf("product_name", "required string missing or empty")
	}
	return &out, nil
}
