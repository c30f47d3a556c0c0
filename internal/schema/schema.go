// Package schema is the contract boundary between the generative backend and
// the application. Payloads are validated structurally on the way in: any
// shape mismatch is rejected with a ViolationError rather than repaired or
// passed through duck-typed.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/harborview/tradescope/internal/model"
)

// ViolationError reports a synthesis payload that does not conform to the
// contract. It is fatal for the run; there is no partial-result recovery.
type ViolationError struct {
	Field  string
	Reason string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("schema: field %q: %s", e.Field, e.Reason)
}

// IsViolation reports whether err carries a ViolationError.
func IsViolation(err error) bool {
	var ve *ViolationError
	return errors.As(err, &ve)
}

func violationf(field, format string, args ...any) error {
	return &ViolationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// rawDashboard mirrors DashboardData with pointer fields so required-field
// absence is distinguishable from zero values.
type rawDashboard struct {
	Primary      *rawMarket               `json:"primary"`
	Intelligence *model.MarketIntelligence `json:"marketIntelligence"`
	Alternatives []rawMarket              `json:"alternatives"`
}

type rawMarket struct {
	Country           *string                     `json:"country"`
	RegionCode        string                      `json:"regionCode"`
	Currency          *string                     `json:"currency"`
	Breakdown         *model.CostBreakdown        `json:"breakdown"`
	TariffRate        *float64                    `json:"tariffRate"`
	TariffRateNote    string                      `json:"tariffRateNote"`
	VATRate           *float64                    `json:"vatRate"`
	ComplianceRisk    *string                     `json:"complianceRisk"`
	ComplianceNotes   string                      `json:"complianceNotes"`
	TradeBarrierNotes string                      `json:"tradeBarrierNotes"`
	LocalMarketPrice  *float64                    `json:"localMarketPrice"`
	Strategy          *model.OptimizationStrategy `json:"optimizationStrategy"`
	LandedCost        float64                     `json:"landedCost"`
	ProfitMargin      float64                     `json:"profitMargin"`
	ROIPercentage     float64                     `json:"roiPercentage"`
}

// Parse validates a synthesis payload and builds the DashboardData aggregate.
// The payload may be wrapped in markdown code fences; anything outside the
// outermost JSON object is discarded before decoding.
func Parse(payload string) (*model.DashboardData, error) {
	cleaned := CleanJSON(payload)
	if cleaned == "" {
		return nil, violationf("(root)", "payload contains no JSON object")
	}

	dec := json.NewDecoder(strings.NewReader(cleaned))
	var raw rawDashboard
	if err := dec.Decode(&raw); err != nil {
		return nil, violationf("(root)", "not valid JSON: %v", err)
	}

	if raw.Primary == nil {
		return nil, violationf("primary", "required object missing")
	}
	primary, err := validateMarket("primary", *raw.Primary)
	if err != nil {
		return nil, err
	}

	if raw.Intelligence == nil {
		return nil, violationf("marketIntelligence", "required object missing")
	}

	out := &model.DashboardData{
		Primary:      *primary,
		Intelligence: *raw.Intelligence,
	}

	for i, alt := range raw.Alternatives {
		m, err := validateMarket(fmt.Sprintf("alternatives[%d]", i), alt)
		if err != nil {
			return nil, err
		}
		out.Alternatives = append(out.Alternatives, *m)
	}

	return out, nil
}

func validateMarket(field string, raw rawMarket) (*model.MarketAnalysis, error) {
	if raw.Country == nil || strings.TrimSpace(*raw.Country) == "" {
		return nil, violationf(field+".country", "required string missing or empty")
	}
	if raw.Currency == nil || strings.TrimSpace(*raw.Currency) == "" {
		return nil, violationf(field+".currency", "required string missing or empty")
	}
	if raw.Breakdown == nil {
		return nil, violationf(field+".breakdown", "required object missing")
	}
	if raw.TariffRate == nil {
		return nil, violationf(field+".tariffRate", "required number missing")
	}
	if raw.VATRate == nil {
		return nil, violationf(field+".vatRate", "required number missing")
	}
	if raw.LocalMarketPrice == nil {
		return nil, violationf(field+".localMarketPrice", "required number missing")
	}
	if raw.ComplianceRisk == nil {
		return nil, violationf(field+".complianceRisk", "required string missing")
	}
	risk := model.RiskLevel(*raw.ComplianceRisk)
	if !risk.Valid() {
		return nil, violationf(field+".complianceRisk",
			"value %q not one of Low/Medium/High", *raw.ComplianceRisk)
	}
	if raw.Strategy == nil {
		return nil, violationf(field+".optimizationStrategy", "required object missing")
	}

	return &model.MarketAnalysis{
		Country:           *raw.Country,
		RegionCode:        raw.RegionCode,
		Currency:          *raw.Currency,
		Breakdown:         *raw.Breakdown,
		TariffRate:        *raw.TariffRate,
		TariffRateNote:    raw.TariffRateNote,
		VATRate:           *raw.VATRate,
		ComplianceRisk:    risk,
		ComplianceNotes:   raw.ComplianceNotes,
		TradeBarrierNotes: raw.TradeBarrierNotes,
		LocalMarketPrice:  *raw.LocalMarketPrice,
		Strategy:          *raw.Strategy,
		LandedCost:        raw.LandedCost,
		ProfitMargin:      raw.ProfitMargin,
		ROIPercentage:     raw.ROIPercentage,
	}, nil
}

// CleanJSON strips markdown code fences and any prose surrounding the
// outermost JSON object.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}

	return strings.TrimSpace(text[start : end+1])
}
