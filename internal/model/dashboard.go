package model

// RiskLevel grades compliance risk for a destination market.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Valid reports whether the level is one of the three contract values.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// SourceCitation is one grounded-research source attached to a result.
type SourceCitation struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// ResearchResult is the output of the research stage: a free-text narrative
// plus the ordered citations it was grounded on. In non-grounded mode the
// narrative is a fixed placeholder and Citations is empty.
type ResearchResult struct {
	Narrative string           `json:"narrative"`
	Citations []SourceCitation `json:"citations"`
}

// CostBreakdown itemizes the per-unit landed cost in the request currency.
// These five components are the single source of truth for all derived
// totals; see Reconciled.
type CostBreakdown struct {
	BaseCost   float64 `json:"baseCost"`
	Shipping   float64 `json:"shipping"`
	Tariffs    float64 `json:"tariffs"`
	VAT        float64 `json:"vat"`
	Compliance float64 `json:"compliance"`
}

// TaxStrategy describes a duty/tax optimization opportunity.
type TaxStrategy struct {
	Title           string   `json:"title"`
	Details         []string `json:"details"`
	SavingsEstimate string   `json:"savingsEstimate"`
}

// VATHandling describes how VAT applies and how to manage it.
type VATHandling struct {
	Rate      float64 `json:"rate"`
	Mechanism string  `json:"mechanism"`
	Advice    string  `json:"advice"`
}

// ComplianceDeepDive lists certification requirements and legal pitfalls.
type ComplianceDeepDive struct {
	RequiredCertifications []string `json:"requiredCertifications"`
	LegalPitfalls          []string `json:"legalPitfalls"`
}

// LogisticsStrategy describes routing options for the lane.
type LogisticsStrategy struct {
	BestRoute        string `json:"bestRoute"`
	AlternativeRoute string `json:"alternativeRoute"`
	TransitTime      string `json:"transitTime"`
}

// OptimizationStrategy bundles the four strategy blocks for one market.
type OptimizationStrategy struct {
	Tax        TaxStrategy        `json:"taxStrategy"`
	VAT        VATHandling        `json:"vatHandling"`
	Compliance ComplianceDeepDive `json:"complianceDeepDive"`
	Logistics  LogisticsStrategy  `json:"logisticsStrategy"`
}

// MarketAnalysis is the synthesis output for a single destination market.
//
// LandedCost, ProfitMargin, and ROIPercentage are the model's own arithmetic
// and are advisory only — never read them for display or decisions. The
// authoritative totals live in Reconciled, recomputed from Breakdown.
type MarketAnalysis struct {
	Country    string        `json:"country"`
	RegionCode string        `json:"regionCode"`
	Currency   string        `json:"currency"`
	Breakdown  CostBreakdown `json:"breakdown"`

	// TariffRate and VATRate are contractually decimal fractions (0.19 for
	// 19%), but upstream sometimes emits whole percentages. Display code
	// disambiguates by magnitude; see reconcile.FormatPercent.
	TariffRate     float64 `json:"tariffRate"`
	TariffRateNote string  `json:"tariffRateNote,omitempty"`
	VATRate        float64 `json:"vatRate"`

	ComplianceRisk    RiskLevel `json:"complianceRisk"`
	ComplianceNotes   string    `json:"complianceNotes"`
	TradeBarrierNotes string    `json:"tradeBarrierNotes"`
	LocalMarketPrice  float64   `json:"localMarketPrice"`

	Strategy OptimizationStrategy `json:"optimizationStrategy"`

	// Advisory model-reported aggregates. Request-and-discard for backward
	// compatibility with the upstream contract.
	LandedCost    float64 `json:"landedCost"`
	ProfitMargin  float64 `json:"profitMargin"`
	ROIPercentage float64 `json:"roiPercentage"`

	// Reconciled is populated client-side after synthesis; it is absent from
	// the model payload.
	Reconciled Reconciled `json:"reconciled"`
}

// Reconciled holds the recomputed financial totals for a market. The
// generative backend cannot be trusted to do arithmetic, so these are
// always derived from the CostBreakdown components.
type Reconciled struct {
	TotalLandedCost float64 `json:"totalLandedCost"`
	NetProfit       float64 `json:"netProfit"`
	ROIPercent      float64 `json:"roiPercent"`

	// ROIUndefined is set when TotalLandedCost is zero and ROI cannot be
	// computed.
	ROIUndefined bool `json:"roiUndefined,omitempty"`
}

// Competitor is one comparable product found during research.
type Competitor struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// PriceRange summarizes competitor pricing.
type PriceRange struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
}

// MarketIntelligence summarizes the competitive landscape for the lane.
type MarketIntelligence struct {
	Competitors []Competitor `json:"competitors"`
	PriceRange  PriceRange   `json:"priceRange"`
	Currency    string       `json:"currency"`
	Unit        string       `json:"unit"`

	// SearchNote records what product description was used to locate
	// competitors, so the user can judge comparability.
	SearchNote string `json:"searchNote"`
}

// DashboardData is the aggregate result of one completed analysis run. It is
// constructed atomically from the synthesis payload and replaces any prior
// result wholesale — there is no incremental mutation.
type DashboardData struct {
	Primary      MarketAnalysis     `json:"primary"`
	Intelligence MarketIntelligence `json:"marketIntelligence"`
	Alternatives []MarketAnalysis   `json:"alternatives"`
	Citations    []SourceCitation   `json:"citations"`
}
