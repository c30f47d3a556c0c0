package model

// AnalysisRequest describes one product/trade-route combination to analyze.
// It is treated as an immutable value: built from user input, validated once,
// and owned exclusively by the run it starts.
type AnalysisRequest struct {
	ProductName        string  `json:"product_name"`
	OriginCountry      string  `json:"origin_country"`
	DestinationCountry string  `json:"destination_country"`
	BaseCost           float64 `json:"base_cost"`
	Currency           string  `json:"currency"`
	HSCode             string  `json:"hs_code,omitempty"`
	Unit               string  `json:"unit"`
	Notes              string  `json:"notes,omitempty"`

	// BenchmarkRetailPrice is an optional user-supplied reference price in
	// the destination market, used as a sanity anchor for competitor pricing.
	BenchmarkRetailPrice float64 `json:"benchmark_retail_price,omitempty"`

	// Grounded selects live web research over internal model knowledge.
	Grounded bool `json:"grounded"`

	// Language is the BCP 47 tag for the response language, e.g. "en", "de".
	Language string `json:"language"`
}

// ImageAnalysisResult seeds an AnalysisRequest from product photo
// identification.
type ImageAnalysisResult struct {
	ProductName   string  `json:"product_name"`
	Category      string  `json:"category"`
	SuggestedHS   string  `json:"suggested_hs_code"`
	EstimatedCost float64 `json:"estimated_cost"`
	Unit          string  `json:"unit"`
	Description   string  `json:"description"`
}

// ProductSuggestion seeds an AnalysisRequest from a free-text product name.
type ProductSuggestion struct {
	ProductName   string  `json:"product_name"`
	SuggestedHS   string  `json:"suggested_hs_code"`
	EstimatedCost float64 `json:"estimated_cost"`
	Unit          string  `json:"unit"`
	Notes         string  `json:"notes"`
}
