package model

import "time"

// RunStatus represents the current state of an analysis run.
type RunStatus string

const (
	RunStatusQueued       RunStatus = "queued"
	RunStatusResearching  RunStatus = "researching"
	RunStatusSynthesizing RunStatus = "synthesizing"
	RunStatusComplete     RunStatus = "complete"
	RunStatusFailed       RunStatus = "failed"
)

// Run is the persisted record of a single analysis run.
type Run struct {
	ID        string          `json:"id"`
	Request   AnalysisRequest `json:"request"`
	Status    RunStatus       `json:"status"`
	Result    *RunResult      `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Dashboard   *DashboardData `json:"dashboard,omitempty"`
	Grounded    bool           `json:"grounded"`
	Citations   int            `json:"citations"`
	TotalTokens int            `json:"total_tokens"`
	TotalCost   float64        `json:"total_cost"`
	DurationMS  int64          `json:"duration_ms"`
	Error       string         `json:"error,omitempty"`
}

// TokenUsage tallies token consumption across stage calls.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage from another stage call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
