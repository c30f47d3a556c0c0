package analyzer

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/harborview/tradescope/internal/cost"
	"github.com/harborview/tradescope/internal/model"
	"github.com/harborview/tradescope/internal/prompt"
	"github.com/harborview/tradescope/internal/quota"
	"github.com/harborview/tradescope/internal/resilience"
	"github.com/harborview/tradescope/internal/store"
)

type mockResearch struct{ mock.Mock }

func (m *mockResearch) Run(ctx context.Context, query string, grounded bool) (*model.ResearchResult, *model.TokenUsage, error) {
	args := m.Called(ctx, query, grounded)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*model.ResearchResult), args.Get(1).(*model.TokenUsage), args.Error(2)
}

type mockSynthesis struct{ mock.Mock }

func (m *mockSynthesis) Run(ctx context.Context, instruction string) (*model.DashboardData, *model.TokenUsage, error) {
	args := m.Called(ctx, instruction)
	if args.Get(0) == nil {
		var usage *model.TokenUsage
		if args.Get(1) != nil {
			usage = args.Get(1).(*model.TokenUsage)
		}
		return nil, usage, args.Error(2)
	}
	return args.Get(0).(*model.DashboardData), args.Get(1).(*model.TokenUsage), args.Error(2)
}

// fakeStore is an in-memory store.Store sufficient for pipeline tests.
type fakeStore struct {
	runs  map[string]*model.Run
	quota model.QuotaState
}

func newFakeStore() *fakeStore {
	return &fakeStore{runs: map[string]*model.Run{}}
}

func (f *fakeStore) CreateRun(_ context.Context, req model.AnalysisRequest) (*model.Run, error) {
	r := &model.Run{ID: "run-1", Request: req, Status: model.RunStatusQueued}
	f.runs[r.ID] = r
	return &model.Run{ID: r.ID, Request: req, Status: r.Status}, nil
}

func (f *fakeStore) UpdateRunStatus(_ context.Context, runID string, status model.RunStatus) error {
	r, ok := f.runs[runID]
	if !ok {
		return store.ErrRunNotFound
	}
	r.Status = status
	return nil
}

func (f *fakeStore) UpdateRunResult(_ context.Context, runID string, result *model.RunResult) error {
	r, ok := f.runs[runID]
	if !ok {
		return store.ErrRunNotFound
	}
	r.Result = result
	if result.Error != "" {
		r.Status = model.RunStatusFailed
	} else {
		r.Status = model.RunStatusComplete
	}
	return nil
}

func (f *fakeStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	r, ok := f.runs[runID]
	if !ok {
		return nil, store.ErrRunNotFound
	}
	return r, nil
}

func (f *fakeStore) ListRuns(_ context.Context, _ store.RunFilter) ([]model.Run, error) {
	var out []model.Run
	for _, r := range f.runs {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeStore) GetQuotaState(_ context.Context) (model.QuotaState, error) { return f.quota, nil }
func (f *fakeStore) SetQuotaState(_ context.Context, s model.QuotaState) error {
	f.quota = s
	return nil
}
func (f *fakeStore) Migrate(_ context.Context) error { return nil }
func (f *fakeStore) Close() error                    { return nil }

func testDashboard() *model.DashboardData {
	return &model.DashboardData{
		Primary: model.MarketAnalysis{
			Country:  "Germany",
			Currency: "EUR",
			Breakdown: model.CostBreakdown{
				BaseCost: 100, Shipping: 30, Tariffs: 20, VAT: 30, Compliance: 10,
			},
			TariffRate:       0.06,
			VATRate:          0.19,
			ComplianceRisk:   model.RiskLow,
			LocalMarketPrice: 250,
		},
	}
}

func testRequest() model.AnalysisRequest {
	return model.AnalysisRequest{
		ProductName:        "Walnut cutting board",
		OriginCountry:      "Vietnam",
		DestinationCountry: "Germany",
		BaseCost:           12,
		Currency:           "USD",
		Grounded:           true,
	}
}

func newTestAnalyzer(t *testing.T, st store.Store, gate QuotaGate, r ResearchStage, s SynthesisStage) *Analyzer {
	t.Helper()
	prompts, err := prompt.NewBuilder()
	require.NoError(t, err)
	return New(Config{
		Store:          st,
		Gate:           gate,
		Prompts:        prompts,
		Research:       r,
		Synthesis:      s,
		Costs:          cost.NewCalculator(cost.DefaultRates()),
		SynthesisModel: "claude-sonnet-4-5-20250929",
	})
}

func TestAnalyze_GroundedHappyPath(t *testing.T) {
	st := newFakeStore()
	research := &mockResearch{}
	synthesis := &mockSynthesis{}

	research.On("Run", mock.Anything, mock.Anything, true).Return(
		&model.ResearchResult{
			Narrative: "Germany applies 6% duty on HS 4419.",
			Citations: []model.SourceCitation{{Title: "EU TARIC", URI: "https://example.eu/taric"}},
		},
		&model.TokenUsage{InputTokens: 100, OutputTokens: 400},
		nil,
	)
	synthesis.On("Run", mock.Anything, mock.MatchedBy(func(instr string) bool {
		return len(instr) > 0
	})).Return(testDashboard(), &model.TokenUsage{InputTokens: 1200, OutputTokens: 2800}, nil)

	a := newTestAnalyzer(t, st, nil, research, synthesis)
	run, err := a.Analyze(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Result)
	require.NotNil(t, run.Result.Dashboard)

	// Totals are recomputed from the breakdown, never trusted from the model.
	rec := run.Result.Dashboard.Primary.Reconciled
	assert.InDelta(t, 190.0, rec.TotalLandedCost, 1e-9)
	assert.InDelta(t, 60.0, rec.NetProfit, 1e-9)
	assert.InDelta(t, 31.578947, rec.ROIPercent, 1e-4)

	// Citations flow from research onto the dashboard.
	require.Len(t, run.Result.Dashboard.Citations, 1)
	assert.Equal(t, 1, run.Result.Citations)

	assert.Equal(t, 4500, run.Result.TotalTokens)
	assert.Greater(t, run.Result.TotalCost, 0.0)

	research.AssertExpectations(t)
	synthesis.AssertExpectations(t)
}

func TestAnalyze_NonGroundedSkipsResearchCost(t *testing.T) {
	st := newFakeStore()
	research := &mockResearch{}
	synthesis := &mockSynthesis{}

	research.On("Run", mock.Anything, mock.Anything, false).Return(
		&model.ResearchResult{Narrative: prompt.NoResearchPlaceholder, Citations: []model.SourceCitation{}},
		&model.TokenUsage{},
		nil,
	)
	synthesis.On("Run", mock.Anything, mock.Anything).
		Return(testDashboard(), &model.TokenUsage{InputTokens: 1000, OutputTokens: 2000}, nil)

	req := testRequest()
	req.Grounded = false

	a := newTestAnalyzer(t, st, nil, research, synthesis)
	run, err := a.Analyze(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, run.Result.Dashboard.Citations)
	assert.Equal(t, 0, run.Result.Citations)
	assert.False(t, run.Result.Grounded)

	// Only the synthesis call is billed.
	calc := cost.NewCalculator(cost.DefaultRates())
	assert.InDelta(t, calc.Claude("claude-sonnet-4-5-20250929", 1000, 2000), run.Result.TotalCost, 1e-9)
}

func TestAnalyze_QuotaExceeded(t *testing.T) {
	st := newFakeStore()
	gate := quota.NewGate(quota.NewMemoryStore(model.QuotaState{}), 1)

	research := &mockResearch{}
	synthesis := &mockSynthesis{}
	research.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(
		&model.ResearchResult{Narrative: "x", Citations: []model.SourceCitation{}},
		&model.TokenUsage{}, nil)
	synthesis.On("Run", mock.Anything, mock.Anything).
		Return(testDashboard(), &model.TokenUsage{}, nil)

	a := newTestAnalyzer(t, st, gate, research, synthesis)

	_, err := a.Analyze(context.Background(), testRequest())
	require.NoError(t, err)

	// Second run hits the limit before any stage call or run record.
	_, err = a.Analyze(context.Background(), testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, quota.ErrQuotaExceeded)
	assert.Len(t, st.runs, 1)
}

func TestAnalyzeUnmetered_BypassesGate(t *testing.T) {
	st := newFakeStore()
	gate := quota.NewGate(quota.NewMemoryStore(model.QuotaState{Date: "2026-08-29", Count: 99}), 1)

	research := &mockResearch{}
	synthesis := &mockSynthesis{}
	research.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(
		&model.ResearchResult{Narrative: "x", Citations: []model.SourceCitation{}},
		&model.TokenUsage{}, nil)
	synthesis.On("Run", mock.Anything, mock.Anything).
		Return(testDashboard(), &model.TokenUsage{}, nil)

	a := newTestAnalyzer(t, st, gate, research, synthesis)
	run, err := a.AnalyzeUnmetered(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
}

func TestAnalyze_ResearchFailureMarksRunFailed(t *testing.T) {
	st := newFakeStore()
	research := &mockResearch{}
	synthesis := &mockSynthesis{}

	remoteErr := resilience.NewRemoteServiceError("research", 429, eris.New("too many requests"))
	research.On("Run", mock.Anything, mock.Anything, true).Return(nil, nil, remoteErr)

	a := newTestAnalyzer(t, st, nil, research, synthesis)
	run, err := a.Analyze(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, resilience.IsRateLimited(err))

	assert.Equal(t, model.RunStatusFailed, run.Status)
	require.NotNil(t, run.Result)
	assert.NotEmpty(t, run.Result.Error)
	assert.Nil(t, run.Result.Dashboard)

	// Synthesis never ran.
	synthesis.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestAnalyze_SynthesisFailureKeepsAccounting(t *testing.T) {
	st := newFakeStore()
	research := &mockResearch{}
	synthesis := &mockSynthesis{}

	research.On("Run", mock.Anything, mock.Anything, true).Return(
		&model.ResearchResult{Narrative: "findings", Citations: []model.SourceCitation{}},
		&model.TokenUsage{InputTokens: 50, OutputTokens: 150},
		nil,
	)
	synthesis.On("Run", mock.Anything, mock.Anything).
		Return(nil, (*model.TokenUsage)(nil), resilience.NewRemoteServiceError("synthesis", 500, eris.New("overloaded")))

	a := newTestAnalyzer(t, st, nil, research, synthesis)
	run, err := a.Analyze(context.Background(), testRequest())
	require.Error(t, err)

	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Equal(t, 200, run.Result.TotalTokens)
}

func TestAnalyze_InvalidRequest(t *testing.T) {
	st := newFakeStore()
	a := newTestAnalyzer(t, st, nil, &mockResearch{}, &mockSynthesis{})

	cases := []struct {
		name   string
		mutate func(*model.AnalysisRequest)
	}{
		{"missing product", func(r *model.AnalysisRequest) { r.ProductName = "" }},
		{"missing origin", func(r *model.AnalysisRequest) { r.OriginCountry = "" }},
		{"missing destination", func(r *model.AnalysisRequest) { r.DestinationCountry = "" }},
		{"non-positive base cost", func(r *model.AnalysisRequest) { r.BaseCost = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := testRequest()
			tc.mutate(&req)
			_, err := a.Analyze(context.Background(), req)
			require.Error(t, err)
		})
	}
	assert.Empty(t, st.runs)
}
