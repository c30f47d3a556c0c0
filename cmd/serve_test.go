package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview/tradescope/internal/analyzer"
	"github.com/harborview/tradescope/internal/assist"
	"github.com/harborview/tradescope/internal/cost"
	"github.com/harborview/tradescope/internal/model"
	"github.com/harborview/tradescope/internal/prompt"
	"github.com/harborview/tradescope/internal/quota"
	"github.com/harborview/tradescope/internal/resilience"
	"github.com/harborview/tradescope/internal/schema"
	"github.com/harborview/tradescope/internal/session"
	"github.com/harborview/tradescope/internal/store"
	"github.com/harborview/tradescope/pkg/anthropic"
)

// stubResearch returns a fixed narrative without any external call. When
// block is set, Run waits on it before returning, so tests can hold a run
// in flight.
type stubResearch struct {
	block chan struct{}
}

func (s stubResearch) Run(_ context.Context, _ string, grounded bool) (*model.ResearchResult, *model.TokenUsage, error) {
	if s.block != nil {
		<-s.block
	}
	if !grounded {
		return &model.ResearchResult{Narrative: prompt.NoResearchPlaceholder, Citations: []model.SourceCitation{}}, &model.TokenUsage{}, nil
	}
	return &model.ResearchResult{
		Narrative: "Germany applies 6% duty.",
		Citations: []model.SourceCitation{{Title: "EU TARIC", URI: "https://example.eu/taric"}},
	}, &model.TokenUsage{InputTokens: 10, OutputTokens: 40}, nil
}

// stubSynthesis returns a fixed dashboard.
type stubSynthesis struct{}

func (stubSynthesis) Run(_ context.Context, _ string) (*model.DashboardData, *model.TokenUsage, error) {
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
	}, &model.TokenUsage{InputTokens: 500, OutputTokens: 1500}, nil
}

// stubAnthropicClient serves the assist endpoints.
type stubAnthropicClient struct {
	text string
}

func (s *stubAnthropicClient) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return &anthropic.MessageResponse{Text: s.text}, nil
}

func newTestDeps(t *testing.T, dailyLimit int) *serverDeps {
	t.Helper()
	return newTestDepsWith(t, dailyLimit, stubResearch{})
}

func newTestDepsWith(t *testing.T, dailyLimit int, research analyzer.ResearchStage) *serverDeps {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	prompts, err := prompt.NewBuilder()
	require.NoError(t, err)

	gate := quota.NewGate(st, dailyLimit)
	a := analyzer.New(analyzer.Config{
		Store:          st,
		Gate:           gate,
		Prompts:        prompts,
		Research:       research,
		Synthesis:      stubSynthesis{},
		Costs:          cost.NewCalculator(cost.DefaultRates()),
		SynthesisModel: "claude-sonnet-4-5-20250929",
	})

	seeds := assist.New(&stubAnthropicClient{
		text: `{"product_name": "Ceramic mug", "suggested_hs_code": "6912.00", "estimated_cost": 2.5, "unit": "per piece"}`,
	}, "claude-haiku-4-5-20251001")

	return &serverDeps{
		Store:       st,
		Gate:        gate,
		Analyzer:    a,
		Assist:      seeds,
		Session:     session.NewController(sessionRunFunc(a)),
		AdminSecret: "letmein",
	}
}

func analyzeBody() *bytes.Buffer {
	b, _ := json.Marshal(model.AnalysisRequest{
		ProductName:        "Walnut cutting board",
		OriginCountry:      "Vietnam",
		DestinationCountry: "Germany",
		BaseCost:           12,
		Currency:           "USD",
		Grounded:           true,
	})
	return bytes.NewBuffer(b)
}

func TestServe_Health(t *testing.T) {
	router := newRouter(newTestDeps(t, 3))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestServe_Analyze(t *testing.T) {
	router := newRouter(newTestDeps(t, 3))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze", analyzeBody()))

	require.Equal(t, http.StatusOK, rec.Code)

	var result model.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotNil(t, result.Dashboard)
	assert.InDelta(t, 190.0, result.Dashboard.Primary.Reconciled.TotalLandedCost, 1e-9)
	assert.Len(t, result.Dashboard.Citations, 1)
}

func TestServe_Analyze_QuotaExhausted(t *testing.T) {
	router := newRouter(newTestDeps(t, 1))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze", analyzeBody()))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze", analyzeBody()))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "daily analysis limit")
}

func TestServe_Analyze_AdminBypassesQuota(t *testing.T) {
	router := newRouter(newTestDeps(t, 1))

	// Exhaust the allowance.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze", analyzeBody()))
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", analyzeBody())
	req.Header.Set(adminHeader, "letmein")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Wrong secret does not bypass.
	req = httptest.NewRequest(http.MethodPost, "/api/analyze", analyzeBody())
	req.Header.Set(adminHeader, "wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestServe_Analyze_InvalidBody(t *testing.T) {
	router := newRouter(newTestDeps(t, 3))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServe_Suggest(t *testing.T) {
	router := newRouter(newTestDeps(t, 3))

	body := strings.NewReader(`{"product_name": "ceramic mug"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/suggest", body))

	require.Equal(t, http.StatusOK, rec.Code)
	var out model.ProductSuggestion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "Ceramic mug", out.ProductName)
}

func TestServe_IdentifyImage(t *testing.T) {
	router := newRouter(newTestDeps(t, 3))

	req := httptest.NewRequest(http.MethodPost, "/api/identify-image",
		bytes.NewReader([]byte{0xFF, 0xD8, 0xFF, 0xE0}))
	req.Header.Set("Content-Type", "image/jpeg")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out model.ImageAnalysisResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "Ceramic mug", out.ProductName)
}

func TestServe_RunsAndQuota(t *testing.T) {
	deps := newTestDeps(t, 3)
	router := newRouter(deps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze", analyzeBody()))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/"+runs[0].ID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/does-not-exist", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/quota", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var q map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, 2, q["remaining"])
}

func getSessionState(t *testing.T, router http.Handler) sessionState {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analyze/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var state sessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	return state
}

func waitForSessionPhase(t *testing.T, router http.Handler, want session.Phase) sessionState {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		state := getSessionState(t, router)
		if state.Phase == want {
			return state
		}
		select {
		case <-deadline:
			t.Fatalf("session never reached phase %q, last %q", want, state.Phase)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestServe_SessionLifecycle(t *testing.T) {
	deps := newTestDeps(t, 3)
	router := newRouter(deps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze/start", analyzeBody()))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var started sessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.Equal(t, session.PhaseRunning, started.Phase)
	require.NotEqual(t, session.HandleNone, started.Handle)

	state := waitForSessionPhase(t, router, session.PhaseSuccess)
	assert.Equal(t, started.Handle, state.Handle)
	require.NotNil(t, state.Dashboard)
	assert.InDelta(t, 190.0, state.Dashboard.Primary.Reconciled.TotalLandedCost, 1e-9)
	assert.Empty(t, state.Error)
}

func TestServe_SessionStart_InvalidBody(t *testing.T) {
	router := newRouter(newTestDeps(t, 3))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze/start", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServe_SessionCancelDiscardsLateResult(t *testing.T) {
	release := make(chan struct{})
	deps := newTestDepsWith(t, 3, stubResearch{block: release})
	router := newRouter(deps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze/start", analyzeBody()))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var cancelled sessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, session.PhaseIdle, cancelled.Phase)
	assert.Equal(t, session.HandleNone, cancelled.Handle)

	// Let the in-flight run finish; its result no longer matches the
	// current handle and must not surface.
	close(release)
	time.Sleep(50 * time.Millisecond)

	state := getSessionState(t, router)
	assert.Equal(t, session.PhaseIdle, state.Phase)
	assert.Nil(t, state.Dashboard)
	assert.Empty(t, state.Error)
}

func TestServe_SessionFailureSurfacesError(t *testing.T) {
	// Quota limit of zero is coerced to the default, so exhaust a limit of
	// one first; the second start fails the gate and the session shows it.
	deps := newTestDeps(t, 1)
	router := newRouter(deps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze/start", analyzeBody()))
	require.Equal(t, http.StatusAccepted, rec.Code)
	waitForSessionPhase(t, router, session.PhaseSuccess)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze/start", analyzeBody()))
	require.Equal(t, http.StatusAccepted, rec.Code)

	state := waitForSessionPhase(t, router, session.PhaseError)
	assert.Contains(t, state.Error, "quota")
	assert.Nil(t, state.Dashboard)
}

func TestWriteAnalysisError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "local quota",
			err:        quota.ErrQuotaExceeded,
			wantStatus: http.StatusTooManyRequests,
			wantBody:   "daily analysis limit",
		},
		{
			name:       "upstream rate limited",
			err:        resilience.NewRemoteServiceError("research", http.StatusTooManyRequests, eris.New("slow down")),
			wantStatus: http.StatusTooManyRequests,
			wantBody:   "rate limited upstream",
		},
		{
			name:       "schema violation",
			err:        &schema.ViolationError{Field: "primary.currency", Reason: "required string missing"},
			wantStatus: http.StatusBadGateway,
			wantBody:   "malformed data",
		},
		{
			name:       "remote failure",
			err:        resilience.NewRemoteServiceError("synthesis", http.StatusServiceUnavailable, eris.New("down")),
			wantStatus: http.StatusBadGateway,
			wantBody:   "unavailable",
		},
		{
			name:       "validation failure",
			err:        eris.New("analyzer: base cost must be positive"),
			wantStatus: http.StatusBadRequest,
			wantBody:   "base cost",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeAnalysisError(rec, tc.err)
			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.wantBody)
		})
	}
}
