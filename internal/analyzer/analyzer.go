// Package analyzer orchestrates the two-stage feasibility pipeline: quota
// gate, optional grounded research, schema-constrained synthesis, and the
// consistency reconciliation of the returned financials. Each stage runs
// under its own timeout; the pipeline never retries a failed stage.
package analyzer

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborview/tradescope/internal/cost"
	"github.com/harborview/tradescope/internal/model"
	"github.com/harborview/tradescope/internal/prompt"
	"github.com/harborview/tradescope/internal/quota"
	"github.com/harborview/tradescope/internal/reconcile"
	"github.com/harborview/tradescope/internal/store"
)

// ResearchStage produces the research narrative for a query.
type ResearchStage interface {
	Run(ctx context.Context, query string, grounded bool) (*model.ResearchResult, *model.TokenUsage, error)
}

// SynthesisStage turns an instruction into validated dashboard data.
type SynthesisStage interface {
	Run(ctx context.Context, instruction string) (*model.DashboardData, *model.TokenUsage, error)
}

// QuotaGate decides whether a run may start.
type QuotaGate interface {
	TryConsume(ctx context.Context) (bool, error)
}

// Config wires an Analyzer.
type Config struct {
	Store     store.Store
	Gate      QuotaGate
	Prompts   *prompt.Builder
	Research  ResearchStage
	Synthesis SynthesisStage
	Costs     *cost.Calculator

	// Model identifier used for synthesis cost attribution.
	SynthesisModel string

	ResearchTimeout  time.Duration
	SynthesisTimeout time.Duration
}

// Analyzer runs the full pipeline for one request.
type Analyzer struct {
	cfg Config
}

// New creates an Analyzer. Zero timeouts fall back to the stage defaults.
func New(cfg Config) *Analyzer {
	if cfg.ResearchTimeout <= 0 {
		cfg.ResearchTimeout = 60 * time.Second
	}
	if cfg.SynthesisTimeout <= 0 {
		cfg.SynthesisTimeout = 90 * time.Second
	}
	return &Analyzer{cfg: cfg}
}

// Analyze runs the pipeline under the quota gate.
func (a *Analyzer) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.Run, error) {
	return a.run(ctx, req, false)
}

// AnalyzeUnmetered runs the pipeline without touching the quota gate. Used
// for admin-authenticated requests.
func (a *Analyzer) AnalyzeUnmetered(ctx context.Context, req model.AnalysisRequest) (*model.Run, error) {
	return a.run(ctx, req, true)
}

func (a *Analyzer) run(ctx context.Context, req model.AnalysisRequest, skipQuota bool) (*model.Run, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if !skipQuota && a.cfg.Gate != nil {
		ok, err := a.cfg.Gate.TryConsume(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "analyzer: quota check")
		}
		if !ok {
			return nil, quota.ErrQuotaExceeded
		}
	}

	run, err := a.cfg.Store.CreateRun(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "analyzer: create run")
	}

	log := zap.L().With(
		zap.String("run_id", run.ID),
		zap.String("product", req.ProductName),
		zap.String("origin", req.OriginCountry),
		zap.String("destination", req.DestinationCountry),
		zap.Bool("grounded", req.Grounded),
	)
	log.Info("analysis started")

	start := time.Now()
	result, err := a.execute(ctx, req, run.ID, log)
	result.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
	}

	if uerr := a.cfg.Store.UpdateRunResult(ctx, run.ID, result); uerr != nil {
		log.Error("persist run result", zap.Error(uerr))
		if err == nil {
			err = eris.Wrap(uerr, "analyzer: persist result")
		}
	}
	if err != nil {
		log.Warn("analysis failed", zap.Error(err), zap.Int64("duration_ms", result.DurationMS))
		run.Status = model.RunStatusFailed
		run.Result = result
		return run, err
	}

	log.Info("analysis complete",
		zap.Int64("duration_ms", result.DurationMS),
		zap.Int("total_tokens", result.TotalTokens),
		zap.Float64("total_cost", result.TotalCost),
		zap.Int("citations", result.Citations),
	)
	run.Status = model.RunStatusComplete
	run.Result = result
	return run, nil
}

// execute runs the research and synthesis stages. It always returns a
// result; on error the result carries whatever accounting accumulated
// before the failure.
func (a *Analyzer) execute(ctx context.Context, req model.AnalysisRequest, runID string, log *zap.Logger) (*model.RunResult, error) {
	result := &model.RunResult{Grounded: req.Grounded}
	var usage model.TokenUsage

	if err := a.cfg.Store.UpdateRunStatus(ctx, runID, model.RunStatusResearching); err != nil {
		return result, eris.Wrap(err, "analyzer: mark researching")
	}

	rctx, cancel := context.WithTimeout(ctx, a.cfg.ResearchTimeout)
	research, researchUsage, err := a.cfg.Research.Run(rctx, a.cfg.Prompts.ResearchQuery(req), req.Grounded)
	cancel()
	if err != nil {
		return result, err
	}
	usage.Add(*usageOrZero(researchUsage))
	if req.Grounded {
		result.TotalCost += a.cfg.Costs.ResearchQuery()
		log.Debug("research complete", zap.Int("citations", len(research.Citations)))
	}

	if err := a.cfg.Store.UpdateRunStatus(ctx, runID, model.RunStatusSynthesizing); err != nil {
		return result, eris.Wrap(err, "analyzer: mark synthesizing")
	}

	sctx, cancel := context.WithTimeout(ctx, a.cfg.SynthesisTimeout)
	dashboard, synthUsage, err := a.cfg.Synthesis.Run(sctx, a.cfg.Prompts.SynthesisInstruction(req, research.Narrative))
	cancel()
	usage.Add(*usageOrZero(synthUsage))
	result.TotalTokens = usage.InputTokens + usage.OutputTokens
	if synthUsage != nil {
		result.TotalCost += a.cfg.Costs.Claude(a.cfg.SynthesisModel, synthUsage.InputTokens, synthUsage.OutputTokens)
	}
	if err != nil {
		return result, err
	}

	// Derived totals are recomputed locally; model-reported aggregates stay
	// advisory.
	dashboard.Citations = research.Citations
	reconcile.Dashboard(dashboard)

	result.Dashboard = dashboard
	result.Citations = len(research.Citations)
	return result, nil
}

func usageOrZero(u *model.TokenUsage) *model.TokenUsage {
	if u == nil {
		return &model.TokenUsage{}
	}
	return u
}

func validateRequest(req model.AnalysisRequest) error {
	switch {
	case req.ProductName == "":
		return eris.New("analyzer: product name is required")
	case req.OriginCountry == "":
		return eris.New("analyzer: origin country is required")
	case req.DestinationCountry == "":
		return eris.New("analyzer: destination country is required")
	case req.BaseCost <= 0:
		return eris.New("analyzer: base cost must be positive")
	}
	return nil
}
