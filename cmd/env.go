package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/harborview/tradescope/internal/analyzer"
	"github.com/harborview/tradescope/internal/assist"
	"github.com/harborview/tradescope/internal/config"
	"github.com/harborview/tradescope/internal/cost"
	"github.com/harborview/tradescope/internal/prompt"
	"github.com/harborview/tradescope/internal/quota"
	"github.com/harborview/tradescope/internal/research"
	"github.com/harborview/tradescope/internal/store"
	"github.com/harborview/tradescope/internal/synthesis"
	anthropicpkg "github.com/harborview/tradescope/pkg/anthropic"
	"github.com/harborview/tradescope/pkg/perplexity"
)

// analyzerEnv holds the initialized store, quota gate, pipeline, and seed
// service shared by the analyze/compare/serve commands.
type analyzerEnv struct {
	Store    store.Store
	Gate     *quota.Gate
	Analyzer *analyzer.Analyzer
	Assist   *assist.Service
}

// Close releases resources held by the environment.
func (e *analyzerEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "tradescope.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initAnalyzer sets up the store, API clients, quota gate, and pipeline.
// Callers should defer env.Close(). grounded controls which credentials are
// required up front.
func initAnalyzer(ctx context.Context, grounded bool) (*analyzerEnv, error) {
	if err := cfg.Validate(grounded); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	prompts, err := prompt.NewBuilder()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	perplexityClient := perplexity.NewClient(cfg.Perplexity.Key,
		perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
		perplexity.WithModel(cfg.Perplexity.Model),
		perplexity.WithMaxRPS(cfg.Perplexity.MaxRPS),
	)
	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	if cfg.Quota.Unlimited {
		state, err := st.GetQuotaState(ctx)
		if err == nil && !state.Unlimited {
			state.Unlimited = true
			if err := st.SetQuotaState(ctx, state); err != nil {
				_ = st.Close()
				return nil, eris.Wrap(err, "mark quota unlimited")
			}
		}
	}
	gate := quota.NewGate(st, cfg.Quota.DailyLimit)

	calc := cost.NewCalculator(ratesFromConfig(cfg.Pricing))

	a := analyzer.New(analyzer.Config{
		Store:            st,
		Gate:             gate,
		Prompts:          prompts,
		Research:         research.New(perplexityClient),
		Synthesis:        synthesis.New(anthropicClient, cfg.Anthropic.SynthesisModel),
		Costs:            calc,
		SynthesisModel:   cfg.Anthropic.SynthesisModel,
		ResearchTimeout:  time.Duration(cfg.Pipeline.ResearchTimeoutSecs) * time.Second,
		SynthesisTimeout: time.Duration(cfg.Pipeline.SynthesisTimeoutSecs) * time.Second,
	})

	seeds := assist.New(anthropicClient, cfg.Anthropic.AssistModel,
		assist.WithMaxImageBytes(cfg.Pipeline.MaxImageBytes))

	return &analyzerEnv{Store: st, Gate: gate, Analyzer: a, Assist: seeds}, nil
}

// ratesFromConfig maps configured pricing onto the calculator rates, falling
// back to defaults for anything unset.
func ratesFromConfig(p config.PricingConfig) cost.Rates {
	rates := cost.DefaultRates()
	for model, mp := range p.Anthropic {
		rates.Anthropic[model] = cost.ModelRate{Input: mp.Input, Output: mp.Output}
	}
	if p.Perplexity.PerQuery > 0 {
		rates.Perplexity.PerQuery = p.Perplexity.PerQuery
	}
	return rates
}
