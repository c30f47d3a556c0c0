package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harborview/tradescope/internal/model"
	"github.com/harborview/tradescope/internal/quota"
)

var analyzeFlags struct {
	Product     string
	Origin      string
	Destination string
	BaseCost    float64
	Currency    string
	HSCode      string
	Unit        string
	Notes       string
	Benchmark   float64
	Grounded    bool
	Language    string
	NoQuota     bool
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze one product/trade-route combination",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initAnalyzer(ctx, analyzeFlags.Grounded)
		if err != nil {
			return err
		}
		defer env.Close()

		req := model.AnalysisRequest{
			ProductName:          analyzeFlags.Product,
			OriginCountry:        analyzeFlags.Origin,
			DestinationCountry:   analyzeFlags.Destination,
			BaseCost:             analyzeFlags.BaseCost,
			Currency:             analyzeFlags.Currency,
			HSCode:               analyzeFlags.HSCode,
			Unit:                 analyzeFlags.Unit,
			Notes:                analyzeFlags.Notes,
			BenchmarkRetailPrice: analyzeFlags.Benchmark,
			Grounded:             analyzeFlags.Grounded,
			Language:             analyzeFlags.Language,
		}

		var run *model.Run
		if analyzeFlags.NoQuota {
			run, err = env.Analyzer.AnalyzeUnmetered(ctx, req)
		} else {
			run, err = env.Analyzer.Analyze(ctx, req)
		}
		if err != nil {
			if eris.Is(err, quota.ErrQuotaExceeded) {
				remaining, _ := env.Gate.Remaining(ctx)
				zap.L().Warn("daily analysis limit reached", zap.Int("remaining", remaining))
			}
			return eris.Wrap(err, "analyze")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run.Result)
	},
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeFlags.Product, "product", "", "product name (required)")
	f.StringVar(&analyzeFlags.Origin, "origin", "", "origin country (required)")
	f.StringVar(&analyzeFlags.Destination, "dest", "", "destination country (required)")
	f.Float64Var(&analyzeFlags.BaseCost, "base-cost", 0, "per-unit base cost (required)")
	f.StringVar(&analyzeFlags.Currency, "currency", "USD", "request currency code")
	f.StringVar(&analyzeFlags.HSCode, "hs-code", "", "HS code, if known")
	f.StringVar(&analyzeFlags.Unit, "unit", "per piece", "pricing unit")
	f.StringVar(&analyzeFlags.Notes, "notes", "", "free-text notes for the analysis")
	f.Float64Var(&analyzeFlags.Benchmark, "benchmark-price", 0, "known retail price in the destination market")
	f.BoolVar(&analyzeFlags.Grounded, "grounded", true, "use live web research")
	f.StringVar(&analyzeFlags.Language, "language", "en", "response language (BCP 47 tag)")
	f.BoolVar(&analyzeFlags.NoQuota, "no-quota", false, "bypass the daily quota gate")

	_ = analyzeCmd.MarkFlagRequired("product")
	_ = analyzeCmd.MarkFlagRequired("origin")
	_ = analyzeCmd.MarkFlagRequired("dest")
	_ = analyzeCmd.MarkFlagRequired("base-cost")

	rootCmd.AddCommand(analyzeCmd)
}
