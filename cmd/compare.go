package main

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harborview/tradescope/internal/model"
)

var compareFlags struct {
	Product      string
	Origin       string
	Destinations []string
	BaseCost     float64
	Currency     string
	HSCode       string
	Unit         string
	Grounded     bool
	Language     string
	NoQuota      bool
	Concurrency  int
}

// compareRow pairs a destination with its completed run.
type compareRow struct {
	Destination string
	Run         *model.Run
}

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Analyze one product against several destination markets",
	Long:  "Runs the full pipeline once per destination in parallel and prints a side-by-side landed-cost comparison. Each destination consumes one unit of the daily quota.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if len(compareFlags.Destinations) < 2 {
			return eris.New("compare: at least two --dest values are required")
		}

		env, err := initAnalyzer(ctx, compareFlags.Grounded)
		if err != nil {
			return err
		}
		defer env.Close()

		var mu sync.Mutex
		var rows []compareRow

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(compareFlags.Concurrency)

		for _, dest := range compareFlags.Destinations {
			dest := dest
			g.Go(func() error {
				req := model.AnalysisRequest{
					ProductName:        compareFlags.Product,
					OriginCountry:      compareFlags.Origin,
					DestinationCountry: dest,
					BaseCost:           compareFlags.BaseCost,
					Currency:           compareFlags.Currency,
					HSCode:             compareFlags.HSCode,
					Unit:               compareFlags.Unit,
					Grounded:           compareFlags.Grounded,
					Language:           compareFlags.Language,
				}

				var run *model.Run
				var err error
				if compareFlags.NoQuota {
					run, err = env.Analyzer.AnalyzeUnmetered(gctx, req)
				} else {
					run, err = env.Analyzer.Analyze(gctx, req)
				}
				if err != nil {
					return eris.Wrapf(err, "compare: %s", dest)
				}

				mu.Lock()
				rows = append(rows, compareRow{Destination: dest, Run: run})
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		// Most profitable lane first.
		sort.Slice(rows, func(i, j int) bool {
			return primaryReconciled(rows[i].Run).NetProfit > primaryReconciled(rows[j].Run).NetProfit
		})

		formatComparison(os.Stdout, rows)
		zap.L().Info("comparison complete", zap.Int("destinations", len(rows)))
		return nil
	},
}

func primaryReconciled(run *model.Run) model.Reconciled {
	if run.Result == nil || run.Result.Dashboard == nil {
		return model.Reconciled{}
	}
	return run.Result.Dashboard.Primary.Reconciled
}

func formatComparison(w *os.File, rows []compareRow) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DESTINATION\tLANDED COST\tNET PROFIT\tROI\tRISK\tRUN ID")
	for _, row := range rows {
		rec := primaryReconciled(row.Run)
		roi := fmt.Sprintf("%.1f%%", rec.ROIPercent)
		if rec.ROIUndefined {
			roi = "n/a"
		}
		risk := ""
		if row.Run.Result != nil && row.Run.Result.Dashboard != nil {
			risk = string(row.Run.Result.Dashboard.Primary.ComplianceRisk)
		}
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%s\t%s\t%s\n",
			row.Destination, rec.TotalLandedCost, rec.NetProfit, roi, risk, row.Run.ID)
	}
	tw.Flush()
}

func init() {
	f := compareCmd.Flags()
	f.StringVar(&compareFlags.Product, "product", "", "product name (required)")
	f.StringVar(&compareFlags.Origin, "origin", "", "origin country (required)")
	f.StringSliceVar(&compareFlags.Destinations, "dest", nil, "destination country (repeat for each market)")
	f.Float64Var(&compareFlags.BaseCost, "base-cost", 0, "per-unit base cost (required)")
	f.StringVar(&compareFlags.Currency, "currency", "USD", "request currency code")
	f.StringVar(&compareFlags.HSCode, "hs-code", "", "HS code, if known")
	f.StringVar(&compareFlags.Unit, "unit", "per piece", "pricing unit")
	f.BoolVar(&compareFlags.Grounded, "grounded", true, "use live web research")
	f.StringVar(&compareFlags.Language, "language", "en", "response language (BCP 47 tag)")
	f.BoolVar(&compareFlags.NoQuota, "no-quota", false, "bypass the daily quota gate")
	f.IntVar(&compareFlags.Concurrency, "concurrency", 3, "max destinations analyzed in parallel")

	_ = compareCmd.MarkFlagRequired("product")
	_ = compareCmd.MarkFlagRequired("origin")
	_ = compareCmd.MarkFlagRequired("dest")
	_ = compareCmd.MarkFlagRequired("base-cost")

	rootCmd.AddCommand(compareCmd)
}
