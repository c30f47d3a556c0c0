// Package reconcile recomputes derived financial totals from the itemized
// cost breakdown. The generative backend's own aggregate fields (landedCost,
// profitMargin, roiPercentage) are never trusted: arithmetic from the five
// breakdown components is the single source of truth, and applying the
// reconciler is idempotent.
package reconcile

import "github.com/harborview/tradescope/internal/model"

// Market recomputes the reconciled totals for one market analysis in place.
func Market(m *model.MarketAnalysis) {
	total := m.Breakdown.BaseCost +
		m.Breakdown.Shipping +
		m.Breakdown.Tariffs +
		m.Breakdown.VAT +
		m.Breakdown.Compliance

	r := model.Reconciled{TotalLandedCost: total}
	r.NetProfit = m.LocalMarketPrice - total

	if total == 0 {
		// ROI is undefined for a zero landed cost; report 0 and flag it
		// rather than dividing.
		r.ROIPercent = 0
		r.ROIUndefined = true
	} else {
		r.ROIPercent = r.NetProfit / total * 100
	}

	m.Reconciled = r
}

// Dashboard reconciles the primary analysis and every alternative.
func Dashboard(d *model.DashboardData) {
	Market(&d.Primary)
	for i := range d.Alternatives {
		Market(&d.Alternatives[i])
	}
}
