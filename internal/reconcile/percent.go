package reconcile

import "fmt"

// FormatPercent renders a rate for display. The upstream contract says rates
// are decimal fractions (0.19 == 19%), but older payloads sometimes carry
// whole percentages (19 == 19%). Values above 1 are treated as
// already-percent. Known gap: a genuine fractional rate above 100% (e.g. a
// 1.5 punitive tariff) is indistinguishable from a 1.5% whole-percent value;
// this mirrors the upstream ambiguity rather than guessing a fix.
func FormatPercent(v float64) string {
	if v == 0 {
		return "0%"
	}
	pct := v
	if v <= 1 {
		pct = v * 100
	}
	return fmt.Sprintf("%.1f%%", pct)
}
