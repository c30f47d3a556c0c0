// Package prompt builds the research query and synthesis instruction for an
// analysis run. Builders are pure: identical inputs produce identical text,
// with no timestamps or other cache-busting noise, so prompt content is
// directly assertable in tests.
package prompt

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/harborview/tradescope/internal/model"
)

// NoResearchPlaceholder substitutes for the research narrative when grounded
// mode is off. The wording deliberately tells the synthesis model that no
// search happened, so it estimates from internal knowledge instead of
// treating the absence as evidence.
const NoResearchPlaceholder = "No web search was performed for this analysis. " +
	"Use internal knowledge to estimate current tariff rates, VAT, and market prices. " +
	"State estimates plainly; do not fabricate citations."

// Builder constructs stage prompts from an AnalysisRequest.
type Builder struct {
	overrides []SectorOverride
}

// NewBuilder creates a Builder with the embedded sector override table.
func NewBuilder() (*Builder, error) {
	overrides, err := LoadSectorOverrides()
	if err != nil {
		return nil, err
	}
	return &Builder{overrides: overrides}, nil
}

// ResearchQuery produces the grounded-research query for the request. It
// asks for current tariff data, punitive measures, non-tariff barriers, VAT,
// and at least three competitor products with prices.
func (b *Builder) ResearchQuery(req model.AnalysisRequest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Research current import conditions for shipping %q from %s to %s.\n",
		req.ProductName, req.OriginCountry, req.DestinationCountry)
	if req.HSCode != "" {
		fmt.Fprintf(&sb, "The product is classified under HS code %s.\n", req.HSCode)
	}
	if req.Notes != "" {
		fmt.Fprintf(&sb, "Additional product context: %s\n", req.Notes)
	}

	sb.WriteString(`
Find, with current figures:
1. The applied tariff/duty rate (MFN and any preferential rate) for this product and lane.
2. Any anti-dumping, countervailing, or safeguard measures in force.
3. Any bilateral trade-war or retaliatory tariffs affecting this origin/destination pair.
4. Non-tariff barriers: licensing, labeling, certification, or quota requirements.
5. The destination VAT (or sales tax) rate applicable to this product category.
6. At least three competitor products sold in the destination market, with current prices`)
	fmt.Fprintf(&sb, " per %s", defaultUnit(req.Unit))
	sb.WriteString(".\n")

	if req.BenchmarkRetailPrice > 0 {
		fmt.Fprintf(&sb, "For reference, the user believes comparable retail pricing is around %.2f %s.\n",
			req.BenchmarkRetailPrice, req.Currency)
	}

	return sb.String()
}

// SynthesisInstruction produces the synthesis-stage instruction, embedding
// the research narrative (or the no-research placeholder) plus the numeric
// and policy rules the output must obey.
func (b *Builder) SynthesisInstruction(req model.AnalysisRequest, narrative string) string {
	if strings.TrimSpace(narrative) == "" {
		narrative = NoResearchPlaceholder
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "Produce a trade feasibility analysis for exporting %q from %s to %s.\n",
		req.ProductName, req.OriginCountry, req.DestinationCountry)
	fmt.Fprintf(&sb, "Base cost per %s: %.2f %s.\n", defaultUnit(req.Unit), req.BaseCost, req.Currency)
	if req.HSCode != "" {
		fmt.Fprintf(&sb, "HS code: %s.\n", req.HSCode)
	}
	if req.Notes != "" {
		fmt.Fprintf(&sb, "Product notes: %s\n", req.Notes)
	}

	sb.WriteString("\n--- Research findings ---\n")
	sb.WriteString(narrative)
	sb.WriteString("\n--- End research findings ---\n\n")

	sb.WriteString("Rules:\n")

	if ov := matchSector(b.overrides, req.HSCode); ov != nil {
		fmt.Fprintf(&sb, "- HS chapter %s (%s) defaults to a 0%% tariff rate (%s). "+
			"Report tariffRate as 0 unless the research findings above explicitly name a punitive measure for this lane; "+
			"do not invent a nonzero rate from absence of data.\n",
			ov.Chapter, ov.Sector, ov.Note)
	}

	sb.WriteString(`- If the research findings mention punitive, anti-dumping, countervailing, safeguard, or retaliatory tariffs for this lane, they MUST be included in the tariff rate and explained in tariffRateNote.
- Express tariffRate and vatRate as decimal fractions (0.19 for 19%).
- Prices must never be zero. When a price is unknown, estimate a realistic market value instead of defaulting to 0.
- All breakdown amounts are per unit and in the base-cost currency.
- Include at least three competitors with prices; note what product description the comparison is based on.
- Suggest two alternative destination markets with the same analysis depth.
`)

	fmt.Fprintf(&sb, "- Respond in %s.\n", languageName(req.Language))

	return sb.String()
}

// languageName renders a BCP 47 tag as an English language name for prompt
// embedding. Unparseable tags fall back to English.
func languageName(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return "English"
	}
	name := display.English.Languages().Name(t)
	if name == "" {
		return "English"
	}
	return name
}

func defaultUnit(unit string) string {
	if strings.TrimSpace(unit) == "" {
		return "unit"
	}
	return unit
}
