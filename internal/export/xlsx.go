// Package export renders completed analysis runs to spreadsheet reports.
package export

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/harborview/tradescope/internal/model"
	"github.com/harborview/tradescope/internal/reconcile"
)

// WriteXLSX writes a completed run to an XLSX workbook at path. The run must
// carry a dashboard result.
func WriteXLSX(run *model.Run, path string) error {
	if run.Result == nil || run.Result.Dashboard == nil {
		return eris.New("export: run has no dashboard result")
	}
	d := run.Result.Dashboard

	f := xlsx.NewFile()

	if err := writeSummarySheet(f, run, d); err != nil {
		return err
	}
	if err := writeMarketSheet(f, "Primary Market", d.Primary); err != nil {
		return err
	}
	for _, alt := range d.Alternatives {
		name := "Alt " + alt.Country
		if len(name) > 31 { // sheet name cap
			name = name[:31]
		}
		if err := writeMarketSheet(f, name, alt); err != nil {
			return err
		}
	}
	if err := writeIntelligenceSheet(f, d.Intelligence); err != nil {
		return err
	}
	if len(d.Citations) > 0 {
		if err := writeCitationsSheet(f, d.Citations); err != nil {
			return err
		}
	}

	return eris.Wrap(f.Save(path), "export: save workbook")
}

func writeSummarySheet(f *xlsx.File, run *model.Run, d *model.DashboardData) error {
	sheet, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}

	addKV(sheet, "Run ID", run.ID)
	addKV(sheet, "Product", run.Request.ProductName)
	addKV(sheet, "Origin", run.Request.OriginCountry)
	addKV(sheet, "Destination", run.Request.DestinationCountry)
	addKV(sheet, "HS Code", run.Request.HSCode)
	addKV(sheet, "Grounded research", boolYesNo(run.Result.Grounded))
	addKV(sheet, "Created", run.CreatedAt.Format("2006-01-02 15:04 MST"))

	sheet.AddRow()
	rec := d.Primary.Reconciled
	addKVFloat(sheet, "Total landed cost", rec.TotalLandedCost)
	addKVFloat(sheet, "Net profit per unit", rec.NetProfit)
	if rec.ROIUndefined {
		addKV(sheet, "ROI", "undefined (zero landed cost)")
	} else {
		addKV(sheet, "ROI", fmt.Sprintf("%.1f%%", rec.ROIPercent))
	}
	return nil
}

func writeMarketSheet(f *xlsx.File, name string, m model.MarketAnalysis) error {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "export: add sheet %s", name)
	}

	addKV(sheet, "Country", m.Country)
	addKV(sheet, "Currency", m.Currency)
	addKV(sheet, "Tariff rate", reconcile.FormatPercent(m.TariffRate))
	if m.TariffRateNote != "" {
		addKV(sheet, "Tariff note", m.TariffRateNote)
	}
	addKV(sheet, "VAT rate", reconcile.FormatPercent(m.VATRate))
	addKV(sheet, "Compliance risk", string(m.ComplianceRisk))
	addKVFloat(sheet, "Local market price", m.LocalMarketPrice)

	sheet.AddRow()
	header := sheet.AddRow()
	header.AddCell().Value = "Cost component"
	header.AddCell().Value = "Amount"

	b := m.Breakdown
	addKVFloat(sheet, "Base cost", b.BaseCost)
	addKVFloat(sheet, "Shipping", b.Shipping)
	addKVFloat(sheet, "Tariffs", b.Tariffs)
	addKVFloat(sheet, "VAT", b.VAT)
	addKVFloat(sheet, "Compliance", b.Compliance)
	addKVFloat(sheet, "Total landed cost", m.Reconciled.TotalLandedCost)
	addKVFloat(sheet, "Net profit", m.Reconciled.NetProfit)

	if m.ComplianceNotes != "" {
		sheet.AddRow()
		addKV(sheet, "Compliance notes", m.ComplianceNotes)
	}
	if m.TradeBarrierNotes != "" {
		addKV(sheet, "Trade barriers", m.TradeBarrierNotes)
	}
	return nil
}

func writeIntelligenceSheet(f *xlsx.File, intel model.MarketIntelligence) error {
	sheet, err := f.AddSheet("Market Intelligence")
	if err != nil {
		return eris.Wrap(err, "export: add intelligence sheet")
	}

	addKV(sheet, "Currency", intel.Currency)
	addKV(sheet, "Unit", intel.Unit)
	if intel.SearchNote != "" {
		addKV(sheet, "Search note", intel.SearchNote)
	}
	addKVFloat(sheet, "Price min", intel.PriceRange.Min)
	addKVFloat(sheet, "Price max", intel.PriceRange.Max)
	addKVFloat(sheet, "Price average", intel.PriceRange.Average)

	sheet.AddRow()
	header := sheet.AddRow()
	header.AddCell().Value = "Competitor"
	header.AddCell().Value = "Price"
	for _, c := range intel.Competitors {
		row := sheet.AddRow()
		row.AddCell().Value = c.Name
		row.AddCell().SetFloat(c.Price)
	}
	return nil
}

func writeCitationsSheet(f *xlsx.File, citations []model.SourceCitation) error {
	sheet, err := f.AddSheet("Sources")
	if err != nil {
		return eris.Wrap(err, "export: add sources sheet")
	}

	header := sheet.AddRow()
	header.AddCell().Value = "Title"
	header.AddCell().Value = "URL"
	for _, c := range citations {
		row := sheet.AddRow()
		row.AddCell().Value = c.Title
		row.AddCell().Value = c.URI
	}
	return nil
}

func addKV(sheet *xlsx.Sheet, key, value string) {
	row := sheet.AddRow()
	row.AddCell().Value = key
	row.AddCell().Value = value
}

func addKVFloat(sheet *xlsx.Sheet, key string, value float64) {
	row := sheet.AddRow()
	row.AddCell().Value = key
	row.AddCell().SetFloat(value)
}

func boolYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
