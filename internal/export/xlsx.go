// Package export writes conversion records to spreadsheets.
package export

import (
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/quiz-funnel/internal/attribution"
	"github.com/sells-group/quiz-funnel/internal/model"
)

// SheetName is the sheet conversions are written to.
const SheetName = "conversions"

type column struct {
	header string
	num    func(c model.Conversion) float64
	str    func(c model.Conversion) string
}

var baseColumns = []column{
	{header: "id", str: func(c model.Conversion) string { return c.ID }},
	{header: "created_at", str: func(c model.Conversion) string { return c.CreatedAt.UTC().Format(time.RFC3339) }},
	{header: "session_id", str: func(c model.Conversion) string { return c.SessionID }},
	{header: "visitor_id", str: func(c model.Conversion) string { return c.VisitorID }},
	{header: "variant", str: func(c model.Conversion) string { return c.Variant }},
	{header: "profile", str: func(c model.Conversion) string { return c.Profile }},
	{header: "tier", str: func(c model.Conversion) string { return string(c.Tier) }},
	{header: "bottleneck", str: func(c model.Conversion) string { return c.Bottleneck }},
	{header: "quantity", num: func(c model.Conversion) float64 { return c.Metrics.Exposure.Quantity }},
	{header: "unit_value", num: func(c model.Conversion) float64 { return c.Metrics.Exposure.UnitValue }},
	{header: "exposure", num: func(c model.Conversion) float64 { return c.Metrics.Exposure.Exposure }},
	{header: "risk_rate", num: func(c model.Conversion) float64 { return c.Metrics.Exposure.RiskRate }},
	{header: "risk", num: func(c model.Conversion) float64 { return c.Metrics.Exposure.Risk }},
	{header: "churn_pct", num: func(c model.Conversion) float64 { return c.Metrics.Churn.ChurnPct }},
	{header: "lifetime_value", num: func(c model.Conversion) float64 { return c.Metrics.Churn.LifetimeValue }},
	{header: "annualized_loss", num: func(c model.Conversion) float64 { return c.Metrics.Churn.AnnualizedLoss }},
	{header: "hours_lost", num: func(c model.Conversion) float64 { return c.Metrics.Time.Hours }},
}

var tailColumns = []column{
	{header: "checkout_url", str: func(c model.Conversion) string { return c.CheckoutURL }},
	{header: "lead_page_id", str: func(c model.Conversion) string { return c.LeadPageID }},
}

func columns() []column {
	cols := append([]column(nil), baseColumns...)
	for _, k := range attribution.Keys {
		cols = append(cols, column{header: k, str: func(c model.Conversion) string { return c.Attribution[k] }})
	}
	return append(cols, tailColumns...)
}

// Headers returns the header row in column order.
func Headers() []string {
	cols := columns()
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.header
	}
	return out
}

// WriteXLSX writes one header row and one row per conversion.
func WriteXLSX(w io.Writer, convs []model.Conversion) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	cols := columns()
	header := sheet.AddRow()
	for _, c := range cols {
		header.AddCell().SetString(c.header)
	}

	for _, conv := range convs {
		row := sheet.AddRow()
		for _, c := range cols {
			cell := row.AddCell()
			if c.num != nil {
				cell.SetFloat(c.num(conv))
				continue
			}
			cell.SetString(c.str(conv))
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}
