package report

import (
	"encoding/csv"
	"io"
	"sort"
	"time"

	"github.com/cryptofolio/accounting-engine/internal/model"
)

var csvHeader = []string{
	"category",
	"timestamp",
	"location",
	"asset",
	"free_amount",
	"taxable_amount",
	"price",
	"pnl_taxable",
	"pnl_free",
	"cost_basis_taxable",
	"cost_basis_free",
	"notes",
}

// WriteCSV writes one row per processed event, plus a trailing summary row
// per category with the report's PnL totals.
func WriteCSV(w io.Writer, report *model.Report, events []model.ProcessedAccountingEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, e := range events {
		var costTaxable, costFree string
		if e.CostBasis != nil {
			costTaxable, costFree = e.CostBasis.CostStrings()
		}
		row := []string{
			string(e.Category),
			e.Timestamp.UTC().Format(time.RFC3339),
			e.Location,
			string(e.Asset),
			e.FreeAmount.String(),
			e.TaxableAmount.String(),
			e.Price.String(),
			e.PnL.Taxable.String(),
			e.PnL.Free.String(),
			costTaxable,
			costFree,
			e.Notes,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	categories := make([]model.Category, 0, len(report.Totals))
	for category := range report.Totals {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	for _, category := range categories {
		pnl := report.Totals[category]
		row := []string{
			string(category),
			"", "", "", "", "", "",
			pnl.Taxable.String(),
			pnl.Free.String(),
			"", "",
			"total",
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
