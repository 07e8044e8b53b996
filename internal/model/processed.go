package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProcessedAccountingEvent is one output row of an accounting run: a
// history event after classification, cost basis resolution and PnL
// calculation.
type ProcessedAccountingEvent struct {
	Index         int               `json:"index" db:"index"`
	Category      Category          `json:"category" db:"category"`
	Timestamp     time.Time         `json:"timestamp" db:"timestamp"`
	Location      string            `json:"location" db:"location"`
	Asset         Asset             `json:"asset" db:"asset"`
	FreeAmount    decimal.Decimal   `json:"free_amount" db:"free_amount"`
	TaxableAmount decimal.Decimal   `json:"taxable_amount" db:"taxable_amount"`
	Price         decimal.Decimal   `json:"price" db:"price"`
	PnL           PNL               `json:"pnl" db:"pnl"`
	CostBasis     *SpendResolution  `json:"cost_basis,omitempty" db:"cost_basis"`
	Notes         string            `json:"notes,omitempty" db:"notes"`
	Extra         map[string]string `json:"extra,omitempty" db:"extra"`
}

// CalculatePnL computes and stores the event's PnL from its amounts, price
// and cost basis.
//
// For spends with countEntireAmountSpend the whole spent value is booked as
// a taxable loss first. Cost-basis PnL is then added unless the asset is
// fiat or the rule disabled it: the taxable portion realizes
// value - taxable cost, the free portion value - tax-free cost.
// Acquisitions carry no cost basis, so their taxable amount times price is
// booked directly (income).
func (e *ProcessedAccountingEvent) CalculatePnL(countEntireAmountSpend, countCostBasisPnL, isFiat bool) {
	pnl := PNL{Taxable: decimal.Zero, Free: decimal.Zero}

	if countEntireAmountSpend {
		spent := e.TaxableAmount.Add(e.FreeAmount).Mul(e.Price)
		pnl.Taxable = pnl.Taxable.Sub(spent)
	}
	if isFiat || !countCostBasisPnL {
		e.PnL = pnl
		return
	}

	var taxableCost, taxfreeCost decimal.Decimal
	if e.CostBasis != nil {
		taxableCost = e.CostBasis.TaxableCost
		taxfreeCost = e.CostBasis.TaxFreeCost
	}
	pnl.Taxable = pnl.Taxable.Add(e.TaxableAmount.Mul(e.Price)).Sub(taxableCost)
	pnl.Free = pnl.Free.Add(e.FreeAmount.Mul(e.Price)).Sub(taxfreeCost)
	e.PnL = pnl
}
