package model

import "github.com/shopspring/decimal"

// PNL is a taxable/free profit-and-loss pair. The free component tracks
// gains that fall under a holding-period exemption and therefore do not
// count toward the taxable total.
type PNL struct {
	Taxable decimal.Decimal `json:"taxable"`
	Free    decimal.Decimal `json:"free"`
}

// Add returns p + other.
func (p PNL) Add(other PNL) PNL {
	return PNL{
		Taxable: p.Taxable.Add(other.Taxable),
		Free:    p.Free.Add(other.Free),
	}
}

// Sub returns p - other.
func (p PNL) Sub(other PNL) PNL {
	return PNL{
		Taxable: p.Taxable.Sub(other.Taxable),
		Free:    p.Free.Sub(other.Free),
	}
}

// Total returns taxable + free.
func (p PNL) Total() decimal.Decimal {
	return p.Taxable.Add(p.Free)
}

// IsZero reports whether both components are zero.
func (p PNL) IsZero() bool {
	return p.Taxable.IsZero() && p.Free.IsZero()
}

// PnLTotals accumulates PnL per accounting category. The zero map value is
// not usable; construct with NewPnLTotals.
type PnLTotals map[Category]PNL

// NewPnLTotals returns an empty totals mapping.
func NewPnLTotals() PnLTotals {
	return make(PnLTotals)
}

// Add folds pnl into the category's running total. Missing categories
// default to zero.
func (t PnLTotals) Add(category Category, pnl PNL) {
	t[category] = t[category].Add(pnl)
}

// NetTaxable returns the sum of taxable PnL across all categories.
func (t PnLTotals) NetTaxable() decimal.Decimal {
	total := decimal.Zero
	for _, pnl := range t {
		total = total.Add(pnl.Taxable)
	}
	return total
}

// NetFree returns the sum of free PnL across all categories.
func (t PnLTotals) NetFree() decimal.Decimal {
	total := decimal.Zero
	for _, pnl := range t {
		total = total.Add(pnl.Free)
	}
	return total
}
