package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LotSnapshot is a read-only copy of an acquisition lot at the moment a
// spend matched against it.
type LotSnapshot struct {
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
	Rate      decimal.Decimal `json:"rate"`
	Index     int             `json:"index"`
}

// MatchedLot is one line of a spend's resolution: how much was consumed
// from which lot and whether that portion counts as taxable.
type MatchedLot struct {
	Amount  decimal.Decimal `json:"amount"`
	Lot     LotSnapshot     `json:"lot"`
	Taxable bool            `json:"taxable"`
}

// String renders the matched lot for CSV/report output.
func (m MatchedLot) String() string {
	return fmt.Sprintf(
		"%s / %s acquired at %s for price: %s",
		m.Amount, m.Lot.Amount,
		m.Lot.Timestamp.UTC().Format("02/01/2006 15:04:05"),
		m.Lot.Rate,
	)
}

// SpendResolution is the cost basis information of one spend event.
//
// TaxableAmount is the part of the spent amount that counts as taxable
// under the holding-period rule. TaxableCost and TaxFreeCost are what it
// cost, in profit currency, to acquire the taxable and tax-free portions.
// IsComplete is false when the spend exceeded known acquisitions; results
// are still usable but flagged (short position or missing history).
type SpendResolution struct {
	TaxableAmount decimal.Decimal `json:"taxable_amount"`
	TaxableCost   decimal.Decimal `json:"taxable_cost"`
	TaxFreeCost   decimal.Decimal `json:"tax_free_cost"`
	Matched       []MatchedLot    `json:"matched"`
	IsComplete    bool            `json:"is_complete"`
}

// CostStrings renders the taxable and free matched-lot descriptions for
// export. Incomplete resolutions are prefixed with a marker on both.
func (r *SpendResolution) CostStrings() (taxable, free string) {
	if !r.IsComplete {
		taxable = "Incomplete cost basis information for spend."
		free = taxable
	}
	for _, m := range r.Matched {
		s := m.String()
		if m.Taxable {
			if taxable != "" {
				taxable += " "
			}
			taxable += s
		} else {
			if free != "" {
				free += " "
			}
			free += s
		}
	}
	return taxable, free
}

// MissingAcquisition records a spend that could not be fully matched
// against acquisition history. Accumulated per run, never fatal.
type MissingAcquisition struct {
	Asset         Asset           `json:"asset"`
	Time          time.Time       `json:"time"`
	FoundAmount   decimal.Decimal `json:"found_amount"`
	MissingAmount decimal.Decimal `json:"missing_amount"`
}

// MissingPrice records a failed price lookup. Accumulated per run as a
// set, never fatal.
type MissingPrice struct {
	FromAsset Asset     `json:"from_asset"`
	ToAsset   Asset     `json:"to_asset"`
	Time      time.Time `json:"time"`
}
