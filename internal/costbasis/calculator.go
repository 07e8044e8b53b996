package costbasis

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptofolio/accounting-engine/internal/model"
)

// Calculator tracks acquisition lots per asset and resolves spends against
// them. It is not safe for concurrent use; each accounting run owns one.
type Calculator struct {
	method        Method
	taxfreeAfter  *time.Duration
	ledgers       map[model.Asset]*lotLedger
	missing       []model.MissingAcquisition
	acquiredCount map[model.Asset]int
}

// NewCalculator returns a calculator using the given consumption method.
// A nil taxfreeAfter disables the holding-period exemption entirely.
func NewCalculator(method Method, taxfreeAfter *time.Duration) *Calculator {
	c := &Calculator{}
	c.Reset(method, taxfreeAfter)
	return c
}

// Reset wipes all lots and diagnostics so the calculator can serve a new
// run.
func (c *Calculator) Reset(method Method, taxfreeAfter *time.Duration) {
	c.method = method
	c.taxfreeAfter = taxfreeAfter
	c.ledgers = make(map[model.Asset]*lotLedger)
	c.missing = nil
	c.acquiredCount = make(map[model.Asset]int)
}

func (c *Calculator) ledger(asset model.Asset) *lotLedger {
	g, ok := c.ledgers[asset]
	if !ok {
		g = newLotLedger(c.method)
		c.ledgers[asset] = g
	}
	return g
}

// Acquire records a new acquisition lot for the asset.
func (c *Calculator) Acquire(asset model.Asset, amount, rate decimal.Decimal, ts time.Time) {
	idx := c.acquiredCount[asset]
	c.acquiredCount[asset] = idx + 1
	c.ledger(asset).add(&AcquisitionLot{
		Amount:    amount,
		Remaining: amount,
		Timestamp: ts,
		Rate:      rate,
		Index:     idx,
	})
}

// ReduceOnly consumes amount from the asset's lots without producing cost
// basis information. Used for fee amounts already folded into another
// asset's acquisition price. When the open lots cannot cover the whole
// amount, a MissingAcquisition diagnostic is recorded (fiat excepted) and
// false is returned.
func (c *Calculator) ReduceOnly(asset model.Asset, amount decimal.Decimal, ts time.Time) bool {
	g := c.ledger(asset)
	left := amount
	for left.IsPositive() {
		lot := g.peek()
		if lot == nil {
			break
		}
		portion := decimal.Min(left, lot.Remaining)
		g.consume(portion)
		left = left.Sub(portion)
	}
	if left.IsPositive() {
		if !asset.IsFiat() {
			c.missing = append(c.missing, model.MissingAcquisition{
				Asset:         asset,
				Time:          ts,
				FoundAmount:   amount.Sub(left),
				MissingAmount: left,
			})
			slog.Warn("reduction exceeds acquisition history",
				"asset", string(asset),
				"reduced", amount.String(),
				"missing", left.String(),
			)
		}
		return false
	}
	return true
}

// ResolveSpend matches a spend against the asset's open lots in the
// method's order and splits it into taxable and tax-free portions.
//
// A portion is tax-free when the lot was acquired strictly more than the
// tax-free period before the spend. When the open lots cannot cover the
// whole spend, the uncovered remainder is treated as taxable, a
// MissingAcquisition diagnostic is recorded (fiat excepted) and the
// resolution is marked incomplete.
func (c *Calculator) ResolveSpend(asset model.Asset, amount decimal.Decimal, ts time.Time) *model.SpendResolution {
	res := &model.SpendResolution{
		TaxableAmount: decimal.Zero,
		TaxableCost:   decimal.Zero,
		TaxFreeCost:   decimal.Zero,
		IsComplete:    true,
	}
	g := c.ledger(asset)

	left := amount
	taxfreeMatched := decimal.Zero
	for left.IsPositive() {
		lot := g.peek()
		if lot == nil {
			break
		}
		portion := decimal.Min(left, lot.Remaining)
		taxable := c.isTaxable(lot.Timestamp, ts)
		cost := portion.Mul(lot.Rate)
		if taxable {
			res.TaxableAmount = res.TaxableAmount.Add(portion)
			res.TaxableCost = res.TaxableCost.Add(cost)
		} else {
			taxfreeMatched = taxfreeMatched.Add(portion)
			res.TaxFreeCost = res.TaxFreeCost.Add(cost)
		}
		res.Matched = append(res.Matched, model.MatchedLot{
			Amount:  portion,
			Lot:     lot.Snapshot(),
			Taxable: taxable,
		})
		g.consume(portion)
		left = left.Sub(portion)
	}

	if left.IsPositive() {
		// Anything not covered by acquisition history is taxable in
		// full, so the taxable amount becomes the spend minus the
		// matched tax-free portion.
		res.TaxableAmount = amount.Sub(taxfreeMatched)
		res.IsComplete = false
		if !asset.IsFiat() {
			found := amount.Sub(left)
			c.missing = append(c.missing, model.MissingAcquisition{
				Asset:         asset,
				Time:          ts,
				FoundAmount:   found,
				MissingAmount: left,
			})
			slog.Warn("spend exceeds acquisition history",
				"asset", string(asset),
				"spent", amount.String(),
				"missing", left.String(),
			)
		}
	}
	return res
}

// isTaxable applies the holding-period rule: a lot is tax-free only when
// acquired strictly more than the period before the spend.
func (c *Calculator) isTaxable(acquired, spent time.Time) bool {
	if c.taxfreeAfter == nil {
		return true
	}
	return !acquired.Add(*c.taxfreeAfter).Before(spent)
}

// HeldAmount returns the total unconsumed amount of the asset. The second
// return is false when the asset was never tracked or its lots are fully
// consumed.
func (c *Calculator) HeldAmount(asset model.Asset) (decimal.Decimal, bool) {
	g, ok := c.ledgers[asset]
	if !ok {
		return decimal.Zero, false
	}
	total := g.remaining()
	if total.IsZero() {
		return decimal.Zero, false
	}
	return total, true
}

// OpenLots returns snapshots of the asset's unconsumed lots, amounts set
// to what remains of each.
func (c *Calculator) OpenLots(asset model.Asset) []model.LotSnapshot {
	g, ok := c.ledgers[asset]
	if !ok {
		return nil
	}
	return g.snapshot()
}

// MissingAcquisitions returns the diagnostics accumulated since the last
// Reset.
func (c *Calculator) MissingAcquisitions() []model.MissingAcquisition {
	return c.missing
}
