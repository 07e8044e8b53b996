package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptofolio/accounting-engine/internal/model"
)

// ErrBadSwapAmounts means a swap leg had a zero or negative amount, so no
// exchange rate can be derived.
var ErrBadSwapAmounts = errors.New("pricing: swap leg amounts must be positive")

// SwapPrices are the effective per-unit prices of a swap's two legs in
// profit currency. They are consistent with each other: out amount times
// out price equals in amount times in price, before any fee adjustment.
type SwapPrices struct {
	Out decimal.Decimal
	In  decimal.Decimal
}

// SwapPricer derives both leg prices of a swap from a single oracle quote,
// preferring the leg the oracle is most reliable for.
type SwapPricer struct {
	oracle                 Oracle
	profitCurrency         model.Asset
	includeFeesInCostBasis bool
}

// NewSwapPricer returns a pricer quoting against profitCurrency.
func NewSwapPricer(oracle Oracle, profitCurrency model.Asset, includeFeesInCostBasis bool) *SwapPricer {
	return &SwapPricer{
		oracle:                 oracle,
		profitCurrency:         profitCurrency,
		includeFeesInCostBasis: includeFeesInCostBasis,
	}
}

// PricesForSwap prices the two legs of a swap at the given time.
//
// The anchor quote is taken from the fiat leg when one side is fiat,
// otherwise from the out leg, falling back to the in leg. The other leg's
// price follows from the amount ratio, so both legs value the swap
// identically. When fees are included in cost basis and a fee leg exists,
// the fee's profit-currency value is folded into an effective price: when
// the acquired asset is fiat it is subtracted from the spent leg's price
// (a sale's taxable proceeds shrink), otherwise it is added to the
// acquired leg's price (a purchase costs more).
func (p *SwapPricer) PricesForSwap(ctx context.Context, at time.Time, out, in, fee *model.HistoryEvent) (SwapPrices, error) {
	if !out.Amount.IsPositive() || !in.Amount.IsPositive() {
		return SwapPrices{}, ErrBadSwapAmounts
	}

	anchors := []*model.HistoryEvent{out, in}
	if in.Asset.IsFiat() && !out.Asset.IsFiat() {
		anchors = []*model.HistoryEvent{in, out}
	}

	var prices SwapPrices
	var lastErr error
	found := false
	for _, anchor := range anchors {
		rate, err := p.oracle.Quote(ctx, anchor.Asset, p.profitCurrency, at)
		if err != nil {
			lastErr = err
			continue
		}
		if anchor == out {
			prices.Out = rate
			prices.In = out.Amount.Mul(rate).Div(in.Amount)
		} else {
			prices.In = rate
			prices.Out = in.Amount.Mul(rate).Div(out.Amount)
		}
		found = true
		break
	}
	if !found {
		return SwapPrices{}, fmt.Errorf("pricing swap %s -> %s: %w", out.Asset, in.Asset, lastErr)
	}

	if fee != nil && p.includeFeesInCostBasis && fee.Amount.IsPositive() {
		feeRate, err := p.oracle.Quote(ctx, fee.Asset, p.profitCurrency, at)
		if err != nil {
			return SwapPrices{}, fmt.Errorf("pricing swap fee %s: %w", fee.Asset, err)
		}
		feeValue := fee.Amount.Mul(feeRate)
		if in.Asset.IsFiat() {
			prices.Out = prices.Out.Sub(feeValue.Div(out.Amount))
		} else {
			prices.In = prices.In.Add(feeValue.Div(in.Amount))
		}
	}
	return prices, nil
}
