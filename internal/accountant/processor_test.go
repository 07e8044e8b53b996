package accountant_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptofolio/accounting-engine/internal/accountant"
	"github.com/cryptofolio/accounting-engine/internal/costbasis"
	"github.com/cryptofolio/accounting-engine/internal/model"
	"github.com/cryptofolio/accounting-engine/internal/pricing"
	"github.com/cryptofolio/accounting-engine/internal/rules"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var (
	t0    = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tEnd  = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	epoch = time.Unix(0, 0).UTC()
)

func testSettings(includeFees bool) accountant.Settings {
	return accountant.Settings{
		ProfitCurrency:         "EUR",
		Method:                 costbasis.FIFO,
		IncludeFeesInCostBasis: includeFees,
	}
}

func newProcessor(oracle pricing.Oracle) *accountant.Processor {
	return accountant.NewProcessor(rules.DefaultSet(), oracle)
}

func receive(asset model.Asset, amount decimal.Decimal, ts time.Time) model.HistoryEvent {
	return model.HistoryEvent{
		GroupID:   "r-" + string(asset) + ts.String(),
		Timestamp: ts,
		Location:  "kraken",
		Asset:     asset,
		Amount:    amount,
		Type:      model.TypeReceive,
		Subtype:   model.SubtypeNone,
	}
}

func swapLegs(group string, ts time.Time, outAsset model.Asset, outAmt decimal.Decimal, inAsset model.Asset, inAmt decimal.Decimal) []model.HistoryEvent {
	return []model.HistoryEvent{
		{
			GroupID: group, Timestamp: ts, Location: "uniswap",
			Asset: outAsset, Amount: outAmt,
			Type: model.TypeTrade, Subtype: model.SubtypeSpend,
		},
		{
			GroupID: group, Timestamp: ts, Location: "uniswap",
			Asset: inAsset, Amount: inAmt,
			Type: model.TypeTrade, Subtype: model.SubtypeReceive,
		},
	}
}

func feeLeg(group string, ts time.Time, asset model.Asset, amount decimal.Decimal) model.HistoryEvent {
	return model.HistoryEvent{
		GroupID: group, Timestamp: ts, Location: "uniswap",
		Asset: asset, Amount: amount,
		Type: model.TypeTrade, Subtype: model.SubtypeFee,
	}
}

func TestRunIncomeThenSale(t *testing.T) {
	oracle := pricing.NewMemoryOracle()
	oracle.Seed("BTC", "EUR", t0, d(100))

	t1 := t0.Add(24 * time.Hour)
	events := []model.HistoryEvent{receive("BTC", d(5), t0)}
	events = append(events, swapLegs("g1", t1, "BTC", d(2), "EUR", d(300))...)

	result, err := newProcessor(oracle).Run(
		context.Background(), events, testSettings(true), epoch, tEnd, nil)
	require.NoError(t, err)
	require.Len(t, result.Events, 3)

	income := result.Events[0]
	assert.Equal(t, model.CategoryTransactionEvent, income.Category)
	assert.True(t, income.PnL.Taxable.Equal(d(500)), "5 BTC at 100")

	sale := result.Events[1]
	assert.Equal(t, model.CategoryTrade, sale.Category)
	assert.True(t, sale.Price.Equal(d(150)), "derived from the fiat leg: 300/2")
	require.NotNil(t, sale.CostBasis)
	assert.True(t, sale.CostBasis.TaxableCost.Equal(d(200)))
	assert.True(t, sale.PnL.Taxable.Equal(d(100)), "2*150 - 200, got %s", sale.PnL.Taxable)

	acquired := result.Events[2]
	assert.Equal(t, model.Asset("EUR"), acquired.Asset)
	assert.True(t, acquired.PnL.IsZero(), "swap in leg is never taxable income")

	assert.True(t, result.Totals[model.CategoryTrade].Taxable.Equal(d(100)))
	assert.Empty(t, result.MissingAcquisitions)
	assert.Empty(t, result.MissingPrices)
}

func TestRunSwapFeeAdjacentToOutLeg(t *testing.T) {
	oracle := pricing.NewMemoryOracle()
	oracle.Seed("BTC", "EUR", t0, d(100))

	events := swapLegs("g1", t0, "BTC", d(1), "EUR", d(100))
	events = append(events, feeLeg("g1", t0, "BTC", d(0.01)))
	// Seed a lot so the out leg resolves.
	events = append([]model.HistoryEvent{receive("BTC", d(2), t0.Add(-time.Hour))}, events...)

	result, err := newProcessor(oracle).Run(
		context.Background(), events, testSettings(false), epoch, tEnd, nil)
	require.NoError(t, err)
	require.Len(t, result.Events, 4)

	// Fee shares the spent asset, so it follows the out leg directly.
	assert.Equal(t, model.CategoryTrade, result.Events[1].Category)
	assert.Equal(t, model.Asset("BTC"), result.Events[1].Asset)
	assert.Equal(t, model.CategoryFee, result.Events[2].Category)
	assert.Equal(t, model.Asset("BTC"), result.Events[2].Asset)
	assert.Equal(t, model.Asset("EUR"), result.Events[3].Asset)
}

func TestRunSwapFeeAfterInLeg(t *testing.T) {
	oracle := pricing.NewMemoryOracle()
	oracle.Seed("BTC", "EUR", t0, d(100))
	oracle.Seed("ETH", "EUR", t0, d(10))

	events := []model.HistoryEvent{
		receive("BTC", d(1), t0.Add(-time.Hour)),
		receive("ETH", d(1), t0.Add(-time.Hour)),
	}
	events = append(events, swapLegs("g1", t0, "BTC", d(1), "EUR", d(100))...)
	events = append(events, feeLeg("g1", t0, "ETH", d(0.5)))

	result, err := newProcessor(oracle).Run(
		context.Background(), events, testSettings(false), epoch, tEnd, nil)
	require.NoError(t, err)
	require.Len(t, result.Events, 5)

	// Fee in a third asset comes after the in leg.
	assert.Equal(t, model.Asset("BTC"), result.Events[2].Asset)
	assert.Equal(t, model.Asset("EUR"), result.Events[3].Asset)
	assert.Equal(t, model.CategoryFee, result.Events[4].Category)
	assert.Equal(t, model.Asset("ETH"), result.Events[4].Asset)
}

func TestRunSwapFeeReduceOnlyWhenIncluded(t *testing.T) {
	oracle := pricing.NewMemoryOracle()
	oracle.Seed("BTC", "EUR", t0, d(100))

	events := []model.HistoryEvent{receive("BTC", d(2), t0.Add(-time.Hour))}
	events = append(events, swapLegs("g1", t0, "BTC", d(1), "EUR", d(100))...)
	events = append(events, feeLeg("g1", t0, "BTC", d(0.1)))

	result, err := newProcessor(oracle).Run(
		context.Background(), events, testSettings(true), epoch, tEnd, nil)
	require.NoError(t, err)
	require.Len(t, result.Events, 4)

	fee := result.Events[2]
	assert.Equal(t, model.CategoryFee, fee.Category)
	assert.True(t, fee.PnL.IsZero(), "fee folded into the bought asset's price")
	assert.True(t, fee.TaxableAmount.IsZero())
}

func TestRunSaleFeeShrinksTaxableGain(t *testing.T) {
	oracle := pricing.NewMemoryOracle()
	oracle.Seed("BTC", "EUR", t0, d(100))

	events := []model.HistoryEvent{receive("BTC", d(5), t0)}
	events = append(events, swapLegs("g1", t0.Add(time.Hour), "BTC", d(2), "EUR", d(300))...)
	events = append(events, feeLeg("g1", t0.Add(time.Hour), "BTC", d(0.1)))

	result, err := newProcessor(oracle).Run(
		context.Background(), events, testSettings(true), epoch, tEnd, nil)
	require.NoError(t, err)
	require.Len(t, result.Events, 4)

	// The 0.1 BTC fee is worth 10; spread over the 2 BTC sold it lowers
	// the effective sale price from 150 to 145.
	sale := result.Events[1]
	assert.True(t, sale.Price.Equal(d(145)), "300/2 - 10/2, got %s", sale.Price)
	assert.True(t, sale.PnL.Taxable.Equal(d(90)), "2*145 - 200, got %s", sale.PnL.Taxable)
}

func TestRunSwapMissingInLeg(t *testing.T) {
	oracle := pricing.NewMemoryOracle()
	oracle.Seed("BTC", "EUR", t0, d(100))

	events := []model.HistoryEvent{
		{
			GroupID: "g1", Timestamp: t0, Asset: "BTC", Amount: d(1),
			Type: model.TypeTrade, Subtype: model.SubtypeSpend,
		},
		receive("ETH", d(1), t0.Add(time.Hour)),
	}
	oracle.Seed("ETH", "EUR", t0, d(10))

	result, err := newProcessor(oracle).Run(
		context.Background(), events, testSettings(true), epoch, tEnd, nil)
	require.NoError(t, err)
	// The unpaired out leg is dropped; the following event still runs.
	require.Len(t, result.Events, 1)
	assert.Equal(t, model.Asset("ETH"), result.Events[0].Asset)
}

func TestRunSwapUnpriceableSkipsGroup(t *testing.T) {
	oracle := pricing.NewMemoryOracle()

	events := swapLegs("g1", t0, "ABC", d(1), "XYZ", d(10))
	result, err := newProcessor(oracle).Run(
		context.Background(), events, testSettings(true), epoch, tEnd, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Events, "unpriceable swap emits nothing")
	assert.NotEmpty(t, result.MissingPrices)
}

func TestRunUnsortedEventsFails(t *testing.T) {
	oracle := pricing.NewMemoryOracle()
	oracle.Seed("BTC", "EUR", t0, d(100))

	events := []model.HistoryEvent{
		receive("BTC", d(1), t0.Add(time.Hour)),
		receive("BTC", d(1), t0),
	}
	_, err := newProcessor(oracle).Run(
		context.Background(), events, testSettings(true), epoch, tEnd, nil)
	assert.ErrorIs(t, err, accountant.ErrUnsortedEvents)
}

func TestRunIgnoredAssetSkipped(t *testing.T) {
	oracle := pricing.NewMemoryOracle()
	oracle.Seed("BTC", "EUR", t0, d(100))

	settings := testSettings(true)
	settings.IgnoredAssets = map[model.Asset]bool{"SCAM": true}

	events := []model.HistoryEvent{
		receive("SCAM", d(1000), t0),
		receive("BTC", d(1), t0.Add(time.Hour)),
	}
	result, err := newProcessor(oracle).Run(
		context.Background(), events, settings, epoch, tEnd, nil)
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, model.Asset("BTC"), result.Events[0].Asset)
}

func TestRunWindowGating(t *testing.T) {
	oracle := pricing.NewMemoryOracle()
	oracle.Seed("BTC", "EUR", t0, d(100))

	t1 := t0.Add(30 * 24 * time.Hour)
	windowStart := t0.Add(15 * 24 * time.Hour)

	events := []model.HistoryEvent{receive("BTC", d(5), t0)}
	events = append(events, swapLegs("g1", t1, "BTC", d(2), "EUR", d(300))...)

	result, err := newProcessor(oracle).Run(
		context.Background(), events, testSettings(true), windowStart, tEnd, nil)
	require.NoError(t, err)

	// The acquisition is before the window: it builds cost basis but is
	// not reported.
	require.Len(t, result.Events, 2)
	sale := result.Events[0]
	assert.Equal(t, model.CategoryTrade, sale.Category)
	require.NotNil(t, sale.CostBasis)
	assert.True(t, sale.CostBasis.IsComplete)
	assert.True(t, sale.CostBasis.TaxableCost.Equal(d(200)))
	assert.Empty(t, result.MissingAcquisitions)
}

func TestRunMissingPriceValuesAtZero(t *testing.T) {
	oracle := pricing.NewMemoryOracle()

	events := []model.HistoryEvent{receive("DOGE", d(100), t0)}
	result, err := newProcessor(oracle).Run(
		context.Background(), events, testSettings(true), epoch, tEnd, nil)
	require.NoError(t, err)

	require.Len(t, result.Events, 1)
	assert.True(t, result.Events[0].Price.IsZero())
	assert.True(t, result.Events[0].PnL.Taxable.IsZero())
	require.Len(t, result.MissingPrices, 1)
	assert.Equal(t, model.Asset("DOGE"), result.MissingPrices[0].FromAsset)
	assert.Equal(t, model.Asset("EUR"), result.MissingPrices[0].ToAsset)
}

func TestRunOverspendReportsMissingAcquisition(t *testing.T) {
	oracle := pricing.NewMemoryOracle()
	oracle.Seed("BTC", "EUR", t0, d(100))

	events := []model.HistoryEvent{receive("BTC", d(5), t0)}
	events = append(events, swapLegs("g1", t0.Add(time.Hour), "BTC", d(7), "EUR", d(1050))...)

	result, err := newProcessor(oracle).Run(
		context.Background(), events, testSettings(true), epoch, tEnd, nil)
	require.NoError(t, err)

	require.Len(t, result.MissingAcquisitions, 1)
	ma := result.MissingAcquisitions[0]
	assert.True(t, ma.FoundAmount.Equal(d(5)))
	assert.True(t, ma.MissingAmount.Equal(d(2)))

	sale := result.Events[1]
	require.NotNil(t, sale.CostBasis)
	assert.False(t, sale.CostBasis.IsComplete)
	assert.True(t, sale.TaxableAmount.Equal(d(7)))
}

func TestRunProgressCallback(t *testing.T) {
	oracle := pricing.NewMemoryOracle()
	oracle.Seed("BTC", "EUR", t0, d(100))

	events := []model.HistoryEvent{receive("BTC", d(5), t0)}
	events = append(events, swapLegs("g1", t0.Add(time.Hour), "BTC", d(1), "EUR", d(100))...)

	var calls [][2]int
	progress := func(processed, total int) {
		calls = append(calls, [2]int{processed, total})
	}
	_, err := newProcessor(oracle).Run(
		context.Background(), events, testSettings(true), epoch, tEnd, progress)
	require.NoError(t, err)

	// One call for the lone receive, one for the whole swap group.
	require.Len(t, calls, 2)
	assert.Equal(t, [2]int{1, 3}, calls[0])
	assert.Equal(t, [2]int{3, 3}, calls[1])
}

func TestRunDeterministic(t *testing.T) {
	oracle := pricing.NewMemoryOracle()
	oracle.Seed("BTC", "EUR", t0, d(100))
	oracle.Seed("ETH", "EUR", t0, d(10))

	events := []model.HistoryEvent{
		receive("BTC", d(5), t0),
		receive("ETH", d(50), t0),
	}
	events = append(events, swapLegs("g1", t0.Add(time.Hour), "BTC", d(2), "EUR", d(300))...)
	events = append(events, swapLegs("g2", t0.Add(2*time.Hour), "ETH", d(10), "EUR", d(120))...)

	run := func() *accountant.RunResult {
		result, err := newProcessor(oracle).Run(
			context.Background(), events, testSettings(true), epoch, tEnd, nil)
		require.NoError(t, err)
		return result
	}
	a, b := run(), run()

	require.Equal(t, len(a.Events), len(b.Events))
	for i := range a.Events {
		assert.True(t, a.Events[i].PnL.Taxable.Equal(b.Events[i].PnL.Taxable))
		assert.Equal(t, a.Events[i].Asset, b.Events[i].Asset)
	}
	assert.True(t, a.Totals.NetTaxable().Equal(b.Totals.NetTaxable()))
}

func TestRunTotalsAdditiveOverDisjointBatches(t *testing.T) {
	oracle := pricing.NewMemoryOracle()
	oracle.Seed("BTC", "EUR", t0, d(100))
	oracle.Seed("ETH", "EUR", t0, d(10))

	btc := []model.HistoryEvent{receive("BTC", d(5), t0)}
	btc = append(btc, swapLegs("g1", t0.Add(time.Hour), "BTC", d(2), "EUR", d(300))...)

	eth := []model.HistoryEvent{receive("ETH", d(50), t0)}
	eth = append(eth, swapLegs("g2", t0.Add(2*time.Hour), "ETH", d(10), "EUR", d(120))...)

	combined := []model.HistoryEvent{btc[0], eth[0], btc[1], btc[2], eth[1], eth[2]}

	run := func(events []model.HistoryEvent) model.PnLTotals {
		result, err := newProcessor(oracle).Run(
			context.Background(), events, testSettings(true), epoch, tEnd, nil)
		require.NoError(t, err)
		return result.Totals
	}
	a, b, both := run(btc), run(eth), run(combined)

	// Disjoint-asset batches never share lots, so per-category totals of
	// the merged stream equal the sum of the separate runs.
	for category, pnl := range both {
		want := a[category].Add(b[category])
		assert.True(t, pnl.Taxable.Equal(want.Taxable), "%s taxable", category)
		assert.True(t, pnl.Free.Equal(want.Free), "%s free", category)
	}
	for category := range a {
		_, ok := both[category]
		assert.True(t, ok, "%s missing from merged run", category)
	}
	for category := range b {
		_, ok := both[category]
		assert.True(t, ok, "%s missing from merged run", category)
	}
	assert.True(t, both.NetTaxable().Equal(a.NetTaxable().Add(b.NetTaxable())))
	assert.True(t, both.NetFree().Equal(a.NetFree().Add(b.NetFree())))
}

func TestRunWithPotHoldings(t *testing.T) {
	oracle := pricing.NewMemoryOracle()
	oracle.Seed("BTC", "EUR", t0, d(100))

	events := []model.HistoryEvent{receive("BTC", d(5), t0)}
	events = append(events, swapLegs("g1", t0.Add(time.Hour), "BTC", d(2), "EUR", d(300))...)

	pot := accountant.NewPot(oracle, testSettings(true), epoch, tEnd)
	err := newProcessor(oracle).RunWithPot(context.Background(), pot, events, nil)
	require.NoError(t, err)

	held, ok := pot.HeldAmount("BTC")
	require.True(t, ok)
	assert.True(t, held.Equal(d(3)))

	lots := pot.OpenLots("BTC")
	require.Len(t, lots, 1)
	assert.True(t, lots[0].Amount.Equal(d(3)), "snapshot shows remaining amount")
}
