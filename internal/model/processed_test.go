package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCalculatePnLAcquisitionIncome(t *testing.T) {
	ev := ProcessedAccountingEvent{
		TaxableAmount: d(2),
		FreeAmount:    decimal.Zero,
		Price:         d(150),
	}
	ev.CalculatePnL(false, true, false)
	assert.True(t, ev.PnL.Taxable.Equal(d(300)), "income is amount times price")
	assert.True(t, ev.PnL.Free.IsZero())
}

func TestCalculatePnLSpendWithCostBasis(t *testing.T) {
	ev := ProcessedAccountingEvent{
		TaxableAmount: d(2),
		FreeAmount:    decimal.Zero,
		Price:         d(150),
		CostBasis: &SpendResolution{
			TaxableAmount: d(2),
			TaxableCost:   d(200),
			IsComplete:    true,
		},
	}
	ev.CalculatePnL(false, true, false)
	assert.True(t, ev.PnL.Taxable.Equal(d(100)), "2*150 - 200, got %s", ev.PnL.Taxable)
}

func TestCalculatePnLFreePortion(t *testing.T) {
	ev := ProcessedAccountingEvent{
		TaxableAmount: d(1),
		FreeAmount:    d(1),
		Price:         d(150),
		CostBasis: &SpendResolution{
			TaxableAmount: d(1),
			TaxableCost:   d(100),
			TaxFreeCost:   d(50),
			IsComplete:    true,
		},
	}
	ev.CalculatePnL(false, true, false)
	assert.True(t, ev.PnL.Taxable.Equal(d(50)), "1*150 - 100")
	assert.True(t, ev.PnL.Free.Equal(d(100)), "1*150 - 50")
}

func TestCalculatePnLCountEntireAmountSpend(t *testing.T) {
	ev := ProcessedAccountingEvent{
		TaxableAmount: d(1),
		FreeAmount:    d(1),
		Price:         d(10),
	}
	ev.CalculatePnL(true, false, false)
	assert.True(t, ev.PnL.Taxable.Equal(d(-20)), "whole spent value booked as loss")
}

func TestCalculatePnLFiatSkipsCostBasis(t *testing.T) {
	ev := ProcessedAccountingEvent{
		TaxableAmount: d(100),
		Price:         d(1),
		CostBasis:     &SpendResolution{TaxableCost: d(90), IsComplete: true},
	}
	ev.CalculatePnL(false, true, true)
	assert.True(t, ev.PnL.Taxable.IsZero())
	assert.True(t, ev.PnL.Free.IsZero())
}

func TestPnLTotals(t *testing.T) {
	totals := NewPnLTotals()
	totals.Add(CategoryTrade, PNL{Taxable: d(100), Free: d(10)})
	totals.Add(CategoryTrade, PNL{Taxable: d(-30)})
	totals.Add(CategoryFee, PNL{Taxable: d(-5)})

	assert.True(t, totals[CategoryTrade].Taxable.Equal(d(70)))
	assert.True(t, totals.NetTaxable().Equal(d(65)))
	assert.True(t, totals.NetFree().Equal(d(10)))
}

func TestDirectionTable(t *testing.T) {
	cases := []struct {
		typ  EventType
		sub  EventSubtype
		want Direction
	}{
		{TypeTrade, SubtypeReceive, DirectionIn},
		{TypeTrade, SubtypeSpend, DirectionOut},
		{TypeSpend, SubtypeFee, DirectionOut},
		{TypeStaking, SubtypeReward, DirectionIn},
		{TypeWithdrawal, SubtypeRemoveAsset, DirectionIn},
		{TypeInformational, SubtypeNone, DirectionNeutral},
		{TypeAirdrop, SubtypeReward, DirectionIn}, // falls back to none entry
	}
	for _, tc := range cases {
		e := HistoryEvent{Type: tc.typ, Subtype: tc.sub}
		assert.Equal(t, tc.want, e.Direction(), "%s/%s", tc.typ, tc.sub)
	}
}

func TestIsFiat(t *testing.T) {
	assert.True(t, Asset("EUR").IsFiat())
	assert.True(t, Asset("usd").IsFiat())
	assert.False(t, Asset("BTC").IsFiat())
}

func TestCostStringsIncomplete(t *testing.T) {
	res := SpendResolution{
		Matched: []MatchedLot{{
			Amount:  d(1),
			Lot:     LotSnapshot{Amount: d(2), Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), Rate: d(100)},
			Taxable: true,
		}},
		IsComplete: false,
	}
	taxable, free := res.CostStrings()
	assert.Contains(t, taxable, "Incomplete cost basis information")
	assert.Contains(t, taxable, "1 / 2 acquired at 02/01/2024 03:04:05 for price: 100")
	assert.Contains(t, free, "Incomplete cost basis information")
}
