package accountant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptofolio/accounting-engine/internal/model"
	"github.com/cryptofolio/accounting-engine/internal/pricing"
	"github.com/cryptofolio/accounting-engine/internal/rules"
)

// ErrUnsortedEvents is returned by Run when the input stream violates the
// non-decreasing timestamp precondition. This is an upstream bug, never
// repaired silently.
var ErrUnsortedEvents = errors.New("accountant: events not sorted by timestamp")

// ProgressFunc is called after each consumed event group with the number
// of input events consumed so far and the total.
type ProgressFunc func(processed, total int)

// RunResult is everything one accounting run produced.
type RunResult struct {
	Events              []model.ProcessedAccountingEvent
	Totals              model.PnLTotals
	MissingAcquisitions []model.MissingAcquisition
	MissingPrices       []model.MissingPrice
}

// Processor drives a single pass over a sorted history event stream,
// feeding the pot according to the rule table.
type Processor struct {
	rules  *rules.Set
	oracle pricing.Oracle
}

// NewProcessor returns a processor using the given rule table and price
// oracle.
func NewProcessor(ruleSet *rules.Set, oracle pricing.Oracle) *Processor {
	return &Processor{rules: ruleSet, oracle: oracle}
}

// Run processes events through a fresh pot and returns the result. The
// input must be sorted by non-decreasing timestamp. progress may be nil.
func (pr *Processor) Run(
	ctx context.Context,
	events []model.HistoryEvent,
	settings Settings,
	start, end time.Time,
	progress ProgressFunc,
) (*RunResult, error) {
	pot := NewPot(pr.oracle, settings, start, end)
	if err := pr.RunWithPot(ctx, pot, events, progress); err != nil {
		return nil, err
	}
	return &RunResult{
		Events:              pot.Events(),
		Totals:              pot.Totals(),
		MissingAcquisitions: pot.MissingAcquisitions(),
		MissingPrices:       pot.MissingPrices(),
	}, nil
}

// RunWithPot processes events into a caller-owned pot, which keeps lot
// state queryable afterwards (holdings reconciliation).
func (pr *Processor) RunWithPot(
	ctx context.Context,
	pot *Pot,
	events []model.HistoryEvent,
	progress ProgressFunc,
) error {
	settings := pot.Settings()
	swapPricer := pricing.NewSwapPricer(pr.oracle, settings.ProfitCurrency, settings.IncludeFeesInCostBasis)

	var lastTS time.Time
	total := len(events)
	i := 0
	for i < total {
		if err := ctx.Err(); err != nil {
			return err
		}
		event := events[i]
		if event.Timestamp.Before(lastTS) {
			return fmt.Errorf("%w: event %s at %s after %s",
				ErrUnsortedEvents, event.ID, event.Timestamp, lastTS)
		}
		lastTS = event.Timestamp

		consumed := pr.processNext(ctx, pot, swapPricer, events, i)
		i += consumed
		if progress != nil {
			progress(i, total)
		}
	}
	return nil
}

// processNext handles the event at index i, possibly consuming lookahead
// events, and returns how many input events it consumed (at least 1).
func (pr *Processor) processNext(
	ctx context.Context,
	pot *Pot,
	swapPricer *pricing.SwapPricer,
	events []model.HistoryEvent,
	i int,
) int {
	event := events[i]
	if pot.Settings().IgnoredAssets[event.Asset] {
		slog.Debug("skipping event for ignored asset",
			"asset", string(event.Asset), "event", event.ID)
		return 1
	}
	direction := event.Direction()
	if direction == model.DirectionNeutral {
		return 1
	}

	rule, err := pr.rules.Get(&event)
	if err != nil {
		slog.Debug("no accounting rule for event, skipping",
			"type", string(event.Type),
			"subtype", string(event.Subtype),
			"counterparty", event.Counterparty,
			"event", event.ID,
		)
		return 1
	}
	if cb, cbErr := pr.rules.ResolveCallback(rule); cbErr != nil {
		slog.Error("rule names unknown callback, skipping event",
			"callback", rule.Callback, "event", event.ID)
		return 1
	} else if cb != nil {
		cb(&event, &rule)
	}

	if rule.Treatment == rules.TreatmentSwap {
		return pr.processSwap(ctx, pot, swapPricer, rule, events, i)
	}

	if direction == model.DirectionIn {
		pot.AddAcquisition(ctx, &event, rule.Taxable, nil)
	} else {
		pot.AddSpend(ctx, SpendParams{
			Event:                  &event,
			Taxable:                rule.Taxable,
			CountEntireAmountSpend: rule.CountEntireAmountSpend,
			CountCostBasisPnL:      rule.CountCostBasisPnL,
		})
	}
	return 1
}

// processSwap consumes a swap group: the out leg at i, its paired in leg,
// and an optional fee leg. Returns the number of input events consumed.
func (pr *Processor) processSwap(
	ctx context.Context,
	pot *Pot,
	swapPricer *pricing.SwapPricer,
	rule rules.Rule,
	events []model.HistoryEvent,
	i int,
) int {
	out := events[i]
	if i+1 >= len(events) || events[i+1].GroupID != out.GroupID || events[i+1].Direction() != model.DirectionIn {
		slog.Error("swap out leg has no paired in leg, skipping",
			"event", out.ID, "group", out.GroupID)
		return 1
	}
	in := events[i+1]

	consumed := 2
	var fee *model.HistoryEvent
	if i+2 < len(events) && events[i+2].GroupID == out.GroupID && events[i+2].IsFee() {
		fee = &events[i+2]
		consumed = 3
	}

	prices, err := swapPricer.PricesForSwap(ctx, out.Timestamp, &out, &in, fee)
	if err != nil {
		pot.recordMissingPrice(out.Asset, out.Timestamp, err)
		slog.Warn("cannot price swap, skipping group",
			"group", out.GroupID, "error", err)
		return consumed
	}

	_, taxableOut := pot.AddSpend(ctx, SpendParams{
		Event:                  &out,
		Taxable:                rule.Taxable,
		CountEntireAmountSpend: rule.CountEntireAmountSpend,
		CountCostBasisPnL:      rule.CountCostBasisPnL,
		GivenPrice:             &prices.Out,
	})
	split := swapSplit{taxable: taxableOut, total: out.Amount}

	emitFee := func() {
		if fee != nil {
			pr.processSwapFee(ctx, pot, &out, &in, fee, prices, split)
		}
	}
	// Fees in the spent asset belong next to the out leg in the output;
	// otherwise the in leg comes first.
	if fee != nil && fee.Asset == out.Asset {
		emitFee()
		pot.AddAcquisition(ctx, &in, false, &prices.In)
	} else {
		pot.AddAcquisition(ctx, &in, false, &prices.In)
		emitFee()
	}
	return consumed
}

type swapSplit struct {
	taxable, total decimal.Decimal
}

// processSwapFee posts the fee leg of a swap. When fees are included in
// cost basis the fee's value already sits in the bought asset's price, so
// the fee only reduces held lots. Otherwise it is a taxable spend whose
// taxable/free split mirrors the out leg's.
func (pr *Processor) processSwapFee(
	ctx context.Context,
	pot *Pot,
	out, in, fee *model.HistoryEvent,
	prices pricing.SwapPrices,
	split swapSplit,
) {
	var feePrice decimal.Decimal
	switch fee.Asset {
	case out.Asset:
		feePrice = prices.Out
	case in.Asset:
		feePrice = prices.In
	default:
		feePrice = pot.rate(ctx, fee.Asset, fee.Timestamp)
	}

	if pot.Settings().IncludeFeesInCostBasis {
		pot.AddSpend(ctx, SpendParams{
			Event:      fee,
			GivenPrice: &feePrice,
			ReduceOnly: true,
		})
		return
	}

	ratio := decimal.Zero
	if split.total.IsPositive() {
		ratio = split.taxable.Div(split.total)
	}
	pot.AddSpend(ctx, SpendParams{
		Event:                  fee,
		Taxable:                true,
		CountEntireAmountSpend: true,
		CountCostBasisPnL:      true,
		GivenPrice:             &feePrice,
		TaxableRatio:           &ratio,
	})
}
