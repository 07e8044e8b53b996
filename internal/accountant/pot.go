// Package accountant runs the single-pass accounting loop: it classifies
// history events through the rule table, resolves cost basis for spends
// and accumulates per-category PnL in a Pot.
package accountant

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptofolio/accounting-engine/internal/costbasis"
	"github.com/cryptofolio/accounting-engine/internal/model"
	"github.com/cryptofolio/accounting-engine/internal/pricing"
)

// Settings are the per-run accounting parameters, snapshotted into each
// report.
type Settings struct {
	ProfitCurrency         model.Asset          `json:"profit_currency"`
	Method                 costbasis.Method     `json:"cost_basis_method"`
	TaxFreeAfter           *time.Duration       `json:"taxfree_after,omitempty"`
	IncludeFeesInCostBasis bool                 `json:"include_fees_in_cost_basis"`
	IgnoredAssets          map[model.Asset]bool `json:"ignored_assets,omitempty"`
}

// Pot is the mutable state of one accounting run. It is an explicit value
// handed to the processor, never shared between runs; Reset prepares it
// for the next one.
type Pot struct {
	settings  Settings
	start     time.Time
	end       time.Time
	oracle    pricing.Oracle
	costBasis *costbasis.Calculator

	events        []model.ProcessedAccountingEvent
	totals        model.PnLTotals
	missingPrices map[model.MissingPrice]struct{}
}

// NewPot returns a pot ready for a run over [start, end].
func NewPot(oracle pricing.Oracle, settings Settings, start, end time.Time) *Pot {
	p := &Pot{oracle: oracle}
	p.Reset(settings, start, end)
	return p
}

// Reset wipes all per-run state and installs new settings and reporting
// window.
func (p *Pot) Reset(settings Settings, start, end time.Time) {
	p.settings = settings
	p.start = start
	p.end = end
	if p.costBasis == nil {
		p.costBasis = costbasis.NewCalculator(settings.Method, settings.TaxFreeAfter)
	} else {
		p.costBasis.Reset(settings.Method, settings.TaxFreeAfter)
	}
	p.events = nil
	p.totals = model.NewPnLTotals()
	p.missingPrices = make(map[model.MissingPrice]struct{})
}

// Settings returns the run's settings snapshot.
func (p *Pot) Settings() Settings { return p.settings }

// inWindow reports whether an event at ts contributes to the report
// output. Events before the window still build up cost basis.
func (p *Pot) inWindow(ts time.Time) bool {
	return !ts.Before(p.start) && !ts.After(p.end)
}

// rate quotes one unit of asset in profit currency. Lookup failure is a
// soft condition: it records a missing-price diagnostic and values the
// event at zero so the run continues.
func (p *Pot) rate(ctx context.Context, asset model.Asset, ts time.Time) decimal.Decimal {
	if asset == p.settings.ProfitCurrency {
		return decimal.NewFromInt(1)
	}
	price, err := p.oracle.Quote(ctx, asset, p.settings.ProfitCurrency, ts)
	if err != nil {
		p.recordMissingPrice(asset, ts, err)
		return decimal.Zero
	}
	return price
}

func (p *Pot) recordMissingPrice(asset model.Asset, ts time.Time, err error) {
	mp := model.MissingPrice{FromAsset: asset, ToAsset: p.settings.ProfitCurrency, Time: ts}
	var qe *pricing.QuoteError
	if errors.As(err, &qe) {
		mp = model.MissingPrice{FromAsset: qe.From, ToAsset: qe.To, Time: qe.At}
	}
	if _, seen := p.missingPrices[mp]; !seen {
		p.missingPrices[mp] = struct{}{}
		slog.Warn("price lookup failed, valuing at zero",
			"asset", string(mp.FromAsset),
			"currency", string(mp.ToAsset),
			"time", mp.Time,
		)
	}
}

// AddAcquisition records an acquisition lot and, when the event falls in
// the reporting window, emits a processed event. Taxable acquisitions book
// their full value as income.
func (p *Pot) AddAcquisition(ctx context.Context, event *model.HistoryEvent, taxable bool, givenPrice *decimal.Decimal) {
	price := decimal.Zero
	if givenPrice != nil {
		price = *givenPrice
	} else {
		price = p.rate(ctx, event.Asset, event.Timestamp)
	}
	p.costBasis.Acquire(event.Asset, event.Amount, price, event.Timestamp)

	if !p.inWindow(event.Timestamp) {
		return
	}
	ev := model.ProcessedAccountingEvent{
		Index:         len(p.events),
		Category:      model.CategoryForEvent(event),
		Timestamp:     event.Timestamp,
		Location:      event.Location,
		Asset:         event.Asset,
		FreeAmount:    decimal.Zero,
		TaxableAmount: event.Amount,
		Price:         price,
		Notes:         event.Notes,
	}
	if taxable {
		ev.CalculatePnL(false, true, false)
	}
	p.post(ev)
}

// SpendParams describe one spend submitted to the pot.
type SpendParams struct {
	Event                  *model.HistoryEvent
	Taxable                bool
	CountEntireAmountSpend bool
	CountCostBasisPnL      bool
	// GivenPrice overrides the oracle lookup (swap legs carry derived
	// prices).
	GivenPrice *decimal.Decimal
	// ReduceOnly consumes lots without cost basis or PnL. Used for fees
	// already folded into an acquisition's price.
	ReduceOnly bool
	// TaxableRatio, when set, forces the taxable/free amount split
	// instead of the cost-basis split. Fee legs mirror their swap's
	// out-leg ratio.
	TaxableRatio *decimal.Decimal
}

// AddSpend resolves a spend against cost basis and, when in the reporting
// window, emits a processed event. It returns the free and taxable amount
// split so callers can mirror it onto related events.
func (p *Pot) AddSpend(ctx context.Context, params SpendParams) (free, taxable decimal.Decimal) {
	event := params.Event
	price := decimal.Zero
	if params.GivenPrice != nil {
		price = *params.GivenPrice
	} else {
		price = p.rate(ctx, event.Asset, event.Timestamp)
	}

	var resolution *model.SpendResolution
	isFiat := event.Asset.IsFiat()
	switch {
	case params.ReduceOnly, isFiat:
		// Fiat has unlimited supply for cost basis purposes; consume
		// whatever lots exist but never resolve against them.
		p.costBasis.ReduceOnly(event.Asset, event.Amount, event.Timestamp)
	default:
		resolution = p.costBasis.ResolveSpend(event.Asset, event.Amount, event.Timestamp)
	}

	switch {
	case params.ReduceOnly || !params.Taxable:
		free = event.Amount
		taxable = decimal.Zero
	case params.TaxableRatio != nil:
		taxable = event.Amount.Mul(*params.TaxableRatio)
		free = event.Amount.Sub(taxable)
	case resolution != nil:
		taxable = resolution.TaxableAmount
		free = event.Amount.Sub(taxable)
	default:
		taxable = event.Amount
		free = decimal.Zero
	}

	if !p.inWindow(event.Timestamp) {
		return free, taxable
	}
	ev := model.ProcessedAccountingEvent{
		Index:         len(p.events),
		Category:      model.CategoryForEvent(event),
		Timestamp:     event.Timestamp,
		Location:      event.Location,
		Asset:         event.Asset,
		FreeAmount:    free,
		TaxableAmount: taxable,
		Price:         price,
		CostBasis:     resolution,
		Notes:         event.Notes,
	}
	if !params.ReduceOnly {
		ev.CalculatePnL(params.CountEntireAmountSpend, params.CountCostBasisPnL, isFiat)
	}
	p.post(ev)
	return free, taxable
}

func (p *Pot) post(ev model.ProcessedAccountingEvent) {
	p.events = append(p.events, ev)
	p.totals.Add(ev.Category, ev.PnL)
}

// Events returns the processed events posted so far, in emission order.
func (p *Pot) Events() []model.ProcessedAccountingEvent { return p.events }

// Totals returns the per-category PnL accumulated so far.
func (p *Pot) Totals() model.PnLTotals { return p.totals }

// HeldAmount reports the asset amount still held according to the lot
// ledger. ok is false when nothing is tracked or everything was spent.
func (p *Pot) HeldAmount(asset model.Asset) (decimal.Decimal, bool) {
	return p.costBasis.HeldAmount(asset)
}

// OpenLots exposes the asset's unconsumed lots for reconciliation queries.
func (p *Pot) OpenLots(asset model.Asset) []model.LotSnapshot {
	return p.costBasis.OpenLots(asset)
}

// MissingAcquisitions returns the run's unmatched-spend diagnostics.
func (p *Pot) MissingAcquisitions() []model.MissingAcquisition {
	return p.costBasis.MissingAcquisitions()
}

// MissingPrices returns the run's failed-lookup diagnostics, time-ordered.
func (p *Pot) MissingPrices() []model.MissingPrice {
	out := make([]model.MissingPrice, 0, len(p.missingPrices))
	for mp := range p.missingPrices {
		out = append(out, mp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].FromAsset < out[j].FromAsset
	})
	return out
}
