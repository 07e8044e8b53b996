// Package costbasis implements the tax-lot ledger and the cost basis
// calculator. Lots are consumed in the order the configured method
// dictates; the calculator decides which consumed portions are taxable
// under the holding-period rule.
package costbasis

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptofolio/accounting-engine/internal/model"
)

// Method selects the lot consumption order.
type Method string

const (
	FIFO Method = "fifo"
	LIFO Method = "lifo"
	HIFO Method = "hifo"
)

// ParseMethod converts a config string into a Method.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case FIFO, LIFO, HIFO:
		return Method(s), nil
	case "":
		return FIFO, nil
	default:
		return "", fmt.Errorf("costbasis: unknown method %q", s)
	}
}

// AcquisitionLot is one acquisition of an asset, tracking how much of it
// is still unconsumed by later spends.
type AcquisitionLot struct {
	Amount    decimal.Decimal
	Remaining decimal.Decimal
	Timestamp time.Time
	Rate      decimal.Decimal
	Index     int
}

// Snapshot returns the lot as an immutable record for diagnostics and
// report output.
func (l *AcquisitionLot) Snapshot() model.LotSnapshot {
	return model.LotSnapshot{
		Amount:    l.Amount,
		Timestamp: l.Timestamp,
		Rate:      l.Rate,
		Index:     l.Index,
	}
}

// lotLedger holds the open lots of a single asset, ordered so that the
// lot to consume next is always at index 0.
type lotLedger struct {
	method Method
	lots   []*AcquisitionLot
}

func newLotLedger(method Method) *lotLedger {
	return &lotLedger{method: method}
}

// add inserts a new lot according to the ledger's method: FIFO appends,
// LIFO prepends, HIFO keeps the slice ordered by descending rate.
func (g *lotLedger) add(lot *AcquisitionLot) {
	switch g.method {
	case LIFO:
		g.lots = append([]*AcquisitionLot{lot}, g.lots...)
	case HIFO:
		pos := len(g.lots)
		for i, existing := range g.lots {
			if lot.Rate.GreaterThan(existing.Rate) {
				pos = i
				break
			}
		}
		g.lots = append(g.lots, nil)
		copy(g.lots[pos+1:], g.lots[pos:])
		g.lots[pos] = lot
	default: // FIFO
		g.lots = append(g.lots, lot)
	}
}

// peek returns the next lot to consume, or nil if the ledger is empty.
func (g *lotLedger) peek() *AcquisitionLot {
	if len(g.lots) == 0 {
		return nil
	}
	return g.lots[0]
}

// consume removes amount from the head lot, dropping it once fully spent.
// Asking for more than the lot holds is a programming error.
func (g *lotLedger) consume(amount decimal.Decimal) {
	lot := g.peek()
	if lot == nil {
		panic("costbasis: consume on empty ledger")
	}
	if amount.GreaterThan(lot.Remaining) {
		panic(fmt.Sprintf(
			"costbasis: consuming %s from lot with %s remaining",
			amount, lot.Remaining,
		))
	}
	lot.Remaining = lot.Remaining.Sub(amount)
	if lot.Remaining.IsZero() {
		g.lots = g.lots[1:]
	}
}

// remaining returns the total unconsumed amount across all open lots.
func (g *lotLedger) remaining() decimal.Decimal {
	total := decimal.Zero
	for _, lot := range g.lots {
		total = total.Add(lot.Remaining)
	}
	return total
}

// snapshot copies the open lots for inspection.
func (g *lotLedger) snapshot() []model.LotSnapshot {
	out := make([]model.LotSnapshot, 0, len(g.lots))
	for _, lot := range g.lots {
		s := lot.Snapshot()
		s.Amount = lot.Remaining
		out = append(out, s)
	}
	return out
}
