// Package pricing provides historical price lookup for the accounting
// engine. The engine only depends on the Oracle interface; the in-memory
// implementation serves tests and development seeding, remote oracles can
// be plugged in behind the same interface.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptofolio/accounting-engine/internal/model"
)

var (
	// ErrNoPrice means the oracle has no quote for the pair at or before
	// the requested time.
	ErrNoPrice = errors.New("pricing: no price for timestamp")
	// ErrUnsupportedAsset means the oracle does not know the asset at all.
	ErrUnsupportedAsset = errors.New("pricing: unsupported asset")
)

// QuoteError carries the pair and timestamp of a failed lookup so callers
// can turn it into a missing-price diagnostic.
type QuoteError struct {
	From model.Asset
	To   model.Asset
	At   time.Time
	Err  error
}

func (e *QuoteError) Error() string {
	return fmt.Sprintf("%v: %s/%s at %s", e.Err, e.From, e.To, e.At.UTC().Format(time.RFC3339))
}

func (e *QuoteError) Unwrap() error { return e.Err }

// Oracle answers "what was one unit of from worth in to at time at".
type Oracle interface {
	Quote(ctx context.Context, from, to model.Asset, at time.Time) (decimal.Decimal, error)
}

type pricePoint struct {
	at    time.Time
	price decimal.Decimal
}

// MemoryOracle serves quotes from seeded price points. A lookup returns
// the point at or nearest before the requested time. Safe for concurrent
// use.
type MemoryOracle struct {
	mu     sync.RWMutex
	points map[string][]pricePoint
}

// NewMemoryOracle returns an empty oracle.
func NewMemoryOracle() *MemoryOracle {
	return &MemoryOracle{points: make(map[string][]pricePoint)}
}

func pairKey(from, to model.Asset) string {
	return string(from) + "/" + string(to)
}

// Seed records a price point for the pair, keeping points time-ordered.
func (o *MemoryOracle) Seed(from, to model.Asset, at time.Time, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := pairKey(from, to)
	pts := append(o.points[key], pricePoint{at: at, price: price})
	sort.Slice(pts, func(i, j int) bool { return pts[i].at.Before(pts[j].at) })
	o.points[key] = pts
}

// Quote implements Oracle. Identical assets quote at one.
func (o *MemoryOracle) Quote(_ context.Context, from, to model.Asset, at time.Time) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	o.mu.RLock()
	defer o.mu.RUnlock()

	pts, ok := o.points[pairKey(from, to)]
	if !ok {
		return decimal.Zero, &QuoteError{From: from, To: to, At: at, Err: ErrUnsupportedAsset}
	}
	// First point strictly after at; the answer is the one before it.
	i := sort.Search(len(pts), func(i int) bool { return pts[i].at.After(at) })
	if i == 0 {
		return decimal.Zero, &QuoteError{From: from, To: to, At: at, Err: ErrNoPrice}
	}
	return pts[i-1].price, nil
}
