// Package rules maps event taxonomy values to accounting behavior. A rule
// decides whether an event is taxable, how much of a spend counts, whether
// cost basis PnL applies and whether the event opens a multi-leg treatment
// such as a swap.
package rules

import (
	"errors"
	"fmt"

	"github.com/cryptofolio/accounting-engine/internal/model"
)

var (
	// ErrNoRule is returned when no rule matches an event's taxonomy.
	ErrNoRule = errors.New("rules: no rule for event")
	// ErrUnknownCallback is returned when a rule names a callback that
	// was never registered.
	ErrUnknownCallback = errors.New("rules: unknown callback")
)

// Treatment marks rules whose events are processed as part of a larger
// structure instead of on their own.
type Treatment string

const (
	// TreatmentNone processes the event on its own.
	TreatmentNone Treatment = ""
	// TreatmentSwap consumes the event together with its paired
	// incoming leg and optional fee leg.
	TreatmentSwap Treatment = "swap"
)

// Rule is the accounting behavior applied to one (type, subtype,
// counterparty) combination.
type Rule struct {
	// Taxable marks the event's amount as taxable income or a taxable
	// spend.
	Taxable bool `json:"taxable"`
	// CountEntireAmountSpend books the whole spent value as a loss
	// before cost basis PnL is considered.
	CountEntireAmountSpend bool `json:"count_entire_amount_spend"`
	// CountCostBasisPnL enables realized gain/loss against acquisition
	// cost.
	CountCostBasisPnL bool `json:"count_cost_basis_pnl"`
	// Treatment selects multi-leg processing.
	Treatment Treatment `json:"treatment"`
	// Callback names a registered adjustment applied before the event
	// is processed. Empty means none.
	Callback string `json:"callback,omitempty"`
}

// Key identifies a rule. Counterparty may be empty; lookups fall back to
// the counterparty-stripped key.
type Key struct {
	Type         model.EventType    `json:"type"`
	Subtype      model.EventSubtype `json:"subtype"`
	Counterparty string             `json:"counterparty"`
}

func (k Key) String() string {
	if k.Counterparty == "" {
		return fmt.Sprintf("%s/%s", k.Type, k.Subtype)
	}
	return fmt.Sprintf("%s/%s@%s", k.Type, k.Subtype, k.Counterparty)
}

// Callback adjusts an event or its rule before processing. Callbacks are
// plain function values held in a registry and selected by name.
type Callback func(event *model.HistoryEvent, rule *Rule)

// Set is a resolved rule table: universal defaults, module defaults and
// persisted overrides merged in that order.
type Set struct {
	rules     map[Key]Rule
	callbacks map[string]Callback
}

// NewSet returns an empty rule set.
func NewSet() *Set {
	return &Set{
		rules:     make(map[Key]Rule),
		callbacks: make(map[string]Callback),
	}
}

// Put inserts or replaces the rule for key. Later Puts win, which gives
// the defaults-then-overrides merge order.
func (s *Set) Put(key Key, rule Rule) {
	s.rules[key] = rule
}

// Delete removes the rule for key if present.
func (s *Set) Delete(key Key) {
	delete(s.rules, key)
}

// RegisterCallback makes fn selectable by rules under name.
func (s *Set) RegisterCallback(name string, fn Callback) {
	s.callbacks[name] = fn
}

// Get resolves the rule for an event. The exact (type, subtype,
// counterparty) key is tried first, then the key with the counterparty
// stripped. Events with no matching rule return ErrNoRule and are skipped
// by the processor.
func (s *Set) Get(event *model.HistoryEvent) (Rule, error) {
	key := Key{Type: event.Type, Subtype: event.Subtype, Counterparty: event.Counterparty}
	if rule, ok := s.rules[key]; ok {
		return rule, nil
	}
	if key.Counterparty != "" {
		key.Counterparty = ""
		if rule, ok := s.rules[key]; ok {
			return rule, nil
		}
	}
	return Rule{}, fmt.Errorf("%w: %s", ErrNoRule, key)
}

// ResolveCallback returns the callback a rule names, nil when it names
// none.
func (s *Set) ResolveCallback(rule Rule) (Callback, error) {
	if rule.Callback == "" {
		return nil, nil
	}
	fn, ok := s.callbacks[rule.Callback]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCallback, rule.Callback)
	}
	return fn, nil
}

// All returns a copy of the table for inspection and the rules API.
func (s *Set) All() map[Key]Rule {
	out := make(map[Key]Rule, len(s.rules))
	for k, v := range s.rules {
		out[k] = v
	}
	return out
}

// Equal reports structural equality of two rules. Used by the overrides
// API to detect no-op updates.
func Equal(a, b Rule) bool {
	return a == b
}
