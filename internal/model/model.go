// Package model defines the core domain types shared across the accounting
// engine. All monetary values use shopspring/decimal, never float64.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Asset identifies an asset by symbol (e.g. "BTC", "ETH", "EUR").
type Asset string

// fiatAssets is the set of supported fiat currencies. Fiat is treated as
// having unlimited supply by the cost basis calculator and is excluded from
// cost-basis PnL.
var fiatAssets = map[Asset]bool{
	"USD": true, "EUR": true, "GBP": true, "CHF": true,
	"CAD": true, "AUD": true, "JPY": true, "CNY": true,
	"SEK": true, "NOK": true, "DKK": true, "PLN": true,
}

// IsFiat reports whether the asset is a fiat currency.
func (a Asset) IsFiat() bool {
	return fiatAssets[Asset(strings.ToUpper(string(a)))]
}

// EventType is the top-level taxonomy value of a canonical history event.
type EventType string

const (
	TypeTrade         EventType = "trade"
	TypeReceive       EventType = "receive"
	TypeSpend         EventType = "spend"
	TypeDeposit       EventType = "deposit"
	TypeWithdrawal    EventType = "withdrawal"
	TypeTransfer      EventType = "transfer"
	TypeStaking       EventType = "staking"
	TypeAirdrop       EventType = "airdrop"
	TypeFork          EventType = "fork"
	TypeInformational EventType = "informational"
)

// EventSubtype refines the event type.
type EventSubtype string

const (
	SubtypeNone         EventSubtype = "none"
	SubtypeSpend        EventSubtype = "spend"
	SubtypeReceive      EventSubtype = "receive"
	SubtypeFee          EventSubtype = "fee"
	SubtypeReward       EventSubtype = "reward"
	SubtypeDepositAsset EventSubtype = "deposit asset"
	SubtypeRemoveAsset  EventSubtype = "remove asset"
)

// Direction is the balance effect of an event.
type Direction int

const (
	DirectionNeutral Direction = iota
	DirectionIn
	DirectionOut
)

// HistoryEvent is a canonical asset-affecting event, already decoded by the
// ingestion layer. Events sharing a GroupID belong to the same on-chain
// transaction or exchange action; the processor pairs swap legs through it.
type HistoryEvent struct {
	ID            string          `json:"id" db:"id"`
	GroupID       string          `json:"group_id" db:"group_id"`
	SequenceIndex int             `json:"sequence_index" db:"sequence_index"`
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
	Location      string          `json:"location" db:"location"`
	Asset         Asset           `json:"asset" db:"asset"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Type          EventType       `json:"type" db:"type"`
	Subtype       EventSubtype    `json:"subtype" db:"subtype"`
	Counterparty  string          `json:"counterparty,omitempty" db:"counterparty"`
	Notes         string          `json:"notes,omitempty" db:"notes"`
}

// directionTable maps (type, subtype) to a balance direction. Unlisted
// subtypes fall back to the type's SubtypeNone entry.
var directionTable = map[EventType]map[EventSubtype]Direction{
	TypeTrade: {
		SubtypeSpend:   DirectionOut,
		SubtypeReceive: DirectionIn,
		SubtypeFee:     DirectionOut,
	},
	TypeReceive:    {SubtypeNone: DirectionIn, SubtypeReward: DirectionIn},
	TypeSpend:      {SubtypeNone: DirectionOut, SubtypeFee: DirectionOut},
	TypeDeposit:    {SubtypeNone: DirectionOut, SubtypeDepositAsset: DirectionOut, SubtypeFee: DirectionOut},
	TypeWithdrawal: {SubtypeNone: DirectionIn, SubtypeRemoveAsset: DirectionIn, SubtypeFee: DirectionOut},
	TypeTransfer:   {SubtypeNone: DirectionOut, SubtypeFee: DirectionOut},
	TypeStaking:    {SubtypeReward: DirectionIn, SubtypeNone: DirectionIn, SubtypeFee: DirectionOut},
	TypeAirdrop:    {SubtypeNone: DirectionIn},
	TypeFork:       {SubtypeNone: DirectionIn},
}

// Direction returns the balance direction of the event. Informational and
// unknown taxonomy values are neutral; the processor skips neutral events.
func (e *HistoryEvent) Direction() Direction {
	subs, ok := directionTable[e.Type]
	if !ok {
		return DirectionNeutral
	}
	if d, ok := subs[e.Subtype]; ok {
		return d
	}
	if d, ok := subs[SubtypeNone]; ok {
		return d
	}
	return DirectionNeutral
}

// IsFee reports whether this event is the fee sub-leg of its group.
func (e *HistoryEvent) IsFee() bool {
	return e.Subtype == SubtypeFee
}

// Category is the accounting bucket a processed event is filed under.
// PnL totals are aggregated per category.
type Category string

const (
	CategoryTrade            Category = "trade"
	CategoryFee              Category = "fee"
	CategoryAssetMovement    Category = "asset movement"
	CategoryTransactionEvent Category = "transaction event"
	CategoryStaking          Category = "staking"
	CategoryAirdrop          Category = "airdrop"
	CategoryFork             Category = "fork"
)

// CategoryForEvent maps a canonical event to its accounting category.
func CategoryForEvent(e *HistoryEvent) Category {
	if e.Subtype == SubtypeFee {
		return CategoryFee
	}
	switch e.Type {
	case TypeTrade:
		return CategoryTrade
	case TypeDeposit, TypeWithdrawal, TypeTransfer:
		return CategoryAssetMovement
	case TypeStaking:
		return CategoryStaking
	case TypeAirdrop:
		return CategoryAirdrop
	case TypeFork:
		return CategoryFork
	default:
		return CategoryTransactionEvent
	}
}
