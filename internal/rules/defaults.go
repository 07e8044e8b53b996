package rules

import "github.com/cryptofolio/accounting-engine/internal/model"

// universalDefaults cover the plain taxonomy combinations every location
// shares. Protocol modules and persisted overrides layer on top.
var universalDefaults = map[Key]Rule{
	{Type: model.TypeTrade, Subtype: model.SubtypeSpend}: {
		Taxable:                true,
		CountEntireAmountSpend: false,
		CountCostBasisPnL:      true,
		Treatment:              TreatmentSwap,
	},
	{Type: model.TypeReceive, Subtype: model.SubtypeNone}: {
		Taxable:           true,
		CountCostBasisPnL: true,
	},
	{Type: model.TypeReceive, Subtype: model.SubtypeReward}: {
		Taxable:           true,
		CountCostBasisPnL: true,
	},
	{Type: model.TypeSpend, Subtype: model.SubtypeNone}: {
		Taxable:                true,
		CountEntireAmountSpend: true,
		CountCostBasisPnL:      true,
	},
	{Type: model.TypeSpend, Subtype: model.SubtypeFee}: {
		Taxable:                true,
		CountEntireAmountSpend: true,
		CountCostBasisPnL:      true,
	},
	{Type: model.TypeDeposit, Subtype: model.SubtypeDepositAsset}: {
		Taxable: false,
	},
	{Type: model.TypeDeposit, Subtype: model.SubtypeNone}: {
		Taxable: false,
	},
	{Type: model.TypeWithdrawal, Subtype: model.SubtypeRemoveAsset}: {
		Taxable: false,
	},
	{Type: model.TypeWithdrawal, Subtype: model.SubtypeNone}: {
		Taxable: false,
	},
	{Type: model.TypeTransfer, Subtype: model.SubtypeNone}: {
		Taxable: false,
	},
	{Type: model.TypeStaking, Subtype: model.SubtypeReward}: {
		Taxable:           true,
		CountCostBasisPnL: true,
	},
	{Type: model.TypeStaking, Subtype: model.SubtypeNone}: {
		Taxable:           true,
		CountCostBasisPnL: true,
	},
	{Type: model.TypeAirdrop, Subtype: model.SubtypeNone}: {
		Taxable:           true,
		CountCostBasisPnL: true,
	},
	{Type: model.TypeFork, Subtype: model.SubtypeNone}: {
		Taxable:           true,
		CountCostBasisPnL: true,
	},
}

// moduleDefaults are contributed by protocol integrations: swap-shaped
// trades attributed to DEX counterparties and network gas fees.
var moduleDefaults = map[Key]Rule{
	{Type: model.TypeTrade, Subtype: model.SubtypeSpend, Counterparty: "uniswap"}: {
		Taxable:           true,
		CountCostBasisPnL: true,
		Treatment:         TreatmentSwap,
	},
	{Type: model.TypeTrade, Subtype: model.SubtypeSpend, Counterparty: "sushiswap"}: {
		Taxable:           true,
		CountCostBasisPnL: true,
		Treatment:         TreatmentSwap,
	},
	{Type: model.TypeSpend, Subtype: model.SubtypeFee, Counterparty: "gas"}: {
		Taxable:                true,
		CountEntireAmountSpend: true,
		CountCostBasisPnL:      true,
	},
	{Type: model.TypeSpend, Subtype: model.SubtypeNone, Counterparty: "gitcoin"}: {
		Taxable:                true,
		CountEntireAmountSpend: true,
		CountCostBasisPnL:      true,
		Callback:               "donation",
	},
}

// donationNote annotates donation spends so reports show where the value
// went.
func donationNote(e *model.HistoryEvent, _ *Rule) {
	if e.Notes == "" && e.Counterparty != "" {
		e.Notes = "Donation to " + e.Counterparty
	}
}

// DefaultSet builds the rule table the engine starts from: universal
// defaults, then module defaults, ready for persisted overrides on top.
func DefaultSet() *Set {
	s := NewSet()
	for k, r := range universalDefaults {
		s.Put(k, r)
	}
	for k, r := range moduleDefaults {
		s.Put(k, r)
	}
	s.RegisterCallback("donation", donationNote)
	return s
}
