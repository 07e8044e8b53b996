package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptofolio/accounting-engine/internal/model"
)

func TestGetExactCounterpartyMatch(t *testing.T) {
	s := DefaultSet()

	rule, err := s.Get(&model.HistoryEvent{
		Type:         model.TypeTrade,
		Subtype:      model.SubtypeSpend,
		Counterparty: "uniswap",
	})
	require.NoError(t, err)
	assert.Equal(t, TreatmentSwap, rule.Treatment)
}

func TestGetCounterpartyFallback(t *testing.T) {
	s := DefaultSet()

	// No rule for this counterparty; falls back to the stripped key.
	rule, err := s.Get(&model.HistoryEvent{
		Type:         model.TypeSpend,
		Subtype:      model.SubtypeNone,
		Counterparty: "some-merchant",
	})
	require.NoError(t, err)
	assert.True(t, rule.Taxable)
	assert.True(t, rule.CountEntireAmountSpend)
}

func TestGetNoRule(t *testing.T) {
	s := NewSet()

	_, err := s.Get(&model.HistoryEvent{
		Type:    model.TypeTrade,
		Subtype: model.SubtypeSpend,
	})
	assert.ErrorIs(t, err, ErrNoRule)
}

func TestOverridesWin(t *testing.T) {
	s := DefaultSet()
	key := Key{Type: model.TypeAirdrop, Subtype: model.SubtypeNone}
	s.Put(key, Rule{Taxable: false})

	rule, err := s.Get(&model.HistoryEvent{Type: model.TypeAirdrop, Subtype: model.SubtypeNone})
	require.NoError(t, err)
	assert.False(t, rule.Taxable, "override replaces the default")
}

func TestDeleteRestoresNothing(t *testing.T) {
	s := NewSet()
	key := Key{Type: model.TypeSpend, Subtype: model.SubtypeNone}
	s.Put(key, Rule{Taxable: true})
	s.Delete(key)

	_, err := s.Get(&model.HistoryEvent{Type: model.TypeSpend, Subtype: model.SubtypeNone})
	assert.ErrorIs(t, err, ErrNoRule)
}

func TestResolveCallback(t *testing.T) {
	s := DefaultSet()

	cb, err := s.ResolveCallback(Rule{Callback: "donation"})
	require.NoError(t, err)
	require.NotNil(t, cb)

	event := &model.HistoryEvent{Counterparty: "gitcoin"}
	cb(event, &Rule{})
	assert.Equal(t, "Donation to gitcoin", event.Notes)

	cb, err = s.ResolveCallback(Rule{})
	require.NoError(t, err)
	assert.Nil(t, cb, "empty callback name resolves to nil")

	_, err = s.ResolveCallback(Rule{Callback: "nope"})
	assert.ErrorIs(t, err, ErrUnknownCallback)
}

func TestRuleEquality(t *testing.T) {
	a := Rule{Taxable: true, CountCostBasisPnL: true, Treatment: TreatmentSwap}
	b := Rule{Taxable: true, CountCostBasisPnL: true, Treatment: TreatmentSwap}
	assert.True(t, Equal(a, b))

	b.CountEntireAmountSpend = true
	assert.False(t, Equal(a, b))
}

func TestDefaultsCoverCoreTaxonomy(t *testing.T) {
	s := DefaultSet()
	cases := []struct {
		typ model.EventType
		sub model.EventSubtype
	}{
		{model.TypeTrade, model.SubtypeSpend},
		{model.TypeReceive, model.SubtypeNone},
		{model.TypeSpend, model.SubtypeNone},
		{model.TypeSpend, model.SubtypeFee},
		{model.TypeDeposit, model.SubtypeDepositAsset},
		{model.TypeWithdrawal, model.SubtypeRemoveAsset},
		{model.TypeStaking, model.SubtypeReward},
		{model.TypeAirdrop, model.SubtypeNone},
		{model.TypeFork, model.SubtypeNone},
	}
	for _, tc := range cases {
		_, err := s.Get(&model.HistoryEvent{Type: tc.typ, Subtype: tc.sub})
		assert.NoError(t, err, "%s/%s", tc.typ, tc.sub)
	}
}
