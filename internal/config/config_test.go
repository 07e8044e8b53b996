package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptofolio/accounting-engine/internal/costbasis"
	"github.com/cryptofolio/accounting-engine/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "EUR", cfg.ProfitCurrency)
	assert.Equal(t, "fifo", cfg.CostBasisMethod)
	assert.Equal(t, 365, cfg.TaxFreeAfterDays)
	assert.True(t, cfg.IncludeFeesInCostBasis)
}

func TestAccountingSettings(t *testing.T) {
	cfg := &Config{
		ProfitCurrency:   "EUR",
		CostBasisMethod:  "lifo",
		TaxFreeAfterDays: 365,
		IgnoredAssets:    []string{"shib", "DOGE"},
	}

	settings := cfg.AccountingSettings()
	assert.Equal(t, model.Asset("EUR"), settings.ProfitCurrency)
	assert.Equal(t, costbasis.LIFO, settings.Method)
	require.NotNil(t, settings.TaxFreeAfter)
	assert.Equal(t, 365*24*time.Hour, *settings.TaxFreeAfter)
	assert.True(t, settings.IgnoredAssets["SHIB"])
	assert.True(t, settings.IgnoredAssets["DOGE"])
}

func TestAccountingSettingsNoExemption(t *testing.T) {
	cfg := &Config{ProfitCurrency: "USD", CostBasisMethod: "hifo"}

	settings := cfg.AccountingSettings()
	assert.Nil(t, settings.TaxFreeAfter, "zero days disables the holding period")
	assert.Equal(t, costbasis.HIFO, settings.Method)
}
