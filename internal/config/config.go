// Package config loads server and accounting configuration from an
// optional YAML file with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cryptofolio/accounting-engine/internal/accountant"
	"github.com/cryptofolio/accounting-engine/internal/costbasis"
	"github.com/cryptofolio/accounting-engine/internal/model"
)

// Config is the resolved configuration of the server process.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	ProfitCurrency         string
	CostBasisMethod        string
	TaxFreeAfterDays       int
	IncludeFeesInCostBasis bool
	IgnoredAssets          []string
}

// Load reads the optional config file (config.yaml in the working
// directory or under path, when given) and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetDefault("port", "8080")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("profit_currency", "EUR")
	v.SetDefault("cost_basis_method", string(costbasis.FIFO))
	v.SetDefault("taxfree_after_days", 365)
	v.SetDefault("include_fees_in_cost_basis", true)
	v.SetDefault("ignored_assets", []string{})

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{
		Port:                   v.GetString("port"),
		DatabaseURL:            v.GetString("database_url"),
		RedisURL:               v.GetString("redis_url"),
		ProfitCurrency:         strings.ToUpper(v.GetString("profit_currency")),
		CostBasisMethod:        strings.ToLower(v.GetString("cost_basis_method")),
		TaxFreeAfterDays:       v.GetInt("taxfree_after_days"),
		IncludeFeesInCostBasis: v.GetBool("include_fees_in_cost_basis"),
		IgnoredAssets:          v.GetStringSlice("ignored_assets"),
	}
	if _, err := costbasis.ParseMethod(cfg.CostBasisMethod); err != nil {
		return nil, err
	}
	if cfg.TaxFreeAfterDays < 0 {
		return nil, fmt.Errorf("config: taxfree_after_days must not be negative, got %d", cfg.TaxFreeAfterDays)
	}
	return cfg, nil
}

// SettingsSnapshot returns the accounting part of the configuration in
// the form persisted with each report.
func (c *Config) SettingsSnapshot() model.SettingsSnapshot {
	return model.SettingsSnapshot{
		ProfitCurrency:         model.Asset(c.ProfitCurrency),
		CostBasisMethod:        c.CostBasisMethod,
		TaxFreeAfterDays:       c.TaxFreeAfterDays,
		IncludeFeesInCostBasis: c.IncludeFeesInCostBasis,
		IgnoredAssets:          c.IgnoredAssets,
	}
}

// AccountingSettings converts the configuration into run settings.
func (c *Config) AccountingSettings() accountant.Settings {
	method, _ := costbasis.ParseMethod(c.CostBasisMethod)
	settings := accountant.Settings{
		ProfitCurrency:         model.Asset(c.ProfitCurrency),
		Method:                 method,
		IncludeFeesInCostBasis: c.IncludeFeesInCostBasis,
	}
	if c.TaxFreeAfterDays > 0 {
		d := time.Duration(c.TaxFreeAfterDays) * 24 * time.Hour
		settings.TaxFreeAfter = &d
	}
	if len(c.IgnoredAssets) > 0 {
		settings.IgnoredAssets = make(map[model.Asset]bool, len(c.IgnoredAssets))
		for _, a := range c.IgnoredAssets {
			settings.IgnoredAssets[model.Asset(strings.ToUpper(a))] = true
		}
	}
	return settings
}
