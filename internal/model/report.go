package model

import "time"

// SettingsSnapshot is the accounting configuration a report was produced
// with, stored alongside it so results stay interpretable after the live
// configuration changes.
type SettingsSnapshot struct {
	ProfitCurrency         Asset    `json:"profit_currency"`
	CostBasisMethod        string   `json:"cost_basis_method"`
	TaxFreeAfterDays       int      `json:"taxfree_after_days"`
	IncludeFeesInCostBasis bool     `json:"include_fees_in_cost_basis"`
	IgnoredAssets          []string `json:"ignored_assets,omitempty"`
}

// Report is the persisted summary of one accounting run. The processed
// events are stored separately and fetched paged.
type Report struct {
	ID                  string               `json:"id" db:"id"`
	WindowStart         time.Time            `json:"window_start" db:"window_start"`
	WindowEnd           time.Time            `json:"window_end" db:"window_end"`
	Settings            SettingsSnapshot     `json:"settings" db:"settings"`
	Totals              PnLTotals            `json:"totals" db:"totals"`
	EventCount          int                  `json:"event_count" db:"event_count"`
	MissingAcquisitions []MissingAcquisition `json:"missing_acquisitions,omitempty" db:"missing_acquisitions"`
	MissingPrices       []MissingPrice       `json:"missing_prices,omitempty" db:"missing_prices"`
	CreatedAt           time.Time            `json:"created_at" db:"created_at"`
}
