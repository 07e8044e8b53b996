package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cryptofolio/accounting-engine/internal/model"
	"github.com/cryptofolio/accounting-engine/internal/rules"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// structured report fields (settings, totals, cost basis) are JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertEvents(ctx context.Context, events []model.HistoryEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, e := range events {
		_, err := tx.Exec(ctx,
			`INSERT INTO history_events (id, group_id, sequence_index, timestamp, location, asset, amount, type, subtype, counterparty, notes)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9, $10, $11)`,
			e.ID, e.GroupID, e.SequenceIndex, e.Timestamp, e.Location,
			string(e.Asset), e.Amount.String(),
			string(e.Type), string(e.Subtype), e.Counterparty, e.Notes,
		)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetEvents(ctx context.Context, from, to time.Time) ([]model.HistoryEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, group_id, sequence_index, timestamp, location, asset,
		        amount::TEXT, type, subtype, counterparty, notes
		 FROM history_events
		 WHERE timestamp >= $1 AND timestamp <= $2
		 ORDER BY timestamp, sequence_index`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.HistoryEvent
	for rows.Next() {
		var e model.HistoryEvent
		var asset, typ, subtype, amountS string
		if err := rows.Scan(&e.ID, &e.GroupID, &e.SequenceIndex, &e.Timestamp,
			&e.Location, &asset, &amountS, &typ, &subtype,
			&e.Counterparty, &e.Notes); err != nil {
			return nil, err
		}
		e.Asset = model.Asset(asset)
		e.Type = model.EventType(typ)
		e.Subtype = model.EventSubtype(subtype)
		e.Amount, _ = decimal.NewFromString(amountS)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) ListRuleOverrides(ctx context.Context) (map[rules.Key]rules.Rule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT type, subtype, counterparty,
		        taxable, count_entire_amount_spend, count_cost_basis_pnl,
		        treatment, callback
		 FROM rule_overrides`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	overrides := make(map[rules.Key]rules.Rule)
	for rows.Next() {
		var typ, subtype, counterparty, treatment string
		var rule rules.Rule
		if err := rows.Scan(&typ, &subtype, &counterparty,
			&rule.Taxable, &rule.CountEntireAmountSpend, &rule.CountCostBasisPnL,
			&treatment, &rule.Callback); err != nil {
			return nil, err
		}
		rule.Treatment = rules.Treatment(treatment)
		key := rules.Key{
			Type:         model.EventType(typ),
			Subtype:      model.EventSubtype(subtype),
			Counterparty: counterparty,
		}
		overrides[key] = rule
	}
	return overrides, rows.Err()
}

func (s *PostgresStore) PutRuleOverride(ctx context.Context, key rules.Key, rule rules.Rule) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rule_overrides (type, subtype, counterparty, taxable, count_entire_amount_spend, count_cost_basis_pnl, treatment, callback)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (type, subtype, counterparty) DO UPDATE
		 SET taxable = EXCLUDED.taxable,
		     count_entire_amount_spend = EXCLUDED.count_entire_amount_spend,
		     count_cost_basis_pnl = EXCLUDED.count_cost_basis_pnl,
		     treatment = EXCLUDED.treatment,
		     callback = EXCLUDED.callback`,
		string(key.Type), string(key.Subtype), key.Counterparty,
		rule.Taxable, rule.CountEntireAmountSpend, rule.CountCostBasisPnL,
		string(rule.Treatment), rule.Callback,
	)
	return err
}

func (s *PostgresStore) DeleteRuleOverride(ctx context.Context, key rules.Key) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM rule_overrides WHERE type = $1 AND subtype = $2 AND counterparty = $3`,
		string(key.Type), string(key.Subtype), key.Counterparty,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule override %s: %w", key, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) InsertReport(ctx context.Context, report *model.Report, events []model.ProcessedAccountingEvent) error {
	settings, err := json.Marshal(report.Settings)
	if err != nil {
		return err
	}
	totals, err := json.Marshal(report.Totals)
	if err != nil {
		return err
	}
	missingAcq, err := json.Marshal(report.MissingAcquisitions)
	if err != nil {
		return err
	}
	missingPrices, err := json.Marshal(report.MissingPrices)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO reports (id, window_start, window_end, settings, totals, event_count, missing_acquisitions, missing_prices, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		report.ID, report.WindowStart, report.WindowEnd,
		settings, totals, report.EventCount, missingAcq, missingPrices,
		report.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert report %s: %w", report.ID, err)
	}

	for _, e := range events {
		costBasis, err := json.Marshal(e.CostBasis)
		if err != nil {
			return err
		}
		extra, err := json.Marshal(e.Extra)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO report_events (report_id, index, category, timestamp, location, asset, free_amount, taxable_amount, price, pnl_taxable, pnl_free, cost_basis, notes, extra)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12, $13, $14)`,
			report.ID, e.Index, string(e.Category), e.Timestamp, e.Location,
			string(e.Asset), e.FreeAmount.String(), e.TaxableAmount.String(),
			e.Price.String(), e.PnL.Taxable.String(), e.PnL.Free.String(),
			costBasis, e.Notes, extra,
		)
		if err != nil {
			return fmt.Errorf("insert report event %d: %w", e.Index, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetReport(ctx context.Context, id string) (*model.Report, error) {
	var r model.Report
	var settings, totals, missingAcq, missingPrices []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, window_start, window_end, settings, totals, event_count,
		        missing_acquisitions, missing_prices, created_at
		 FROM reports WHERE id = $1`, id).
		Scan(&r.ID, &r.WindowStart, &r.WindowEnd, &settings, &totals,
			&r.EventCount, &missingAcq, &missingPrices, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}

	if err := unmarshalReportFields(&r, settings, totals, missingAcq, missingPrices); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) ListReports(ctx context.Context) ([]model.Report, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, window_start, window_end, settings, totals, event_count,
		        missing_acquisitions, missing_prices, created_at
		 FROM reports ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []model.Report
	for rows.Next() {
		var r model.Report
		var settings, totals, missingAcq, missingPrices []byte
		if err := rows.Scan(&r.ID, &r.WindowStart, &r.WindowEnd, &settings,
			&totals, &r.EventCount, &missingAcq, &missingPrices,
			&r.CreatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalReportFields(&r, settings, totals, missingAcq, missingPrices); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func (s *PostgresStore) GetReportEvents(ctx context.Context, id string, offset, limit int) ([]model.ProcessedAccountingEvent, error) {
	if _, err := s.GetReport(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1 << 30
	}
	rows, err := s.pool.Query(ctx,
		`SELECT index, category, timestamp, location, asset,
		        free_amount::TEXT, taxable_amount::TEXT, price::TEXT,
		        pnl_taxable::TEXT, pnl_free::TEXT, cost_basis, notes, extra
		 FROM report_events WHERE report_id = $1
		 ORDER BY index OFFSET $2 LIMIT $3`, id, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.ProcessedAccountingEvent
	for rows.Next() {
		var e model.ProcessedAccountingEvent
		var category, asset, freeS, taxableS, priceS, pnlTaxS, pnlFreeS string
		var costBasis, extra []byte
		if err := rows.Scan(&e.Index, &category, &e.Timestamp, &e.Location,
			&asset, &freeS, &taxableS, &priceS, &pnlTaxS, &pnlFreeS,
			&costBasis, &e.Notes, &extra); err != nil {
			return nil, err
		}
		e.Category = model.Category(category)
		e.Asset = model.Asset(asset)
		e.FreeAmount, _ = decimal.NewFromString(freeS)
		e.TaxableAmount, _ = decimal.NewFromString(taxableS)
		e.Price, _ = decimal.NewFromString(priceS)
		e.PnL.Taxable, _ = decimal.NewFromString(pnlTaxS)
		e.PnL.Free, _ = decimal.NewFromString(pnlFreeS)
		if len(costBasis) > 0 && string(costBasis) != "null" {
			e.CostBasis = &model.SpendResolution{}
			if err := json.Unmarshal(costBasis, e.CostBasis); err != nil {
				return nil, err
			}
		}
		if len(extra) > 0 && string(extra) != "null" {
			if err := json.Unmarshal(extra, &e.Extra); err != nil {
				return nil, err
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func unmarshalReportFields(r *model.Report, settings, totals, missingAcq, missingPrices []byte) error {
	if err := json.Unmarshal(settings, &r.Settings); err != nil {
		return err
	}
	r.Totals = model.NewPnLTotals()
	if err := json.Unmarshal(totals, &r.Totals); err != nil {
		return err
	}
	if len(missingAcq) > 0 {
		if err := json.Unmarshal(missingAcq, &r.MissingAcquisitions); err != nil {
			return err
		}
	}
	if len(missingPrices) > 0 {
		if err := json.Unmarshal(missingPrices, &r.MissingPrices); err != nil {
			return err
		}
	}
	return nil
}
