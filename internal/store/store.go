// Package store defines the persistence interface for the accounting
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/cryptofolio/accounting-engine/internal/model"
	"github.com/cryptofolio/accounting-engine/internal/rules"
)

// ErrNotFound is wrapped by lookups for missing records.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer for report reads.
type Store interface {
	// --- History events ---

	// InsertEvents persists a batch of canonical history events.
	InsertEvents(ctx context.Context, events []model.HistoryEvent) error

	// GetEvents returns stored events with from <= timestamp <= to,
	// ordered by timestamp then sequence index.
	GetEvents(ctx context.Context, from, to time.Time) ([]model.HistoryEvent, error)

	// --- Rule overrides ---

	// ListRuleOverrides returns all persisted rule overrides.
	ListRuleOverrides(ctx context.Context) (map[rules.Key]rules.Rule, error)

	// PutRuleOverride inserts or replaces an override.
	PutRuleOverride(ctx context.Context, key rules.Key, rule rules.Rule) error

	// DeleteRuleOverride removes an override.
	DeleteRuleOverride(ctx context.Context, key rules.Key) error

	// --- Reports ---

	// InsertReport persists a finished report and its processed events.
	InsertReport(ctx context.Context, report *model.Report, events []model.ProcessedAccountingEvent) error

	// GetReport retrieves a report summary by ID.
	GetReport(ctx context.Context, id string) (*model.Report, error)

	// ListReports returns all report summaries, newest first.
	ListReports(ctx context.Context) ([]model.Report, error)

	// GetReportEvents returns a page of a report's processed events in
	// emission order.
	GetReportEvents(ctx context.Context, id string, offset, limit int) ([]model.ProcessedAccountingEvent, error)
}
