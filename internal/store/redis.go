package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cryptofolio/accounting-engine/internal/model"
	"github.com/cryptofolio/accounting-engine/internal/rules"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Reports are immutable once written, so report reads cache well;
// event and rule queries pass through to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Writes (go to primary, keep the cache coherent) ---

func (s *CachedStore) InsertEvents(ctx context.Context, events []model.HistoryEvent) error {
	return s.primary.InsertEvents(ctx, events)
}

func (s *CachedStore) PutRuleOverride(ctx context.Context, key rules.Key, rule rules.Rule) error {
	return s.primary.PutRuleOverride(ctx, key, rule)
}

func (s *CachedStore) DeleteRuleOverride(ctx context.Context, key rules.Key) error {
	return s.primary.DeleteRuleOverride(ctx, key)
}

func (s *CachedStore) InsertReport(ctx context.Context, report *model.Report, events []model.ProcessedAccountingEvent) error {
	if err := s.primary.InsertReport(ctx, report, events); err != nil {
		return err
	}
	s.cacheReport(ctx, report)
	// Invalidate the listing; next read will re-populate.
	s.rdb.Del(ctx, reportListKey())
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetReport(ctx context.Context, id string) (*model.Report, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, reportKey(id)).Bytes()
	if err == nil {
		var r model.Report
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	// Cache miss: read from primary.
	r, err := s.primary.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheReport(ctx, r)
	return r, nil
}

func (s *CachedStore) ListReports(ctx context.Context) ([]model.Report, error) {
	data, err := s.rdb.Get(ctx, reportListKey()).Bytes()
	if err == nil {
		var reports []model.Report
		if json.Unmarshal(data, &reports) == nil {
			return reports, nil
		}
	}

	reports, err := s.primary.ListReports(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(reports); err == nil {
		s.rdb.Set(ctx, reportListKey(), data, s.ttl)
	}
	return reports, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetEvents(ctx context.Context, from, to time.Time) ([]model.HistoryEvent, error) {
	return s.primary.GetEvents(ctx, from, to)
}

func (s *CachedStore) ListRuleOverrides(ctx context.Context) (map[rules.Key]rules.Rule, error) {
	return s.primary.ListRuleOverrides(ctx)
}

func (s *CachedStore) GetReportEvents(ctx context.Context, id string, offset, limit int) ([]model.ProcessedAccountingEvent, error) {
	return s.primary.GetReportEvents(ctx, id, offset, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cacheReport(ctx context.Context, r *model.Report) {
	if data, err := json.Marshal(r); err == nil {
		s.rdb.Set(ctx, reportKey(r.ID), data, s.ttl)
	}
}

func reportKey(id string) string { return fmt.Sprintf("report:%s", id) }
func reportListKey() string      { return "reports:all" }
