package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cryptofolio/accounting-engine/internal/model"
	"github.com/cryptofolio/accounting-engine/internal/rules"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	events       []model.HistoryEvent
	overrides    map[rules.Key]rules.Rule
	reports      map[string]*model.Report
	reportEvents map[string][]model.ProcessedAccountingEvent
	reportOrder  []string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		overrides:    make(map[rules.Key]rules.Rule),
		reports:      make(map[string]*model.Report),
		reportEvents: make(map[string][]model.ProcessedAccountingEvent),
	}
}

func (s *MemoryStore) InsertEvents(_ context.Context, events []model.HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, events...)
	sort.SliceStable(s.events, func(i, j int) bool {
		if !s.events[i].Timestamp.Equal(s.events[j].Timestamp) {
			return s.events[i].Timestamp.Before(s.events[j].Timestamp)
		}
		return s.events[i].SequenceIndex < s.events[j].SequenceIndex
	})
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, from, to time.Time) ([]model.HistoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.HistoryEvent
	for _, e := range s.events {
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func (s *MemoryStore) ListRuleOverrides(_ context.Context) (map[rules.Key]rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[rules.Key]rules.Rule, len(s.overrides))
	for k, r := range s.overrides {
		out[k] = r
	}
	return out, nil
}

func (s *MemoryStore) PutRuleOverride(_ context.Context, key rules.Key, rule rules.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.overrides[key] = rule
	return nil
}

func (s *MemoryStore) DeleteRuleOverride(_ context.Context, key rules.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.overrides[key]; !ok {
		return fmt.Errorf("rule override %s: %w", key, ErrNotFound)
	}
	delete(s.overrides, key)
	return nil
}

func (s *MemoryStore) InsertReport(_ context.Context, report *model.Report, events []model.ProcessedAccountingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	copy := *report
	s.reports[report.ID] = &copy
	s.reportEvents[report.ID] = append([]model.ProcessedAccountingEvent(nil), events...)
	s.reportOrder = append(s.reportOrder, report.ID)
	return nil
}

func (s *MemoryStore) GetReport(_ context.Context, id string) (*model.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	copy := *r
	return &copy, nil
}

func (s *MemoryStore) ListReports(_ context.Context) ([]model.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := make([]model.Report, 0, len(s.reportOrder))
	for i := len(s.reportOrder) - 1; i >= 0; i-- {
		reports = append(reports, *s.reports[s.reportOrder[i]])
	}
	return reports, nil
}

func (s *MemoryStore) GetReportEvents(_ context.Context, id string, offset, limit int) ([]model.ProcessedAccountingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, ok := s.reportEvents[id]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(events) {
		return nil, nil
	}
	end := len(events)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]model.ProcessedAccountingEvent(nil), events[offset:end]...), nil
}
