package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cryptofolio/accounting-engine/internal/accountant"
	"github.com/cryptofolio/accounting-engine/internal/config"
	"github.com/cryptofolio/accounting-engine/internal/metrics"
	"github.com/cryptofolio/accounting-engine/internal/model"
	"github.com/cryptofolio/accounting-engine/internal/pricing"
	"github.com/cryptofolio/accounting-engine/internal/rules"
	"github.com/cryptofolio/accounting-engine/internal/store"
)

// Service handles event ingestion, rule override management and report
// runs. Report runs are serialized with a mutex (single-instance); the pot
// is rebuilt from scratch for every run.
type Service struct {
	store    store.Store
	oracle   pricing.Oracle
	settings accountant.Settings
	snapshot model.SettingsSnapshot
	mu       sync.Mutex
	wsHub    *WSHub // optional WebSocket hub for progress broadcasts
}

// NewService creates a new report service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, oracle pricing.Oracle, cfg *config.Config, hub *WSHub) *Service {
	return &Service{
		store:    st,
		oracle:   oracle,
		settings: cfg.AccountingSettings(),
		snapshot: cfg.SettingsSnapshot(),
		wsHub:    hub,
	}
}

// --- Request/Response types ---

// CreateReportRequest is the JSON body for POST /api/v1/reports.
type CreateReportRequest struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// RuleBody is the JSON shape of a rule override.
type RuleBody struct {
	Type                   string `json:"type"`
	Subtype                string `json:"subtype"`
	Counterparty           string `json:"counterparty,omitempty"`
	Taxable                bool   `json:"taxable"`
	CountEntireAmountSpend bool   `json:"count_entire_amount_spend"`
	CountCostBasisPnL      bool   `json:"count_cost_basis_pnl"`
	Treatment              string `json:"treatment,omitempty"`
	Callback               string `json:"callback,omitempty"`
}

// HoldingsResponse is returned from GET /api/v1/holdings/{asset}.
type HoldingsResponse struct {
	Asset  model.Asset         `json:"asset"`
	Held   bool                `json:"held"`
	Amount string              `json:"amount"`
	Lots   []model.LotSnapshot `json:"lots,omitempty"`
}

// --- HTTP Handlers ---

// IngestEvents handles POST /api/v1/events
func (s *Service) IngestEvents(w http.ResponseWriter, r *http.Request) {
	var events []model.HistoryEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(events) == 0 {
		writeError(w, "no events given", http.StatusBadRequest)
		return
	}

	for i := range events {
		e := &events[i]
		if e.Asset == "" {
			writeError(w, fmt.Sprintf("event %d: asset is required", i), http.StatusBadRequest)
			return
		}
		if !e.Amount.IsPositive() {
			writeError(w, fmt.Sprintf("event %d: amount must be positive", i), http.StatusBadRequest)
			return
		}
		if e.Type == "" {
			writeError(w, fmt.Sprintf("event %d: type is required", i), http.StatusBadRequest)
			return
		}
		if e.Timestamp.IsZero() {
			writeError(w, fmt.Sprintf("event %d: timestamp is required", i), http.StatusBadRequest)
			return
		}
		if e.Subtype == "" {
			e.Subtype = model.SubtypeNone
		}
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.GroupID == "" {
			e.GroupID = e.ID
		}
	}

	if err := s.store.InsertEvents(r.Context(), events); err != nil {
		writeError(w, "failed to store events", http.StatusInternalServerError)
		return
	}

	slog.Info("events ingested", "count", len(events))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]int{"inserted": len(events)})
}

// ListEvents handles GET /api/v1/events?from=&to=
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseWindow(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	events, err := s.store.GetEvents(r.Context(), from, to)
	if err != nil {
		writeError(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.HistoryEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// ListRules handles GET /api/v1/rules
// Returns the effective rule table: defaults merged with stored overrides.
func (s *Service) ListRules(w http.ResponseWriter, r *http.Request) {
	set, err := s.buildRuleSet(r.Context())
	if err != nil {
		writeError(w, "failed to load rules", http.StatusInternalServerError)
		return
	}

	var out []RuleBody
	for key, rule := range set.All() {
		out = append(out, RuleBody{
			Type:                   string(key.Type),
			Subtype:                string(key.Subtype),
			Counterparty:           key.Counterparty,
			Taxable:                rule.Taxable,
			CountEntireAmountSpend: rule.CountEntireAmountSpend,
			CountCostBasisPnL:      rule.CountCostBasisPnL,
			Treatment:              string(rule.Treatment),
			Callback:               rule.Callback,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// PutRule handles PUT /api/v1/rules
func (s *Service) PutRule(w http.ResponseWriter, r *http.Request) {
	var body RuleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Type == "" || body.Subtype == "" {
		writeError(w, "type and subtype are required", http.StatusBadRequest)
		return
	}
	switch rules.Treatment(body.Treatment) {
	case rules.TreatmentNone, rules.TreatmentSwap:
	default:
		writeError(w, "unknown treatment: "+body.Treatment, http.StatusBadRequest)
		return
	}

	key := rules.Key{
		Type:         model.EventType(body.Type),
		Subtype:      model.EventSubtype(body.Subtype),
		Counterparty: body.Counterparty,
	}
	rule := rules.Rule{
		Taxable:                body.Taxable,
		CountEntireAmountSpend: body.CountEntireAmountSpend,
		CountCostBasisPnL:      body.CountCostBasisPnL,
		Treatment:              rules.Treatment(body.Treatment),
		Callback:               body.Callback,
	}

	// Reject callbacks no registered function backs.
	if _, err := rules.DefaultSet().ResolveCallback(rule); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.PutRuleOverride(r.Context(), key, rule); err != nil {
		writeError(w, "failed to store rule override", http.StatusInternalServerError)
		return
	}

	slog.Info("rule override stored", "key", key.String())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

// DeleteRule handles DELETE /api/v1/rules?type=&subtype=&counterparty=
func (s *Service) DeleteRule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := rules.Key{
		Type:         model.EventType(q.Get("type")),
		Subtype:      model.EventSubtype(q.Get("subtype")),
		Counterparty: q.Get("counterparty"),
	}
	if key.Type == "" || key.Subtype == "" {
		writeError(w, "type and subtype are required", http.StatusBadRequest)
		return
	}

	err := s.store.DeleteRuleOverride(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "rule override not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to delete rule override", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreateReport handles POST /api/v1/reports
// Runs the accounting engine over the requested window and persists the
// result. Events before the window are replayed to build up cost basis.
func (s *Service) CreateReport(w http.ResponseWriter, r *http.Request) {
	var req CreateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.To.IsZero() {
		req.To = time.Now().UTC()
	}
	if !req.From.Before(req.To) {
		writeError(w, "from must be before to", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Serialize report runs.
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.store.GetEvents(ctx, time.Unix(0, 0).UTC(), req.To)
	if err != nil {
		writeError(w, "failed to load events", http.StatusInternalServerError)
		return
	}

	set, err := s.buildRuleSet(ctx)
	if err != nil {
		writeError(w, "failed to load rules", http.StatusInternalServerError)
		return
	}

	reportID := uuid.New().String()
	processor := accountant.NewProcessor(set, s.oracle)
	runStart := time.Now()
	result, err := processor.Run(ctx, events, s.settings, req.From, req.To, s.progressFunc(reportID))
	metrics.ReportDuration.Observe(time.Since(runStart).Seconds())
	if errors.Is(err, accountant.ErrUnsortedEvents) {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		writeError(w, "report run failed", http.StatusInternalServerError)
		return
	}

	report := &model.Report{
		ID:                  reportID,
		WindowStart:         req.From,
		WindowEnd:           req.To,
		Settings:            s.snapshot,
		Totals:              result.Totals,
		EventCount:          len(result.Events),
		MissingAcquisitions: result.MissingAcquisitions,
		MissingPrices:       result.MissingPrices,
		CreatedAt:           time.Now().UTC(),
	}

	if err := s.store.InsertReport(ctx, report, result.Events); err != nil {
		writeError(w, "failed to store report", http.StatusInternalServerError)
		return
	}

	metrics.ReportsRun.Inc()
	metrics.EventsProcessed.Add(float64(len(result.Events)))
	metrics.MissingAcquisitions.Add(float64(len(result.MissingAcquisitions)))
	metrics.MissingPrices.Add(float64(len(result.MissingPrices)))

	slog.Info("report finished",
		"report_id", reportID,
		"events", len(result.Events),
		"taxable_pnl", result.Totals.NetTaxable().String(),
		"free_pnl", result.Totals.NetFree().String(),
		"missing_acquisitions", len(result.MissingAcquisitions),
		"missing_prices", len(result.MissingPrices),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "report_finished",
			ReportID:  reportID,
			Processed: len(events),
			Total:     len(events),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(report)
}

// ListReports handles GET /api/v1/reports
func (s *Service) ListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.store.ListReports(r.Context())
	if err != nil {
		writeError(w, "failed to list reports", http.StatusInternalServerError)
		return
	}
	if reports == nil {
		reports = []model.Report{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reports)
}

// GetReport handles GET /api/v1/reports/{reportID}
func (s *Service) GetReport(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")

	report, err := s.store.GetReport(r.Context(), reportID)
	if err != nil {
		writeError(w, "report not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// GetReportEvents handles GET /api/v1/reports/{reportID}/events?offset=&limit=
func (s *Service) GetReportEvents(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := s.store.GetReportEvents(r.Context(), reportID, offset, limit)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "report not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load report events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.ProcessedAccountingEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// ExportReport handles GET /api/v1/reports/{reportID}/export
// Streams the report's processed events as CSV.
func (s *Service) ExportReport(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")
	ctx := r.Context()

	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		writeError(w, "report not found", http.StatusNotFound)
		return
	}
	events, err := s.store.GetReportEvents(ctx, reportID, 0, 0)
	if err != nil {
		writeError(w, "failed to load report events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "report-"+report.ID+".csv"))
	if err := WriteCSV(w, report, events); err != nil {
		slog.Error("csv export failed", "report_id", reportID, "err", err)
	}
}

// GetHoldings handles GET /api/v1/holdings/{asset}?at=
// Replays events through a fresh pot and reports the asset amount the lot
// ledger still holds, for reconciliation against exchange balances.
func (s *Service) GetHoldings(w http.ResponseWriter, r *http.Request) {
	asset := model.Asset(chi.URLParam(r, "asset"))
	at := time.Now().UTC()
	if v := r.URL.Query().Get("at"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, "invalid at timestamp", http.StatusBadRequest)
			return
		}
		at = parsed
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.store.GetEvents(ctx, time.Unix(0, 0).UTC(), at)
	if err != nil {
		writeError(w, "failed to load events", http.StatusInternalServerError)
		return
	}

	pot := accountant.NewPot(s.oracle, s.settings, time.Unix(0, 0).UTC(), at)
	set, err := s.buildRuleSet(ctx)
	if err != nil {
		writeError(w, "failed to load rules", http.StatusInternalServerError)
		return
	}
	processor := accountant.NewProcessor(set, s.oracle)
	if err := processor.RunWithPot(ctx, pot, events, nil); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	amount, held := pot.HeldAmount(asset)
	resp := HoldingsResponse{
		Asset:  asset,
		Held:   held,
		Amount: amount.String(),
	}
	if held {
		resp.Lots = pot.OpenLots(asset)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Helpers ---

// buildRuleSet merges stored overrides on top of the default rule table.
func (s *Service) buildRuleSet(ctx context.Context) (*rules.Set, error) {
	set := rules.DefaultSet()
	overrides, err := s.store.ListRuleOverrides(ctx)
	if err != nil {
		return nil, err
	}
	for key, rule := range overrides {
		set.Put(key, rule)
	}
	return set, nil
}

// progressFunc broadcasts run progress every progressStep consumed events.
func (s *Service) progressFunc(reportID string) accountant.ProgressFunc {
	if s.wsHub == nil {
		return nil
	}
	const progressStep = 100
	last := 0
	return func(processed, total int) {
		if processed-last < progressStep && processed != total {
			return
		}
		last = processed
		s.wsHub.Broadcast(WSMessage{
			Type:      "report_progress",
			ReportID:  reportID,
			Processed: processed,
			Total:     total,
		})
	}
}

// parseWindow reads optional RFC3339 from/to query parameters.
func parseWindow(r *http.Request) (from, to time.Time, err error) {
	from = time.Unix(0, 0).UTC()
	to = time.Now().UTC()
	if v := r.URL.Query().Get("from"); v != "" {
		from, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, fmt.Errorf("invalid from timestamp: %w", err)
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		to, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, fmt.Errorf("invalid to timestamp: %w", err)
		}
	}
	return from, to, nil
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
