package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dvloznov/finance-assistant/internal/analytics"
	"github.com/dvloznov/finance-assistant/internal/api/middleware"
	"github.com/dvloznov/finance-assistant/internal/backup"
	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/ledger"
	"github.com/dvloznov/finance-assistant/internal/params"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SnapshotSource supplies the cached ledger view.
type SnapshotSource interface {
	Get(ctx context.Context) (*ledger.Snapshot, error)
}

// ContextReader supplies a user's recent context lines.
type ContextReader interface {
	Get(userID string) []string
}

// BackupCreator exports the ledger.
type BackupCreator interface {
	Create(ctx context.Context) (backup.Backup, []string, error)
}

// LedgerClearer wipes the ledger below the header.
type LedgerClearer interface {
	Clear(ctx context.Context, userID string) (int, error)
}

// RecordResponse is the JSON form of a ledger record.
type RecordResponse struct {
	Row           int             `json:"row"`
	Date          string          `json:"date"`
	OperationType string          `json:"operation_type"`
	Category      string          `json:"category"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	Comment       string          `json:"comment,omitempty"`
}

func recordResponses(records []domain.TransactionRecord) []RecordResponse {
	out := make([]RecordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, RecordResponse{
			Row:           r.RowIndex,
			Date:          domain.FormatDate(r.Date),
			OperationType: string(r.OperationType),
			Category:      string(r.Category),
			Description:   r.Description,
			Amount:        r.Amount,
			Comment:       r.Comment,
		})
	}
	return out
}

// NamedTotalResponse is one line of a breakdown.
type NamedTotalResponse struct {
	Name    string          `json:"name"`
	Amount  decimal.Decimal `json:"amount"`
	Percent float64         `json:"percent,omitempty"`
}

// ReportsHandler serves the read-only ledger views and ledger-wide actions.
type ReportsHandler struct {
	snapshots SnapshotSource
	engine    *analytics.Engine
	contexts  ContextReader
	backups   BackupCreator
	clearer   LedgerClearer
	log       zerolog.Logger
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(snapshots SnapshotSource, engine *analytics.Engine, contexts ContextReader, backups BackupCreator, clearer LedgerClearer, log zerolog.Logger) *ReportsHandler {
	return &ReportsHandler{
		snapshots: snapshots,
		engine:    engine,
		contexts:  contexts,
		backups:   backups,
		clearer:   clearer,
		log:       log,
	}
}

func (h *ReportsHandler) snapshot(w http.ResponseWriter, r *http.Request) (*ledger.Snapshot, bool) {
	snap, err := h.snapshots.Get(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load ledger snapshot")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to read ledger")
		return nil, false
	}
	return snap, true
}

// Analytics handles GET /api/analytics?period=
func (h *ReportsHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	sum := h.engine.Summarize(r.Context(), snap, params.ParsePeriod(r.URL.Query().Get("period")))

	categories := make([]NamedTotalResponse, 0, len(sum.Categories))
	for _, c := range sum.Categories {
		categories = append(categories, NamedTotalResponse{Name: string(c.Category), Amount: c.Amount, Percent: c.Percent})
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"period":       sum.Window.Label,
		"start":        sum.Window.Start.Format("2006-01-02"),
		"end":          sum.Window.End.Format("2006-01-02"),
		"inflow":       sum.Inflow,
		"outflow":      sum.Outflow,
		"net":          sum.Net,
		"count":        sum.Count,
		"avg_daily":    sum.AvgDaily,
		"top_category": string(sum.TopCategory),
		"categories":   categories,
		"salaries":     namedTotals(sum.Salaries),
	})
}

// Breakdown handles GET /api/breakdown/{kind} where kind is recipients,
// suppliers or categories. Optional query parameters: period, name.
func (h *ReportsHandler) Breakdown(w http.ResponseWriter, r *http.Request, kind string) {
	query := r.URL.Query()
	var filter analytics.Filter
	if p := query.Get("period"); p != "" {
		win := h.engine.Window(params.ParsePeriod(p))
		filter.Window = &win
	}
	filter.Name = strings.TrimSpace(query.Get("name"))

	if kind != "recipients" && kind != "suppliers" && kind != "categories" {
		middleware.WriteError(w, http.StatusNotFound, fmt.Sprintf("Unknown breakdown %q", kind))
		return
	}
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}

	var totals []NamedTotalResponse
	switch kind {
	case "recipients":
		totals = namedTotals(h.engine.Recipients(r.Context(), snap, filter))
	case "suppliers":
		totals = namedTotals(h.engine.Suppliers(r.Context(), snap, filter))
	case "categories":
		for _, c := range h.engine.Categories(r.Context(), snap, filter) {
			totals = append(totals, NamedTotalResponse{Name: string(c.Category), Amount: c.Amount, Percent: c.Percent})
		}
	}
	if totals == nil {
		totals = []NamedTotalResponse{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"kind":   kind,
		"totals": totals,
	})
}

func namedTotals(in []analytics.NamedTotal) []NamedTotalResponse {
	out := make([]NamedTotalResponse, 0, len(in))
	for _, t := range in {
		out = append(out, NamedTotalResponse{Name: t.Name, Amount: t.Amount})
	}
	return out
}

// Search handles GET /api/search?q=
func (h *ReportsHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if q == "" {
		middleware.WriteError(w, http.StatusBadRequest, "q is required")
		return
	}
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	res, err := h.engine.Search(r.Context(), snap, q)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid search query")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"query":   res.Query,
		"records": recordResponses(res.Records),
		"total":   res.Total,
		"sum":     res.Sum,
	})
}

// History handles GET /api/history
func (h *ReportsHandler) History(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	lines := h.contexts.Get(middleware.UserIDFromContext(r.Context()))
	if lines == nil {
		lines = []string{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"context": lines,
		"latest":  recordResponses(analytics.Latest(h.engine.Records(r.Context(), snap), 3)),
	})
}

// Backup handles GET /api/backup and streams the backup document.
func (h *ReportsHandler) Backup(w http.ResponseWriter, r *http.Request) {
	b, stored, err := h.backups.Create(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create backup")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to create backup")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", b.Name))
	for _, loc := range stored {
		w.Header().Add("X-Backup-Location", loc)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b.Data)
}

// Clear handles POST /api/clear. The body must be {"confirm": true}.
func (h *ReportsHandler) Clear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Confirm {
		middleware.WriteError(w, http.StatusBadRequest, "Clearing the ledger requires \"confirm\": true")
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	n, err := h.clearer.Clear(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to clear ledger")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to clear ledger")
		return
	}
	h.log.Warn().Str("user_id", userID).Int("rows", n).Msg("Ledger cleared over HTTP")

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"cleared": n,
	})
}
