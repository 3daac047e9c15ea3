// Package analytics aggregates and searches ledger snapshots.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/ledger"
	"github.com/dvloznov/finance-assistant/internal/logger"
	"github.com/dvloznov/finance-assistant/internal/params"
	"github.com/shopspring/decimal"
)

const (
	// TopN caps the recipient and supplier breakdowns.
	TopN = 10
	// SearchDisplayLimit caps the records returned for display by Search.
	SearchDisplayLimit = 15
)

// CategoryTotal is the outflow of one category.
type CategoryTotal struct {
	Category domain.Category
	Amount   decimal.Decimal
	// Percent is the share of total outflow, 0..100.
	Percent float64
}

// NamedTotal is an absolute amount attributed to a description.
type NamedTotal struct {
	Name   string
	Amount decimal.Decimal
}

// Summary is the analytics report for one window.
type Summary struct {
	Window   Window
	Inflow   decimal.Decimal
	Outflow  decimal.Decimal
	Net      decimal.Decimal
	Count    int
	// Categories holds outflow per category, largest spend first.
	Categories []CategoryTotal
	// Salaries holds absolute salary totals per person, descending.
	Salaries    []NamedTotal
	AvgDaily    decimal.Decimal
	TopCategory domain.Category
}

// Filter narrows a breakdown. The zero value selects every record.
type Filter struct {
	Window *Window
	Name   string
}

// SearchResult holds the matches of a search. Records is already capped at
// SearchDisplayLimit; Total and Sum cover every match.
type SearchResult struct {
	Query   string
	Records []domain.TransactionRecord
	Total   int
	Sum     decimal.Decimal
}

// Engine runs queries over ledger snapshots.
type Engine struct {
	loc *time.Location
	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocation sets the business timezone.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine in UTC unless configured otherwise.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{loc: time.UTC, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the current time in the business timezone.
func (e *Engine) Now() time.Time {
	return e.now().In(e.loc)
}

// Window resolves p against the current time.
func (e *Engine) Window(p params.Period) Window {
	return ResolvePeriod(p, e.Now())
}

// Records parses the snapshot. Rows that cannot be parsed are logged and
// skipped.
func (e *Engine) Records(ctx context.Context, snap *ledger.Snapshot) []domain.TransactionRecord {
	if snap == nil {
		return nil
	}
	log := logger.FromContext(ctx)
	out := make([]domain.TransactionRecord, 0, len(snap.Rows))
	for _, row := range snap.Rows {
		rec, err := ledger.RecordFromRow(row)
		if err != nil {
			log.Warn().Err(err).Int("row_index", row.Index).Msg("Skipping unparseable ledger row")
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Summarize builds the report for period. Count is 0 when nothing falls
// inside the window.
func (e *Engine) Summarize(ctx context.Context, snap *ledger.Snapshot, period params.Period) Summary {
	w := e.Window(period)
	s := Summary{Window: w}

	byCategory := make(map[domain.Category]decimal.Decimal)
	bySalary := make(map[string]decimal.Decimal)

	for _, r := range e.Records(ctx, snap) {
		if !w.Contains(r.Date) {
			continue
		}
		s.Count++
		switch {
		case r.Amount.IsPositive():
			s.Inflow = s.Inflow.Add(r.Amount)
		case r.Amount.IsNegative():
			s.Outflow = s.Outflow.Add(r.Amount)
			byCategory[r.Category] = byCategory[r.Category].Add(r.Amount)
		}
		if r.Category == domain.CategorySalaries {
			bySalary[r.Description] = bySalary[r.Description].Add(r.Amount)
		}
	}
	s.Net = s.Inflow.Add(s.Outflow)

	for cat, amount := range byCategory {
		ct := CategoryTotal{Category: cat, Amount: amount}
		if !s.Outflow.IsZero() {
			ct.Percent = amount.Div(s.Outflow).Mul(decimal.NewFromInt(100)).InexactFloat64()
		}
		s.Categories = append(s.Categories, ct)
	}
	sort.Slice(s.Categories, func(i, j int) bool {
		if c := s.Categories[i].Amount.Cmp(s.Categories[j].Amount); c != 0 {
			return c < 0
		}
		return s.Categories[i].Category < s.Categories[j].Category
	})
	if len(s.Categories) > 0 {
		s.TopCategory = s.Categories[0].Category
	}

	s.Salaries = sortedTotals(bySalary, 0)
	s.AvgDaily = s.Outflow.Abs().Div(decimal.NewFromInt(int64(w.Days())))
	return s
}

// Recipients ranks descriptions by absolute outflow.
func (e *Engine) Recipients(ctx context.Context, snap *ledger.Snapshot, f Filter) []NamedTotal {
	totals := make(map[string]decimal.Decimal)
	for _, r := range e.filtered(ctx, snap, f) {
		if r.Amount.IsNegative() {
			totals[r.Description] = totals[r.Description].Add(r.Amount)
		}
	}
	return sortedTotals(totals, TopN)
}

// Suppliers ranks supplier payments by absolute outflow.
func (e *Engine) Suppliers(ctx context.Context, snap *ledger.Snapshot, f Filter) []NamedTotal {
	totals := make(map[string]decimal.Decimal)
	for _, r := range e.filtered(ctx, snap, f) {
		if r.Category == domain.CategorySupplier && r.Amount.IsNegative() {
			totals[r.Description] = totals[r.Description].Add(r.Amount)
		}
	}
	return sortedTotals(totals, TopN)
}

// Categories lists every category by absolute outflow, largest first.
// Percent is the share of the filtered outflow.
func (e *Engine) Categories(ctx context.Context, snap *ledger.Snapshot, f Filter) []CategoryTotal {
	totals := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for _, r := range e.filtered(ctx, snap, f) {
		if r.Amount.IsNegative() {
			totals[string(r.Category)] = totals[string(r.Category)].Add(r.Amount)
			total = total.Add(r.Amount.Abs())
		}
	}
	named := sortedTotals(totals, 0)
	out := make([]CategoryTotal, len(named))
	for i, n := range named {
		out[i] = CategoryTotal{Category: domain.Category(n.Name), Amount: n.Amount}
		if !total.IsZero() {
			out[i].Percent = n.Amount.Div(total).Mul(decimal.NewFromInt(100)).InexactFloat64()
		}
	}
	return out
}

// Search matches query against the snapshot. A query containing '>' or '<'
// followed by an integer is an amount threshold on the signed amount and
// nothing else; any other query is a case-insensitive substring of the
// whole row.
func (e *Engine) Search(ctx context.Context, snap *ledger.Snapshot, query string) (SearchResult, error) {
	query = strings.TrimSpace(query)
	res := SearchResult{Query: query}
	if query == "" {
		return res, fmt.Errorf("Search: empty query: %w", domain.ErrValidation)
	}

	match := searchPredicate(query)

	var found []domain.TransactionRecord
	if snap != nil {
		log := logger.FromContext(ctx)
		for _, row := range snap.Rows {
			rec, err := ledger.RecordFromRow(row)
			if err != nil {
				log.Warn().Err(err).Int("row_index", row.Index).Msg("Skipping unparseable ledger row")
				continue
			}
			if match(row, rec) {
				found = append(found, rec)
			}
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].Date != found[j].Date {
			return found[i].Date.After(found[j].Date)
		}
		return found[i].RowIndex > found[j].RowIndex
	})

	res.Total = len(found)
	for _, r := range found {
		res.Sum = res.Sum.Add(r.Amount)
	}
	if len(found) > SearchDisplayLimit {
		found = found[:SearchDisplayLimit]
	}
	res.Records = found
	return res, nil
}

// Latest returns up to n records with the highest row indexes, newest first.
func Latest(records []domain.TransactionRecord, n int) []domain.TransactionRecord {
	sorted := append([]domain.TransactionRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RowIndex > sorted[j].RowIndex })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func searchPredicate(query string) func(ledger.Row, domain.TransactionRecord) bool {
	if i := strings.IndexAny(query, "><"); i >= 0 {
		if threshold, err := leadingInt(query[i+1:]); err == nil {
			limit := decimal.NewFromInt(threshold)
			if query[i] == '>' {
				return func(_ ledger.Row, r domain.TransactionRecord) bool { return r.Amount.GreaterThan(limit) }
			}
			return func(_ ledger.Row, r domain.TransactionRecord) bool { return r.Amount.LessThan(limit) }
		}
	}

	needle := strings.ToLower(query)
	return func(row ledger.Row, _ domain.TransactionRecord) bool {
		return strings.Contains(strings.ToLower(strings.Join(row.Values, " ")), needle)
	}
}

// leadingInt parses the optionally signed integer at the start of s,
// ignoring leading spaces and digit-group spaces.
func leadingInt(s string) (int64, error) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	var digits strings.Builder
	if strings.HasPrefix(s, "-") {
		digits.WriteByte('-')
		s = s[1:]
	}
	for i, r := range s {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
			continue
		}
		// "50 000" keeps going; "50000 Петров" stops at the word.
		if r == ' ' && i > 0 && i+1 < len(s) && unicode.IsDigit(rune(s[i+1])) {
			continue
		}
		break
	}
	if digits.Len() == 0 || digits.String() == "-" {
		return 0, fmt.Errorf("leadingInt: no digits in %q", s)
	}
	return strconv.ParseInt(digits.String(), 10, 64)
}

func (e *Engine) filtered(ctx context.Context, snap *ledger.Snapshot, f Filter) []domain.TransactionRecord {
	records := e.Records(ctx, snap)
	if f.Window == nil && f.Name == "" {
		return records
	}
	name := strings.ToLower(f.Name)
	out := records[:0]
	for _, r := range records {
		if f.Window != nil && !f.Window.Contains(r.Date) {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(r.Description), name) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// sortedTotals converts signed totals to absolute values sorted descending,
// ties broken by name. limit 0 keeps everything.
func sortedTotals(totals map[string]decimal.Decimal, limit int) []NamedTotal {
	out := make([]NamedTotal, 0, len(totals))
	for name, amount := range totals {
		out = append(out, NamedTotal{Name: name, Amount: amount.Abs()})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
