package inmemory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/ledger"
)

// Store is an in-memory ledger.Store. Row 1 is the header once EnsureHeader
// has run; data rows follow in insertion order, like a sheet.
// It is safe for concurrent use and is meant for tests and local runs.
type Store struct {
	mu      sync.Mutex
	header  []string
	rows    [][]string
	fetches int

	// FailWrites, when set, is returned by every mutating call.
	FailWrites error
	// FailReads, when set, is returned by Rows.
	FailReads error
}

// NewStore creates an empty store without a header.
func NewStore() *Store {
	return &Store{}
}

// EnsureHeader implements ledger.Store.
func (s *Store) EnsureHeader(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.header) == 0 {
		s.header = append([]string(nil), domain.SheetHeader...)
	}
	return nil
}

// Header returns row 1.
func (s *Store) Header() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.header...)
}

// Rows implements ledger.Store.
func (s *Store) Rows(ctx context.Context) ([]ledger.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	out := make([]ledger.Row, len(s.rows))
	for i, r := range s.rows {
		out[i] = ledger.Row{Index: i + 2, Values: append([]string(nil), r...)}
	}
	return out, nil
}

// Fetches reports how many times Rows was called.
func (s *Store) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// Append implements ledger.Store.
func (s *Store) Append(ctx context.Context, values []interface{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return 0, s.FailWrites
	}
	s.rows = append(s.rows, toCells(values))
	return len(s.rows) + 1, nil
}

// Update implements ledger.Store.
func (s *Store) Update(ctx context.Context, row int, values []interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	i := row - 2
	if i < 0 || i >= len(s.rows) {
		return fmt.Errorf("Update: row %d out of range: %w", row, domain.ErrExternalService)
	}
	s.rows[i] = toCells(values)
	return nil
}

// DeleteRows implements ledger.Store.
func (s *Store) DeleteRows(ctx context.Context, first, last int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	lo, hi := first-2, last-2
	if lo < 0 || hi >= len(s.rows) || hi < lo {
		return fmt.Errorf("DeleteRows: range %d..%d out of bounds: %w", first, last, domain.ErrExternalService)
	}
	s.rows = append(s.rows[:lo], s.rows[hi+1:]...)
	return nil
}

// Seed appends raw cell rows, bypassing validation.
func (s *Store) Seed(rows ...[]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.rows = append(s.rows, append([]string(nil), r...))
	}
}

// toCells mimics how the sheet returns unformatted values.
func toCells(values []interface{}) []string {
	cells := make([]string, len(values))
	for i, v := range values {
		switch val := v.(type) {
		case string:
			cells[i] = val
		case float64:
			cells[i] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			cells[i] = fmt.Sprint(val)
		}
	}
	return cells
}

var _ ledger.Store = (*Store)(nil)
