package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/rs/zerolog"
)

// Action names a ledger mutation.
type Action string

const (
	ActionAppend Action = "append"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionClear  Action = "clear"
)

// Event describes one committed mutation.
type Event struct {
	Action   Action
	UserID   string
	RowIndex int
	Record   domain.TransactionRecord
	At       time.Time
}

// Journal receives committed mutations. Failures never undo a mutation.
type Journal interface {
	Record(ctx context.Context, ev Event) error
}

// ContextRecorder is the per-user context log.
type ContextRecorder interface {
	Append(userID, line string) error
}

// LastOperation is the most recent append committed by a user.
type LastOperation struct {
	Record      domain.TransactionRecord
	RowIndex    int
	CommittedAt time.Time
}

// Mutator performs ledger writes. Local state (cache, context, last
// operation, journal) changes only after the remote write succeeded.
type Mutator struct {
	store   Store
	cache   *Cache
	context ContextRecorder
	journal Journal
	loc     *time.Location
	now     func() time.Time
	log     zerolog.Logger

	mu   sync.Mutex
	last map[string]LastOperation
}

// MutatorOption configures a Mutator.
type MutatorOption func(*Mutator)

// WithJournal attaches an operation journal.
func WithJournal(j Journal) MutatorOption {
	return func(m *Mutator) { m.journal = j }
}

// WithLocation sets the business timezone used to date new records.
func WithLocation(loc *time.Location) MutatorOption {
	return func(m *Mutator) { m.loc = loc }
}

// WithMutatorClock replaces time.Now.
func WithMutatorClock(now func() time.Time) MutatorOption {
	return func(m *Mutator) { m.now = now }
}

// WithLogger sets the logger for best-effort side effects.
func WithLogger(log zerolog.Logger) MutatorOption {
	return func(m *Mutator) { m.log = log }
}

// NewMutator wires a mutator over store, invalidating cache after every write.
func NewMutator(store Store, cache *Cache, contextStore ContextRecorder, opts ...MutatorOption) *Mutator {
	m := &Mutator{
		store:   store,
		cache:   cache,
		context: contextStore,
		loc:     time.UTC,
		now:     time.Now,
		log:     zerolog.Nop(),
		last:    make(map[string]LastOperation),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Append writes record as a new row and returns the stored record with its
// row index. A zero Date is replaced with today in the business timezone.
func (m *Mutator) Append(ctx context.Context, userID string, record domain.TransactionRecord) (domain.TransactionRecord, error) {
	if record.Date.IsZero() {
		record.Date = domain.Today(m.now(), m.loc)
	}
	if err := record.Validate(); err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("Append: %w", err)
	}

	row, err := m.store.Append(ctx, record.SheetValues())
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("Append: %w", err)
	}
	record.RowIndex = row
	m.cache.Invalidate()

	committedAt := m.now()
	m.mu.Lock()
	m.last[userID] = LastOperation{Record: record, RowIndex: row, CommittedAt: committedAt}
	m.mu.Unlock()

	if err := m.context.Append(userID, record.ContextLine()); err != nil {
		m.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to persist context")
	}
	m.journalEvent(ctx, Event{Action: ActionAppend, UserID: userID, RowIndex: row, Record: record, At: committedAt})
	return record, nil
}

// Edit overwrites row with record. The row is not checked to still hold the
// record the caller had in mind.
func (m *Mutator) Edit(ctx context.Context, userID string, row int, record domain.TransactionRecord) (domain.TransactionRecord, error) {
	if row < 2 {
		return domain.TransactionRecord{}, fmt.Errorf("Edit: row %d is the header or out of range: %w", row, domain.ErrValidation)
	}
	if record.Date.IsZero() {
		record.Date = domain.Today(m.now(), m.loc)
	}
	if err := record.Validate(); err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("Edit: %w", err)
	}

	if err := m.store.Update(ctx, row, record.SheetValues()); err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("Edit: %w", err)
	}
	record.RowIndex = row
	m.cache.Invalidate()

	m.mu.Lock()
	if last, ok := m.last[userID]; ok && last.RowIndex == row {
		last.Record = record
		m.last[userID] = last
	}
	m.mu.Unlock()

	m.journalEvent(ctx, Event{Action: ActionEdit, UserID: userID, RowIndex: row, Record: record, At: m.now()})
	return record, nil
}

// Delete removes exactly one row. Row indexes held elsewhere, including other
// users' last operations, are not renumbered and may go stale.
func (m *Mutator) Delete(ctx context.Context, userID string, row int) error {
	if row < 2 {
		return fmt.Errorf("Delete: row %d is the header or out of range: %w", row, domain.ErrValidation)
	}
	if err := m.store.DeleteRows(ctx, row, row); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	m.cache.Invalidate()

	m.mu.Lock()
	if last, ok := m.last[userID]; ok && last.RowIndex == row {
		delete(m.last, userID)
	}
	m.mu.Unlock()

	m.journalEvent(ctx, Event{Action: ActionDelete, UserID: userID, RowIndex: row, At: m.now()})
	return nil
}

// Clear deletes every row below the header. Callers must have obtained
// explicit confirmation first. It returns the number of rows removed.
func (m *Mutator) Clear(ctx context.Context, userID string) (int, error) {
	rows, err := m.store.Rows(ctx)
	if err != nil {
		return 0, fmt.Errorf("Clear: %w", err)
	}

	lastRow := 1
	for _, r := range rows {
		if r.Index > lastRow {
			lastRow = r.Index
		}
	}
	if lastRow >= 2 {
		if err := m.store.DeleteRows(ctx, 2, lastRow); err != nil {
			return 0, fmt.Errorf("Clear: %w", err)
		}
	}
	m.cache.Invalidate()

	m.mu.Lock()
	m.last = make(map[string]LastOperation)
	m.mu.Unlock()

	m.journalEvent(ctx, Event{Action: ActionClear, UserID: userID, RowIndex: lastRow, At: m.now()})
	return len(rows), nil
}

// LastOperation returns the user's most recent append, if any.
func (m *Mutator) LastOperation(userID string) (LastOperation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.last[userID]
	return last, ok
}

func (m *Mutator) journalEvent(ctx context.Context, ev Event) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Record(ctx, ev); err != nil {
		m.log.Warn().Err(err).
			Str("user_id", ev.UserID).
			Str("action", string(ev.Action)).
			Int("row_index", ev.RowIndex).
			Msg("Failed to journal operation")
	}
}
