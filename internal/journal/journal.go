// Package journal records committed ledger mutations in BigQuery.
package journal

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-assistant/internal/domain"
	infra "github.com/dvloznov/finance-assistant/internal/infra/bigquery"
	"github.com/dvloznov/finance-assistant/internal/ledger"
	"github.com/google/uuid"
)

// Inserter is the write side of infra.OperationRepository.
type Inserter interface {
	InsertOperations(ctx context.Context, rows []*infra.OperationRow) error
}

// BigQueryJournal implements ledger.Journal.
type BigQueryJournal struct {
	repo  Inserter
	newID func() string
}

// New creates a journal writing through repo.
func New(repo Inserter) *BigQueryJournal {
	return &BigQueryJournal{repo: repo, newID: uuid.NewString}
}

// Record implements ledger.Journal.
func (j *BigQueryJournal) Record(ctx context.Context, ev ledger.Event) error {
	row := RowFromEvent(ev, j.newID())
	if err := j.repo.InsertOperations(ctx, []*infra.OperationRow{row}); err != nil {
		return fmt.Errorf("Record: %w: %w", domain.ErrExternalService, err)
	}
	return nil
}

// RowFromEvent converts ev into a journal row. Record fields are only
// filled for appends and edits.
func RowFromEvent(ev ledger.Event, eventID string) *infra.OperationRow {
	row := &infra.OperationRow{
		EventID:   eventID,
		UserID:    ev.UserID,
		Action:    string(ev.Action),
		RowIndex:  int64(ev.RowIndex),
		CreatedTS: ev.At,
	}
	if ev.Action != ledger.ActionAppend && ev.Action != ledger.ActionEdit {
		return row
	}

	rec := ev.Record
	row.OperationDate = bigquery.NullDate{Date: rec.Date, Valid: !rec.Date.IsZero()}
	row.OperationType = nullString(string(rec.OperationType))
	row.Category = nullString(string(rec.Category))
	row.Description = nullString(rec.Description)
	row.Comment = nullString(rec.Comment)
	row.Amount = rec.Amount.Rat()
	return row
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

// Noop discards every event.
type Noop struct{}

// Record implements ledger.Journal.
func (Noop) Record(context.Context, ledger.Event) error { return nil }

var (
	_ ledger.Journal = (*BigQueryJournal)(nil)
	_ ledger.Journal = Noop{}
)
