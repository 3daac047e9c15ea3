package journal

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-assistant/internal/domain"
	infra "github.com/dvloznov/finance-assistant/internal/infra/bigquery"
	"github.com/dvloznov/finance-assistant/internal/ledger"
	"github.com/shopspring/decimal"
)

// MockInserter is a mock implementation of Inserter.
type MockInserter struct {
	InsertOperationsFunc func(ctx context.Context, rows []*infra.OperationRow) error
	rows                 []*infra.OperationRow
}

func (m *MockInserter) InsertOperations(ctx context.Context, rows []*infra.OperationRow) error {
	m.rows = append(m.rows, rows...)
	if m.InsertOperationsFunc != nil {
		return m.InsertOperationsFunc(ctx, rows)
	}
	return nil
}

var at = time.Date(2025, time.March, 15, 9, 0, 0, 0, time.UTC)

func appendEvent() ledger.Event {
	return ledger.Event{
		Action:   ledger.ActionAppend,
		UserID:   "@anna:example.org",
		RowIndex: 12,
		At:       at,
		Record: domain.TransactionRecord{
			Date:          civil.Date{Year: 2025, Month: time.March, Day: 15},
			OperationType: domain.Outflow,
			Category:      domain.CategoryFounders,
			Description:   "Таня",
			Amount:        decimal.NewFromFloat(-30000.5),
		},
	}
}

func TestRowFromEvent_Append(t *testing.T) {
	row := RowFromEvent(appendEvent(), "evt-1")

	if row.EventID != "evt-1" || row.Action != "append" || row.RowIndex != 12 {
		t.Errorf("row = %+v", row)
	}
	if !row.OperationDate.Valid || row.OperationDate.Date.Day != 15 {
		t.Errorf("OperationDate = %+v", row.OperationDate)
	}
	if row.Category.StringVal != "Выплаты учредителям" || !row.Category.Valid {
		t.Errorf("Category = %+v", row.Category)
	}
	if row.Comment.Valid {
		t.Error("empty comment must be NULL")
	}
	if row.Amount == nil || row.Amount.Cmp(big.NewRat(-60001, 2)) != 0 {
		t.Errorf("Amount = %v", row.Amount)
	}
	if !row.CreatedTS.Equal(at) {
		t.Errorf("CreatedTS = %v", row.CreatedTS)
	}
}

func TestRowFromEvent_DeleteHasNoRecord(t *testing.T) {
	ev := ledger.Event{Action: ledger.ActionDelete, UserID: "u", RowIndex: 5, At: at}

	row := RowFromEvent(ev, "evt-2")

	if row.Amount != nil || row.OperationDate.Valid || row.Description.Valid {
		t.Errorf("row = %+v, want no record fields", row)
	}
	if row.Action != "delete" || row.RowIndex != 5 {
		t.Errorf("row = %+v", row)
	}
}

func TestBigQueryJournal_Record(t *testing.T) {
	repo := &MockInserter{}
	j := New(repo)

	if err := j.Record(context.Background(), appendEvent()); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if err := j.Record(context.Background(), appendEvent()); err != nil {
		t.Fatal(err)
	}

	if len(repo.rows) != 2 {
		t.Fatalf("rows = %d", len(repo.rows))
	}
	if repo.rows[0].EventID == "" || repo.rows[0].EventID == repo.rows[1].EventID {
		t.Errorf("event ids must be unique, got %q and %q", repo.rows[0].EventID, repo.rows[1].EventID)
	}
}

func TestBigQueryJournal_RecordError(t *testing.T) {
	repo := &MockInserter{InsertOperationsFunc: func(ctx context.Context, rows []*infra.OperationRow) error {
		return errors.New("quota")
	}}

	err := New(repo).Record(context.Background(), appendEvent())
	if !errors.Is(err, domain.ErrExternalService) {
		t.Errorf("Record() error = %v, want ErrExternalService", err)
	}
}
