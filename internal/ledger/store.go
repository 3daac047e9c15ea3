// Package ledger reads and writes the remote transaction ledger: a
// row-oriented sheet whose first row is the header.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/shopspring/decimal"
)

// Row is one data row as cell strings in header order.
// Index is the 1-based, header-inclusive row number.
type Row struct {
	Index  int
	Values []string
}

// Cell returns column i or "" when the row is short.
func (r Row) Cell(i int) string {
	if i < len(r.Values) {
		return r.Values[i]
	}
	return ""
}

// Store is the remote ledger engine.
type Store interface {
	// EnsureHeader writes domain.SheetHeader into row 1 when it is empty.
	EnsureHeader(ctx context.Context) error
	// Rows returns every data row below the header.
	Rows(ctx context.Context) ([]Row, error)
	// Append adds one row at the bottom and returns its row index.
	Append(ctx context.Context, values []interface{}) (int, error)
	// Update overwrites the six cells of row.
	Update(ctx context.Context, row int, values []interface{}) error
	// DeleteRows removes rows first..last inclusive.
	DeleteRows(ctx context.Context, first, last int) error
}

const (
	colDate = iota
	colOperationType
	colCategory
	colDescription
	colAmount
	colComment
)

// sheetsEpoch is day zero of spreadsheet date serial numbers.
var sheetsEpoch = civil.Date{Year: 1899, Month: time.December, Day: 30}

// RecordFromRow parses a ledger row. Errors wrap domain.ErrData.
func RecordFromRow(row Row) (domain.TransactionRecord, error) {
	date, err := parseDateCell(row.Cell(colDate))
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("RecordFromRow: row %d: %w", row.Index, err)
	}

	amount, err := ParseAmount(row.Cell(colAmount))
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("RecordFromRow: row %d: %w", row.Index, err)
	}

	opType, err := domain.ParseOperationType(row.Cell(colOperationType))
	if err != nil {
		// Hand-edited rows sometimes carry a free-form type; the sign decides.
		opType = domain.Outflow
		if amount.IsPositive() {
			opType = domain.Inflow
		}
	}

	return domain.TransactionRecord{
		Date:          date,
		OperationType: opType,
		Category:      domain.Category(strings.TrimSpace(row.Cell(colCategory))),
		Description:   strings.TrimSpace(row.Cell(colDescription)),
		Amount:        amount,
		Comment:       row.Cell(colComment),
		RowIndex:      row.Index,
	}, nil
}

// ParseAmount reads an amount cell, tolerating spaces and a decimal comma.
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer(" ", "", "\u00a0", "", "₽", "", ",", ".").Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("ParseAmount: empty amount: %w", domain.ErrData)
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ParseAmount: %q: %w", s, domain.ErrData)
	}
	return d, nil
}

func parseDateCell(s string) (civil.Date, error) {
	d, err := domain.ParseDate(s)
	if err == nil {
		return d, nil
	}
	if serial, serr := strconv.ParseFloat(strings.TrimSpace(s), 64); serr == nil && serial > 0 {
		return sheetsEpoch.AddDays(int(serial)), nil
	}
	return civil.Date{}, err
}

func cellString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
