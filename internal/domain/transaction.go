package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DateLayout is how dates are written to and read from the ledger.
const DateLayout = "02.01.2006"

// SheetHeader is the first row of the ledger sheet.
var SheetHeader = []string{
	"Дата",
	"Тип операции",
	"Категория",
	"Описание/Получатель",
	"Сумма",
	"Комментарий",
}

// TransactionRecord is one ledger row.
// RowIndex is 1-based and counts the header row, so the first data row is 2.
// It is only meaningful against the snapshot that produced it.
type TransactionRecord struct {
	Date          civil.Date
	OperationType OperationType
	Category      Category
	Description   string
	Amount        decimal.Decimal
	Comment       string
	RowIndex      int
}

// Validate checks the record against the ledger invariants.
func (r TransactionRecord) Validate() error {
	switch r.OperationType {
	case Inflow:
		if r.Amount.IsNegative() {
			return fmt.Errorf("Validate: inflow amount %s is negative: %w", r.Amount, ErrValidation)
		}
		if r.Category != NoCategory && !r.Category.IsExpense() {
			return fmt.Errorf("Validate: unknown category %q: %w", r.Category, ErrValidation)
		}
	case Outflow:
		if r.Amount.IsPositive() {
			return fmt.Errorf("Validate: outflow amount %s is positive: %w", r.Amount, ErrValidation)
		}
		if !r.Category.IsExpense() {
			return fmt.Errorf("Validate: unknown category %q: %w", r.Category, ErrValidation)
		}
	default:
		return fmt.Errorf("Validate: unknown operation type %q: %w", r.OperationType, ErrValidation)
	}
	if strings.TrimSpace(r.Description) == "" {
		return fmt.Errorf("Validate: description is empty: %w", ErrValidation)
	}
	return nil
}

// SheetValues renders the record as a ledger row in header order.
func (r TransactionRecord) SheetValues() []interface{} {
	return []interface{}{
		FormatDate(r.Date),
		string(r.OperationType),
		string(r.Category),
		r.Description,
		r.Amount.InexactFloat64(),
		r.Comment,
	}
}

// ContextLine is the short summary kept in the per-user context log,
// e.g. "Таня: -30,000 ₽ (Выплаты учредителям)".
func (r TransactionRecord) ContextLine() string {
	return fmt.Sprintf("%s: %s ₽ (%s)", r.Description, FormatAmount(r.Amount), r.Category)
}

var amountPrinter = message.NewPrinter(language.English)

// FormatAmount rounds to whole units and groups thousands with commas.
func FormatAmount(d decimal.Decimal) string {
	return amountPrinter.Sprintf("%d", d.Round(0).IntPart())
}

// CanonicalDescription trims s and upper-cases its first letter.
func CanonicalDescription(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	first, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(first)) + s[size:]
}

// FormatDate renders d in the ledger layout.
func FormatDate(d civil.Date) string {
	return d.In(time.UTC).Format(DateLayout)
}

// ParseDate parses a ledger date cell.
func ParseDate(s string) (civil.Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return civil.Date{}, fmt.Errorf("ParseDate: %q: %w", s, ErrData)
	}
	return civil.DateOf(t), nil
}

// Today returns the calendar date of now in the business timezone.
func Today(now time.Time, loc *time.Location) civil.Date {
	if loc == nil {
		loc = time.UTC
	}
	return civil.DateOf(now.In(loc))
}
