package ledger

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dvloznov/finance-assistant/internal/domain"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var updatedRowPattern = regexp.MustCompile(`![A-Z]+(\d+)`)

// SheetsStore is the Google Sheets implementation of Store.
type SheetsStore struct {
	srv           *sheets.Service
	spreadsheetID string
	sheetName     string
}

// NewSheetsStore connects with a service-account credentials file.
func NewSheetsStore(ctx context.Context, spreadsheetID, sheetName, credentialsFile string) (*SheetsStore, error) {
	srv, err := sheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("NewSheetsStore: creating service: %w: %w", domain.ErrExternalService, err)
	}
	return NewSheetsStoreWithService(srv, spreadsheetID, sheetName), nil
}

// NewSheetsStoreWithService wraps an existing service.
func NewSheetsStoreWithService(srv *sheets.Service, spreadsheetID, sheetName string) *SheetsStore {
	return &SheetsStore{
		srv:           srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}
}

// a1 prefixes a cell range with the quoted sheet name.
func (s *SheetsStore) a1(cells string) string {
	return "'" + strings.ReplaceAll(s.sheetName, "'", "''") + "'!" + cells
}

// EnsureHeader implements Store.
func (s *SheetsStore) EnsureHeader(ctx context.Context) error {
	resp, err := s.srv.Spreadsheets.Values.Get(s.spreadsheetID, s.a1("A1:F1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("EnsureHeader: reading header: %w: %w", domain.ErrExternalService, err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	header := make([]interface{}, len(domain.SheetHeader))
	for i, h := range domain.SheetHeader {
		header[i] = h
	}
	vr := &sheets.ValueRange{Values: [][]interface{}{header}}
	if _, err := s.srv.Spreadsheets.Values.Update(s.spreadsheetID, s.a1("A1:F1"), vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("EnsureHeader: writing header: %w: %w", domain.ErrExternalService, err)
	}
	return nil
}

// Rows implements Store. Blank rows keep their position but are skipped.
func (s *SheetsStore) Rows(ctx context.Context) ([]Row, error) {
	resp, err := s.srv.Spreadsheets.Values.Get(s.spreadsheetID, s.a1("A2:F")).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("FORMATTED_STRING").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("Rows: reading values: %w: %w", domain.ErrExternalService, err)
	}

	rows := make([]Row, 0, len(resp.Values))
	for i, raw := range resp.Values {
		if len(raw) == 0 {
			continue
		}
		values := make([]string, len(raw))
		for j, v := range raw {
			values[j] = cellString(v)
		}
		rows = append(rows, Row{Index: i + 2, Values: values})
	}
	return rows, nil
}

// Append implements Store.
func (s *SheetsStore) Append(ctx context.Context, values []interface{}) (int, error) {
	vr := &sheets.ValueRange{Values: [][]interface{}{values}}
	resp, err := s.srv.Spreadsheets.Values.Append(s.spreadsheetID, s.a1("A:F"), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("Append: appending row: %w: %w", domain.ErrExternalService, err)
	}
	if resp.Updates == nil {
		return 0, fmt.Errorf("Append: response has no updated range: %w", domain.ErrExternalService)
	}
	return RowFromRange(resp.Updates.UpdatedRange)
}

// Update implements Store.
func (s *SheetsStore) Update(ctx context.Context, row int, values []interface{}) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{values}}
	cells := fmt.Sprintf("A%d:F%d", row, row)
	if _, err := s.srv.Spreadsheets.Values.Update(s.spreadsheetID, s.a1(cells), vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("Update: writing row %d: %w: %w", row, domain.ErrExternalService, err)
	}
	return nil
}

// DeleteRows implements Store.
func (s *SheetsStore) DeleteRows(ctx context.Context, first, last int) error {
	if first < 2 || last < first {
		return fmt.Errorf("DeleteRows: invalid range %d..%d: %w", first, last, domain.ErrValidation)
	}
	sheetID, err := s.sheetID(ctx)
	if err != nil {
		return err
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:         sheetID,
					Dimension:       "ROWS",
					StartIndex:      int64(first - 1),
					EndIndex:        int64(last),
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
			},
		}},
	}
	if _, err := s.srv.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("DeleteRows: deleting %d..%d: %w: %w", first, last, domain.ErrExternalService, err)
	}
	return nil
}

func (s *SheetsStore) sheetID(ctx context.Context) (int64, error) {
	ss, err := s.srv.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("sheetID: reading spreadsheet: %w: %w", domain.ErrExternalService, err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == s.sheetName {
			return sh.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("sheetID: sheet %q not found: %w", s.sheetName, domain.ErrConfiguration)
}

// RowFromRange extracts the first row number of an A1 range such as
// "Sheet1!A12:F12" or "'My Sheet'!A12:F12".
func RowFromRange(a1 string) (int, error) {
	m := updatedRowPattern.FindStringSubmatch(a1)
	if m == nil {
		return 0, fmt.Errorf("RowFromRange: unexpected range %q: %w", a1, domain.ErrExternalService)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("RowFromRange: %q: %w", a1, domain.ErrExternalService)
	}
	return n, nil
}

var _ Store = (*SheetsStore)(nil)
