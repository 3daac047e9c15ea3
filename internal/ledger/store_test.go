package ledger_test

import (
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/ledger"
)

func TestRecordFromRow(t *testing.T) {
	tests := []struct {
		name    string
		row     ledger.Row
		wantErr bool
		check   func(t *testing.T, r domain.TransactionRecord)
	}{
		{
			name: "regular outflow",
			row:  ledger.Row{Index: 5, Values: []string{"15.03.2025", "Расход", "Такси", "Яндекс", "-450", ""}},
			check: func(t *testing.T, r domain.TransactionRecord) {
				if r.OperationType != domain.Outflow || r.RowIndex != 5 || r.Amount.IntPart() != -450 {
					t.Errorf("record = %+v", r)
				}
			},
		},
		{
			name: "serial date and short row",
			row:  ledger.Row{Index: 2, Values: []string{"45731", "Пополнение", "-", "Касса", "1000"}},
			check: func(t *testing.T, r domain.TransactionRecord) {
				want := civil.Date{Year: 2025, Month: time.March, Day: 15}
				if r.Date != want {
					t.Errorf("Date = %v, want %v", r.Date, want)
				}
				if r.Comment != "" {
					t.Errorf("Comment = %q", r.Comment)
				}
			},
		},
		{
			name: "unknown type falls back to sign",
			row:  ledger.Row{Index: 3, Values: []string{"01.03.2025", "приход", "-", "Возврат", "250,5", ""}},
			check: func(t *testing.T, r domain.TransactionRecord) {
				if r.OperationType != domain.Inflow || r.Amount.String() != "250.5" {
					t.Errorf("record = %+v", r)
				}
			},
		},
		{
			name:    "bad date",
			row:     ledger.Row{Index: 4, Values: []string{"вчера", "Расход", "Такси", "Такси", "-1", ""}},
			wantErr: true,
		},
		{
			name:    "bad amount",
			row:     ledger.Row{Index: 4, Values: []string{"01.03.2025", "Расход", "Такси", "Такси", "много", ""}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ledger.RecordFromRow(tt.row)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrData) {
					t.Errorf("error = %v, want ErrData", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, r)
		})
	}
}

func TestRowFromRange(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"Sheet1!A12:F12", 12, false},
		{"'Мой лист'!A2:F2", 2, false},
		{"garbage", 0, true},
	}
	for _, tt := range tests {
		got, err := ledger.RowFromRange(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("RowFromRange(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("RowFromRange(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := map[string]string{
		"-30000":     "-30000",
		"1 500,75":   "1500.75",
		"2 000 ₽":    "2000",
		" -100": "-100",
	}
	for in, want := range tests {
		got, err := ledger.ParseAmount(in)
		if err != nil {
			t.Errorf("ParseAmount(%q) error: %v", in, err)
			continue
		}
		if got.String() != want {
			t.Errorf("ParseAmount(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ledger.ParseAmount(""); !errors.Is(err, domain.ErrData) {
		t.Errorf("ParseAmount(\"\") error = %v", err)
	}
}
