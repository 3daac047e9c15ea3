package analytics

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-assistant/internal/params"
)

// Window is a resolved reporting interval. A record belongs to the window
// when its date, taken as midnight in the business timezone, is not before
// Start and its calendar date is not after End's.
type Window struct {
	Start time.Time
	End   time.Time
	Label string
}

// Days is the whole number of days the window spans, at least 1.
func (w Window) Days() int {
	d := int(w.End.Sub(w.Start).Hours() / 24)
	if d < 1 {
		return 1
	}
	return d
}

// Contains reports whether date falls inside the window.
func (w Window) Contains(date civil.Date) bool {
	t := date.In(w.Start.Location())
	if t.Before(w.Start) {
		return false
	}
	return !date.After(civil.DateOf(w.End))
}

// ResolvePeriod turns a requested period into a window ending at now.
// A named month starts on the 1st of that month of the current year.
func ResolvePeriod(p params.Period, now time.Time) Window {
	w := Window{End: now, Label: p.String()}
	switch p.Kind {
	case params.PeriodWeek:
		w.Start = now.AddDate(0, 0, -7)
	case params.PeriodNamedMonth:
		w.Start = time.Date(now.Year(), p.Month, 1, 0, 0, 0, 0, now.Location())
	default:
		w.Start = now.AddDate(0, 0, -30)
	}
	return w
}
