// Package params pulls name, period and category hints out of utterances
// that the router dispatched to a command.
package params

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dvloznov/finance-assistant/internal/router"
	"gopkg.in/yaml.v3"
)

// PeriodKind says how an analytics window was requested.
type PeriodKind int

const (
	// PeriodDefault is the trailing 30-day window.
	PeriodDefault PeriodKind = iota
	PeriodWeek
	PeriodMonth
	PeriodNamedMonth
)

// Period is a requested analytics window. Month is set for PeriodNamedMonth.
type Period struct {
	Kind  PeriodKind
	Month time.Month
}

// String renders the period the way replies mention it.
func (p Period) String() string {
	switch p.Kind {
	case PeriodWeek:
		return "неделя"
	case PeriodMonth:
		return "месяц"
	case PeriodNamedMonth:
		return monthNames[p.Month-1].name
	}
	return "30 дней"
}

// CategoryHint is a coarse category family mentioned in a request.
type CategoryHint string

const (
	HintNone     CategoryHint = ""
	HintSalary   CategoryHint = "salary"
	HintSupplier CategoryHint = "supplier"
	HintPercent  CategoryHint = "percent"
)

// Params is everything extracted from one utterance.
type Params struct {
	Command  router.Command
	Name     string
	Period   Period
	Category CategoryHint
	// Query is the text with the command trigger phrase removed.
	Query string
}

// monthNames is ordered January to December; the first hit wins.
var monthNames = []struct {
	name  string
	forms []string
}{
	{"январь", []string{"январ"}},
	{"февраль", []string{"феврал"}},
	{"март", []string{"март"}},
	{"апрель", []string{"апрел"}},
	{"май", []string{"май", "мая", "мае"}},
	{"июнь", []string{"июн"}},
	{"июль", []string{"июл"}},
	{"август", []string{"август"}},
	{"сентябрь", []string{"сентябр"}},
	{"октябрь", []string{"октябр"}},
	{"ноябрь", []string{"ноябр"}},
	{"декабрь", []string{"декабр"}},
}

var defaultNames = map[string]string{
	"интигаму": "Интигам", "интигама": "Интигам", "интигам": "Интигам",
	"балтики": "Балтика", "балтике": "Балтика", "балтику": "Балтика", "балтика": "Балтика",
	"петрову": "Петров", "петрова": "Петров", "петров": "Петров",
	"рустаму": "Рустам", "рустама": "Рустам", "рустам": "Рустам",
}

var (
	capitalizedWord = regexp.MustCompile(`[А-ЯЁ][а-яё]+`)
	twoLetterEnding = []string{"ом", "ым"}
	oneLetterEnding = []string{"у", "а", "е"}
)

// Extractor holds the name dictionary. It is safe for concurrent use.
type Extractor struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewExtractor returns an extractor seeded with the built-in name forms.
func NewExtractor() *Extractor {
	names := make(map[string]string, len(defaultNames))
	for form, base := range defaultNames {
		names[form] = base
	}
	return &Extractor{names: names}
}

// LoadNames merges a YAML mapping of inflected form to base form into the
// dictionary. Later entries override built-in ones.
func (e *Extractor) LoadNames(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("LoadNames: reading %s: %w", path, err)
	}
	var extra map[string]string
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return fmt.Errorf("LoadNames: parsing %s: %w", path, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for form, base := range extra {
		e.names[strings.ToLower(strings.TrimSpace(form))] = strings.TrimSpace(base)
	}
	return nil
}

// Extract derives hints from text for the given command.
func (e *Extractor) Extract(text string, cmd router.Command) Params {
	lower := strings.ToLower(text)
	return Params{
		Command:  cmd,
		Name:     e.extractName(text),
		Period:   extractPeriod(lower),
		Category: extractCategory(lower),
		Query:    stripTrigger(text, cmd),
	}
}

// NormalizeName maps an inflected name to its base form: dictionary first,
// then ending stripping. Best effort only.
func (e *Extractor) NormalizeName(token string) string {
	lower := strings.ToLower(strings.TrimSpace(token))
	if lower == "" {
		return ""
	}

	e.mu.RLock()
	base, ok := e.names[lower]
	e.mu.RUnlock()
	if ok {
		return base
	}

	stem := lower
	stripped := false
	for _, ending := range twoLetterEnding {
		if strings.HasSuffix(lower, ending) {
			stem = strings.TrimSuffix(lower, ending)
			stripped = true
			break
		}
	}
	if !stripped {
		for _, ending := range oneLetterEnding {
			if strings.HasSuffix(lower, ending) {
				stem = strings.TrimSuffix(lower, ending)
				break
			}
		}
	}
	if utf8.RuneCountInString(stem) < 3 {
		stem = lower
	}
	return capitalize(stem)
}

// extractName takes the first capitalized word, skipping a sentence-initial
// one when later candidates exist ("Найди Петрова"), and joins an immediately
// following capitalized word as a surname.
func (e *Extractor) extractName(text string) string {
	locs := capitalizedWord.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return ""
	}
	if len(locs) > 1 && strings.TrimSpace(text[:locs[0][0]]) == "" {
		locs = locs[1:]
	}

	first := locs[0]
	name := e.NormalizeName(text[first[0]:first[1]])
	if len(locs) > 1 {
		next := locs[1]
		if strings.TrimSpace(text[first[1]:next[0]]) == "" {
			name += " " + e.NormalizeName(text[next[0]:next[1]])
		}
	}
	return name
}

func extractPeriod(lower string) Period {
	if strings.Contains(lower, "неделя") || strings.Contains(lower, "неделю") {
		return Period{Kind: PeriodWeek}
	}
	if strings.Contains(lower, "месяц") {
		return Period{Kind: PeriodMonth}
	}
	for i, month := range monthNames {
		for _, form := range month.forms {
			if strings.Contains(lower, form) {
				return Period{Kind: PeriodNamedMonth, Month: time.Month(i + 1)}
			}
		}
	}
	return Period{Kind: PeriodDefault}
}

// ParsePeriod reads an explicit period argument such as "/analytics неделя".
func ParsePeriod(arg string) Period {
	return extractPeriod(strings.ToLower(arg))
}

func extractCategory(lower string) CategoryHint {
	switch {
	case strings.Contains(lower, "зарплат"):
		return HintSalary
	case strings.Contains(lower, "поставщик"):
		return HintSupplier
	case strings.Contains(lower, "процент"):
		return HintPercent
	}
	return HintNone
}

// stripTrigger removes the first trigger phrase of cmd from text.
func stripTrigger(text string, cmd router.Command) string {
	lower := strings.ToLower(text)
	if len(lower) != len(text) {
		text = lower
	}
	for _, route := range router.Routes {
		if route.Command != cmd {
			continue
		}
		for _, phrase := range route.Phrases {
			if idx := strings.Index(lower, phrase); idx >= 0 {
				return strings.TrimSpace(text[:idx] + text[idx+len(phrase):])
			}
		}
	}
	return strings.TrimSpace(text)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return strings.ToUpper(string(r)) + s[size:]
}
