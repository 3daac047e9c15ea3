// Package router maps utterances to canned analytics and utility commands
// before any model call is made.
package router

import (
	"regexp"
	"strings"
)

// Command names a router-dispatched action.
type Command string

const (
	CommandRecipients Command = "recipients"
	CommandSuppliers  Command = "suppliers"
	CommandCategories Command = "categories"
	CommandAnalytics  Command = "analytics"
	CommandSearch     Command = "search"
	CommandHistory    Command = "history"
	CommandBackup     Command = "backup"
)

// Route pairs a command with the phrases that trigger it.
type Route struct {
	Command Command
	Phrases []string
}

// Routes is evaluated top to bottom and the first matching row wins, so the
// most specific commands come first.
var Routes = []Route{
	{CommandRecipients, []string{"кому платили", "анализ получателей", "по получателям", "кому больше", "топ получателей"}},
	{CommandSuppliers, []string{"анализ поставщика", "по поставщику", "история с", "поставщик"}},
	{CommandCategories, []string{"по категориям", "категории", "расходы по"}},
	{CommandAnalytics, []string{"анализ", "аналитика", "отчет", "отчёт", "покажи траты", "сколько потратили"}},
	{CommandSearch, []string{"найди", "найти", "поиск", "покажи операции", "когда платили"}},
	{CommandHistory, []string{"история", "последние операции", "что было"}},
	{CommandBackup, []string{"бэкап", "резервная копия", "сохрани", "backup"}},
}

var (
	amountPattern = regexp.MustCompile(`\d{3,}`)

	// Digits that belong to a search threshold, with optional thousands groups.
	thresholdPattern = regexp.MustCompile(`[<>]\s*\d+(?:[ \x{00a0}]\d{3})*`)
	// 12.2024 and 01.12.2024.
	datePattern = regexp.MustCompile(`\d{1,2}\.(?:\d{1,2}\.)?(?:19|20)\d{2}`)
	// "декабрь 2024", "в мае 2023 г."
	monthYearPattern = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:январ|феврал|март|апрел|ма[йяе]|июн|июл|август|сентябр|октябр|ноябр|декабр)\p{L}*\s+(?:19|20)\d{2}`)
	// "за 2024 год", "2023 г."
	yearWordPattern = regexp.MustCompile(`(?i)(?:19|20)\d{2}\s*(?:год|г\.)`)
)

// Match returns the first command whose phrase occurs in text.
// Text carrying a money amount is finance input and never matches, so that
// "оплата поставщику Шамилю 10000" reaches the classifier.
func Match(text string) (Command, bool) {
	if HasAmount(text) {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, route := range Routes {
		for _, phrase := range route.Phrases {
			if strings.Contains(lower, phrase) {
				return route.Command, true
			}
		}
	}
	return "", false
}

// HasAmount reports whether text contains a run of three or more digits
// that is not a search threshold ("найди > 50 000"), a date ("12.2024") or
// a year next to a month or year word ("декабрь 2024", "2024 год").
func HasAmount(text string) bool {
	for _, p := range []*regexp.Regexp{thresholdPattern, datePattern, monthYearPattern, yearWordPattern} {
		text = p.ReplaceAllString(text, " ")
	}
	return amountPattern.MatchString(text)
}
