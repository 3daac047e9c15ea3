package bot

import (
	"context"
	"regexp"
	"strings"

	"github.com/dvloznov/finance-assistant/internal/ledger"
	"github.com/dvloznov/finance-assistant/internal/logger"
	"github.com/dvloznov/finance-assistant/internal/params"
	"github.com/shopspring/decimal"
)

type answer int

const (
	answerNone answer = iota
	answerYes
	answerNo
)

// confirmation classifies a reply to a confirmation prompt.
func confirmation(text string) answer {
	switch strings.Trim(strings.ToLower(strings.TrimSpace(text)), ".!") {
	case "да", "yes", "/yes", "ок", "ok":
		return answerYes
	case "нет", "no", "/no", "отмена":
		return answerNo
	}
	return answerNone
}

// clearConfirmed reports whether text explicitly confirms /clear_table.
// Casual acknowledgements such as "ок" do not.
func clearConfirmed(text string) bool {
	switch strings.Trim(strings.ToLower(strings.TrimSpace(text)), ".!") {
	case "да", "yes", "/yes":
		return true
	}
	return false
}

var amountEditPattern = regexp.MustCompile(`^(?i)сумм[аиуы]?\s*:?\s*(-?[\d\s]+(?:[.,]\d+)?)\s*(?:₽|руб\.?|р\.?)?$`)

// amountEdit recognizes "сумма 50000" style edits.
func amountEdit(text string) (decimal.Decimal, bool) {
	m := amountEditPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return decimal.Zero, false
	}
	d, err := ledger.ParseAmount(m[1])
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// splitCommand separates "/search@bot Петров" into "search" and "Петров".
func splitCommand(text string) (string, string) {
	name, args, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name), strings.TrimSpace(args)
}

func (s *Service) handleCommand(ctx context.Context, userID, text string) Reply {
	name, args := splitCommand(text)
	log := logger.FromContext(ctx)
	log.Info().Str("command", name).Msg("Slash command")

	// Confirmations may also arrive as /yes and /no.
	if name == "yes" || name == "no" {
		if !s.clearArmed(userID) {
			if _, ok := s.resolver.Pending(userID); !ok {
				return Reply{Text: MessageNothingPending}
			}
		}
		return s.handleUtterance(ctx, userID, "/"+name, "")
	}
	s.takeClear(userID)

	switch name {
	case "start":
		return Reply{Text: welcomeText}
	case "help":
		return Reply{Text: helpText}
	case "search":
		return s.Search(ctx, userID, args)
	case "history":
		return s.History(ctx, userID)
	case "analytics":
		return s.Analytics(ctx, userID, params.ParsePeriod(args))
	case "backup":
		return s.Backup(ctx, userID)
	case "clear_table":
		return s.RequestClear(userID)
	case "delete_last":
		return s.DeleteLast(ctx, userID)
	case "edit_last":
		return s.EditLast(ctx, userID, args)
	}
	return Reply{Text: MessageUnknownCommand}
}
