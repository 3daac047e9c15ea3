package bot

import (
	"fmt"
	"strings"

	"github.com/dvloznov/finance-assistant/internal/analytics"
	"github.com/dvloznov/finance-assistant/internal/backup"
	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/intent"
)

// User-facing messages. Failures never leak details; those go to the log.
const (
	MessageAccessDenied   = "❌ Доступ запрещён."
	MessageCommitFailed   = "❌ Ошибка при записи в таблицу финансов."
	MessageVoiceFailed    = "❌ Ошибка при обработке голосового сообщения."
	MessageVoiceDisabled  = "❌ Голосовые сообщения не поддерживаются."
	MessageGenericFailure = "❌ Произошла ошибка. Попробуйте позже."
	MessageCancelled      = "❌ Операция отменена."
	MessageTableCleared   = "🗑️ Таблица полностью очищена!"
	MessageClearFailed    = "❌ Ошибка очистки."
	MessageClearWarning   = "⚠️ **Внимание!** Это удалит ВСЕ записи из таблицы (кроме заголовков).\n\nПодтвердите? Ответьте «да» или «нет»."
	MessageDeletedLast    = "🗑️ Последняя операция удалена."
	MessageNoLast         = "❌ Нет вашей последней операции в этой сессии."
	MessageDeleteFailed   = "❌ Ошибка удаления."
	MessageEditFailed     = "❌ Ошибка при изменении операции."
	MessageEditHelp       = "✏️ Редактирование последней операции: укажите изменения после команды, например `/edit_last сумма 50000` или `/edit_last дал Тане 35000`."
	MessageBackupFailed   = "❌ Ошибка при создании резервной копии."
	MessageAnalysisFailed = "❌ Ошибка анализа."
	MessageSearchFailed   = "❌ Ошибка при поиске операций."
	MessageHistoryFailed  = "❌ Ошибка при получении истории."
	MessageNothingPending = "❓ Нет операции, ожидающей подтверждения."
	MessageUnknownCommand = "⚠️ Неизвестная команда. Список команд: /help"
)

const welcomeText = `💰 **Умный финансовый помощник с ИИ!**

🎤 **Голосовое управление**

💸 **Записывайте операции:**
• "Дал Петрову 40000 за работу"
• "Таня лично 30000"
• "Оплатил поставщику Интигаму 300000"
• "Рынок Тула 5000 за товары"
• "Рынок Москва 10000"

🗣️ **Спрашивайте:**
• "Покажи траты за неделю"
• "Найди все операции с Петровым"
• "Анализ по категориям за месяц"
• "Когда платили Интигаму"

🏭 **13 категорий:**
• Зарплаты, Учредители, Поставщики
• Процент, Закупка товара, Материалы
• Транспорт, Связь, Такси, Общественные, Благотворительность
• Закупка Тула, Закупка Москва

**Говорите естественно, бот всё поймет!** Команды: /help`

const helpText = `📖 **Команды:**
/start - приветствие
/analytics [период] - аналитика (неделя, месяц, январь...)
/search [запрос] - поиск операций
/history - контекст и последние операции
/backup - резервная копия
/delete_last - удалить вашу последнюю операцию
/edit_last <текст> - изменить вашу последнюю операцию
/clear_table - очистить таблицу (с подтверждением)
/help - эта справка`

const searchHelpText = `🔍 **Супер-поиск операций:**

**По имени/компании:**
• ` + "`/search Петров`" + ` - все операции с Петровым
• ` + "`/search Интигам`" + ` - все операции с Интигамом

**По категории:**
• ` + "`/search зарплаты`" + ` - все зарплаты
• ` + "`/search поставщик`" + ` - все оплаты поставщикам

**По периоду:**
• ` + "`/search 12.2024`" + ` - операции за декабрь 2024

**По сумме:**
• ` + "`/search >50000`" + ` - операции больше 50к
• ` + "`/search <10000`" + ` - операции меньше 10к`

func directionEmoji(rec domain.TransactionRecord) string {
	if rec.Amount.IsPositive() {
		return "📈"
	}
	return "📉"
}

func renderConfirmation(c intent.FinanceCandidate, source string) string {
	var b strings.Builder
	b.WriteString("❓ **Проверьте правильность:**\n\n")
	if source != "" {
		b.WriteString(source + "\n")
	}
	fmt.Fprintf(&b, "🔄 Тип: %s\n", c.OperationType)
	fmt.Fprintf(&b, "📂 Категория: %s\n", c.Category)
	fmt.Fprintf(&b, "📝 Описание: %s\n", c.Description)
	fmt.Fprintf(&b, "💰 Сумма: %s ₽\n\n", domain.FormatAmount(c.Amount))
	b.WriteString("✅ Записать? Ответьте «да» или «нет», или уточните что не так.")
	return b.String()
}

func renderCommitted(title string, rec domain.TransactionRecord, source string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s **%s:**\n\n", directionEmoji(rec), title)
	if source != "" {
		b.WriteString(source + "\n")
	}
	fmt.Fprintf(&b, "📅 Дата: %s\n", domain.FormatDate(rec.Date))
	fmt.Fprintf(&b, "🔄 Тип: %s\n", rec.OperationType)
	fmt.Fprintf(&b, "📂 Категория: %s\n", rec.Category)
	fmt.Fprintf(&b, "📝 Описание: %s\n", rec.Description)
	fmt.Fprintf(&b, "💰 Сумма: %s ₽\n\n", domain.FormatAmount(rec.Amount))
	b.WriteString("✅ **Записано в Google Таблицу!**")
	return b.String()
}

func renderClarification(c intent.Clarification) string {
	msg := c.Message
	if msg == "" {
		msg = "Не понял ваше сообщение."
	}
	out := "❓ " + msg
	if len(c.Suggestions) == 0 {
		return out
	}
	out += "\n\n💡 **Возможно, вы имели в виду:**\n"
	for i, s := range c.Suggestions {
		if i == intent.MaxSuggestions {
			break
		}
		out += fmt.Sprintf("%d. %s\n", i+1, s)
	}
	return strings.TrimRight(out, "\n")
}

// renderHistory shows the newest context lines first, then the latest ledger rows.
func renderHistory(contextLines []string, latest []domain.TransactionRecord) string {
	var b strings.Builder
	if len(contextLines) > 0 {
		b.WriteString("🧠 **Контекст последних операций:**\n\n")
		if len(contextLines) > intent.MaxPromptContext {
			contextLines = contextLines[len(contextLines)-intent.MaxPromptContext:]
		}
		for i := range contextLines {
			fmt.Fprintf(&b, "%d. %s\n", i+1, contextLines[len(contextLines)-1-i])
		}
	} else {
		b.WriteString("📊 **Контекст пуст**, начните добавлять операции!\n")
	}

	if len(latest) > 0 {
		b.WriteString("\n💰 **Последние финансовые операции:**\n")
		for _, r := range latest {
			fmt.Fprintf(&b, "%s %s: %s ₽\n", directionEmoji(r), r.Description, domain.FormatAmount(r.Amount))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderSummary(s analytics.Summary) string {
	if s.Count == 0 {
		return fmt.Sprintf("📊 Нет данных за указанный период (%s).", s.Window.Label)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 **Умная аналитика за период %s**\n\n", s.Window.Label)
	b.WriteString("💰 **Общие итоги:**\n")
	fmt.Fprintf(&b, "📈 Доходы: +%s ₽\n", domain.FormatAmount(s.Inflow))
	fmt.Fprintf(&b, "📉 Расходы: %s ₽\n", domain.FormatAmount(s.Outflow))
	fmt.Fprintf(&b, "💼 Чистый результат: %s ₽\n", domain.FormatAmount(s.Net))
	fmt.Fprintf(&b, "📊 Операций: %d\n", s.Count)

	b.WriteString("\n💸 **Расходы по категориям:**\n")
	for _, c := range s.Categories {
		fmt.Fprintf(&b, "• %s: %s ₽ (%.1f%%)\n", c.Category, domain.FormatAmount(c.Amount), c.Percent)
	}

	if len(s.Salaries) > 0 {
		b.WriteString("\n👥 **Зарплаты сотрудникам:**\n")
		for _, p := range s.Salaries {
			fmt.Fprintf(&b, "• %s: %s ₽\n", p.Name, domain.FormatAmount(p.Amount))
		}
	}

	fmt.Fprintf(&b, "\n📈 **Средние траты в день:** %s ₽", domain.FormatAmount(s.AvgDaily))
	if s.TopCategory != "" {
		fmt.Fprintf(&b, "\n🔝 **Больше всего тратите на:** %s", s.TopCategory)
	}
	return b.String()
}

func renderSearch(res analytics.SearchResult) string {
	if res.Total == 0 {
		return fmt.Sprintf("❌ По запросу '%s' ничего не найдено.", res.Query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔍 **Найдено: %d операций**\n\n", res.Total)
	for _, r := range res.Records {
		fmt.Fprintf(&b, "%s %s: %s - %s ₽\n", directionEmoji(r), domain.FormatDate(r.Date), r.Description, domain.FormatAmount(r.Amount))
	}
	if hidden := res.Total - len(res.Records); hidden > 0 {
		fmt.Fprintf(&b, "\n... и ещё %d операций", hidden)
	}
	fmt.Fprintf(&b, "\n\n📊 **Общая сумма:** %s ₽", domain.FormatAmount(res.Sum))
	return b.String()
}

func renderNamedTotals(title, empty string, totals []analytics.NamedTotal) string {
	if len(totals) == 0 {
		return empty
	}
	var b strings.Builder
	b.WriteString(title + "\n")
	for _, t := range totals {
		fmt.Fprintf(&b, "• %s: %s ₽\n", t.Name, domain.FormatAmount(t.Amount))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderCategories(totals []analytics.CategoryTotal) string {
	if len(totals) == 0 {
		return "📂 Нет данных о категориях."
	}
	var b strings.Builder
	b.WriteString("📂 **Расходы по категориям:**\n")
	for _, c := range totals {
		fmt.Fprintf(&b, "• %s: %s ₽ (%.1f%%)\n", c.Category, domain.FormatAmount(c.Amount), c.Percent)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderBackupCaption(b backup.Backup, stored []string) string {
	caption := fmt.Sprintf("💾 **Резервная копия создана!**\n\n📊 Записей: %d\n📅 Дата: %s",
		b.Document.RecordCount, b.Document.Created)
	for _, loc := range stored {
		caption += "\n📁 " + loc
	}
	return caption
}
