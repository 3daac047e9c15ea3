package intent

import (
	"fmt"
	"strings"

	"github.com/dvloznov/finance-assistant/internal/domain"
)

// MaxPromptContext is how many recent context lines go into a prompt.
const MaxPromptContext = 5

const systemPrompt = "Ты эксперт по анализу финансовых операций. Точность критически важна. " +
	"При сомнениях используй контекст и выбирай наиболее подходящий вариант. " +
	"Отвечай только JSON-объектом без Markdown."

// BuildPrompt renders the classification prompt for text with the tail of
// the user's recent operations.
func BuildPrompt(text string, recent []string) string {
	var b strings.Builder

	b.WriteString("Определи, что означает сообщение пользователя, и верни JSON.\n\n")

	if len(recent) > MaxPromptContext {
		recent = recent[len(recent)-MaxPromptContext:]
	}
	if len(recent) > 0 {
		b.WriteString("Последние операции пользователя:\n")
		for _, line := range recent {
			b.WriteString("- ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("Фразы вроде \"такая же сумма\" или \"тому же\" относятся к этим операциям.\n\n")
	}

	fmt.Fprintf(&b, "Сообщение: %q\n\n", text)

	b.WriteString("Финансовая операция:\n")
	b.WriteString(`{"type": "finance", "operation_type": "Inflow" | "Outflow", "amount": число, ` +
		`"category": категория, "description": "суть операции", "comment": "", "confidence": от 0 до 1}` + "\n\n")
	b.WriteString("Если смысл неясен:\n")
	b.WriteString(`{"type": "clarification", "message": "вопрос пользователю", "suggestions": ["до трёх вариантов"]}` + "\n\n")

	b.WriteString("Категории для Outflow:\n")
	for _, c := range domain.Categories {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	b.WriteString("Для Inflow категория \"-\".\n\n")

	b.WriteString(rules)
	return b.String()
}

const rules = `Правила:
1. Inflow: "пополнил", "снял", "взял наличку", "получил деньги". Сумма положительная.
   Outflow: "заплатил", "потратил", "дал", "купил", "оплатил", "зарплата". Сумма отрицательная.
2. Категории по приоритету:
   - "рынок тула" или "тула рынок": Закупка Тула.
   - "рынок москва" или "москва рынок": Закупка Москва.
   - "поставщику", "оплата поставщику": всегда Оплата поставщику, даже если есть имя.
   - "дал/заплатил/зарплата" и имя: Зарплаты сотрудникам.
   - "Таня лично", "Игорь лично", "Антон лично": Выплаты учредителям.
   - материалы, закупка, товары: Материалы.
   - такси, убер, яндекс: Такси.
   - транспорт, бензин, авто: Транспорт.
   - связь, интернет, телефон: Связь.
   - благотворительность, донат, помощь: Благотворительность.
   - хозяйственные расходы, офис, канцелярия: Общественные расходы.
3. description с заглавной буквы, только суть: имена, должности, назначение.
   Убирай глаголы "заплатил", "дал", "потратил", "купил", "оплатил" и слово "лично".
   Имена в именительном падеже: "Петрову" -> "Петров", "Балтики" -> "Балтика".
4. Если в сообщении есть число, confidence = 0.9 и не задавай уточняющих вопросов.
5. Примеры:
   "оплата поставщику Шамилю 10000" -> {"type": "finance", "operation_type": "Outflow", "amount": -10000, "category": "Оплата поставщику", "description": "Шамиль", "comment": "", "confidence": 0.9}
   "рынок тула 5000 за товары" -> {"type": "finance", "operation_type": "Outflow", "amount": -5000, "category": "Закупка Тула", "description": "За товары", "comment": "", "confidence": 0.9}
   "зарплата Петрову 40000" -> {"type": "finance", "operation_type": "Outflow", "amount": -40000, "category": "Зарплаты сотрудникам", "description": "Петров", "comment": "", "confidence": 0.9}
   "дал Тане лично 30000" -> {"type": "finance", "operation_type": "Outflow", "amount": -30000, "category": "Выплаты учредителям", "description": "Таня", "comment": "", "confidence": 0.9}
`
