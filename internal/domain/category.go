package domain

import (
	"fmt"
	"strings"
)

// OperationType is the direction of money movement as stored in the ledger.
type OperationType string

const (
	Inflow  OperationType = "Пополнение"
	Outflow OperationType = "Расход"
)

// ParseOperationType accepts both the model vocabulary (Inflow/Outflow) and
// the ledger labels.
func ParseOperationType(s string) (OperationType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inflow", "пополнение":
		return Inflow, nil
	case "outflow", "расход":
		return Outflow, nil
	}
	return "", fmt.Errorf("ParseOperationType: unknown operation type %q: %w", s, ErrValidation)
}

// Category is an expense category from the closed set, or NoCategory for inflows.
type Category string

const (
	CategorySalaries      Category = "Зарплаты сотрудникам"
	CategoryFounders      Category = "Выплаты учредителям"
	CategorySupplier      Category = "Оплата поставщику"
	CategoryPercent       Category = "Процент"
	CategoryGoods         Category = "Закупка товара"
	CategoryMaterials     Category = "Материалы"
	CategoryTransport     Category = "Транспорт"
	CategoryCommunication Category = "Связь"
	CategoryTaxi          Category = "Такси"
	CategoryCommon        Category = "Общественные расходы"
	CategoryCharity       Category = "Благотворительность"
	CategoryPurchaseTula  Category = "Закупка Тула"
	CategoryPurchaseMsk   Category = "Закупка Москва"

	// NoCategory is written for inflows.
	NoCategory Category = "-"
)

// Categories lists the closed expense category set in display order.
var Categories = []Category{
	CategorySalaries,
	CategoryFounders,
	CategorySupplier,
	CategoryPercent,
	CategoryGoods,
	CategoryMaterials,
	CategoryTransport,
	CategoryCommunication,
	CategoryTaxi,
	CategoryCommon,
	CategoryCharity,
	CategoryPurchaseTula,
	CategoryPurchaseMsk,
}

// IsExpense reports whether c belongs to the closed category set.
func (c Category) IsExpense() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory matches s against the closed set ignoring case and
// surrounding whitespace. The inflow sentinel is accepted as well.
func ParseCategory(s string) (Category, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == string(NoCategory) {
		return NoCategory, true
	}
	for _, c := range Categories {
		if strings.EqualFold(trimmed, string(c)) {
			return c, true
		}
	}
	return "", false
}
