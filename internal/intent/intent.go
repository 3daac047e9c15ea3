// Package intent decides what an utterance means: a canned command, a
// finance operation to record, or a question back to the user.
package intent

import (
	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/router"
	"github.com/shopspring/decimal"
)

// Intent is one of VoiceCommand, FinanceCandidate or Clarification.
type Intent interface {
	isIntent()
}

// VoiceCommand is produced locally by the router and never sent to the model.
type VoiceCommand struct {
	Command   router.Command
	RawParams string
}

// FinanceCandidate is a parsed operation waiting to be committed.
type FinanceCandidate struct {
	OperationType domain.OperationType
	Amount        decimal.Decimal
	Category      domain.Category
	Description   string
	Comment       string
	Confidence    float64
}

// Clarification asks the user to rephrase. Suggestions holds at most three entries.
type Clarification struct {
	Message     string
	Suggestions []string
}

func (VoiceCommand) isIntent()     {}
func (FinanceCandidate) isIntent() {}
func (Clarification) isIntent()    {}

// MaxSuggestions caps Clarification.Suggestions.
const MaxSuggestions = 3

// Record converts the candidate into an undated ledger record.
func (c FinanceCandidate) Record() domain.TransactionRecord {
	return domain.TransactionRecord{
		OperationType: c.OperationType,
		Category:      c.Category,
		Description:   c.Description,
		Amount:        c.Amount,
		Comment:       c.Comment,
	}
}
