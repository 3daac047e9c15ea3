package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/logger"
	"github.com/dvloznov/finance-assistant/internal/nlu"
	"github.com/dvloznov/finance-assistant/internal/router"
	"github.com/shopspring/decimal"
)

// Fixed replies for classification failures.
const (
	MessageServiceError = "Извините, произошла ошибка. Попробуйте переформулировать."
	MessageParseError   = "Ошибка анализа. Попробуйте переформулировать."
)

// maxCategoryDistance is the largest edit distance snapped to a known category.
const maxCategoryDistance = 3

// defaultConfidence applies when the model omits the confidence field.
const defaultConfidence = 1.0

// modelResponse is the decoded model answer for either shape.
type modelResponse struct {
	Type          string          `json:"type"`
	OperationType string          `json:"operation_type"`
	Amount        decimal.Decimal `json:"amount"`
	Category      string          `json:"category"`
	Description   string          `json:"description"`
	Comment       *string         `json:"comment"`
	Confidence    *float64        `json:"confidence"`
	Message       string          `json:"message"`
	Suggestions   []string        `json:"suggestions"`
}

// Classifier turns an utterance into an Intent.
type Classifier struct {
	model nlu.Model
}

// NewClassifier creates a classifier backed by model.
func NewClassifier(model nlu.Model) *Classifier {
	return &Classifier{model: model}
}

// Classify never fails: model and parsing errors become a Clarification.
// The router is consulted first and a match never reaches the model.
func (c *Classifier) Classify(ctx context.Context, text string, recent []string) Intent {
	if cmd, ok := router.Match(text); ok {
		return VoiceCommand{Command: cmd, RawParams: text}
	}

	log := logger.FromContext(ctx)

	raw, err := c.model.Generate(ctx, nlu.Request{
		System: systemPrompt,
		Prompt: BuildPrompt(text, recent),
		JSON:   true,
	})
	if err != nil {
		log.Error().Err(err).Msg("Model call failed")
		return Clarification{Message: MessageServiceError}
	}

	in, err := c.parse(raw, text)
	if err != nil {
		log.Warn().Err(err).Str("raw_response", raw).Msg("Failed to parse model response")
		return Clarification{Message: MessageParseError}
	}
	return in
}

func (c *Classifier) parse(raw, text string) (Intent, error) {
	clean := nlu.CleanJSON(raw)

	dec := json.NewDecoder(strings.NewReader(clean))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse: decoding JSON: %w: %w", domain.ErrValidation, err)
	}
	if err := responseSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("parse: schema: %w: %w", domain.ErrValidation, err)
	}

	var resp modelResponse
	if err := json.Unmarshal([]byte(clean), &resp); err != nil {
		return nil, fmt.Errorf("parse: unmarshal: %w: %w", domain.ErrValidation, err)
	}

	switch resp.Type {
	case "finance":
		return financeCandidate(resp, text)
	case "clarification":
		suggestions := resp.Suggestions
		if len(suggestions) > MaxSuggestions {
			suggestions = suggestions[:MaxSuggestions]
		}
		return Clarification{Message: resp.Message, Suggestions: suggestions}, nil
	}
	return nil, fmt.Errorf("parse: unknown type %q: %w", resp.Type, domain.ErrValidation)
}

func financeCandidate(resp modelResponse, text string) (FinanceCandidate, error) {
	opType, err := domain.ParseOperationType(resp.OperationType)
	if err != nil {
		return FinanceCandidate{}, err
	}

	category, err := SnapCategory(resp.Category)
	if err != nil {
		return FinanceCandidate{}, err
	}

	amount := resp.Amount.Abs()
	if opType == domain.Outflow {
		amount = amount.Neg()
		if override, ok := keywordCategory(text); ok {
			category = override
		}
		if !category.IsExpense() {
			return FinanceCandidate{}, fmt.Errorf("financeCandidate: outflow without category: %w", domain.ErrValidation)
		}
	} else if category == "" {
		category = domain.NoCategory
	}

	confidence := defaultConfidence
	if resp.Confidence != nil {
		confidence = *resp.Confidence
	}

	var comment string
	if resp.Comment != nil {
		comment = strings.TrimSpace(*resp.Comment)
	}

	return FinanceCandidate{
		OperationType: opType,
		Amount:        amount,
		Category:      category,
		Description:   domain.CanonicalDescription(resp.Description),
		Comment:       comment,
		Confidence:    confidence,
	}, nil
}

// ErrUnknownCategory is returned by SnapCategory for names too far from any category.
var ErrUnknownCategory = errors.New("unknown category")

// SnapCategory maps a model-produced name onto the closed category set,
// tolerating small spelling differences. An empty name yields "".
func SnapCategory(name string) (domain.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}
	if c, ok := domain.ParseCategory(name); ok {
		return c, nil
	}

	lower := strings.ToLower(name)
	best, bestDist := domain.Category(""), maxCategoryDistance+1
	for _, c := range domain.Categories {
		if d := levenshtein.ComputeDistance(lower, strings.ToLower(string(c))); d < bestDist {
			best, bestDist = c, d
		}
	}
	if best == "" {
		return "", fmt.Errorf("SnapCategory: %q: %w: %w", name, ErrUnknownCategory, domain.ErrValidation)
	}
	return best, nil
}

// keywordCategory enforces phrase precedence the model sometimes ignores:
// market purchases first, then supplier payments.
func keywordCategory(text string) (domain.Category, bool) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "рынок тула"), strings.Contains(lower, "тула рынок"):
		return domain.CategoryPurchaseTula, true
	case strings.Contains(lower, "рынок москва"), strings.Contains(lower, "москва рынок"):
		return domain.CategoryPurchaseMsk, true
	case strings.Contains(lower, "поставщик"):
		return domain.CategorySupplier, true
	}
	return "", false
}
