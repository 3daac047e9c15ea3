// Package nlu talks to the natural-language model that classifies finance
// utterances and transcribes voice messages.
package nlu

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-assistant/internal/domain"
	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// Request is a single prompt with its system rules.
type Request struct {
	System string
	Prompt string
	// JSON asks the model for an application/json response.
	JSON bool
}

// Model returns the raw text answer for a request.
// This interface enables mocking of the remote model in tests.
type Model interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Transcriber turns recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// GeminiClient implements Model and Transcriber on top of the Gemini API.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGeminiClient creates a client for the Gemini Developer API.
func NewGeminiClient(ctx context.Context, apiKey, model string, temperature float32) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("NewGeminiClient: api key is empty: %w", domain.ErrConfiguration)
	}
	if model == "" {
		model = DefaultModelName
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClient: create genai client: %w: %w", domain.ErrExternalService, err)
	}
	return &GeminiClient{client: client, model: model, temperature: temperature}, nil
}

// Generate implements Model.
func (g *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: req.Prompt}},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("Generate: generate content: %w: %w", domain.ErrExternalService, err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("Generate: empty response from model: %w", domain.ErrExternalService)
	}
	return text, nil
}

// Transcribe implements Transcriber. The audio is sent inline with an
// instruction to return only the spoken words.
func (g *GeminiClient) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("Transcribe: empty audio: %w", domain.ErrValidation)
	}
	if mimeType == "" {
		mimeType = "audio/ogg"
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: transcribePrompt},
				{
					InlineData: &genai.Blob{
						MIMEType: mimeType,
						Data:     audio,
					},
				},
			},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", fmt.Errorf("Transcribe: generate content: %w: %w", domain.ErrExternalService, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("Transcribe: empty transcription: %w", domain.ErrExternalService)
	}
	return text, nil
}

const transcribePrompt = "Расшифруй голосовое сообщение на русском языке. " +
	"Верни только распознанный текст, без пояснений и кавычек. " +
	"Числа записывай цифрами."

var (
	_ Model       = (*GeminiClient)(nil)
	_ Transcriber = (*GeminiClient)(nil)
)
