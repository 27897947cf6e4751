package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini response engine.
type GeminiConfig struct {
	APIKey      string
	Model       string // default: "gemini-2.0-flash"
	MaxTokens   int32
	Temperature *float32
}

// GeminiEngine implements Engine over the Gemini API.
type GeminiEngine struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature *float32
}

// NewGemini creates a Gemini streaming response engine.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*GeminiEngine, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	return &GeminiEngine{
		client:      client,
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the engine identifier.
func (e *GeminiEngine) Name() string {
	return "gemini"
}

// Generate starts a streaming completion over the snapshot.
func (e *GeminiEngine) Generate(ctx context.Context, msgs []Message) (*TextStream, error) {
	contents, cfg := convGeminiMessages(msgs)
	if e.maxTokens > 0 {
		cfg.MaxOutputTokens = e.maxTokens
	}
	if e.temperature != nil {
		cfg.Temperature = e.temperature
	}

	ts := NewTextStream()
	go func() {
		defer ts.Finish()

		for chunk, err := range e.client.Models.GenerateContentStream(ctx, e.model, contents, cfg) {
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					ts.SetError(err)
					return
				}
				ts.SetError(fmt.Errorf("%w: %v", ErrGenerationFailed, err))
				return
			}
			if text := chunk.Text(); text != "" {
				if !ts.Push(text) {
					return
				}
			}
		}
	}()

	return ts, nil
}

// convGeminiMessages maps conversation roles onto Gemini content. The
// system turn travels as the system instruction, assistant turns as
// the "model" role.
func convGeminiMessages(msgs []Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{}
	contents := make([]*genai.Content, 0, len(msgs))

	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			cfg.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{genai.NewPartFromText(m.Content)},
			}
		case RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{genai.NewPartFromText(m.Content)},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{genai.NewPartFromText(m.Content)},
			})
		}
	}

	return contents, cfg
}
