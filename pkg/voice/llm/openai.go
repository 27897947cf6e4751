package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// OpenAIConfig configures the OpenAI response engine.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // optional override, used by tests and proxies
	Model       string // default: "gpt-4o-mini"
	MaxTokens   int64
	Temperature *float64
}

// OpenAIEngine implements Engine over the OpenAI chat completions API.
type OpenAIEngine struct {
	client      openai.Client
	model       string
	maxTokens   int64
	temperature *float64
}

// NewOpenAI creates an OpenAI streaming response engine.
func NewOpenAI(cfg OpenAIConfig) *OpenAIEngine {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAIEngine{
		client:      openai.NewClient(opts...),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// Name returns the engine identifier.
func (e *OpenAIEngine) Name() string {
	return "openai"
}

// Generate starts a streaming chat completion over the snapshot.
func (e *OpenAIEngine) Generate(ctx context.Context, msgs []Message) (*TextStream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    e.model,
		Messages: convOpenAIMessages(msgs),
	}
	if e.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(e.maxTokens)
	}
	if e.temperature != nil {
		params.Temperature = param.NewOpt(*e.temperature)
	}

	ts := NewTextStream()
	go func() {
		defer ts.Finish()

		stream := e.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if !ts.Push(delta) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				ts.SetError(err)
				return
			}
			ts.SetError(fmt.Errorf("%w: %v", ErrGenerationFailed, err))
		}
	}()

	return ts, nil
}

func convOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
