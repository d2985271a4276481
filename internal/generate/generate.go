// Package generate talks to the generative-AI backend behind the
// connectivity check endpoint.
package generate

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ronai/codegate/internal/config"
)

// ModeRealtimeAudio selects the realtime model.
const ModeRealtimeAudio = "realtime-audio"

// ErrEmptyResponse is returned when the backend answers without choices.
var ErrEmptyResponse = errors.New("no choices returned")

// Generator produces a short text response for a mode.
type Generator interface {
	Generate(ctx context.Context, mode string) (string, error)
}

// OpenAIGenerator works with any OpenAI-compatible API, Gemini's included.
type OpenAIGenerator struct {
	client *openai.Client
	cfg    config.GeneratorConfig
}

// NewOpenAIGenerator creates a generator from config.
func NewOpenAIGenerator(cfg config.GeneratorConfig, opts ...option.RequestOption) *OpenAIGenerator {
	opts = append([]option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(cfg.APIKey),
	}, opts...)
	client := openai.NewClient(opts...)
	return &OpenAIGenerator{client: &client, cfg: cfg}
}

// Model returns the model used for mode.
func (g *OpenAIGenerator) Model(mode string) string {
	if mode == ModeRealtimeAudio && g.cfg.RealtimeModel != "" {
		return g.cfg.RealtimeModel
	}
	return g.cfg.Model
}

// Generate sends the configured prompt and returns the first choice.
func (g *OpenAIGenerator) Generate(ctx context.Context, mode string) (string, error) {
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	completion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.Model(mode),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(g.cfg.Prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return completion.Choices[0].Message.Content, nil
}
