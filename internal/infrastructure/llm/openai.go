package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"TrendWatcher/internal/config"
	"TrendWatcher/internal/ports"
)

// OpenAIClient talks to any OpenAI-compatible chat completions API,
// Perplexity included.
type OpenAIClient struct {
	client       *openai.Client
	model        openai.ChatModel
	systemPrompt string
	maxTokens    int64
}

var _ ports.CompletionClient = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client from configuration.
func NewOpenAIClient(cfg config.LLMConfig, opts ...option.RequestOption) *OpenAIClient {
	base := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		base = append(base, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(append(base, opts...)...)
	return &OpenAIClient{
		client:       &client,
		model:        openai.ChatModel(cfg.Model),
		systemPrompt: strings.TrimSpace(cfg.SystemPrompt),
		maxTokens:    maxTokens(cfg.MaxTokens),
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if c.systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(c.systemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: openai.Int(c.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from %s", c.model)
	}

	return resp.Choices[0].Message.Content, nil
}
