package llm

import (
	"fmt"
	"strings"

	"TrendWatcher/internal/config"
	"TrendWatcher/internal/ports"
)

const (
	ProviderPerplexity = "perplexity"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"

	perplexityBaseURL = "https://api.perplexity.ai/"
	defaultMaxTokens  = 2048
)

// New picks the completion client for cfg.Provider.
func New(cfg config.LLMConfig) (ports.CompletionClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("llm: api key is not configured")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderPerplexity:
		if cfg.BaseURL == "" {
			cfg.BaseURL = perplexityBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = "sonar"
		}
		return NewOpenAIClient(cfg), nil
	case ProviderOpenAI:
		if cfg.Model == "" {
			cfg.Model = "gpt-4o-mini"
		}
		return NewOpenAIClient(cfg), nil
	case ProviderAnthropic:
		if cfg.Model == "" {
			cfg.Model = "claude-haiku-4-5"
		}
		return NewAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

func maxTokens(n int) int64 {
	if n <= 0 {
		return defaultMaxTokens
	}
	return int64(n)
}
