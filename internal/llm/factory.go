package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/vigilops/bastion/internal/config"
)

func NewClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	provider := strings.ToLower(cfg.Provider)

	switch provider {
	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL), nil

	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model)

	case "claude":
		return NewClaudeClient(cfg.APIKey, cfg.Model, cfg.BaseURL), nil

	case "ollama":
		// Ollama speaks the OpenAI-compatible API under /v1; reuse the
		// OpenAI client rather than carrying a second implementation.
		baseURL := cfg.BaseURL
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = fmt.Sprintf("%s/v1", strings.TrimRight(baseURL, "/"))
		}

		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama" // Ollama ignores the key but the client requires one
		}
		return NewOpenAIClient(apiKey, cfg.Model, baseURL), nil

	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
}
