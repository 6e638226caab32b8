package llm

import (
	"context"
)

// Client is the single seam the extraction phase talks through. Providers
// behind it: OpenAI, Gemini, Claude, and Ollama via the OpenAI-compatible API.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
	ModelVersion() string
}
