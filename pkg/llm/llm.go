// Package llm defines the embedding and completion interfaces the query
// engine depends on, with OpenAI-compatible and Ollama implementations.
package llm

import "context"

// Embedder turns text into a vector in the same space as the loaded index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// LLM completes a single prompt.
type LLM interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Provider is both an Embedder and an LLM.
type Provider interface {
	Embedder
	LLM
}

// Defaults follow the retrieval library's out-of-the-box models.
const (
	DefaultChatModel   = "gpt-3.5-turbo"
	DefaultEmbedModel  = "text-embedding-ada-002"
	DefaultTemperature = 0.1
)
