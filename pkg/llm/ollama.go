package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Ollama implements Provider using Ollama's HTTP API.
type Ollama struct {
	baseURL     string
	chatModel   string
	embedModel  string
	temperature float64
	client      *http.Client
}

// NewOllama creates an Ollama provider.
func NewOllama(baseURL, chatModel, embedModel string) *Ollama {
	return &Ollama{
		baseURL:     strings.TrimRight(baseURL, "/"),
		chatModel:   chatModel,
		embedModel:  embedModel,
		temperature: DefaultTemperature,
		client:      &http.Client{},
	}
}

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatReq struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResp struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

func (c *Ollama) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// Embed implements Embedder.
func (c *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	var result ollamaEmbedResp
	if err := c.post(ctx, "/api/embeddings", ollamaEmbedReq{Model: c.embedModel, Prompt: text}, &result); err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// Complete implements LLM with a single non-streaming chat turn.
func (c *Ollama) Complete(ctx context.Context, prompt string) (string, error) {
	var result ollamaChatResp
	req := ollamaChatReq{
		Model:    c.chatModel,
		Messages: []ollamaMessage{{Role: "user", Content: prompt}},
		Stream:   false,
		Options:  map[string]any{"temperature": c.temperature},
	}
	if err := c.post(ctx, "/api/chat", req, &result); err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return strings.TrimSpace(result.Message.Content), nil
}
