package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaEmbedReq
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" || req.Prompt != "bleeding" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(ollamaEmbedResp{Embedding: []float64{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	c := NewOllama(srv.URL+"/", "llama3.1:8b", "nomic-embed-text")
	vec, err := c.Embed(context.Background(), "bleeding")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[1] != float32(0.2) {
		t.Fatalf("unexpected vector: %v", vec)
	}
}

func TestOllamaEmbedStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOllama(srv.URL, "m", "e")
	_, err := c.Embed(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "ollama embed: status 500" {
		t.Errorf("unexpected error: %s", got)
	}
}

func TestOllamaComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaChatReq
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("expected non-streaming request")
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "what now" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(ollamaChatResp{
			Message: ollamaMessage{Role: "assistant", Content: " Apply pressure. "},
			Done:    true,
		})
	}))
	defer srv.Close()

	c := NewOllama(srv.URL, "llama3.1:8b", "nomic-embed-text")
	out, err := c.Complete(context.Background(), "what now")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Apply pressure." {
		t.Fatalf("unexpected completion: %q", out)
	}
}

func TestOllamaCompleteBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := NewOllama(srv.URL, "m", "e")
	if _, err := c.Complete(context.Background(), "x"); err == nil {
		t.Fatal("expected decode error")
	}
}
