package ingest

import "github.com/firstaid-ai/firstaid-rag/engine/index"

// Document is a source text to be split into sentence nodes.
type Document struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Metadata keys hidden from the embedding model and from the LLM.
	// Every node split from the document inherits them.
	ExcludedEmbedMetadataKeys []string `json:"excluded_embed_metadata_keys,omitempty"`
	ExcludedLLMMetadataKeys   []string `json:"excluded_llm_metadata_keys,omitempty"`
}

// ParsedDoc is a document split into sentences.
type ParsedDoc struct {
	Document
	Sentences []string
}

// NodedDoc carries one node per sentence.
type NodedDoc struct {
	ParsedDoc
	Nodes []index.Node
}

// EmbeddedDoc pairs every node with its embedding.
type EmbeddedDoc struct {
	NodedDoc
	Embeddings [][]float32
}

// embeddedNodes flattens doc for a Sink.
func (doc EmbeddedDoc) embeddedNodes() []index.EmbeddedNode {
	out := make([]index.EmbeddedNode, len(doc.Nodes))
	for i, n := range doc.Nodes {
		out[i] = index.EmbeddedNode{Node: n, Embedding: doc.Embeddings[i], RefDocID: doc.ID}
	}
	return out
}
