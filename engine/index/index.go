// Package index loads the prebuilt sentence-window vector index and serves
// top-k similarity retrieval over it.
//
// The index is built offline. At startup the service either reads the
// persisted stores from a directory (docstore.json,
// default__vector_store.json, index_store.json) into memory, or connects
// to a remote vector store (Qdrant, Neo4j, pgvector) holding the same nodes.
// Either way the index is read-only for the life of the process.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/firstaid-ai/firstaid-rag/pkg/llm"
)

// ErrDimensionMismatch is returned when a query vector does not match the
// index's embedding size.
var ErrDimensionMismatch = errors.New("index: embedding dimension mismatch")

// VectorStore answers k-nearest-neighbour queries over stored nodes.
type VectorStore interface {
	Query(ctx context.Context, embedding []float32, topK int) ([]NodeWithScore, error)
}

// Sized is implemented by stores that know how many nodes they hold.
type Sized interface {
	Len() int
}

// VectorIndex pairs a vector store with the embedder used to build it.
type VectorIndex struct {
	store VectorStore
	embed llm.Embedder
}

// New creates a VectorIndex over store. Queries are embedded with embed,
// which must match the model the index was built with.
func New(store VectorStore, embed llm.Embedder) *VectorIndex {
	return &VectorIndex{store: store, embed: embed}
}

// Len returns the number of loaded nodes, or -1 when the store is remote.
func (ix *VectorIndex) Len() int {
	if s, ok := ix.store.(Sized); ok {
		return s.Len()
	}
	return -1
}

// AsRetriever returns a retriever that fetches the topK most similar nodes.
func (ix *VectorIndex) AsRetriever(topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultSimilarityTopK
	}
	return &Retriever{index: ix, topK: topK}
}

// DefaultSimilarityTopK is the retrieval depth used when none is given.
const DefaultSimilarityTopK = 2

// Retriever embeds a query and looks up its nearest nodes.
type Retriever struct {
	index *VectorIndex
	topK  int
}

// Retrieve returns up to topK nodes ordered by descending similarity.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]NodeWithScore, error) {
	vec, err := r.index.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("index: embed query: %w", err)
	}
	nodes, err := r.index.store.Query(ctx, vec, r.topK)
	if err != nil {
		return nil, fmt.Errorf("index: vector query: %w", err)
	}
	return nodes, nil
}
