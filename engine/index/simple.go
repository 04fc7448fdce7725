package index

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/firstaid-ai/firstaid-rag/pkg/fn"
)

// SimpleVectorStore is an in-memory, read-only set of embeddings searched by
// brute-force cosine similarity.
type SimpleVectorStore struct {
	ids     []string
	vectors map[string][]float32
	norms   map[string]float64
	dims    int
}

// NewSimpleVectorStore builds a store from an id → embedding map. All
// embeddings must have the same length.
func NewSimpleVectorStore(embeddings map[string][]float32) (*SimpleVectorStore, error) {
	s := &SimpleVectorStore{
		vectors: make(map[string][]float32, len(embeddings)),
		norms:   make(map[string]float64, len(embeddings)),
	}
	for id, vec := range embeddings {
		if s.dims == 0 {
			s.dims = len(vec)
		} else if len(vec) != s.dims {
			return nil, fmt.Errorf("%w: node %s has %d dims, expected %d", ErrDimensionMismatch, id, len(vec), s.dims)
		}
		s.ids = append(s.ids, id)
		s.vectors[id] = vec
		s.norms[id] = norm(vec)
	}
	sort.Strings(s.ids)
	return s, nil
}

// Len returns the number of stored embeddings.
func (s *SimpleVectorStore) Len() int { return len(s.ids) }

// Dims returns the embedding size, or 0 for an empty store.
func (s *SimpleVectorStore) Dims() int { return s.dims }

// IDs returns the stored ids in sorted order.
func (s *SimpleVectorStore) IDs() []string { return s.ids }

// scored is an id with its similarity to a query.
type scored struct {
	id    string
	score float64
}

// topK returns the ids of the k embeddings most similar to query, best
// first. Ties are broken by id.
func (s *SimpleVectorStore) topK(query []float32, k int) ([]scored, error) {
	if k <= 0 || len(s.ids) == 0 {
		return nil, nil
	}
	if len(query) != s.dims {
		return nil, fmt.Errorf("%w: query has %d dims, index has %d", ErrDimensionMismatch, len(query), s.dims)
	}

	qn := norm(query)
	all := fn.Map(s.ids, func(id string) scored {
		return scored{id: id, score: cosine(query, qn, s.vectors[id], s.norms[id])}
	})
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].id < all[j].id
	})
	if k > len(all) {
		k = len(all)
	}
	return all[:k], nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine returns the cosine similarity of a and b given their norms; a zero
// vector has similarity 0 with everything.
func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (an * bn)
}

// DocStore maps node ids to nodes.
type DocStore struct {
	nodes map[string]Node
}

// NewDocStore creates a DocStore from nodes keyed by their ID.
func NewDocStore(nodes ...Node) *DocStore {
	d := &DocStore{nodes: make(map[string]Node, len(nodes))}
	for _, n := range nodes {
		d.nodes[n.ID] = n
	}
	return d
}

// Get returns the node with the given id.
func (d *DocStore) Get(id string) (Node, bool) {
	n, ok := d.nodes[id]
	return n, ok
}

// Len returns the number of stored nodes.
func (d *DocStore) Len() int { return len(d.nodes) }

// localStore serves queries from a persisted directory loaded into memory.
// Every id in vectors has an entry in nodes.
type localStore struct {
	vectors *SimpleVectorStore
	nodes   map[string]Node // keyed by vector-store id
}

func (l *localStore) Len() int { return len(l.nodes) }

func (l *localStore) Query(_ context.Context, embedding []float32, topK int) ([]NodeWithScore, error) {
	hits, err := l.vectors.topK(embedding, topK)
	if err != nil {
		return nil, err
	}
	out := make([]NodeWithScore, len(hits))
	for i, h := range hits {
		out[i] = NodeWithScore{Node: l.nodes[h.id], Score: h.score}
	}
	return out, nil
}
