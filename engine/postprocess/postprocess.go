// Package postprocess transforms retrieved nodes before synthesis.
package postprocess

import (
	"context"

	"github.com/firstaid-ai/firstaid-rag/engine/index"
)

// NodePostprocessor rewrites, filters or reorders retrieved nodes.
type NodePostprocessor interface {
	PostprocessNodes(ctx context.Context, nodes []index.NodeWithScore, query string) ([]index.NodeWithScore, error)
}

// Func adapts a plain function to NodePostprocessor.
type Func func(ctx context.Context, nodes []index.NodeWithScore, query string) ([]index.NodeWithScore, error)

// PostprocessNodes calls f.
func (f Func) PostprocessNodes(ctx context.Context, nodes []index.NodeWithScore, query string) ([]index.NodeWithScore, error) {
	return f(ctx, nodes, query)
}

// MetadataReplacement swaps each node's text for the value stored under
// TargetKey in its metadata. With sentence-window indexes the key is
// "window", so the LLM sees the sentence and its neighbours while retrieval
// still matched on the single sentence.
type MetadataReplacement struct {
	TargetKey string
}

// PostprocessNodes returns copies of nodes with replaced text. Nodes without
// TargetKey keep their original text.
func (m MetadataReplacement) PostprocessNodes(_ context.Context, nodes []index.NodeWithScore, _ string) ([]index.NodeWithScore, error) {
	out := make([]index.NodeWithScore, len(nodes))
	for i, nws := range nodes {
		n := nws.Node.Clone()
		if v, ok := n.Metadata[m.TargetKey]; ok {
			n.Text = index.ValueString(v)
		}
		out[i] = index.NodeWithScore{Node: n, Score: nws.Score}
	}
	return out, nil
}

// SimilarityCutoff drops nodes scoring below Cutoff.
type SimilarityCutoff struct {
	Cutoff float64
}

// PostprocessNodes filters nodes by score, preserving order.
func (s SimilarityCutoff) PostprocessNodes(_ context.Context, nodes []index.NodeWithScore, _ string) ([]index.NodeWithScore, error) {
	var out []index.NodeWithScore
	for _, nws := range nodes {
		if nws.Score >= s.Cutoff {
			out = append(out, nws)
		}
	}
	return out, nil
}

// Apply runs each postprocessor in order, stopping at the first error.
func Apply(ctx context.Context, nodes []index.NodeWithScore, query string, pps ...NodePostprocessor) ([]index.NodeWithScore, error) {
	var err error
	for _, pp := range pps {
		nodes, err = pp.PostprocessNodes(ctx, nodes, query)
		if err != nil {
			return nil, err
		}
	}
	return nodes, nil
}
