// Package query runs retrieval-augmented queries: it retrieves the nodes
// most similar to the query, postprocesses them, and synthesizes an answer
// from their text.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firstaid-ai/firstaid-rag/engine/index"
	"github.com/firstaid-ai/firstaid-rag/engine/postprocess"
	"github.com/firstaid-ai/firstaid-rag/engine/synth"
	"github.com/firstaid-ai/firstaid-rag/pkg/fn"
)

// Retriever fetches the nodes most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]index.NodeWithScore, error)
}

// Options configures the query engine.
type Options struct {
	SimilarityTopK int
	Postprocessors []postprocess.NodePostprocessor
	Logger         *slog.Logger
}

// DefaultOptions retrieves three nodes and expands each to its sentence
// window before synthesis.
func DefaultOptions() Options {
	return Options{
		SimilarityTopK: 3,
		Postprocessors: []postprocess.NodePostprocessor{
			postprocess.MetadataReplacement{TargetKey: "window"},
		},
	}
}

// Engine is a retriever plus postprocessors plus a synthesizer.
type Engine struct {
	retriever Retriever
	synth     synth.Synthesizer
	post      []postprocess.NodePostprocessor
	logger    *slog.Logger
	run       fn.Stage[*state, *state]
}

// New creates an Engine over an existing retriever. opts.SimilarityTopK is
// ignored; the retriever decides how many nodes it returns.
func New(r Retriever, s synth.Synthesizer, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{retriever: r, synth: s, post: opts.Postprocessors, logger: logger}
	e.run = fn.Pipeline(
		fn.TracedStage[*state, *state]("query.retrieve", e.retrieve),
		fn.TracedStage[*state, *state]("query.postprocess", e.postprocess),
		fn.TracedStage[*state, *state]("query.synthesize", e.synthesize),
	)
	return e
}

// FromIndex creates an Engine that retrieves opts.SimilarityTopK nodes
// from ix.
func FromIndex(ix *index.VectorIndex, s synth.Synthesizer, opts Options) *Engine {
	return New(ix.AsRetriever(opts.SimilarityTopK), s, opts)
}

// Response is the answer to a query together with the nodes it was
// synthesized from.
type Response struct {
	Response    string                    `json:"response"`
	SourceNodes []index.NodeWithScore     `json:"source_nodes"`
	Metadata    map[string]map[string]any `json:"metadata"`
}

// String returns the answer text.
func (r *Response) String() string { return r.Response }

// state carries one query through the pipeline.
type state struct {
	query  string
	nodes  []index.NodeWithScore
	answer string
}

// Query answers queryStr.
func (e *Engine) Query(ctx context.Context, queryStr string) (*Response, error) {
	start := time.Now()
	st, err := e.run(ctx, &state{query: queryStr}).Unwrap()
	if err != nil {
		return nil, err
	}
	e.logger.Debug("query done", "sources", len(st.nodes), "duration", time.Since(start))
	return newResponse(st.answer, st.nodes), nil
}

func (e *Engine) retrieve(ctx context.Context, st *state) fn.Result[*state] {
	nodes, err := e.retriever.Retrieve(ctx, st.query)
	if err != nil {
		return fn.Err[*state](fmt.Errorf("query: retrieve: %w", err))
	}
	e.logger.Debug("query retrieved", "nodes", len(nodes))
	st.nodes = nodes
	return fn.Ok(st)
}

func (e *Engine) postprocess(ctx context.Context, st *state) fn.Result[*state] {
	nodes, err := postprocess.Apply(ctx, st.nodes, st.query, e.post...)
	if err != nil {
		return fn.Err[*state](fmt.Errorf("query: postprocess: %w", err))
	}
	st.nodes = nodes
	return fn.Ok(st)
}

func (e *Engine) synthesize(ctx context.Context, st *state) fn.Result[*state] {
	answer, err := e.synth.Synthesize(ctx, st.query, st.nodes)
	if err != nil {
		return fn.Err[*state](fmt.Errorf("query: synthesize: %w", err))
	}
	st.answer = answer
	return fn.Ok(st)
}

func newResponse(answer string, nodes []index.NodeWithScore) *Response {
	if nodes == nil {
		nodes = []index.NodeWithScore{}
	}
	meta := make(map[string]map[string]any, len(nodes))
	for _, n := range nodes {
		meta[n.Node.ID] = n.Node.Metadata
	}
	return &Response{Response: answer, SourceNodes: nodes, Metadata: meta}
}
