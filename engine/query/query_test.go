package query

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/firstaid-ai/firstaid-rag/engine/index"
	"github.com/firstaid-ai/firstaid-rag/engine/postprocess"
)

// --- Mocks ---

type mockRetriever struct {
	nodes []index.NodeWithScore
	err   error
	last  string
}

func (m *mockRetriever) Retrieve(_ context.Context, q string) ([]index.NodeWithScore, error) {
	m.last = q
	return m.nodes, m.err
}

type mockSynth struct {
	answer string
	err    error
	query  string
	nodes  []index.NodeWithScore
}

func (m *mockSynth) Synthesize(_ context.Context, q string, nodes []index.NodeWithScore) (string, error) {
	m.query, m.nodes = q, nodes
	return m.answer, m.err
}

type mockEmbedder struct{ vec []float32 }

func (m mockEmbedder) Embed(context.Context, string) ([]float32, error) { return m.vec, nil }

type mockStore struct{ k int }

func (m *mockStore) Query(_ context.Context, _ []float32, k int) ([]index.NodeWithScore, error) {
	m.k = k
	return nil, nil
}

func sentenceNodes() []index.NodeWithScore {
	return []index.NodeWithScore{
		{Node: index.Node{ID: "n1", Text: "Apply pressure.", Metadata: map[string]any{
			"window": "Call for help. Apply pressure. Keep the limb raised.",
		}}, Score: 0.82},
		{Node: index.Node{ID: "n2", Text: "Use a clean cloth.", Metadata: map[string]any{"page": "3"}}, Score: 0.61},
	}
}

// --- Tests ---

func TestQuery(t *testing.T) {
	r := &mockRetriever{nodes: sentenceNodes()}
	s := &mockSynth{answer: `{"no_steps": 1, "step_1": "Apply pressure"}`}
	e := New(r, s, DefaultOptions())

	resp, err := e.Query(context.Background(), "bleeding arm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.last != "bleeding arm" || s.query != "bleeding arm" {
		t.Errorf("query not forwarded: retriever %q, synth %q", r.last, s.query)
	}
	if resp.Response != s.answer || resp.String() != s.answer {
		t.Errorf("unexpected response %q", resp.Response)
	}
	if len(resp.SourceNodes) != 2 {
		t.Fatalf("expected 2 source nodes, got %d", len(resp.SourceNodes))
	}
	if resp.SourceNodes[0].Node.Text != "Call for help. Apply pressure. Keep the limb raised." {
		t.Errorf("window replacement not applied: %q", resp.SourceNodes[0].Node.Text)
	}
	if s.nodes[0].Node.Text != resp.SourceNodes[0].Node.Text {
		t.Error("synthesizer should see postprocessed nodes")
	}
	if r.nodes[0].Node.Text != "Apply pressure." {
		t.Error("retrieved nodes mutated")
	}
	if resp.Metadata["n2"]["page"] != "3" {
		t.Errorf("metadata not keyed by node id: %v", resp.Metadata)
	}
}

func TestQueryResponseJSON(t *testing.T) {
	e := New(&mockRetriever{nodes: sentenceNodes()[1:]}, &mockSynth{answer: "ok"}, Options{})
	resp, err := e.Query(context.Background(), "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"response":"ok","source_nodes":[{"node":{"id":"n2","text":"Use a clean cloth.","metadata":{"page":"3"}},"score":0.61}],"metadata":{"n2":{"page":"3"}}}`
	if string(b) != want {
		t.Fatalf("got  %s\nwant %s", b, want)
	}
}

func TestQueryNoNodes(t *testing.T) {
	e := New(&mockRetriever{}, &mockSynth{answer: "Empty Response"}, DefaultOptions())
	resp, err := e.Query(context.Background(), "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := json.Marshal(resp)
	if !strings.Contains(string(b), `"source_nodes":[]`) {
		t.Errorf("expected empty source list, got %s", b)
	}
}

func TestQueryErrors(t *testing.T) {
	failPP := postprocess.Func(func(context.Context, []index.NodeWithScore, string) ([]index.NodeWithScore, error) {
		return nil, errors.New("bad node")
	})
	tests := []struct {
		name string
		r    *mockRetriever
		s    *mockSynth
		opts Options
		want string
	}{
		{"retrieve", &mockRetriever{err: errors.New("store down")}, &mockSynth{}, DefaultOptions(), "query: retrieve: store down"},
		{"postprocess", &mockRetriever{nodes: sentenceNodes()}, &mockSynth{}, Options{Postprocessors: []postprocess.NodePostprocessor{failPP}}, "query: postprocess: bad node"},
		{"synthesize", &mockRetriever{nodes: sentenceNodes()}, &mockSynth{err: errors.New("circuit breaker is open")}, DefaultOptions(), "query: synthesize: circuit breaker is open"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.r, tt.s, tt.opts).Query(context.Background(), "q")
			if err == nil || err.Error() != tt.want {
				t.Fatalf("got %v, want %q", err, tt.want)
			}
		})
	}
}

func TestQuerySkipsSynthOnRetrieveError(t *testing.T) {
	s := &mockSynth{}
	_, _ = New(&mockRetriever{err: errors.New("x")}, s, DefaultOptions()).Query(context.Background(), "q")
	if s.query != "" {
		t.Fatal("synthesizer should not run after a failed retrieval")
	}
}

func TestFromIndexUsesTopK(t *testing.T) {
	store := &mockStore{}
	ix := index.New(store, mockEmbedder{vec: []float32{1}})
	e := FromIndex(ix, &mockSynth{}, DefaultOptions())
	if _, err := e.Query(context.Background(), "q"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.k != 3 {
		t.Fatalf("expected top-k 3, got %d", store.k)
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.SimilarityTopK != 3 {
		t.Fatalf("wrong default top-k %d", opts.SimilarityTopK)
	}
	if len(opts.Postprocessors) != 1 {
		t.Fatalf("expected one postprocessor, got %d", len(opts.Postprocessors))
	}
	mr, ok := opts.Postprocessors[0].(postprocess.MetadataReplacement)
	if !ok || mr.TargetKey != "window" {
		t.Fatalf("unexpected postprocessor %#v", opts.Postprocessors[0])
	}
}

func TestNewNilLogger(t *testing.T) {
	e := New(&mockRetriever{}, &mockSynth{}, Options{})
	if e.logger == nil {
		t.Fatal("logger should default to slog.Default()")
	}
}
