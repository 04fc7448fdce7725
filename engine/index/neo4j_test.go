package index

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

type fakeResult struct {
	records []*neo4j.Record
	pos     int
	err     error
}

func (f *fakeResult) Next(context.Context) bool {
	if f.pos >= len(f.records) {
		return false
	}
	f.pos++
	return true
}

func (f *fakeResult) Record() *neo4j.Record { return f.records[f.pos-1] }
func (f *fakeResult) Err() error            { return f.err }

type fakeRunner struct {
	res        *fakeResult
	runErr     error
	lastCypher string
	lastParams map[string]any
	closed     bool
}

func (f *fakeRunner) Run(_ context.Context, cypher string, params map[string]any) (result, error) {
	f.lastCypher, f.lastParams = cypher, params
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.res, nil
}

func (f *fakeRunner) Close(context.Context) error {
	f.closed = true
	return nil
}

func chunkRecord(props map[string]any, score float64) *neo4j.Record {
	return &neo4j.Record{
		Keys:   []string{"node", "score"},
		Values: []any{dbtype.Node{ElementId: "4:abc:1", Labels: []string{"Chunk"}, Props: props}, score},
	}
}

func newTestNeo4jStore(r *fakeRunner) *Neo4jStore {
	s := NewNeo4jStore(nil, "vector")
	s.newSession = func(context.Context) runner { return r }
	return s
}

func TestNeo4jQuery(t *testing.T) {
	r := &fakeRunner{res: &fakeResult{records: []*neo4j.Record{
		chunkRecord(map[string]any{
			"id":        "n-1",
			"text":      "Apply firm pressure.",
			"embedding": []float64{0.1, 0.2},
			"window":    "Apply firm pressure to the wound with a clean cloth.",
		}, 0.88),
		chunkRecord(map[string]any{"text": "Raise the legs."}, 0.4),
	}}}
	store := newTestNeo4jStore(r)

	nodes, err := store.Query(context.Background(), []float32{0.5, 0.25}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.closed {
		t.Error("session not closed")
	}
	if r.lastParams["index"] != "vector" || r.lastParams["k"] != 3 {
		t.Errorf("unexpected params: %v", r.lastParams)
	}
	if vec, ok := r.lastParams["embedding"].([]float64); !ok || len(vec) != 2 || vec[1] != 0.25 {
		t.Errorf("unexpected embedding param: %v", r.lastParams["embedding"])
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}

	n := nodes[0]
	if n.Node.ID != "n-1" || n.Node.Text != "Apply firm pressure." || n.Score != 0.88 {
		t.Errorf("unexpected node: %+v", n)
	}
	if _, ok := n.Node.Metadata["embedding"]; ok {
		t.Error("embedding leaked into metadata")
	}
	if _, ok := n.Node.Metadata["id"]; ok {
		t.Error("id leaked into metadata")
	}
	if n.Node.Metadata["window"] == nil {
		t.Error("window metadata missing")
	}
	if nodes[1].Node.ID != "4:abc:1" {
		t.Errorf("expected element id fallback, got %q", nodes[1].Node.ID)
	}
}

func TestNeo4jQueryRunError(t *testing.T) {
	store := newTestNeo4jStore(&fakeRunner{runErr: errors.New("no such index")})
	if _, err := store.Query(context.Background(), []float32{1}, 3); err == nil {
		t.Fatal("expected error")
	}
}

func TestNeo4jQueryResultError(t *testing.T) {
	store := newTestNeo4jStore(&fakeRunner{res: &fakeResult{err: errors.New("stream broken")}})
	if _, err := store.Query(context.Background(), []float32{1}, 3); err == nil {
		t.Fatal("expected error")
	}
}

func TestNeo4jQueryBadRecord(t *testing.T) {
	bad := &neo4j.Record{Keys: []string{"node", "score"}, Values: []any{"not a node", 0.1}}
	store := newTestNeo4jStore(&fakeRunner{res: &fakeResult{records: []*neo4j.Record{bad}}})
	if _, err := store.Query(context.Background(), []float32{1}, 3); err == nil {
		t.Fatal("expected error for malformed record")
	}
}
