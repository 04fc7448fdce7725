package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func builderNodes() []EmbeddedNode {
	return []EmbeddedNode{
		{
			Node: Node{
				ID:   "n-choke",
				Text: "Give five back blows.",
				Metadata: map[string]any{
					"window":        "Ask if they are choking. Give five back blows. Give five abdominal thrusts.",
					"original_text": "Give five back blows.",
					"file_path":     "choking.txt",
				},
				ExcludedEmbedMetadataKeys: []string{"window", "original_text"},
				ExcludedLLMMetadataKeys:   []string{"window", "original_text"},
			},
			Embedding: []float32{1, 0, 0},
			RefDocID:  "choking.txt",
		},
		{
			Node:      Node{ID: "n-burn", Text: "Cool the burn."},
			Embedding: []float32{0, 1, 0},
			RefDocID:  "burns.txt",
		},
	}
}

func TestBuilderPersistRoundTrip(t *testing.T) {
	b := NewBuilder()
	if err := b.Add(context.Background(), builderNodes()); err != nil {
		t.Fatalf("Add: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "sentence_index")
	id, err := b.Persist(dir, "")
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated index id")
	}

	sc, err := OpenStorage(dir)
	if err != nil {
		t.Fatalf("OpenStorage: %v", err)
	}
	if _, ok := sc.IndexStructs[id]; !ok {
		t.Fatalf("index %s missing from %v", id, sc.IndexStructs)
	}
	ix, err := LoadFromStorage(sc, &fixedEmbedder{vec: []float32{1, 0.1, 0}}, id)
	if err != nil {
		t.Fatalf("LoadFromStorage: %v", err)
	}
	if ix.Len() != 2 {
		t.Fatalf("expected 2 nodes, got %d", ix.Len())
	}

	got, err := ix.AsRetriever(1).Retrieve(context.Background(), "choking")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].Node.ID != "n-choke" {
		t.Fatalf("unexpected retrieval: %+v", got)
	}
	n := got[0].Node
	if n.Metadata["window"] != builderNodes()[0].Node.Metadata["window"] {
		t.Errorf("window metadata lost: %v", n.Metadata)
	}
	if want := "file_path: choking.txt\n\nGive five back blows."; n.Content(MetadataModeLLM) != want {
		t.Errorf("Content(LLM) = %q, want %q", n.Content(MetadataModeLLM), want)
	}
}

func TestBuilderPersistFixedID(t *testing.T) {
	b := NewBuilder()
	if err := b.Add(context.Background(), builderNodes()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	dir := t.TempDir()
	id, err := b.Persist(dir, "sentence")
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if id != "sentence" {
		t.Errorf("expected id sentence, got %s", id)
	}
	for _, name := range []string{DocStoreFile, VectorStoreFile, IndexStoreFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 3 {
		t.Errorf("expected only the three store files, got %d entries", len(entries))
	}
}

func TestBuilderAddReplacesByID(t *testing.T) {
	b := NewBuilder()
	ctx := context.Background()
	nodes := builderNodes()
	if err := b.Add(ctx, nodes); err != nil {
		t.Fatalf("Add: %v", err)
	}
	nodes[1].Node.Text = "Cool the burn under running water."
	if err := b.Add(ctx, nodes[1:]); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if b.Len() != 2 {
		t.Fatalf("expected 2 nodes, got %d", b.Len())
	}

	dir := t.TempDir()
	if _, err := b.Persist(dir, "idx"); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	sc, err := OpenStorage(dir)
	if err != nil {
		t.Fatalf("OpenStorage: %v", err)
	}
	ix, err := LoadFromStorage(sc, &fixedEmbedder{vec: []float32{0, 1, 0}}, "")
	if err != nil {
		t.Fatalf("LoadFromStorage: %v", err)
	}
	got, err := ix.AsRetriever(1).Retrieve(ctx, "burn")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got[0].Node.Text != "Cool the burn under running water." {
		t.Errorf("expected replaced text, got %q", got[0].Node.Text)
	}
}

func TestBuilderAddRejectsIncompleteNodes(t *testing.T) {
	b := NewBuilder()
	ctx := context.Background()
	if err := b.Add(ctx, []EmbeddedNode{{Embedding: []float32{1}}}); err == nil {
		t.Error("expected error for node without id")
	}
	if err := b.Add(ctx, []EmbeddedNode{{Node: Node{ID: "x"}}}); err == nil {
		t.Error("expected error for node without embedding")
	}
	if b.Len() != 0 {
		t.Errorf("expected empty builder, got %d", b.Len())
	}
}

func TestNodeHashStable(t *testing.T) {
	a := Node{Text: "x", Metadata: map[string]any{"b": "2", "a": "1"}}
	b := Node{Text: "x", Metadata: map[string]any{"a": "1", "b": "2"}}
	if nodeHash(a) != nodeHash(b) {
		t.Error("hash depends on map order")
	}
	b.Text = "y"
	if nodeHash(a) == nodeHash(b) {
		t.Error("hash ignores text")
	}
}
