package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// EmbeddedNode is a node ready to be written to a vector store.
type EmbeddedNode struct {
	Node      Node
	Embedding []float32
	// RefDocID is the id of the source document the node was split from.
	RefDocID string
}

// Builder collects embedded nodes in memory and persists them in the
// directory layout read by OpenStorage.
type Builder struct {
	mu    sync.Mutex
	nodes []EmbeddedNode
	pos   map[string]int
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{pos: make(map[string]int)}
}

// Add stores nodes, replacing any earlier node with the same id.
func (b *Builder) Add(_ context.Context, nodes []EmbeddedNode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, n := range nodes {
		if n.Node.ID == "" {
			return fmt.Errorf("index: add: node without id")
		}
		if len(n.Embedding) == 0 {
			return fmt.Errorf("index: add: node %s has no embedding", n.Node.ID)
		}
		if i, ok := b.pos[n.Node.ID]; ok {
			b.nodes[i] = n
			continue
		}
		b.pos[n.Node.ID] = len(b.nodes)
		b.nodes = append(b.nodes, n)
	}
	return nil
}

// Len returns the number of distinct nodes added.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.nodes)
}

type docEntryJSON struct {
	Data nodeRecord `json:"__data__"`
	Type string     `json:"__type__"`
}

type docMetaJSON struct {
	DocHash  string `json:"doc_hash"`
	RefDocID string `json:"ref_doc_id,omitempty"`
}

type indexEntryJSON struct {
	Type string `json:"__type__"`
	// Data holds the index struct as an encoded JSON string.
	Data string `json:"__data__"`
}

// textNodeType tags docstore entries holding text nodes.
const textNodeType = "1"

// Persist writes the docstore, vector store and index store files into dir
// and returns the id of the persisted index. A fresh id is generated when
// indexID is empty.
func (b *Builder) Persist(dir, indexID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if indexID == "" {
		indexID = uuid.NewString()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("index: persist: %w", err)
	}

	data := make(map[string]docEntryJSON, len(b.nodes))
	meta := make(map[string]docMetaJSON, len(b.nodes))
	embeddings := make(map[string][]float32, len(b.nodes))
	refDocs := make(map[string]string, len(b.nodes))
	nodesDict := make(map[string]string, len(b.nodes))
	for _, n := range b.nodes {
		id := n.Node.ID
		data[id] = docEntryJSON{Data: recordOf(n.Node), Type: textNodeType}
		meta[id] = docMetaJSON{DocHash: nodeHash(n.Node), RefDocID: n.RefDocID}
		embeddings[id] = n.Embedding
		if n.RefDocID != "" {
			refDocs[id] = n.RefDocID
		}
		nodesDict[id] = id
	}

	structData, err := json.Marshal(map[string]any{
		"index_id":   indexID,
		"summary":    nil,
		"nodes_dict": nodesDict,
	})
	if err != nil {
		return "", fmt.Errorf("index: persist: encode index struct: %w", err)
	}

	files := []struct {
		name string
		v    any
	}{
		{DocStoreFile, map[string]any{"docstore/data": data, "docstore/metadata": meta}},
		{VectorStoreFile, map[string]any{
			"embedding_dict":        embeddings,
			"text_id_to_ref_doc_id": refDocs,
			"metadata_dict":         map[string]any{},
		}},
		{IndexStoreFile, map[string]any{"index_store/data": map[string]indexEntryJSON{
			indexID: {Type: vectorStoreIndexType, Data: string(structData)},
		}}},
	}
	for _, f := range files {
		if err := writeJSON(filepath.Join(dir, f.name), f.v); err != nil {
			return "", err
		}
	}
	return indexID, nil
}

// nodeHash fingerprints a node's text and metadata.
func nodeHash(n Node) string {
	keys := make([]string, 0, len(n.Metadata))
	for k := range n.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	h.Write([]byte(n.Text))
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(ValueString(n.Metadata[k])))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeJSON encodes v into path through a temporary file so readers never
// observe a partial write.
func writeJSON(path string, v any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("index: create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if err := json.NewEncoder(tmp).Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("index: encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("index: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("index: rename %s: %w", path, err)
	}
	return nil
}
