package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/firstaid-ai/firstaid-rag/pkg/llm"
)

// Persisted file names inside a storage directory.
const (
	DocStoreFile    = "docstore.json"
	VectorStoreFile = "default__vector_store.json"
	IndexStoreFile  = "index_store.json"
)

const vectorStoreIndexType = "vector_store"

// StorageContext holds the stores read from a persist directory.
type StorageContext struct {
	PersistDir  string
	DocStore    *DocStore
	VectorStore *SimpleVectorStore
	// IndexStructs maps index id to its struct; nil when the directory has
	// no index_store.json.
	IndexStructs map[string]IndexStruct
}

// IndexStruct describes one index persisted in index_store.json.
type IndexStruct struct {
	ID   string
	Type string
	// NodesDict maps vector-store ids to docstore node ids.
	NodesDict map[string]string
}

type docStoreJSON struct {
	Data map[string]struct {
		Data json.RawMessage `json:"__data__"`
		Type string          `json:"__type__"`
	} `json:"docstore/data"`
}

type vectorStoreJSON struct {
	EmbeddingDict map[string][]float32 `json:"embedding_dict"`
}

type indexStoreJSON struct {
	Data map[string]struct {
		Type string          `json:"__type__"`
		Data json.RawMessage `json:"__data__"`
	} `json:"index_store/data"`
}

type indexDataJSON struct {
	IndexID   string            `json:"index_id"`
	NodesDict map[string]string `json:"nodes_dict"`
}

// OpenStorage reads the persisted stores from dir. The docstore and vector
// store files are required; the index store is optional.
func OpenStorage(dir string) (*StorageContext, error) {
	sc := &StorageContext{PersistDir: dir}

	var ds docStoreJSON
	if err := readJSON(filepath.Join(dir, DocStoreFile), &ds); err != nil {
		return nil, err
	}
	nodes := make([]Node, 0, len(ds.Data))
	for id, entry := range ds.Data {
		var rec nodeRecord
		if err := decodeNested(entry.Data, &rec); err != nil {
			return nil, fmt.Errorf("index: decode docstore node %s: %w", id, err)
		}
		// Entries are keyed by node id.
		rec.ID = id
		nodes = append(nodes, rec.node())
	}
	sc.DocStore = NewDocStore(nodes...)

	var vs vectorStoreJSON
	if err := readJSON(filepath.Join(dir, VectorStoreFile), &vs); err != nil {
		return nil, err
	}
	store, err := NewSimpleVectorStore(vs.EmbeddingDict)
	if err != nil {
		return nil, err
	}
	sc.VectorStore = store

	var is indexStoreJSON
	err = readJSON(filepath.Join(dir, IndexStoreFile), &is)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return sc, nil
	case err != nil:
		return nil, err
	}
	sc.IndexStructs = make(map[string]IndexStruct, len(is.Data))
	for id, entry := range is.Data {
		var data indexDataJSON
		if err := decodeNested(entry.Data, &data); err != nil {
			return nil, fmt.Errorf("index: decode index struct %s: %w", id, err)
		}
		sc.IndexStructs[id] = IndexStruct{ID: id, Type: entry.Type, NodesDict: data.NodesDict}
	}
	return sc, nil
}

func readJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("index: open %s: %w", path, err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("index: decode %s: %w", path, err)
	}
	return nil
}

// LoadFromStorage materializes the vector index persisted in sc. indexID
// selects an index when the storage holds several; it may be empty when
// there is at most one. Every embedded node must resolve in the docstore.
func LoadFromStorage(sc *StorageContext, embed llm.Embedder, indexID string) (*VectorIndex, error) {
	nodesDict, err := sc.nodesDict(indexID)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]Node, sc.VectorStore.Len())
	embeddings := make(map[string][]float32, sc.VectorStore.Len())
	for _, vecID := range sc.VectorStore.IDs() {
		nodeID := vecID
		if nodesDict != nil {
			mapped, ok := nodesDict[vecID]
			if !ok {
				continue
			}
			nodeID = mapped
		}
		n, ok := sc.DocStore.Get(nodeID)
		if !ok {
			return nil, fmt.Errorf("index: node %s not found in docstore", nodeID)
		}
		resolved[vecID] = n
		embeddings[vecID] = sc.VectorStore.vectors[vecID]
	}

	vectors, err := NewSimpleVectorStore(embeddings)
	if err != nil {
		return nil, err
	}
	return New(&localStore{vectors: vectors, nodes: resolved}, embed), nil
}

// nodesDict returns the vector id to node id mapping of the selected index
// struct, or nil when vector ids are node ids.
func (sc *StorageContext) nodesDict(indexID string) (map[string]string, error) {
	if sc.IndexStructs == nil {
		if indexID != "" {
			return nil, fmt.Errorf("index: index %q requested but %s has no %s", indexID, sc.PersistDir, IndexStoreFile)
		}
		return nil, nil
	}

	var st IndexStruct
	switch {
	case indexID != "":
		s, ok := sc.IndexStructs[indexID]
		if !ok {
			return nil, fmt.Errorf("index: index %q not found in %s", indexID, sc.PersistDir)
		}
		st = s
	case len(sc.IndexStructs) == 1:
		for _, s := range sc.IndexStructs {
			st = s
		}
	case len(sc.IndexStructs) == 0:
		return nil, fmt.Errorf("index: no index in %s", sc.PersistDir)
	default:
		return nil, fmt.Errorf("index: %d indexes in %s, an index id is required", len(sc.IndexStructs), sc.PersistDir)
	}

	if st.Type != vectorStoreIndexType {
		return nil, fmt.Errorf("index: index %s has type %q, want %q", st.ID, st.Type, vectorStoreIndexType)
	}
	// Stores written without a mapping key nodes by their own ids.
	if len(st.NodesDict) == 0 {
		return nil, nil
	}
	return st.NodesDict, nil
}
