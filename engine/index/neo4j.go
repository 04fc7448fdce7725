package index

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

const neo4jQueryCypher = `CALL db.index.vector.queryNodes($index, $k, $embedding)
YIELD node, score
RETURN node, score`

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// neo4jSessionAdapter adapts neo4j.SessionWithContext to the runner interface.
type neo4jSessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *neo4jSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *neo4jSessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

// Neo4jStore queries a Neo4j vector index over chunk nodes.
type Neo4jStore struct {
	driver     neo4j.DriverWithContext
	indexName  string
	textKey    string
	newSession func(ctx context.Context) runner // for testing
}

// NewNeo4jStore creates a store that queries the named vector index.
func NewNeo4jStore(driver neo4j.DriverWithContext, indexName string) *Neo4jStore {
	return &Neo4jStore{driver: driver, indexName: indexName, textKey: "text"}
}

func (s *Neo4jStore) session(ctx context.Context) runner {
	if s.newSession != nil {
		return s.newSession(ctx)
	}
	return &neo4jSessionAdapter{sess: s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})}
}

// Query implements VectorStore.
func (s *Neo4jStore) Query(ctx context.Context, embedding []float32, topK int) ([]NodeWithScore, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	vec := make([]float64, len(embedding))
	for i, v := range embedding {
		vec[i] = float64(v)
	}
	res, err := sess.Run(ctx, neo4jQueryCypher, map[string]any{
		"index":     s.indexName,
		"k":         topK,
		"embedding": vec,
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j vector query: %w", err)
	}

	var out []NodeWithScore
	for res.Next(ctx) {
		nws, err := s.fromRecord(res.Record())
		if err != nil {
			return nil, fmt.Errorf("neo4j vector query: %w", err)
		}
		out = append(out, nws)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("neo4j vector query: %w", err)
	}
	return out, nil
}

func (s *Neo4jStore) fromRecord(rec *neo4j.Record) (NodeWithScore, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "node")
	if err != nil {
		return NodeWithScore{}, err
	}
	score, _, err := neo4j.GetRecordValue[float64](rec, "score")
	if err != nil {
		return NodeWithScore{}, err
	}

	props := make(map[string]any, len(node.Props))
	for k, v := range node.Props {
		if k == "embedding" {
			continue
		}
		props[k] = v
	}
	id, _ := props["id"].(string)
	if id == "" {
		id = node.ElementId
	}
	delete(props, "id")

	n, err := nodeFromPayload(id, props, s.textKey)
	if err != nil {
		return NodeWithScore{}, err
	}
	return NodeWithScore{Node: n, Score: score}, nil
}
