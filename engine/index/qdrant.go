package index

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// QdrantStore queries a Qdrant collection holding the indexed nodes.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string

	ensureMu sync.Mutex
	ensured  bool
}

// NewQdrantStore connects to Qdrant at the given gRPC address.
func NewQdrantStore(addr, collection string) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("index: dial qdrant %s: %w", addr, err)
	}
	return &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewQdrantStoreWithClients builds a store over existing clients.
func NewQdrantStoreWithClients(points pointsAPI, collections collectionsAPI, collection string) *QdrantStore {
	return &QdrantStore{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection, if the store owns one.
func (q *QdrantStore) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// CheckCollection verifies that the configured collection exists.
func (q *QdrantStore) CheckCollection(ctx context.Context) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("index: list qdrant collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}
	return fmt.Errorf("index: qdrant collection %q not found", q.collection)
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist yet.
func (q *QdrantStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("index: list qdrant collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("index: create qdrant collection %s: %w", q.collection, err)
	}
	return nil
}

// Add upserts nodes as points. Each payload carries the serialized node
// under "_node_content" next to its flattened metadata, which is the layout
// Query reads back. The collection is created on the first call.
func (q *QdrantStore) Add(ctx context.Context, nodes []EmbeddedNode) error {
	if len(nodes) == 0 {
		return nil
	}
	if err := q.ensureOnce(ctx, len(nodes[0].Embedding)); err != nil {
		return err
	}

	points := make([]*pb.PointStruct, len(nodes))
	for i, n := range nodes {
		content, err := json.Marshal(recordOf(n.Node))
		if err != nil {
			return fmt.Errorf("index: encode node %s: %w", n.Node.ID, err)
		}
		payload := make(map[string]*pb.Value, len(n.Node.Metadata)+5)
		for k, v := range n.Node.Metadata {
			payload[k] = toQdrantValue(v)
		}
		payload["_node_content"] = toQdrantValue(string(content))
		payload["_node_type"] = toQdrantValue("TextNode")
		payload["text"] = toQdrantValue(n.Node.Text)
		if n.RefDocID != "" {
			payload["doc_id"] = toQdrantValue(n.RefDocID)
			payload["ref_doc_id"] = toQdrantValue(n.RefDocID)
		}

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: n.Node.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: n.Embedding},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("index: upsert %d points: %w", len(points), err)
	}
	return nil
}

func (q *QdrantStore) ensureOnce(ctx context.Context, dims int) error {
	q.ensureMu.Lock()
	defer q.ensureMu.Unlock()
	if q.ensured {
		return nil
	}
	if err := q.EnsureCollection(ctx, dims); err != nil {
		return err
	}
	q.ensured = true
	return nil
}

// Query implements VectorStore.
func (q *QdrantStore) Query(ctx context.Context, embedding []float32, topK int) ([]NodeWithScore, error) {
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	out := make([]NodeWithScore, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		payload := make(map[string]any, len(r.GetPayload()))
		for k, v := range r.GetPayload() {
			payload[k] = qdrantValue(v)
		}
		n, err := nodeFromPayload(pointID(r.GetId()), payload, "text", "content")
		if err != nil {
			return nil, fmt.Errorf("qdrant search: %w", err)
		}
		out = append(out, NodeWithScore{Node: n, Score: float64(r.GetScore())})
	}
	return out, nil
}

func pointID(id *pb.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

// toQdrantValue converts a plain Go value into a payload value.
func toQdrantValue(v any) *pb.Value {
	switch tv := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: ValueString(tv)}}
	}
}

// qdrantValue converts a payload value into plain Go values.
func qdrantValue(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_StructValue:
		m := make(map[string]any, len(k.StructValue.GetFields()))
		for fk, fv := range k.StructValue.GetFields() {
			m[fk] = qdrantValue(fv)
		}
		return m
	case *pb.Value_ListValue:
		vals := k.ListValue.GetValues()
		l := make([]any, len(vals))
		for i, lv := range vals {
			l[i] = qdrantValue(lv)
		}
		return l
	default:
		return nil
	}
}
