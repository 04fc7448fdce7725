package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PGVectorStore queries a pgvector table laid out as data_<table> with
// columns node_id, text, metadata_ and embedding.
type PGVectorStore struct {
	db    *sql.DB
	query string
}

// NewPGVectorStore opens a connection with lib/pq and prepares the
// similarity query for table.
func NewPGVectorStore(conn, table string) (*PGVectorStore, error) {
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("index: invalid pgvector table name %q", table)
	}
	db, err := sql.Open("postgres", conn)
	if err != nil {
		return nil, fmt.Errorf("index: open postgres: %w", err)
	}
	return &PGVectorStore{db: db, query: pgQuery(table)}, nil
}

func pgQuery(table string) string {
	return fmt.Sprintf(`SELECT node_id, text, metadata_, embedding <=> $1::vector AS distance
FROM %s
ORDER BY distance ASC
LIMIT $2`, pq.QuoteIdentifier("data_"+strings.ToLower(table)))
}

// Ping verifies the database is reachable.
func (s *PGVectorStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("index: ping postgres: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *PGVectorStore) Close() error {
	return s.db.Close()
}

// Query implements VectorStore. Scores are cosine similarities, 1 - distance.
func (s *PGVectorStore) Query(ctx context.Context, embedding []float32, topK int) ([]NodeWithScore, error) {
	rows, err := s.db.QueryContext(ctx, s.query, vectorLiteral(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector query: %w", err)
	}
	defer rows.Close()

	var out []NodeWithScore
	for rows.Next() {
		nws, err := nodeFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		out = append(out, nws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector query: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nodeFromRow(row rowScanner) (NodeWithScore, error) {
	var (
		id       string
		text     string
		meta     []byte
		distance float64
	)
	if err := row.Scan(&id, &text, &meta, &distance); err != nil {
		return NodeWithScore{}, err
	}

	payload := map[string]any{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &payload); err != nil {
			return NodeWithScore{}, fmt.Errorf("decode metadata for %s: %w", id, err)
		}
	}
	payload["text"] = text
	n, err := nodeFromPayload(id, payload, "text")
	if err != nil {
		return NodeWithScore{}, err
	}
	return NodeWithScore{Node: n, Score: 1 - distance}, nil
}

// vectorLiteral renders v in pgvector's text input format.
func vectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
