// Package ingest builds the sentence-window index the query service reads.
// Documents run through validation, sentence splitting, window node
// construction, embedding and storage stages.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/firstaid-ai/firstaid-rag/engine/domain"
	"github.com/firstaid-ai/firstaid-rag/engine/index"
	"github.com/firstaid-ai/firstaid-rag/pkg/fn"
	"github.com/firstaid-ai/firstaid-rag/pkg/llm"
	"github.com/nats-io/nats.go"
)

const (
	// IngestSubject is the NATS subject for documents to index.
	IngestSubject = "firstaid.ingest"
	// DLQSubject receives documents that failed MaxRetries times.
	DLQSubject = "firstaid.ingest.dlq"
	// MaxRetries before sending to DLQ.
	MaxRetries = 3
	// DefaultWorkers bounds concurrent embedding calls per document.
	DefaultWorkers = 4
)

// Sink receives embedded nodes. index.Builder and index.QdrantStore both
// implement it.
type Sink interface {
	Add(ctx context.Context, nodes []index.EmbeddedNode) error
}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Embedder   llm.Embedder
	Sinks      []Sink
	WindowSize int
	Workers    int
	// Retry applies to each embedding call. Zero MaxAttempts means one try.
	Retry  fn.RetryOpts
	Logger *slog.Logger
}

// --- Pipeline Stages ---

// Validate rejects documents without an id or without any text.
var Validate fn.Stage[Document, Document] = func(_ context.Context, doc Document) fn.Result[Document] {
	if doc.ID == "" {
		return fn.Err[Document](domain.NewValidationError("id", domain.ErrMissingField))
	}
	if strings.TrimSpace(doc.Text) == "" {
		return fn.Err[Document](domain.NewValidationError("text", domain.ErrMissingField))
	}
	return fn.Ok(doc)
}

// Parse splits a document into sentences.
var Parse fn.Stage[Document, ParsedDoc] = func(_ context.Context, doc Document) fn.Result[ParsedDoc] {
	return fn.Ok(ParsedDoc{Document: doc, Sentences: splitSentences(doc.Text)})
}

// NewWindow creates a stage that turns sentences into window nodes.
func NewWindow(size int) fn.Stage[ParsedDoc, NodedDoc] {
	return func(_ context.Context, doc ParsedDoc) fn.Result[NodedDoc] {
		return fn.Ok(NodedDoc{ParsedDoc: doc, Nodes: windowNodes(doc.Document, doc.Sentences, size)})
	}
}

// NewEmbed creates a stage that embeds each node's embedding view with
// bounded concurrency, retrying each call per opts.
func NewEmbed(e llm.Embedder, workers int, opts fn.RetryOpts) fn.Stage[NodedDoc, EmbeddedDoc] {
	embedNode := fn.RetryStage[index.Node, []float32](opts, func(ctx context.Context, n index.Node) fn.Result[[]float32] {
		vec, err := e.Embed(ctx, n.Content(index.MetadataModeEmbed))
		if err != nil {
			return fn.Err[[]float32](fmt.Errorf("embed node %s: %w", n.ID, err))
		}
		if len(vec) == 0 {
			return fn.Errf[[]float32]("embed node %s: empty embedding", n.ID)
		}
		return fn.Ok(vec)
	})
	batch := fn.BatchStage(workers, embedNode)

	return func(ctx context.Context, doc NodedDoc) fn.Result[EmbeddedDoc] {
		vecs, err := batch(ctx, doc.Nodes).Unwrap()
		if err != nil {
			return fn.Err[EmbeddedDoc](err)
		}
		return fn.Ok(EmbeddedDoc{NodedDoc: doc, Embeddings: vecs})
	}
}

// NewStore creates a stage that writes nodes to every sink in order and
// yields the number of nodes stored.
func NewStore(sinks ...Sink) fn.Stage[EmbeddedDoc, int] {
	return func(ctx context.Context, doc EmbeddedDoc) fn.Result[int] {
		nodes := doc.embeddedNodes()
		for _, s := range sinks {
			if err := s.Add(ctx, nodes); err != nil {
				return fn.Err[int](fmt.Errorf("store %s: %w", doc.ID, err))
			}
		}
		return fn.Ok(len(nodes))
	}
}

// LoggedTap returns a stage that logs entry/exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Debug("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Debug("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

// NewPipeline constructs the full ingestion pipeline with all stages wired.
func NewPipeline(deps Deps) fn.Stage[Document, int] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	size := deps.WindowSize
	if size <= 0 {
		size = DefaultWindowSize
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	// Validate → Parse → Window → Embed → Store, with logging taps.
	validated := fn.Then(LoggedTap[Document]("validate", log), Validate)
	parsed := fn.Then(validated, fn.Then(LoggedTap[Document]("parse", log), Parse))
	windowed := fn.Then(parsed, fn.Then(LoggedTap[ParsedDoc]("window", log), NewWindow(size)))
	embedded := fn.Then(windowed, fn.Then(LoggedTap[NodedDoc]("embed", log), NewEmbed(deps.Embedder, workers, deps.Retry)))
	stored := fn.Then(embedded, fn.Then(LoggedTap[EmbeddedDoc]("store", log), NewStore(deps.Sinks...)))

	return fn.TracedStage("ingest.document", stored)
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Document Document `json:"document"`
	Error    string   `json:"error"`
	Retries  int      `json:"retries"`
}

// StartConsumer subscribes to IngestSubject and runs every received
// document through the pipeline. Failed documents are republished with an
// incremented X-Retry-Count header until MaxRetries, then sent to
// DLQSubject.
func StartConsumer(ctx context.Context, nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	pipeline := NewPipeline(deps)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(IngestSubject, func(msg *nats.Msg) {
		var doc Document
		if err := json.Unmarshal(msg.Data, &doc); err != nil {
			log.Error("ingest: unmarshal failed", "error", err)
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				retries, _ = strconv.Atoi(v)
			}
		}

		n, err := pipeline(ctx, doc).Unwrap()
		if err == nil {
			log.Info("ingest: success", "doc_id", doc.ID, "nodes", n)
			return
		}

		retries++
		log.Error("ingest: pipeline failed", "error", err, "doc_id", doc.ID, "retry", retries)
		if retries >= MaxRetries {
			data, _ := json.Marshal(dlqMessage{Document: doc, Error: err.Error(), Retries: retries})
			if err := nc.Publish(DLQSubject, data); err != nil {
				log.Error("ingest: DLQ publish failed", "error", err)
			}
			return
		}

		retryMsg := nats.NewMsg(IngestSubject)
		retryMsg.Data = msg.Data
		retryMsg.Header.Set("X-Retry-Count", strconv.Itoa(retries))
		if err := nc.PublishMsg(retryMsg); err != nil {
			log.Error("ingest: retry publish failed", "error", err)
		}
	})
}
