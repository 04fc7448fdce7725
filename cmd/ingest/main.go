// Command ingest builds the sentence-window index served by the api command.
// It reads text documents from a directory, splits them into sentence nodes,
// embeds them and persists the stores to a directory. With -qdrant the nodes
// are also upserted into a Qdrant collection, and with -nats the command
// keeps consuming documents published to the ingest subject.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/firstaid-ai/firstaid-rag/engine/index"
	"github.com/firstaid-ai/firstaid-rag/engine/ingest"
	"github.com/firstaid-ai/firstaid-rag/pkg/fn"
	"github.com/firstaid-ai/firstaid-rag/pkg/llm"
	"github.com/firstaid-ai/firstaid-rag/pkg/metrics"
)

// Options holds the command line configuration.
type Options struct {
	DataDir     string
	PersistDir  string
	IndexID     string
	Extensions  []string
	WindowSize  int
	Workers     int
	RPS         float64
	Provider    string
	EmbedModel  string
	OpenAIKey   string
	OpenAIBase  string
	OllamaURL   string
	QdrantAddr  string
	Collection  string
	NATSURL     string
	MetricsFile string
	LogLevel    string
}

func parseFlags(args []string) (Options, error) {
	var o Options
	var exts string
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.StringVar(&o.DataDir, "dir", "./data", "directory of source documents")
	fs.StringVar(&o.PersistDir, "persist", envOr("INDEX_DIR", "./sentence_index"), "directory to write the index stores to; empty skips")
	fs.StringVar(&o.IndexID, "index-id", envOr("INDEX_ID", ""), "id of the persisted index; generated when empty")
	fs.StringVar(&exts, "ext", strings.Join(ingest.DefaultExtensions, ","), "comma-separated file extensions to read")
	fs.IntVar(&o.WindowSize, "window", ingest.DefaultWindowSize, "sentences on each side of a node's window")
	fs.IntVar(&o.Workers, "workers", ingest.DefaultWorkers, "concurrent embedding calls per document")
	fs.Float64Var(&o.RPS, "rps", 0, "max embedding calls per second; 0 disables throttling")
	fs.StringVar(&o.Provider, "provider", envOr("LLM_PROVIDER", "openai"), "embedding provider: openai or ollama")
	fs.StringVar(&o.EmbedModel, "embed-model", envOr("EMBED_MODEL", llm.DefaultEmbedModel), "embedding model")
	fs.StringVar(&o.OllamaURL, "ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
	fs.StringVar(&o.QdrantAddr, "qdrant", "", "Qdrant gRPC address; empty skips Qdrant")
	fs.StringVar(&o.Collection, "collection", envOr("QDRANT_COLLECTION", "sentence_index"), "Qdrant collection name")
	fs.StringVar(&o.NATSURL, "nats", "", "NATS URL; when set, keep consuming documents after the initial load")
	fs.StringVar(&o.MetricsFile, "metrics-file", "", "write ingest metrics in text exposition format to this file")
	fs.StringVar(&o.LogLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level")
	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	o.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	o.OpenAIBase = os.Getenv("OPENAI_BASE_URL")
	o.Extensions = splitList(exts)

	if o.PersistDir == "" && o.QdrantAddr == "" {
		return Options{}, fmt.Errorf("nothing to write: set -persist or -qdrant")
	}
	if o.NATSURL != "" && o.QdrantAddr == "" {
		return Options{}, fmt.Errorf("-nats requires -qdrant")
	}
	return o, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			if !strings.HasPrefix(p, ".") {
				p = "." + p
			}
			out = append(out, p)
		}
	}
	return out
}

func newEmbedder(o Options) (llm.Embedder, error) {
	var e llm.Embedder
	switch o.Provider {
	case "openai":
		e = llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:     o.OpenAIKey,
			BaseURL:    o.OpenAIBase,
			EmbedModel: o.EmbedModel,
		})
	case "ollama":
		e = llm.NewOllama(o.OllamaURL, "", o.EmbedModel)
	default:
		return nil, fmt.Errorf("unknown provider %q", o.Provider)
	}
	if o.RPS > 0 {
		e = llm.Throttle(e, rate.NewLimiter(rate.Limit(o.RPS), max(1, o.Workers)))
	}
	return e, nil
}

// ingestMetrics counts documents and nodes across a run.
type ingestMetrics struct {
	reg      *metrics.Registry
	docs     *metrics.Counter
	nodes    *metrics.Counter
	errors   *metrics.Counter
	duration *metrics.Histogram
}

func newIngestMetrics() *ingestMetrics {
	reg := metrics.New()
	return &ingestMetrics{
		reg:      reg,
		docs:     reg.Counter("firstaid_ingest_docs_total", "Documents ingested"),
		nodes:    reg.Counter("firstaid_ingest_nodes_total", "Sentence nodes stored"),
		errors:   reg.Counter("firstaid_ingest_errors_total", "Documents that failed the pipeline"),
		duration: reg.Histogram("firstaid_ingest_pipeline_duration_seconds", "Per-document pipeline time", nil),
	}
}

// report summarizes one directory build.
type report struct {
	Docs    int
	Nodes   int
	Errors  int
	IndexID string
}

// build runs every document under o.DataDir through the pipeline into the
// given sinks and persists the builder, if any.
func build(ctx context.Context, o Options, embed llm.Embedder, builder *index.Builder, extra []ingest.Sink, met *ingestMetrics, log *slog.Logger) (report, error) {
	docs, err := ingest.LoadDir(o.DataDir, o.Extensions...)
	if err != nil {
		return report{}, err
	}
	log.Info("documents loaded", "dir", o.DataDir, "count", len(docs))

	sinks := append([]ingest.Sink(nil), extra...)
	if builder != nil {
		sinks = append(sinks, builder)
	}
	pipeline := ingest.NewPipeline(ingest.Deps{
		Embedder:   embed,
		Sinks:      sinks,
		WindowSize: o.WindowSize,
		Workers:    o.Workers,
		Retry:      fn.DefaultRetry,
		Logger:     log,
	})

	var rep report
	for _, doc := range docs {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		start := time.Now()
		n, err := pipeline(ctx, doc).Unwrap()
		met.duration.Since(start)
		if err != nil {
			met.errors.Inc()
			rep.Errors++
			log.Error("pipeline error", "doc_id", doc.ID, "error", err)
			continue
		}
		met.docs.Inc()
		met.nodes.Add(int64(n))
		rep.Docs++
		rep.Nodes += n
		log.Info("document indexed", "doc_id", doc.ID, "nodes", n)
	}

	if builder != nil && o.PersistDir != "" {
		if builder.Len() == 0 {
			return rep, fmt.Errorf("no nodes to persist from %s", o.DataDir)
		}
		id, err := builder.Persist(o.PersistDir, o.IndexID)
		if err != nil {
			return rep, err
		}
		rep.IndexID = id
		log.Info("index persisted", "dir", o.PersistDir, "index_id", id, "nodes", builder.Len())
	}
	return rep, nil
}

func writeMetrics(path string, met *ingestMetrics) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("metrics file: %w", err)
	}
	if _, err := met.reg.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("metrics file: %w", err)
	}
	return f.Close()
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(o.LogLevel)}))
	slog.SetDefault(log)

	if err := run(o, log); err != nil {
		log.Error("ingest failed", "error", err)
		os.Exit(1)
	}
}

func run(o Options, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	embed, err := newEmbedder(o)
	if err != nil {
		return err
	}
	met := newIngestMetrics()
	defer func() {
		if err := writeMetrics(o.MetricsFile, met); err != nil {
			log.Warn("write metrics", "error", err)
		}
	}()

	var extra []ingest.Sink
	if o.QdrantAddr != "" {
		qs, err := index.NewQdrantStore(o.QdrantAddr, o.Collection)
		if err != nil {
			return err
		}
		defer qs.Close()
		extra = append(extra, qs)
		log.Info("writing to qdrant", "addr", o.QdrantAddr, "collection", o.Collection)
	}

	var builder *index.Builder
	if o.PersistDir != "" {
		builder = index.NewBuilder()
	}

	rep, err := build(ctx, o, embed, builder, extra, met, log)
	if err != nil {
		return err
	}
	log.Info("ingest complete", "docs", rep.Docs, "nodes", rep.Nodes, "errors", rep.Errors, "index_id", rep.IndexID)

	if o.NATSURL == "" {
		return nil
	}

	// Live mode writes to Qdrant only; the persisted stores are a snapshot.
	nc, err := nats.Connect(o.NATSURL, nats.Name("firstaid-ingest"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()
	sub, err := ingest.StartConsumer(ctx, nc, ingest.Deps{
		Embedder:   embed,
		Sinks:      extra,
		WindowSize: o.WindowSize,
		Workers:    o.Workers,
		Retry:      fn.DefaultRetry,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", ingest.IngestSubject, err)
	}
	defer sub.Unsubscribe()
	log.Info("consuming documents", "subject", ingest.IngestSubject)

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
