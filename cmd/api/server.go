package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/firstaid-ai/firstaid-rag/engine/domain"
	"github.com/firstaid-ai/firstaid-rag/engine/prompt"
	"github.com/firstaid-ai/firstaid-rag/engine/query"
	"github.com/firstaid-ai/firstaid-rag/pkg/metrics"
	"github.com/firstaid-ai/firstaid-rag/pkg/mid"
	"github.com/firstaid-ai/firstaid-rag/pkg/natsutil"
)

// queryEngine answers a formatted query.
type queryEngine interface {
	Query(ctx context.Context, queryStr string) (*query.Response, error)
}

var errNotObject = errors.New("request body must be a JSON object")

type server struct {
	engine  queryEngine
	nodes   int
	events  *natsutil.Publisher[domain.QueryEvent]
	reg     *metrics.Registry
	queries *metrics.Query
	logger  *slog.Logger
}

func (s *server) routes(corsOrigin string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.reg.Handler())

	return mid.Chain(mux,
		mid.RequestID(),
		mid.Logger(s.logger),
		mid.Metrics(s.reg, mux),
		mid.Recover(s.logger),
		mid.CORS(corsOrigin),
		mid.OTel("firstaid-api"),
	)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "nodes": s.nodes})
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ev := domain.QueryEvent{ID: mid.RequestIDFrom(r.Context()), Status: http.StatusInternalServerError}
	defer func() {
		elapsed := time.Since(start)
		ev.DurationMS = elapsed.Milliseconds()
		s.queries.Observe(ev.Status, elapsed, ev.SourceCount)
		if err := s.events.Publish(r.Context(), ev); err != nil {
			s.logger.Warn("publish query event failed", "err", err)
		}
	}()

	fail := func(status int, err error) {
		ev.Status, ev.Error = status, err.Error()
		writeJSON(w, status, domain.ErrorResponse{Error: err.Error()})
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.logger.Error("error processing request", "err", err)
		fail(http.StatusInternalServerError, err)
		return
	}
	if body == nil {
		s.logger.Error("error processing request", "err", errNotObject)
		fail(http.StatusInternalServerError, errNotObject)
		return
	}
	s.logger.Debug("received data", "data", body)

	question, err := domain.QuestionFrom(body)
	if domain.IsMissingField(err) {
		ev.Status, ev.Error = http.StatusBadRequest, domain.MsgNoQuestion
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: domain.MsgNoQuestion})
		return
	}
	ev.QuestionLen = len(question)

	formatted := prompt.Format(question)
	s.logger.Debug("formatted query", "query", formatted)

	resp, err := s.engine.Query(r.Context(), formatted)
	if err != nil {
		s.logger.Error("error processing request", "err", err)
		fail(http.StatusInternalServerError, err)
		return
	}
	s.logger.Debug("sentence response", "response", resp.Response, "sources", len(resp.SourceNodes))

	ev.Status, ev.SourceCount = http.StatusOK, len(resp.SourceNodes)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
