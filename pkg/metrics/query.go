package metrics

import (
	"strconv"
	"time"
)

// Metric names exported by the query service.
const (
	QueriesTotal        = "firstaid_queries_total"
	QueryDuration       = "firstaid_query_duration_seconds"
	QuerySources        = "firstaid_query_source_nodes"
	IndexNodes          = "firstaid_index_nodes"
	LLMBreakerState     = "firstaid_llm_breaker_state"
	HTTPRequestsTotal   = "http_requests_total"
	HTTPRequestDuration = "http_request_duration_seconds"
)

// SourceBuckets bucket the number of nodes an answer was built from.
var SourceBuckets = []float64{0, 1, 2, 3, 5, 10}

// Query records the outcome of /query requests.
type Query struct {
	reg      *Registry
	duration *Histogram
	sources  *Histogram
	nodes    *Gauge
	breaker  *Gauge
}

// NewQuery registers the query metrics on reg.
func NewQuery(reg *Registry) *Query {
	return &Query{
		reg:      reg,
		duration: reg.Histogram(QueryDuration, "Time to answer a query, including retrieval and synthesis.", nil),
		sources:  reg.Histogram(QuerySources, "Number of source nodes per answered query.", SourceBuckets),
		nodes:    reg.Gauge(IndexNodes, "Nodes loaded into the local index, -1 for remote stores."),
		breaker:  reg.Gauge(LLMBreakerState, "LLM circuit breaker state: 0 closed, 1 open, 2 half-open."),
	}
}

// Observe records one query with its HTTP status.
func (q *Query) Observe(status int, d time.Duration, sources int) {
	q.reg.Counter(WithLabels(QueriesTotal, "status", strconv.Itoa(status)), "Queries by response status.").Inc()
	q.duration.Observe(d.Seconds())
	if status == 200 {
		q.sources.Observe(float64(sources))
	}
}

// SetIndexNodes records the loaded node count.
func (q *Query) SetIndexNodes(n int) { q.nodes.Set(float64(n)) }

// SetBreakerState records the breaker state as its numeric value.
func (q *Query) SetBreakerState(state int) { q.breaker.Set(float64(state)) }
