package metrics

import (
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCounterIsSharedByName(t *testing.T) {
	r := New()
	c := r.Counter("ingest_docs_total", "Documents ingested")
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Fatalf("expected 5, got %d", c.Value())
	}
	if r.Counter("ingest_docs_total", "") != c {
		t.Fatal("expected the same counter for the same name")
	}
	if r.Counter(WithLabels("ingest_docs_total", "source", "nats"), "") == c {
		t.Fatal("labelled series should be distinct")
	}
}

func TestGaugeArithmetic(t *testing.T) {
	g := New().Gauge("breaker_state", "")
	g.Set(42)
	g.Inc()
	g.Inc()
	g.Dec()
	if g.Value() != 43 {
		t.Fatalf("expected 43, got %g", g.Value())
	}
	g.Add(-44.5)
	if g.Value() != -1.5 {
		t.Fatalf("expected -1.5, got %g", g.Value())
	}
}

func TestGaugeConcurrentAdd(t *testing.T) {
	g := New().Gauge("inflight", "")
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Add(0.5)
		}()
	}
	wg.Wait()
	if g.Value() != 25 {
		t.Fatalf("expected 25, got %g", g.Value())
	}
}

func TestHistogramBucketsAreCumulative(t *testing.T) {
	h := New().Histogram("synth_seconds", "", []float64{1, 0.1, 0.5})
	for _, v := range []float64{0.05, 0.1, 0.3, 0.8, 2} {
		h.Observe(v)
	}
	st := h.state()
	want := []uint64{2, 3, 4}
	for i, b := range []float64{0.1, 0.5, 1} {
		if st.bounds[i] != b {
			t.Fatalf("bounds not sorted: %v", st.bounds)
		}
		if st.cumulative[i] != want[i] {
			t.Errorf("le=%g: expected %d, got %d", b, want[i], st.cumulative[i])
		}
	}
	if st.count != 5 || math.Abs(st.sum-3.25) > 1e-9 {
		t.Errorf("count=%d sum=%g", st.count, st.sum)
	}
}

func TestHistogramSince(t *testing.T) {
	h := New().Histogram("latency_seconds", "", nil)
	h.Since(time.Now().Add(-100 * time.Millisecond))
	st := h.state()
	if st.count != 1 || st.sum < 0.1 {
		t.Fatalf("unexpected state %+v", st)
	}
	if len(st.bounds) != len(DefaultBuckets) {
		t.Errorf("expected default buckets, got %v", st.bounds)
	}
}

func TestKindConflictPanics(t *testing.T) {
	r := New()
	r.Counter("nodes", "")
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	r.Gauge(WithLabels("nodes", "backend", "local"), "")
}

func TestWithLabels(t *testing.T) {
	tests := []struct {
		kvs  []string
		want string
	}{
		{[]string{"status", "200", "backend", "local"}, `queries_total{status="200",backend="local"}`},
		{nil, "queries_total"},
		{[]string{"status"}, "queries_total"},
		{[]string{"path", `/a"b`}, `queries_total{path="/a\"b"}`},
	}
	for _, tt := range tests {
		if got := WithLabels("queries_total", tt.kvs...); got != tt.want {
			t.Errorf("WithLabels(%q) = %q, want %q", tt.kvs, got, tt.want)
		}
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct{ in, base, labels string }{
		{"foo_total", "foo_total", ""},
		{`foo_total{k="v"}`, "foo_total", `k="v"`},
		{`foo{a="1",b="2"}`, "foo", `a="1",b="2"`},
		{"foo{", "foo{", ""},
	}
	for _, tt := range tests {
		base, labels := splitName(tt.in)
		if base != tt.base || labels != tt.labels {
			t.Errorf("splitName(%q) = %q, %q", tt.in, base, labels)
		}
	}
}

func TestRender(t *testing.T) {
	r := New()
	r.Counter("requests_total", "Total requests").Add(10)
	r.Counter(WithLabels("requests_total", "method", "GET"), "").Add(7)
	r.Gauge("index_nodes", "Nodes loaded").Set(5)
	r.Gauge("ratio", "").Set(0.25)
	h := r.Histogram(WithLabels("request_duration_seconds", "path", "/query"), "Request latency", []float64{0.1, 0.5})
	h.Observe(0.05)
	h.Observe(0.3)

	out := render(t, r)
	for _, want := range []string{
		"# HELP requests_total Total requests\n# TYPE requests_total counter\nrequests_total 10\n",
		`requests_total{method="GET"} 7`,
		"# TYPE index_nodes gauge\nindex_nodes 5\n",
		"ratio 0.25\n",
		"# TYPE request_duration_seconds histogram",
		`request_duration_seconds_bucket{le="0.1",path="/query"} 1`,
		`request_duration_seconds_bucket{le="0.5",path="/query"} 2`,
		`request_duration_seconds_bucket{le="+Inf",path="/query"} 2`,
		`request_duration_seconds_count{path="/query"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "# HELP ratio") {
		t.Error("families without help should have no HELP line")
	}
	if strings.Index(out, "requests_total") > strings.Index(out, "index_nodes") {
		t.Error("families should render in registration order")
	}
}

func render(t *testing.T, r *Registry) string {
	t.Helper()
	var b strings.Builder
	if _, err := r.WriteTo(&b); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return b.String()
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteTo(t *testing.T) {
	r := New()
	r.Counter("ingest_nodes_total", "").Add(12)

	var b strings.Builder
	n, err := r.WriteTo(&b)
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if int(n) != b.Len() || !strings.Contains(b.String(), "ingest_nodes_total 12") {
		t.Errorf("n=%d len=%d out=%q", n, b.Len(), b.String())
	}

	if _, err := r.WriteTo(failingWriter{}); err == nil {
		t.Error("expected write error")
	}
}

func TestHandler(t *testing.T) {
	r := New()
	r.Counter("test_total", "test").Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Fatalf("unexpected content type: %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "test_total 1") {
		t.Error("missing metric in handler output")
	}
}
