// Package metrics is a small Prometheus-compatible registry. Metrics are
// grouped into families by base name; each labelled variant of a name is one
// series of its family. The registry renders the text exposition format for
// the api's /metrics route and for the ingest command's metrics file.
package metrics

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets are latency buckets in seconds, sized for LLM round trips.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// Counter is a monotonically increasing integer.
type Counter struct{ n atomic.Int64 }

func (c *Counter) Inc()         { c.n.Add(1) }
func (c *Counter) Add(n int64)  { c.n.Add(n) }
func (c *Counter) Value() int64 { return c.n.Load() }

// Gauge is a float value that can go up and down.
type Gauge struct{ bits atomic.Uint64 }

func (g *Gauge) Set(v float64) { g.bits.Store(math.Float64bits(v)) }
func (g *Gauge) Inc()          { g.Add(1) }
func (g *Gauge) Dec()          { g.Add(-1) }

// Add adds delta to the gauge.
func (g *Gauge) Add(delta float64) {
	for {
		old := g.bits.Load()
		if g.bits.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+delta)) {
			return
		}
	}
}

func (g *Gauge) Value() float64 { return math.Float64frombits(g.bits.Load()) }

// Histogram counts observations into cumulative upper-bound buckets.
type Histogram struct {
	mu         sync.Mutex
	bounds     []float64
	cumulative []uint64
	sum        float64
	count      uint64
}

func newHistogram(bounds []float64) *Histogram {
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	return &Histogram{bounds: b, cumulative: make([]uint64, len(b))}
}

// Observe records v in every bucket whose bound is >= v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := sort.SearchFloat64s(h.bounds, v); i < len(h.bounds); i++ {
		h.cumulative[i]++
	}
	h.sum += v
	h.count++
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) { h.Observe(time.Since(t).Seconds()) }

type histogramState struct {
	bounds     []float64
	cumulative []uint64
	sum        float64
	count      uint64
}

func (h *Histogram) state() histogramState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramState{
		bounds:     h.bounds,
		cumulative: append([]uint64(nil), h.cumulative...),
		sum:        h.sum,
		count:      h.count,
	}
}

// family is every series sharing one base name. Series are keyed by their
// label block without braces, "" for the unlabelled series.
type family struct {
	name   string
	help   string
	kind   kind
	series map[string]any
}

func (f *family) labelSets() []string {
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Registry holds metric families in registration order.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	order    []*family
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

// lookup returns the series for name, creating it with mk when absent.
// Registering one base name under two kinds is a programming error.
func (r *Registry) lookup(name, help string, k kind, mk func() any) any {
	base, labels := splitName(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[base]
	if !ok {
		f = &family{name: base, kind: k, series: make(map[string]any)}
		r.families[base] = f
		r.order = append(r.order, f)
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", base, f.kind, k))
	}
	if f.help == "" {
		f.help = help
	}
	s, ok := f.series[labels]
	if !ok {
		s = mk()
		f.series[labels] = s
	}
	return s
}

// Counter returns the counter for name, which may carry labels built by
// WithLabels. Repeated calls return the same counter.
func (r *Registry) Counter(name, help string) *Counter {
	return r.lookup(name, help, kindCounter, func() any { return &Counter{} }).(*Counter)
}

// Gauge returns the gauge for name.
func (r *Registry) Gauge(name, help string) *Gauge {
	return r.lookup(name, help, kindGauge, func() any { return &Gauge{} }).(*Gauge)
}

// Histogram returns the histogram for name. Nil buckets mean DefaultBuckets.
// Buckets are fixed by the first call for a given series.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	return r.lookup(name, help, kindHistogram, func() any { return newHistogram(buckets) }).(*Histogram)
}

// WithLabels appends a label block to name:
// WithLabels("queries_total", "status", "200") is `queries_total{status="200"}`.
// An odd number of kvs leaves name unchanged.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	pairs := make([]string, 0, len(kvs)/2)
	for i := 0; i < len(kvs); i += 2 {
		pairs = append(pairs, fmt.Sprintf("%s=%q", kvs[i], kvs[i+1]))
	}
	return name + "{" + strings.Join(pairs, ",") + "}"
}

func splitName(name string) (base, labels string) {
	i := strings.IndexByte(name, '{')
	if i < 0 || !strings.HasSuffix(name, "}") {
		return name, ""
	}
	return name[:i], name[i+1 : len(name)-1]
}

func braced(labels ...string) string {
	var parts []string
	for _, l := range labels {
		if l != "" {
			parts = append(parts, l)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// WriteTo writes every family in the text exposition format.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	r.mu.Lock()
	families := append([]*family(nil), r.order...)
	sets := make([][]string, len(families))
	series := make([][]any, len(families))
	for i, f := range families {
		sets[i] = f.labelSets()
		for _, l := range sets[i] {
			series[i] = append(series[i], f.series[l])
		}
	}
	r.mu.Unlock()

	cw := &countingWriter{w: bufio.NewWriter(w)}
	for i, f := range families {
		if f.help != "" {
			fmt.Fprintf(cw, "# HELP %s %s\n", f.name, f.help)
		}
		fmt.Fprintf(cw, "# TYPE %s %s\n", f.name, f.kind)
		for j, labels := range sets[i] {
			switch m := series[i][j].(type) {
			case *Counter:
				fmt.Fprintf(cw, "%s%s %d\n", f.name, braced(labels), m.Value())
			case *Gauge:
				fmt.Fprintf(cw, "%s%s %g\n", f.name, braced(labels), m.Value())
			case *Histogram:
				st := m.state()
				for k, bound := range st.bounds {
					fmt.Fprintf(cw, "%s_bucket%s %d\n", f.name, braced(fmt.Sprintf(`le="%g"`, bound), labels), st.cumulative[k])
				}
				fmt.Fprintf(cw, "%s_bucket%s %d\n", f.name, braced(`le="+Inf"`, labels), st.count)
				fmt.Fprintf(cw, "%s_sum%s %g\n", f.name, braced(labels), st.sum)
				fmt.Fprintf(cw, "%s_count%s %d\n", f.name, braced(labels), st.count)
			}
		}
	}
	if err := cw.w.Flush(); err != nil && cw.err == nil {
		cw.err = err
	}
	return cw.n, cw.err
}

type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}

// Handler serves the registry in the text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteTo(w)
	})
}
