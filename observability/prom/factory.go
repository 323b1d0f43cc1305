// Package prom backs observability.MetricFactory with Prometheus
// collectors.
package prom

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/DimensionCoin/credits/observability"
)

var _ observability.MetricFactory = (*Factory)(nil)

// DefaultBuckets suits credit amounts, which are small integers.
var DefaultBuckets = []float64{1, 2, 5, 10, 20, 50, 100, 200}

// Factory creates and registers collectors on first use. Asking for the
// same name twice returns the same collector.
type Factory struct {
	reg     prometheus.Registerer
	buckets []float64

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	histograms map[string]prometheus.Histogram
}

// NewFactory returns a factory registering on reg.
func NewFactory(reg prometheus.Registerer) *Factory {
	return &Factory{
		reg:        reg,
		buckets:    DefaultBuckets,
		counters:   make(map[string]prometheus.Counter),
		histograms: make(map[string]prometheus.Histogram),
	}
}

// Counter returns the counter for a dotted metric name. Dots become
// underscores and a _total suffix is added.
func (f *Factory) Counter(name string) observability.Counter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricName(name) + "_total",
		Help: "Count of " + name + ".",
	})
	f.reg.MustRegister(c)
	f.counters[name] = c
	return c
}

// Histogram returns the histogram for a dotted metric name.
func (f *Factory) Histogram(name string) observability.Histogram {
	f.mu.Lock()
	defer f.mu.Unlock()

	if h, ok := f.histograms[name]; ok {
		return h
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    MetricName(name),
		Help:    "Distribution of " + name + ".",
		Buckets: f.buckets,
	})
	f.reg.MustRegister(h)
	f.histograms[name] = h
	return h
}

// MetricName converts a dotted name into a valid Prometheus metric name.
func MetricName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
