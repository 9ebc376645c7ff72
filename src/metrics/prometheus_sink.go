package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "market_stream"

// Counter names understood by the sink. Anything else lands in market_stream_events_total{name}.
const (
	ConnectionsAccepted = "connections_accepted"
	ConnectionsRejected = "connections_rejected"
	ConnectionsClosed   = "connections_closed"
	ActiveConnections   = "active_connections"
	MessagesSent        = "messages_sent"
	MessagesFailed      = "messages_failed"
	CacheHits           = "cache_hits"
	CacheMisses         = "cache_misses"
	FetchErrors         = "fetch_errors"
	Ticks               = "ticks"
	TickErrors          = "tick_errors"
	ProtocolErrors      = "protocol_errors"
)

// -----------------------------------------------------------------------------

// PrometheusSink implements interfaces.IMetricsSink on a private registry.
type PrometheusSink struct {
	registry *prometheus.Registry
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	events   *prometheus.CounterVec

	mu     sync.Mutex
	totals map[string]float64
}

// -----------------------------------------------------------------------------

func NewPrometheusSink() *PrometheusSink {
	s := &PrometheusSink{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
		totals:   make(map[string]float64),
	}

	help := map[string]string{
		ConnectionsAccepted: "Client connections admitted by the registry",
		ConnectionsRejected: "Client connections refused because the ceiling was reached",
		ConnectionsClosed:   "Client connections removed for any reason",
		MessagesSent:        "Messages delivered to clients",
		MessagesFailed:      "Messages whose send failed or timed out",
		CacheHits:           "Data cache lookups served from either tier",
		CacheMisses:         "Data cache lookups that missed both tiers",
		FetchErrors:         "Upstream fetches that failed, were rate limited or timed out",
		Ticks:               "Broadcast scheduler ticks completed",
		TickErrors:          "Broadcast scheduler ticks that failed",
		ProtocolErrors:      "Malformed or unknown inbound client messages",
	}
	for name, text := range help {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name + "_total",
			Help:      text,
		})
		s.registry.MustRegister(c)
		s.counters[name] = c
	}

	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      ActiveConnections,
		Help:      "Currently live client connections",
	})
	s.registry.MustRegister(active)
	s.gauges[ActiveConnections] = active

	s.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Other named events",
	}, []string{"name"})
	s.registry.MustRegister(s.events)

	return s
}

// -----------------------------------------------------------------------------

// Increment adds one to a counter, or to a gauge for gauge names.
func (s *PrometheusSink) Increment(name string) {
	s.add(name, 1)
}

// -----------------------------------------------------------------------------

// Decrement only applies to gauges; counters never go down.
func (s *PrometheusSink) Decrement(name string) {
	if _, ok := s.gauges[name]; !ok {
		return
	}
	s.add(name, -1)
}

// -----------------------------------------------------------------------------

func (s *PrometheusSink) add(name string, delta float64) {
	switch {
	case s.gauges[name] != nil:
		s.gauges[name].Add(delta)
	case s.counters[name] != nil:
		s.counters[name].Add(delta)
	default:
		s.events.WithLabelValues(name).Add(delta)
	}

	s.mu.Lock()
	s.totals[name] += delta
	s.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Snapshot returns the current value of every name seen so far.
func (s *PrometheusSink) Snapshot() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]float64, len(s.totals))
	for k, v := range s.totals {
		out[k] = v
	}
	return out
}

// -----------------------------------------------------------------------------

// Registry exposes the underlying registry (tests use it with testutil).
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

// -----------------------------------------------------------------------------

// Handler serves the registry in the Prometheus exposition format.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// -----------------------------------------------------------------------------

// Noop discards every update.
type Noop struct{}

func (Noop) Increment(string) {}
func (Noop) Decrement(string) {}
