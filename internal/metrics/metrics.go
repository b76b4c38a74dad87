// Package metrics exposes node counters for Prometheus scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "catalog"

// Metrics holds the collectors of a single node. Each node has its own
// registry so several nodes can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	sweeps        prometheus.Counter
	merged        prometheus.Counter
	peerFailures  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	ops           *prometheus.CounterVec
	degraded      *prometheus.CounterVec
}

// New creates and registers the collectors for nodeID. keys reports the
// number of keys in the replica.
func New(nodeID string, keys func() int) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"node": nodeID}

	m := &Metrics{
		registry: reg,
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "sync_sweeps_total",
			Help:        "Anti-entropy sweeps over the peer list.",
			ConstLabels: labels,
		}),
		merged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "merge_accepted_total",
			Help:        "Remote records accepted by the merge engine.",
			ConstLabels: labels,
		}),
		peerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "sync_peer_failures_total",
			Help:        "Snapshot fetches that failed, by peer.",
			ConstLabels: labels,
		}, []string{"peer"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "sync_fetch_duration_seconds",
			Help:        "Successful snapshot fetch and merge latency, by peer.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"peer"}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "operations_total",
			Help:        "Session reads and writes served.",
			ConstLabels: labels,
		}, []string{"type"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "guarantee_degraded_total",
			Help:        "Operations that proceeded before the replica met the session token.",
			ConstLabels: labels,
		}, []string{"type"}),
	}

	reg.MustRegister(m.sweeps, m.merged, m.peerFailures, m.fetchDuration, m.ops, m.degraded)
	if keys != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "keys",
			Help:        "Keys held by the local replica.",
			ConstLabels: labels,
		}, func() float64 { return float64(keys()) }))
	}
	return m
}

// PeerFetched records a successful pull from peer.
func (m *Metrics) PeerFetched(peer string, merged int, took time.Duration) {
	m.merged.Add(float64(merged))
	m.fetchDuration.WithLabelValues(peer).Observe(took.Seconds())
}

// PeerFailed records a failed pull from peer.
func (m *Metrics) PeerFailed(peer string, _ error) {
	m.peerFailures.WithLabelValues(peer).Inc()
}

// SweepDone records the end of a sweep.
func (m *Metrics) SweepDone(int) {
	m.sweeps.Inc()
}

// Operation records a served read or write.
func (m *Metrics) Operation(opType string, degraded bool) {
	m.ops.WithLabelValues(opType).Inc()
	if degraded {
		m.degraded.WithLabelValues(opType).Inc()
	}
}

// Handler serves the node's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
