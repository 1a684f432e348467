// Package metrics exposes the core's liveness/statistics surface
// (spec.md §6.1's network_info, §4.7's per-reason drop counters) as
// Prometheus collectors, grounded on the adred-codev-ws_poc and
// runZeroInc-sockstats repos' use of github.com/prometheus/client_golang
// for connection-layer instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/duskforge/netchan/pkg/neterr"
)

// Registry bundles every collector one server or client process
// registers once at startup.
type Registry struct {
	ConnectionsActive   prometheus.Gauge
	ConnectionsTotal    prometheus.Counter
	DisconnectsByReason *prometheus.CounterVec
	PacketsDropped      *prometheus.CounterVec
	BytesSent           prometheus.Counter
	BytesReceived       prometheus.Counter
	RTTSeconds          prometheus.Histogram
	PacketLoss          prometheus.Gauge
}

// NewRegistry builds and registers every collector against reg.
// Passing a fresh prometheus.NewRegistry() keeps test instances
// isolated from the global default registry.
func NewRegistry(reg prometheus.Registerer, namespace string) *Registry {
	r := &Registry{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections_active",
			Help: "Number of currently connected peers.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_total",
			Help: "Total handshakes that completed successfully.",
		}),
		DisconnectsByReason: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "disconnects_total",
			Help: "Disconnects, labeled by reason.",
		}, []string{"reason"}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_dropped_total",
			Help: "Inbound packets dropped, labeled by error kind.",
		}, []string{"kind"}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_sent_total",
			Help: "Total bytes written to the transport.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_received_total",
			Help: "Total bytes read from the transport.",
		}),
		RTTSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "rtt_seconds",
			Help:    "Per-connection RTT estimate at sample time.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		PacketLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "packet_loss_ratio",
			Help: "Most recently observed packet-loss EMA across connections.",
		}),
	}
	reg.MustRegister(
		r.ConnectionsActive, r.ConnectionsTotal, r.DisconnectsByReason,
		r.PacketsDropped, r.BytesSent, r.BytesReceived, r.RTTSeconds, r.PacketLoss,
	)
	return r
}

// RecordDrop increments the per-kind drop counter, per spec.md §4.7:
// "packet silently dropped; per-reason counters incremented."
func (r *Registry) RecordDrop(kind neterr.Kind) {
	r.PacketsDropped.WithLabelValues(kind.String()).Inc()
}
