package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qbridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	quantumOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qbridge",
			Subsystem: "quantum",
			Name:      "operations_total",
			Help:      "Entangle, measure and teleport operations by outcome.",
		},
		[]string{"node", "op", "outcome"},
	)
	networkNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "qbridge",
			Subsystem: "network",
			Name:      "nodes",
			Help:      "Registered quantum nodes.",
		},
		[]string{"node"},
	)
	networkEntanglements = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "qbridge",
			Subsystem: "network",
			Name:      "entanglements",
			Help:      "Active entangled pairs.",
		},
		[]string{"node"},
	)
	probeChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qbridge",
			Subsystem: "probe",
			Name:      "checks_total",
			Help:      "Peer status probes issued during discovery.",
		},
		[]string{"node", "peer", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			quantumOps,
			networkNodes,
			networkEntanglements,
			probeChecks,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordQuantumOp counts one entangle/measure/teleport call. outcome is "ok" or an error class.
func RecordQuantumOp(node, op, outcome string) {
	RegisterMetrics()
	quantumOps.WithLabelValues(node, op, outcome).Inc()
}

func SetNetworkSize(node string, nodes, entanglements int) {
	RegisterMetrics()
	networkNodes.WithLabelValues(node).Set(float64(nodes))
	networkEntanglements.WithLabelValues(node).Set(float64(entanglements))
}

func RecordPeerProbe(node, peer string, success bool) {
	RegisterMetrics()
	probeChecks.WithLabelValues(node, peer, strconv.FormatBool(success)).Inc()
}
