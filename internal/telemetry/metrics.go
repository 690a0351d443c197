package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var SessionsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "device",
		Name:      "sessions_active",
		Help:      "Number of currently open device TCP sessions.",
	},
)

var SessionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "device",
		Name:      "sessions_total",
		Help:      "Total device sessions handled, by terminal outcome.",
	},
	[]string{"outcome"},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "gateway",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Ops HTTP surface request duration in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	},
	[]string{"method", "path", "status"},
)

var LicenseRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "license",
		Name:      "requests_total",
		Help:      "License requests emitted upward, by renewal flag.",
	},
	[]string{"is_renewal"},
)

var LicenseResponsesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "license",
		Name:      "responses_total",
		Help:      "License responses received from the cloud, by outcome.",
	},
	[]string{"outcome"},
)

var UpdateFanoutDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "gateway",
		Subsystem: "update",
		Name:      "fanout_duration_seconds",
		Help:      "Time to complete an update distribution fan-out, including retries.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	},
	[]string{"outcome"},
)

var UpdateRetriesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "update",
		Name:      "retries_total",
		Help:      "Total per-device update retry attempts.",
	},
)

var CommandFanoutTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "command",
		Name:      "fanout_total",
		Help:      "Completed command fan-outs, by command type and outcome.",
	},
	[]string{"type", "outcome"},
)

var LivenessTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "liveness",
		Name:      "transitions_total",
		Help:      "Device online/offline status transitions emitted upward.",
	},
	[]string{"state"},
)

var UsageWindowSamples = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "usage",
		Name:      "window_samples",
		Help:      "Current number of samples held in a device's sliding usage window.",
	},
	[]string{"uuid"},
)

var CloudStreamReconnectsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "cloud",
		Name:      "stream_reconnects_total",
		Help:      "Total number of cloud control channel reconnect attempts.",
	},
)

var CloudStreamConnected = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "cloud",
		Name:      "stream_connected",
		Help:      "1 if the cloud control channel stream is currently connected, else 0.",
	},
)

var AlertsDroppedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "alerts",
		Name:      "dropped_total",
		Help:      "Total alerts published to the alert bus with no subscriber attached.",
	},
)

var RecommenderTickFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "recommender",
		Name:      "tick_failures_total",
		Help:      "Total recommender bridge ticks skipped due to an external call failure.",
	},
)

// NewRegistry creates a Prometheus registry with Go/process collectors plus
// every Gateway-specific metric registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}

// All returns every Gateway-specific metric for registration with a
// Prometheus registry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		SessionsActive,
		SessionsTotal,
		HTTPRequestDuration,
		LicenseRequestsTotal,
		LicenseResponsesTotal,
		UpdateFanoutDuration,
		UpdateRetriesTotal,
		CommandFanoutTotal,
		LivenessTransitionsTotal,
		UsageWindowSamples,
		CloudStreamReconnectsTotal,
		CloudStreamConnected,
		AlertsDroppedTotal,
		RecommenderTickFailuresTotal,
	}
}
