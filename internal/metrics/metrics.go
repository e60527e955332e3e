// Package metrics exposes the proxy's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts chat requests by provider path and outcome.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eztalk",
		Name:      "chat_requests_total",
		Help:      "Chat proxy requests by provider path and outcome.",
	}, []string{"provider", "outcome"})

	// EventsTotal counts client-facing stream events by type.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eztalk",
		Name:      "stream_events_total",
		Help:      "Emitted client stream events by type.",
	}, []string{"type"})

	// UpstreamLatency observes time to the first upstream response header.
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "eztalk",
		Name:      "upstream_first_response_seconds",
		Help:      "Latency until the upstream responds, by provider path.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"provider"})

	// FramesDropped counts upstream frames discarded by the extractor or
	// classifier.
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eztalk",
		Name:      "frames_dropped_total",
		Help:      "Upstream frames dropped by reason.",
	}, []string{"reason"})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
