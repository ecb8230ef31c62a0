// Package metrics exposes the relay's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	// DispatchAttempts counts upstream attempts by outcome: success,
	// rate_limited, auth_error, server_error, network_error, empty_response.
	DispatchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ccrelay",
		Name:      "dispatch_attempts_total",
		Help:      "Upstream dispatch attempts by outcome.",
	}, []string{"outcome"})

	// RateLimitsObserved counts 429s by model.
	RateLimitsObserved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ccrelay",
		Name:      "rate_limits_observed_total",
		Help:      "429 responses observed upstream, by model.",
	}, []string{"model"})

	// AccountSwitches counts failovers to a different account.
	AccountSwitches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ccrelay",
		Name:      "account_switches_total",
		Help:      "Failovers to a different account.",
	})

	// ModelFallbacks counts requests re-dispatched on the fallback model.
	ModelFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ccrelay",
		Name:      "model_fallbacks_total",
		Help:      "Requests re-dispatched on a fallback model.",
	}, []string{"from", "to"})

	// EmptyResponseRetries counts streaming empty-response recoveries.
	EmptyResponseRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ccrelay",
		Name:      "empty_response_retries_total",
		Help:      "Retries triggered by empty upstream streams.",
	})

	// RequestDuration observes end-to-end request latency.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ccrelay",
		Name:      "request_duration_seconds",
		Help:      "End-to-end request latency.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"model", "stream"})
)

func init() {
	registry.MustRegister(
		DispatchAttempts,
		RateLimitsObserved,
		AccountSwitches,
		ModelFallbacks,
		EmptyResponseRetries,
		RequestDuration,
	)
}

// Handler serves the metrics endpoint from the relay's own registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
