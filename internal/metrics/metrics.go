package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	bridgeCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pikebridge",
			Subsystem: "bridge",
			Name:      "calls_total",
			Help:      "Number of bridge calls by method and outcome.",
		}, []string{"method", "outcome"},
	)
	bridgeCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pikebridge",
			Subsystem: "bridge",
			Name:      "call_duration_seconds",
			Help:      "Wall time from dispatch to settlement per method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"},
	)
	bridgePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pikebridge",
			Subsystem: "bridge",
			Name:      "pending_requests",
			Help:      "Requests currently awaiting a response.",
		},
	)
	bridgeProtocolErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pikebridge",
			Subsystem: "bridge",
			Name:      "protocol_errors_total",
			Help:      "Stdout lines that could not be parsed as responses.",
		},
	)
	bridgeCrashes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pikebridge",
			Subsystem: "bridge",
			Name:      "crashes_total",
			Help:      "Interpreter crashes observed while requests were pending.",
		},
	)

	cacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pikebridge",
			Subsystem: "stdlib_cache",
			Name:      "events_total",
			Help:      "Cache events: hit, miss, eviction, negative_hit.",
		}, []string{"event"},
	)
	cacheModules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pikebridge",
			Subsystem: "stdlib_cache",
			Name:      "modules",
			Help:      "Positively cached modules.",
		},
	)
	cacheMemoryBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pikebridge",
			Subsystem: "stdlib_cache",
			Name:      "memory_bytes",
			Help:      "Approximate bytes held by cached modules.",
		},
	)

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pikebridge",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of interpreter launches.",
		}, []string{"name"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pikebridge",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		}, []string{"name"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pikebridge",
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of restarts after a crash.",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pikebridge",
			Subsystem: "process",
			Name:      "state_transitions_total",
			Help:      "Interpreter state machine transitions.",
		}, []string{"name", "from", "to"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		bridgeCalls, bridgeCallDuration, bridgePending, bridgeProtocolErrors, bridgeCrashes,
		cacheEvents, cacheModules, cacheMemoryBytes,
		processStarts, processStops, processRestarts, stateTransitions,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncBridgeCall(method, outcome string) {
	if regOK.Load() {
		bridgeCalls.WithLabelValues(method, outcome).Inc()
	}
}

func ObserveCallDuration(method string, seconds float64) {
	if regOK.Load() {
		bridgeCallDuration.WithLabelValues(method).Observe(seconds)
	}
}

func SetPending(n int) {
	if regOK.Load() {
		bridgePending.Set(float64(n))
	}
}

func IncProtocolError() {
	if regOK.Load() {
		bridgeProtocolErrors.Inc()
	}
}

func IncCrash() {
	if regOK.Load() {
		bridgeCrashes.Inc()
	}
}

func IncCacheEvent(event string) {
	if regOK.Load() {
		cacheEvents.WithLabelValues(event).Inc()
	}
}

func SetCacheSize(modules int, bytes int64) {
	if regOK.Load() {
		cacheModules.Set(float64(modules))
		cacheMemoryBytes.Set(float64(bytes))
	}
}

func IncProcessStart(name string) {
	if regOK.Load() {
		processStarts.WithLabelValues(name).Inc()
	}
}

func IncProcessStop(name string) {
	if regOK.Load() {
		processStops.WithLabelValues(name).Inc()
	}
}

func IncProcessRestart(name string) {
	if regOK.Load() {
		processRestarts.WithLabelValues(name).Inc()
	}
}

func ObserveStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}
