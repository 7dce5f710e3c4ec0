// Package metrics holds the prometheus collectors of a running bot.
//
// Every method is safe on a nil *Metrics, so components take an optional
// *Metrics and call it unconditionally.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fortysix"

// Metrics owns a private registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	messages          *prometheus.CounterVec
	completions       *prometheus.CounterVec
	completionSeconds prometheus.Histogram
	reconnects        prometheus.Counter
	pairingRequests   *prometheus.CounterVec
	connectionState   *prometheus.GaugeVec
	handlerPanics     prometheus.Counter
	credSaveFailures  prometheus.Counter
}

// States exported by the connection_state gauge.
var connectionStates = []string{"disconnected", "connecting", "awaiting-pairing", "open", "logged-out"}

// New creates a Metrics with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages by routing outcome.",
		}, []string{"route"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Completion requests by result.",
		}, []string{"result"}),
		completionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Completion request latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts scheduled after a retryable close.",
		}),
		pairingRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairing_requests_total",
			Help:      "Pairing code requests by result.",
		}, []string{"result"}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		handlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Panics recovered at message handler boundaries.",
		}),
		credSaveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_save_failures_total",
			Help:      "Credential updates that could not be persisted.",
		}),
	}

	heapAlloc := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heap_alloc_bytes",
		Help:      "Current heap allocation in bytes.",
	}, func() float64 {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		return float64(stats.HeapAlloc)
	})

	m.registry.MustRegister(
		m.messages,
		m.completions,
		m.completionSeconds,
		m.reconnects,
		m.pairingRequests,
		m.connectionState,
		m.handlerPanics,
		m.credSaveFailures,
		heapAlloc,
	)
	for _, s := range connectionStates {
		m.connectionState.WithLabelValues(s).Set(0)
	}
	return m
}

// Registry returns the registry to expose over HTTP.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RegisterSessions exports the live session count read from fn.
func (m *Metrics) RegisterSessions(fn func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Conversation sessions held in memory.",
	}, func() float64 { return float64(fn()) }))
}

// MessageRouted counts an inbound message by route (command, ai, denied, prompt).
func (m *Metrics) MessageRouted(route string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(route).Inc()
}

// CompletionDone records one completion call. result is "ok" or an error kind.
func (m *Metrics) CompletionDone(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(result).Inc()
	m.completionSeconds.Observe(elapsed.Seconds())
}

// ReconnectScheduled counts a scheduled reconnect.
func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// PairingRequested counts a pairing request by result ("ok" or "error").
func (m *Metrics) PairingRequested(result string) {
	if m == nil {
		return
	}
	m.pairingRequests.WithLabelValues(result).Inc()
}

// SetConnectionState marks state as the current one.
func (m *Metrics) SetConnectionState(state string) {
	if m == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(s).Set(v)
	}
}

// HandlerPanic counts a recovered panic.
func (m *Metrics) HandlerPanic() {
	if m == nil {
		return
	}
	m.handlerPanics.Inc()
}

// CredentialSaveFailed counts a failed credential write.
func (m *Metrics) CredentialSaveFailed() {
	if m == nil {
		return
	}
	m.credSaveFailures.Inc()
}
