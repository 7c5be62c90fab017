// Package metrics exposes Prometheus instrumentation for the bot runtime.
package metrics

import (
	"net/http"

	"herald/pkg/herald"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns one private registry and every collector the runtime reports to.
//
// It implements the observer interfaces of the dedup, lifecycle, userstore and telegram packages.
type Metrics struct {
	registry *prometheus.Registry

	gateDecisions   *prometheus.CounterVec
	gateOverflows   *prometheus.CounterVec
	gatePruned      *prometheus.CounterVec
	messagesSwept   *prometheus.CounterVec
	joinsRecorded   *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
	outboundErrors  *prometheus.CounterVec
}

// New creates metrics backed by a fresh registry with Go runtime collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		gateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_gate_decisions_total",
			Help: "Dedup gate decisions by gate and result",
		}, []string{"gate", "result"}),
		gateOverflows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_gate_overflows_total",
			Help: "Times a dedup gate was cleared after exceeding its capacity",
		}, []string{"gate"}),
		gatePruned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_gate_pruned_entries_total",
			Help: "Expired dedup entries removed by periodic pruning",
		}, []string{"gate"}),
		messagesSwept: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_messages_swept_total",
			Help: "Expired bot messages handled by the sweeper",
		}, []string{"kind", "result"}),
		joinsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_joins_recorded_total",
			Help: "Member joins recorded in the user registry by source",
		}, []string{"source"}),
		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_events_published_total",
			Help: "Neutral events published by drivers",
		}, []string{"kind"}),
		outboundErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_outbound_errors_total",
			Help: "Failed outbound platform operations",
		}, []string{"operation", "kind"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterActiveMessages exposes the live registry size per message kind.
func (m *Metrics) RegisterActiveMessages(registry herald.MessageRegistry) {
	for _, kind := range herald.MessageKinds() {
		kind := kind
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "herald_active_messages",
			Help:        "Bot messages waiting for autodelete",
			ConstLabels: prometheus.Labels{"kind": string(kind)},
		}, func() float64 {
			return float64(registry.CountByKind(kind))
		}))
	}
}

// GateAllowed counts an admitted dedup key.
func (m *Metrics) GateAllowed(gate string) {
	m.gateDecisions.WithLabelValues(gate, "allowed").Inc()
}

// GateDenied counts a suppressed dedup key.
func (m *Metrics) GateDenied(gate string) {
	m.gateDecisions.WithLabelValues(gate, "denied").Inc()
}

// GateOverflow counts a full cache reset.
func (m *Metrics) GateOverflow(gate string) {
	m.gateOverflows.WithLabelValues(gate).Inc()
}

// GatePruned counts removed entries.
func (m *Metrics) GatePruned(gate string, removed int) {
	m.gatePruned.WithLabelValues(gate).Add(float64(removed))
}

// MessageSwept counts one sweeper delete attempt.
func (m *Metrics) MessageSwept(kind herald.MessageKind, deleted bool) {
	result := "deleted"
	if !deleted {
		result = "failed"
	}
	m.messagesSwept.WithLabelValues(string(kind), result).Inc()
}

// JoinRecorded counts one registry write.
func (m *Metrics) JoinRecorded(source herald.JoinSource) {
	m.joinsRecorded.WithLabelValues(string(source)).Inc()
}

// EventPublished counts one inbound event.
func (m *Metrics) EventPublished(kind herald.EventKind) {
	m.eventsPublished.WithLabelValues(string(kind)).Inc()
}

// OutboundFailed counts one failed outbound call.
func (m *Metrics) OutboundFailed(operation herald.OutboundOperation, kind herald.OutboundErrorKind) {
	m.outboundErrors.WithLabelValues(string(operation), string(kind)).Inc()
}
