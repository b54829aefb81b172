// Package metrics exposes the counters and gauges instrumenting the
// reliable store, publisher, chunked transfer and keepalive components,
// collected against a private registry and served over promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the metrics a running device link exposes. Callers embed
// a *Registry built by New wherever a counter needs
// incrementing, and pass Handler() to an http.ServeMux for scraping.
type Registry struct {
	reg *prometheus.Registry

	StoreRetransmitsTotal    prometheus.Counter
	StoreEntriesActive       prometheus.Gauge
	StoreTimeoutsTotal       prometheus.Counter
	PublisherRateLimited     prometheus.Counter
	PublisherEventsSent      prometheus.Counter
	ChunkedMissingChunks     prometheus.Counter
	ChunkedUpdatesCompleted  prometheus.Counter
	KeepaliveTimeoutsTotal   prometheus.Counter
	KeepalivePingsSent       prometheus.Counter
	OrchestratorDispatchedOp *prometheus.CounterVec
	HandlerFunctionCalls     prometheus.Counter
	HandlerVariableRequests  prometheus.Counter
	HandlerNotFoundTotal     prometheus.Counter
}

// New builds a Registry with all metrics registered against a fresh,
// private prometheus.Registry (never the global DefaultRegisterer, so
// multiple simulated devices in one process don't collide).
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		StoreRetransmitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devlink",
			Subsystem: "store",
			Name:      "retransmits_total",
			Help:      "Number of CON messages retransmitted after an ACK_TIMEOUT expired.",
		}),
		StoreEntriesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devlink",
			Subsystem: "store",
			Name:      "entries_active",
			Help:      "Number of message-store entries currently awaiting acknowledgement.",
		}),
		StoreTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devlink",
			Subsystem: "store",
			Name:      "timeouts_total",
			Help:      "Number of entries dropped without delivery after MAX_RETRANSMIT retransmissions or MAX_TRANSMIT_SPAN.",
		}),
		PublisherRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devlink",
			Subsystem: "publisher",
			Name:      "rate_limited_total",
			Help:      "Number of publish calls rejected by the rate limiter.",
		}),
		PublisherEventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devlink",
			Subsystem: "publisher",
			Name:      "events_sent_total",
			Help:      "Number of events successfully handed to the channel.",
		}),
		ChunkedMissingChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devlink",
			Subsystem: "chunked",
			Name:      "missing_chunks_total",
			Help:      "Number of chunks re-requested via CHUNK_MISSED across all transfers.",
		}),
		ChunkedUpdatesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devlink",
			Subsystem: "chunked",
			Name:      "updates_completed_total",
			Help:      "Number of firmware transfers that reached UPDATE_DONE successfully.",
		}),
		KeepaliveTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devlink",
			Subsystem: "keepalive",
			Name:      "timeouts_total",
			Help:      "Number of times a ping went unanswered past the keepalive threshold.",
		}),
		KeepalivePingsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devlink",
			Subsystem: "keepalive",
			Name:      "pings_sent_total",
			Help:      "Number of PING messages sent to probe an idle channel.",
		}),
		OrchestratorDispatchedOp: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devlink",
			Subsystem: "orchestrator",
			Name:      "dispatched_total",
			Help:      "Number of messages dispatched by the orchestrator, labeled by message type.",
		}, []string{"op"}),
		HandlerFunctionCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devlink",
			Subsystem: "handlers",
			Name:      "function_calls_total",
			Help:      "Number of FUNCTION_CALL requests dispatched to a registered function.",
		}),
		HandlerVariableRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devlink",
			Subsystem: "handlers",
			Name:      "variable_requests_total",
			Help:      "Number of VARIABLE_REQUEST lookups served.",
		}),
		HandlerNotFoundTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devlink",
			Subsystem: "handlers",
			Name:      "not_found_total",
			Help:      "Number of function/variable requests naming an unregistered key.",
		}),
	}

	reg.MustRegister(
		r.StoreRetransmitsTotal,
		r.StoreEntriesActive,
		r.StoreTimeoutsTotal,
		r.PublisherRateLimited,
		r.PublisherEventsSent,
		r.ChunkedMissingChunks,
		r.ChunkedUpdatesCompleted,
		r.KeepaliveTimeoutsTotal,
		r.KeepalivePingsSent,
		r.OrchestratorDispatchedOp,
		r.HandlerFunctionCalls,
		r.HandlerVariableRequests,
		r.HandlerNotFoundTotal,
	)

	return r
}

// Handler returns the http.Handler serving this registry's metrics in the
// Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
