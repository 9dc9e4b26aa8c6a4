// Package metrics holds the Prometheus collectors shared by the worker pool,
// the connection handler and the WebSocket frame loop.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quarry"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	jobsQueued         prometheus.Gauge
	jobsTotal          prometheus.Counter
	jobPanics          prometheus.Counter
	workersBusy        prometheus.Gauge
	connectionsActive  prometheus.Gauge
	connectionsTotal   prometheus.Counter
	responses          *prometheus.CounterVec
	parseErrors        prometheus.Counter
	acceptRetries      prometheus.Counter
	upgrades           prometheus.Counter
	frames             *prometheus.CounterVec
	protocolViolations prometheus.Counter
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		jobsQueued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_queued",
			Help:      "Jobs waiting in the worker pool queue",
		}),
		jobsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_total",
			Help:      "Jobs executed by the worker pool",
		}),
		jobPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "job_panics_total",
			Help:      "Jobs that panicked and were recovered",
		}),
		workersBusy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "workers_busy",
			Help:      "Workers currently executing a job",
		}),
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "connections_active",
			Help:      "Connections currently being served",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "connections_total",
			Help:      "Connections accepted",
		}),
		responses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "responses_total",
			Help:      "Responses written by status code",
		}, []string{"code"}),
		parseErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "parse_errors_total",
			Help:      "Requests that could not be parsed",
		}),
		acceptRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "accept_retries_total",
			Help:      "Accept calls that failed with a temporary error and were retried",
		}),
		upgrades: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "upgrades_total",
			Help:      "Connections upgraded to WebSocket",
		}),
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "frames_total",
			Help:      "WebSocket frames by direction and opcode",
		}, []string{"direction", "opcode"}),
		protocolViolations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "protocol_violations_total",
			Help:      "Connections closed for breaking the framing rules",
		}),
	}
}

func (m *Metrics) JobQueued() {
	if m == nil {
		return
	}
	m.jobsQueued.Inc()
}

// JobRejected undoes JobQueued for a job that never entered the queue.
func (m *Metrics) JobRejected() {
	if m == nil {
		return
	}
	m.jobsQueued.Dec()
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsQueued.Dec()
	m.workersBusy.Inc()
	m.jobsTotal.Inc()
}

func (m *Metrics) JobDone() {
	if m == nil {
		return
	}
	m.workersBusy.Dec()
}

func (m *Metrics) JobPanicked() {
	if m == nil {
		return
	}
	m.jobPanics.Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

func (m *Metrics) Response(code uint16) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(strconv.Itoa(int(code))).Inc()
}

func (m *Metrics) ParseError() {
	if m == nil {
		return
	}
	m.parseErrors.Inc()
}

func (m *Metrics) AcceptRetry() {
	if m == nil {
		return
	}
	m.acceptRetries.Inc()
}

func (m *Metrics) Upgrade() {
	if m == nil {
		return
	}
	m.upgrades.Inc()
}

// Frame counts a frame; direction is "in" or "out".
func (m *Metrics) Frame(direction, opcode string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(direction, opcode).Inc()
}

func (m *Metrics) ProtocolViolation() {
	if m == nil {
		return
	}
	m.protocolViolations.Inc()
}
