// Package metrics holds the Prometheus collectors for the rebalancer.
//
// Collectors are registered on the Registerer passed to New so tests and
// embedded engines can each use their own registry. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rebalancer"

// Session close reasons.
const (
	CloseCompleted = "completed"
	CloseAborted   = "aborted"
	CloseTimedOut  = "timed_out"
	CloseFinished  = "finished"
)

// Sign completion outcomes.
const (
	OutcomeSigned       = "signed"
	OutcomeSignerFailed = "signer_failed"
	OutcomeRejected     = "rejected"
)

// Metrics holds all rebalancer collectors.
type Metrics struct {
	SessionsStarted *prometheus.CounterVec
	SessionsClosed  *prometheus.CounterVec
	ActiveSession   prometheus.Gauge

	SignRequests    *prometheus.CounterVec
	SignCompletions *prometheus.CounterVec
	SignPending     prometheus.Gauge
	SignLatency     prometheus.Histogram

	// Validation failures by error code, recorded before any signer call.
	Rejections *prometheus.CounterVec

	GateDecisions *prometheus.CounterVec
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "started_total",
				Help:      "Sessions started by flow",
			},
			[]string{"flow"},
		),
		SessionsClosed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "closed_total",
				Help:      "Sessions closed by reason",
			},
			[]string{"reason"}, // completed, aborted, timed_out, finished
		),
		ActiveSession: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "active",
				Help:      "1 while a session is open",
			},
		),
		SignRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sign",
				Name:      "requests_total",
				Help:      "Signature requests dispatched by step",
			},
			[]string{"step"},
		),
		SignCompletions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sign",
				Name:      "completions_total",
				Help:      "Signature completions by step and outcome",
			},
			[]string{"step", "outcome"}, // signed, signer_failed, rejected
		),
		SignPending: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sign",
				Name:      "pending",
				Help:      "Signature requests awaiting completion",
			},
		),
		SignLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sign",
				Name:      "latency_seconds",
				Help:      "Time from dispatch to completion",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
		Rejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejections_total",
				Help:      "Rejected engine calls by error code",
			},
			[]string{"code"},
		),
		GateDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gate",
				Name:      "decisions_total",
				Help:      "Attestation gate decisions by operation and result",
			},
			[]string{"op", "result"},
		),
	}
}

func (m *Metrics) SessionStarted(flow string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(flow).Inc()
	m.ActiveSession.Set(1)
}

func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.SessionsClosed.WithLabelValues(reason).Inc()
	m.ActiveSession.Set(0)
}

func (m *Metrics) SignDispatched(step string) {
	if m == nil {
		return
	}
	m.SignRequests.WithLabelValues(step).Inc()
	m.SignPending.Inc()
}

func (m *Metrics) SignCompleted(step, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SignCompletions.WithLabelValues(step, outcome).Inc()
	m.SignPending.Dec()
	m.SignLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) Rejected(code string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(code).Inc()
}

// GateDecision records an allow/deny result; result is "allow" or an error code.
func (m *Metrics) GateDecision(op, result string) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(op, result).Inc()
}
