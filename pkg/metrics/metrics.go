// Package metrics holds the Prometheus collectors for upstream Salesforce traffic.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "distributors"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

type Metrics struct {
	apexCalls      *prometheus.CounterVec
	apexDuration   *prometheus.HistogramVec
	sessionsOpened *prometheus.CounterVec
	sessionReauths prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests so repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		apexCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apex_calls_total",
			Help:      "Apex REST calls by endpoint and outcome.",
		}, []string{"endpoint", "method", "outcome"}),
		apexDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apex_call_duration_seconds",
			Help:      "Latency of Apex REST calls, session establishment excluded.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "method"}),
		sessionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "salesforce_sessions_total",
			Help:      "Salesforce session establishments by outcome.",
		}, []string{"outcome"}),
		sessionReauths: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "salesforce_reauthentications_total",
			Help:      "Re-authentications triggered by an expired cached session.",
		}),
	}
	reg.MustRegister(m.apexCalls, m.apexDuration, m.sessionsOpened, m.sessionReauths)
	return m
}

// Nop returns collectors bound to a throwaway registry.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

// The observe methods are no-ops on a nil *Metrics.

func (m *Metrics) ObserveApexCall(endpoint, method string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.apexDuration.WithLabelValues(endpoint, method).Observe(time.Since(started).Seconds())
	m.apexCalls.WithLabelValues(endpoint, method, outcome(err)).Inc()
}

func (m *Metrics) ObserveSession(err error) {
	if m == nil {
		return
	}
	m.sessionsOpened.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) IncReauth() {
	if m == nil {
		return
	}
	m.sessionReauths.Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
