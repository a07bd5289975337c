// Package metrics exposes Prometheus metrics for the authorization filter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for tollgate.
type Metrics struct {
	// Check metrics
	ChecksTotal          *prometheus.CounterVec
	CheckDurationSeconds *prometheus.HistogramVec

	// Credential resolution metrics
	CredentialsResolvedTotal *prometheus.CounterVec

	// Backend metrics
	AuthrepCallsTotal          *prometheus.CounterVec
	AuthrepCallDurationSeconds prometheus.Histogram

	// JWT metrics
	JWTValidationsTotal *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics *Metrics

func init() {
	DefaultMetrics = NewMetrics()
}

// NewMetrics creates and registers all metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Name:      "checks_total",
				Help:      "Total number of ext_authz check requests",
			},
			[]string{"service", "decision"},
		),
		CheckDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tollgate",
				Name:      "check_duration_seconds",
				Help:      "Check request duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"service"},
		),
		CredentialsResolvedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Subsystem: "credentials",
				Name:      "resolved_total",
				Help:      "Total number of resolved credentials by kind",
			},
			[]string{"service", "kind"},
		),
		AuthrepCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Subsystem: "backend",
				Name:      "authrep_calls_total",
				Help:      "Total number of backend authrep calls",
			},
			[]string{"result"},
		),
		AuthrepCallDurationSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "tollgate",
				Subsystem: "backend",
				Name:      "authrep_call_duration_seconds",
				Help:      "Backend authrep call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		JWTValidationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Subsystem: "jwt",
				Name:      "validations_total",
				Help:      "Total number of JWT validations",
			},
			[]string{"issuer", "result"},
		),
	}
}

// RecordCheck records a decided check request.
func (m *Metrics) RecordCheck(service, decision string, seconds float64) {
	m.ChecksTotal.WithLabelValues(service, decision).Inc()
	m.CheckDurationSeconds.WithLabelValues(service).Observe(seconds)
}

// RecordCredentialResolved records a successfully resolved credential.
func (m *Metrics) RecordCredentialResolved(service, kind string) {
	m.CredentialsResolvedTotal.WithLabelValues(service, kind).Inc()
}

// RecordAuthrepCall records a backend call outcome.
func (m *Metrics) RecordAuthrepCall(result string, seconds float64) {
	m.AuthrepCallsTotal.WithLabelValues(result).Inc()
	m.AuthrepCallDurationSeconds.Observe(seconds)
}

// RecordJWTValidation records a JWT validation result.
func (m *Metrics) RecordJWTValidation(issuer string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.JWTValidationsTotal.WithLabelValues(issuer, result).Inc()
}
