// Package prom exports gateway events as Prometheus metrics.
package prom

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	gen "github.com/ineyio/gengateway"
)

const namespace = "gengateway"

// Meter records attempts, provider results and request outcomes.
type Meter struct {
	attempts        *prometheus.CounterVec
	results         *prometheus.CounterVec
	resultDuration  *prometheus.HistogramVec
	outcomes        *prometheus.CounterVec
	outcomeDuration *prometheus.HistogramVec
	breakerOpen     prometheus.Gauge
}

var _ gen.Meter = (*Meter)(nil)

// New registers the gateway metrics on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Meter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Meter{
		attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "attempts_total",
				Help:      "Provider attempts admitted by the scheduler",
			},
			[]string{"kind", "provider", "model", "attempt"},
		),
		results: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "results_total",
				Help:      "Provider attempt results by error class",
			},
			[]string{"kind", "provider", "model", "class"},
		),
		resultDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "call_duration_seconds",
				Help:      "Provider call duration in seconds",
				Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"kind", "provider", "model"},
		),
		outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "requests",
				Name:      "total",
				Help:      "Generate calls by how they were served",
			},
			[]string{"kind", "source", "diagnostic"},
		),
		outcomeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "requests",
				Name:      "duration_seconds",
				Help:      "Generate call duration in seconds",
				Buckets:   []float64{.005, .05, .25, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"kind", "source"},
		),
		breakerOpen: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "breaker",
				Name:      "open",
				Help:      "1 while the quota circuit breaker is open",
			},
		),
	}
}

func (m *Meter) OnAttempt(e gen.AttemptEvent) {
	m.attempts.WithLabelValues(string(e.Kind), e.Provider, e.Model, strconv.Itoa(e.AttemptNum)).Inc()
}

func (m *Meter) OnResult(e gen.ResultEvent) {
	class := "success"
	if !e.Success {
		class = e.Class.String()
	}
	m.results.WithLabelValues(string(e.Kind), e.Provider, e.Model, class).Inc()
	m.resultDuration.WithLabelValues(string(e.Kind), e.Provider, e.Model).Observe(e.Duration.Seconds())
	if e.Class == gen.ClassQuotaExhausted {
		m.breakerOpen.Set(1)
	}
}

func (m *Meter) OnOutcome(e gen.OutcomeEvent) {
	src := source(e)
	diag := e.Diagnostic
	if diag != "" && !knownDiagnostic(diag) {
		diag = "other"
	}
	m.outcomes.WithLabelValues(string(e.Kind), src, diag).Inc()
	m.outcomeDuration.WithLabelValues(string(e.Kind), src).Observe(e.Duration.Seconds())
	if src == "provider" {
		m.breakerOpen.Set(0)
	}
}

// SetBreakerOpen records the current breaker state, for callers that poll
// gateway stats.
func (m *Meter) SetBreakerOpen(open bool) {
	if open {
		m.breakerOpen.Set(1)
		return
	}
	m.breakerOpen.Set(0)
}

func source(e gen.OutcomeEvent) string {
	switch {
	case e.FromCache:
		return "cache"
	case e.UsedFallback:
		return "fallback"
	default:
		return "provider"
	}
}

// knownDiagnostic keeps raw error messages out of label values.
func knownDiagnostic(d string) bool {
	switch d {
	case gen.DiagQuotaExhausted, gen.DiagRateLimited, gen.DiagProviderUnavailable, gen.DiagMalformedResponse:
		return true
	}
	return false
}
