package agent

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for the turns counter.
const (
	OutcomeOK         = "ok"
	OutcomeAgentError = "agent_error"
	OutcomeFallback   = "fallback"
)

// Invocation mode labels.
const (
	ModeFresh  = "fresh"
	ModeResume = "resume"
)

// Metrics exposes Prometheus collectors describing orchestrator activity.
type Metrics struct {
	turns              *prometheus.CounterVec
	resumeFallbacks    prometheus.Counter
	invocationDuration *prometheus.HistogramVec
	costUSD            prometheus.Counter
	inFlight           prometheus.Gauge
}

// MustNewMetrics registers the orchestrator collectors with reg and panics on
// duplicate registration. Tests should pass a fresh prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentchat",
				Subsystem: "orchestrator",
				Name:      "turns_total",
				Help:      "Turns handled by the orchestrator, by invocation mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		resumeFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentchat",
				Subsystem: "orchestrator",
				Name:      "resume_fallbacks_total",
				Help:      "Failed resume attempts that were retried as fresh sessions.",
			},
		),
		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agentchat",
				Subsystem: "orchestrator",
				Name:      "invocation_duration_seconds",
				Help:      "Wall-clock duration of single runtime invocation attempts.",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160, 320},
			},
			[]string{"mode"},
		),
		costUSD: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentchat",
				Subsystem: "orchestrator",
				Name:      "cost_usd_total",
				Help:      "Accumulated agent cost reported by the runtime, in USD.",
			},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentchat",
				Subsystem: "orchestrator",
				Name:      "turns_in_flight",
				Help:      "Turns currently being processed.",
			},
		),
	}

	reg.MustRegister(m.turns, m.resumeFallbacks, m.invocationDuration, m.costUSD, m.inFlight)

	return m
}

// The methods below tolerate a nil receiver so an Orchestrator can run
// without metrics.

func (m *Metrics) turnFinished(mode, outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) resumeFellBack() {
	if m == nil {
		return
	}
	m.resumeFallbacks.Inc()
}

func (m *Metrics) observeInvocation(mode string, seconds float64) {
	if m == nil {
		return
	}
	m.invocationDuration.WithLabelValues(mode).Observe(seconds)
}

func (m *Metrics) addCost(usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.costUSD.Add(usd)
}

func (m *Metrics) turnStarted() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}
