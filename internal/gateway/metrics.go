package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kestrelai/agentcore/internal/agentloop"
)

// Metrics exposes the Gateway's and sessions' counters on /metrics via
// promhttp, registered against the default Prometheus registry so a single
// process-wide /metrics endpoint covers every session.
type Metrics struct {
	sessionsCreated prometheus.Counter
	sessionsEnded   prometheus.Counter
	toolCallsTotal  prometheus.Counter
	loopIterations  prometheus.Counter
	llmCallsTotal   prometheus.Counter
	secretsRedacted prometheus.Counter
	observerErrors  prometheus.Counter
}

// NewMetrics registers and returns the Gateway's metric collectors.
// Registering more than once against the default registry (e.g. in tests
// constructing multiple Servers) is tolerated by ignoring an
// AlreadyRegisteredError and reusing the existing collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_sessions_created_total",
			Help: "Total sessions created through POST /sessions.",
		}),
		sessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_sessions_ended_total",
			Help: "Total Agent Loop runs that reached their end.",
		}),
		toolCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_tool_calls_total",
			Help: "Total tool invocations across all sessions.",
		}),
		loopIterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_loop_iterations_total",
			Help: "Total Agent Loop iterations across all sessions.",
		}),
		llmCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_llm_calls_total",
			Help: "Total engine run starts across all sessions.",
		}),
		secretsRedacted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_secrets_redacted_total",
			Help: "Total tool outputs that triggered secret redaction.",
		}),
		observerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_session_errors_total",
			Help: "Total errors reported by sessions.",
		}),
	}
	m.sessionsCreated = registerOrReuse(m.sessionsCreated).(prometheus.Counter)
	m.sessionsEnded = registerOrReuse(m.sessionsEnded).(prometheus.Counter)
	m.toolCallsTotal = registerOrReuse(m.toolCallsTotal).(prometheus.Counter)
	m.loopIterations = registerOrReuse(m.loopIterations).(prometheus.Counter)
	m.llmCallsTotal = registerOrReuse(m.llmCallsTotal).(prometheus.Counter)
	m.secretsRedacted = registerOrReuse(m.secretsRedacted).(prometheus.Counter)
	m.observerErrors = registerOrReuse(m.observerErrors).(prometheus.Counter)
	return m
}

// registerOrReuse registers c against the default registry, or returns the
// already-registered collector from a prior Metrics instance if one with the
// same descriptor exists. This keeps multiple Metrics built in the same
// process (e.g. across tests) from tracking orphaned, unexposed counters.
func registerOrReuse(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}

// SessionCreated increments the sessions-created counter.
func (m *Metrics) SessionCreated() { m.sessionsCreated.Inc() }

// Observer adapts Metrics into an agentloop.Observer so every session's
// loop feeds the same process-wide counters.
func (m *Metrics) Observer() agentloop.Observer { return metricsObserver{m} }

type metricsObserver struct{ m *Metrics }

func (o metricsObserver) SessionStart(string) {}

func (o metricsObserver) SessionEnd(_ string, iterations, toolInvocations, llmCalls int) {
	o.m.sessionsEnded.Inc()
	o.m.loopIterations.Add(float64(iterations))
	o.m.toolCallsTotal.Add(float64(toolInvocations))
	o.m.llmCallsTotal.Add(float64(llmCalls))
}

func (o metricsObserver) SecretRedacted(string, string, []string) {
	o.m.secretsRedacted.Inc()
}

func (o metricsObserver) Error(string, error) {
	o.m.observerErrors.Inc()
}
