package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько заняла обработка (включая хендлер)
	RequestDuration *prometheus.HistogramVec

	// Traffic: решения политики по эффектам
	DecisionTotal *prometheus.CounterVec

	// Errors: срабатывания guardrails по видам
	ViolationTotal *prometheus.CounterVec

	// Сколько заявок HITL списано исполнением
	ApprovalConsumed prometheus.Counter

	// Saturation: состояние Circuit Breaker (0 - закрыт, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Заполненность буфера аудита (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern: без регистратора метрики живут в локальном
	// реестре и никуда не экспортируются
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentgate_request_duration_seconds",
			Help:    "Histogram of execute request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"agent", "action", "status"}),

		DecisionTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_decisions_total",
			Help: "Policy decisions by effect.",
		}, []string{"agent", "action", "effect"}),

		ViolationTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_guardrail_violations_total",
			Help: "Guardrail violations by kind and phase.",
		}, []string{"kind", "phase"}), // phase: pre | post

		ApprovalConsumed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "agentgate_approvals_consumed_total",
			Help: "Approvals marked executed before handler invocation.",
		}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentgate_circuit_breaker_state",
			Help: "Current state of the handler circuit breaker (0=closed, 1=open).",
		}, []string{"handler"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "agentgate_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}
