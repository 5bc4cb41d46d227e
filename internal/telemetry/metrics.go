package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — счётчики и гистограммы движка исполнения.
//
// Все методы безопасны для nil-получателя: компоненты, которым метрики
// не переданы, вызывают их без проверок.
type Metrics struct {
	runsTotal             *prometheus.CounterVec
	invocationsTotal      *prometheus.CounterVec
	retriesTotal          prometheus.Counter
	materializationsTotal prometheus.Counter
	sinkDroppedTotal      prometheus.Counter
	activeRuns            prometheus.Gauge
	runDuration           prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// NewMetrics регистрирует метрики в default registry Prometheus.
// Повторные вызовы возвращают тот же экземпляр: promauto паникует
// при двойной регистрации.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInst = &Metrics{
			runsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "materia_runs_total",
				Help: "Завершённые runs по терминальному статусу",
			}, []string{"status"}),
			invocationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "materia_invocations_total",
				Help: "Завершённые вызовы шагов по терминальному статусу",
			}, []string{"status"}),
			retriesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "materia_retries_total",
				Help: "Запланированные повторы вызовов",
			}),
			materializationsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "materia_materializations_total",
				Help: "Записанные события материализации",
			}),
			sinkDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "materia_sink_dropped_total",
				Help: "События, не доставленные подписчикам из-за переполнения буфера",
			}),
			activeRuns: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "materia_active_runs",
				Help: "Runs, исполняемые в данный момент",
			}),
			runDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "materia_run_duration_seconds",
				Help:    "Длительность run от начала исполнения до терминального статуса",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			}),
		}
	})
	return metricsInst
}

// RunStarted отмечает начало исполнения run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

// RunFinished отмечает завершение run с терминальным статусом.
func (m *Metrics) RunFinished(status string, seconds float64) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(seconds)
}

// InvocationFinished отмечает терминальный статус вызова шага.
func (m *Metrics) InvocationFinished(status string) {
	if m == nil {
		return
	}
	m.invocationsTotal.WithLabelValues(status).Inc()
}

// RetryScheduled отмечает постановку повтора в очередь по таймеру.
func (m *Metrics) RetryScheduled() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

// EventRecorded отмечает запись события материализации в журнал.
func (m *Metrics) EventRecorded() {
	if m == nil {
		return
	}
	m.materializationsTotal.Inc()
}

// SinkDropped отмечает событие, отброшенное при переполнении буфера подписчиков.
func (m *Metrics) SinkDropped() {
	if m == nil {
		return
	}
	m.sinkDroppedTotal.Inc()
}
