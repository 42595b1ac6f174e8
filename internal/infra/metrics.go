package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: события по типам
	EventsTotal *prometheus.CounterVec

	// Security: нарушения по severity
	ViolationsTotal *prometheus.CounterVec

	// Security: fail-closed отказы гейта
	DeniedTotal prometheus.Counter

	// Security: автоматические карантины
	QuarantinesTotal prometheus.Counter

	// Latency: обработка HTTP запросов
	RequestDuration *prometheus.HistogramVec

	// Saturation: заполненность буфера аудита (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — если рег не передан, используем локальный,
	// который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		EventsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "plugsec_events_total",
			Help: "Total number of recorded security events by kind.",
		}, []string{"kind"}),

		ViolationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "plugsec_violations_total",
			Help: "Total number of security violations by severity.",
		}, []string{"severity"}),

		DeniedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "plugsec_denied_total",
			Help: "Total number of fail-closed permission denials.",
		}),

		QuarantinesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "plugsec_quarantines_total",
			Help: "Total number of automatic plugin quarantines.",
		}),

		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plugsec_request_duration_seconds",
			Help:    "Histogram of request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"route", "status"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "plugsec_audit_buffer_utilization",
			Help: "Current number of events in the audit persistence buffer.",
		}),
	}
}
