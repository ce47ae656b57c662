package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics содержит счётчики конвейера приёма HL7 сообщений
type Metrics struct {
	registry *prometheus.Registry

	// MessagesTotal считает обработанные кадры по коду подтверждения (AA/AE/AR)
	MessagesTotal *prometheus.CounterVec

	// FramesDropped считает кадры, отброшенные фреймером (превышение лимита)
	FramesDropped prometheus.Counter

	// ActiveConnections — текущее число открытых MLLP-соединений
	ActiveConnections prometheus.Gauge

	// ProcessingDuration — время обработки одного кадра
	ProcessingDuration prometheus.Histogram
}

// New создаёт реестр и регистрирует все метрики
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "radqa",
				Subsystem: "mllp",
				Name:      "messages_total",
				Help:      "Total number of processed MLLP frames by acknowledgment code",
			},
			[]string{"code"},
		),

		FramesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "radqa",
				Subsystem: "mllp",
				Name:      "frames_dropped_total",
				Help:      "Total number of frames dropped by the framer",
			},
		),

		ActiveConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "radqa",
				Subsystem: "mllp",
				Name:      "active_connections",
				Help:      "Number of currently open MLLP connections",
			},
		),

		ProcessingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "radqa",
				Subsystem: "mllp",
				Name:      "processing_duration_seconds",
				Help:      "Time spent processing one MLLP frame",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	m.registry.MustRegister(
		m.MessagesTotal,
		m.FramesDropped,
		m.ActiveConnections,
		m.ProcessingDuration,
	)

	return m
}

// Handler возвращает HTTP-обработчик для /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
