// Package metrics provides Prometheus metrics for the clinic service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics.
type Metrics struct {
	PrescriptionsSaved     prometheus.Counter
	PrescriptionsFailed    prometheus.Counter
	StockDecrements        prometheus.Counter
	StockDecrementsClamped prometheus.Counter
	StockIntakes           prometheus.Counter
	StocksLow              prometheus.Gauge
	SaveDuration           prometheus.Histogram
	OutboxPending          prometheus.Gauge
	KafkaMessagesProduced  prometheus.Counter
	KafkaMessagesConsumed  prometheus.Counter
	CircuitBreakerState    *prometheus.GaugeVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	m := &Metrics{
		PrescriptionsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_saved_total",
			Help: "Total prescriptions saved",
		}),
		PrescriptionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_failed_total",
			Help: "Total prescription saves that rolled back",
		}),
		StockDecrements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_decrements_total",
			Help: "Total aggregated stock decrements applied",
		}),
		StockDecrementsClamped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_decrements_clamped_total",
			Help: "Decrements that exceeded available stock and clamped to zero",
		}),
		StockIntakes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_intakes_total",
			Help: "Total stock intake adjustments",
		}),
		StocksLow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stocks_low",
			Help: "Stock rows currently at or below their low threshold",
		}),
		SaveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prescription_save_duration_seconds",
			Help:    "Prescription save transaction duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.PrescriptionsSaved,
		m.PrescriptionsFailed,
		m.StockDecrements,
		m.StockDecrementsClamped,
		m.StockIntakes,
		m.StocksLow,
		m.SaveDuration,
		m.OutboxPending,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
