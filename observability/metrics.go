package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	cdpMetricsOnce sync.Once
	cdpRegistry    *CDPMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// CDPMetrics captures the outcome of engine operations.
type CDPMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	errors       *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	events       *prometheus.CounterVec
}

// CDP returns the lazily-initialised metrics registry for the collateral
// engine.
func CDP() *CDPMetrics {
	cdpMetricsOnce.Do(func() {
		cdpRegistry = &CDPMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablevault",
				Subsystem: "cdp",
				Name:      "operations_total",
				Help:      "Count of engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stablevault",
				Subsystem: "cdp",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablevault",
				Subsystem: "cdp",
				Name:      "errors_total",
				Help:      "Count of failed engine operations segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablevault",
				Subsystem: "cdp",
				Name:      "liquidations_total",
				Help:      "Count of successful liquidations segmented by seized asset.",
			}, []string{"asset"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablevault",
				Subsystem: "cdp",
				Name:      "events_total",
				Help:      "Count of committed engine events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			cdpRegistry.operations,
			cdpRegistry.latency,
			cdpRegistry.errors,
			cdpRegistry.liquidations,
			cdpRegistry.events,
		)
	})
	return cdpRegistry
}

// Observe records a finished operation. Reason is only used when the
// operation failed and should be a stable identifier such as "zero_amount".
func (m *CDPMetrics) Observe(operation string, failed bool, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	operation = normaliseLabel(operation)
	outcome := "success"
	if failed {
		outcome = "error"
		m.errors.WithLabelValues(operation, normaliseLabel(reason)).Inc()
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordLiquidation increments the liquidation counter for the seized asset.
func (m *CDPMetrics) RecordLiquidation(asset string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(normaliseLabel(asset)).Inc()
}

func (m *CDPMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(normaliseLabel(eventType)).Inc()
}

// OracleMetrics tracks price rounds pushed by the oracle manager.
type OracleMetrics struct {
	rounds   *prometheus.CounterVec
	rejected *prometheus.CounterVec
	price    *prometheus.GaugeVec
}

// Oracle returns the singleton metrics registry for the oracle manager.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablevault",
				Subsystem: "oracle",
				Name:      "rounds_total",
				Help:      "Count of price rounds pushed per asset.",
			}, []string{"asset"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablevault",
				Subsystem: "oracle",
				Name:      "rejected_quotes_total",
				Help:      "Count of source quotes discarded segmented by asset and reason.",
			}, []string{"asset", "reason"}),
			price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "stablevault",
				Subsystem: "oracle",
				Name:      "price",
				Help:      "Most recent aggregated price per asset in the unit of account.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			oracleRegistry.rounds,
			oracleRegistry.rejected,
			oracleRegistry.price,
		)
	})
	return oracleRegistry
}

// RecordRound records an aggregated price pushed for asset.
func (m *OracleMetrics) RecordRound(asset string, price float64) {
	if m == nil {
		return
	}
	asset = normaliseLabel(asset)
	m.rounds.WithLabelValues(asset).Inc()
	m.price.WithLabelValues(asset).Set(price)
}

// RecordRejected increments the rejected quote counter.
func (m *OracleMetrics) RecordRejected(asset, reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(normaliseLabel(asset), normaliseLabel(reason)).Inc()
}

func normaliseLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
