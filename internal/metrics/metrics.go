// Package metrics exposes Prometheus metrics and the health endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tradeflow/internal/exchange"
	"tradeflow/internal/graph"
)

// Metrics holds all Prometheus metrics for a backtest run. It is the
// processor's timing observer, the strategy's order observer and an
// exchange fill listener at once.
type Metrics struct {
	SamplesTotal   prometheus.Counter
	SampleDur      prometheus.Histogram
	UnitExecutions *prometheus.CounterVec // labels: unit
	UnitDur        *prometheus.HistogramVec

	// Exchange / strategy
	OrdersSubmitted *prometheus.CounterVec // labels: side
	OrdersRejected  *prometheus.CounterVec // labels: side
	TradesTotal     *prometheus.CounterVec // labels: side
	PositionsClosed prometheus.Counter
	RealizedPnL     prometheus.Gauge
	Equity          prometheus.Gauge
	LastSampleX     prometheus.Gauge

	// Output sinks
	SinkDeliveries *prometheus.CounterVec // labels: sink
	SinkDrops      *prometheus.CounterVec // labels: sink

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisWriteDur            prometheus.Histogram
	SQLiteCommitDur          prometheus.Histogram
}

var fastBuckets = []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005}

// NewMetrics creates all metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeflow_samples_total",
			Help: "Samples fully resolved by the processor",
		}),
		SampleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradeflow_sample_duration_seconds",
			Help:    "Time to resolve every unit for one sample",
			Buckets: fastBuckets,
		}),
		UnitExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeflow_unit_executions_total",
			Help: "Unit process calls (by unit name)",
		}, []string{"unit"}),
		UnitDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradeflow_unit_duration_seconds",
			Help:    "Unit process latency (by unit name)",
			Buckets: fastBuckets,
		}, []string{"unit"}),

		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeflow_orders_submitted_total",
			Help: "Ladder orders accepted by the exchange",
		}, []string{"side"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeflow_orders_rejected_total",
			Help: "Ladder orders rejected at submission (margin or validation)",
		}, []string{"side"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeflow_trades_total",
			Help: "Order fills",
		}, []string{"side"}),
		PositionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeflow_positions_closed_total",
			Help: "Positions moved to closed history",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeflow_realized_pnl",
			Help: "Realized profit of closed positions in the quote currency",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeflow_equity",
			Help: "Account equity after the last sample",
		}),
		LastSampleX: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeflow_last_sample_x",
			Help: "Ordinal of the last resolved sample",
		}),

		SinkDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeflow_sink_deliveries_total",
			Help: "Scopes delivered to output sinks",
		}, []string{"sink"}),
		SinkDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeflow_sink_drops_total",
			Help: "Scopes a sink failed to deliver",
		}, []string{"sink"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeflow_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeflow_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradeflow_redis_write_duration_seconds",
			Help:    "Redis publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradeflow_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.SamplesTotal,
		m.SampleDur,
		m.UnitExecutions,
		m.UnitDur,
		m.OrdersSubmitted,
		m.OrdersRejected,
		m.TradesTotal,
		m.PositionsClosed,
		m.RealizedPnL,
		m.Equity,
		m.LastSampleX,
		m.SinkDeliveries,
		m.SinkDrops,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
	)

	return m
}

// ObserveUnit records one unit execution.
func (m *Metrics) ObserveUnit(key graph.Key, d time.Duration) {
	m.UnitExecutions.WithLabelValues(key.Name).Inc()
	m.UnitDur.WithLabelValues(key.Name).Observe(d.Seconds())
}

// ObserveSample records one resolved sample.
func (m *Metrics) ObserveSample(x int64, d time.Duration) {
	m.SamplesTotal.Inc()
	m.SampleDur.Observe(d.Seconds())
	m.LastSampleX.Set(float64(x))
}

func (m *Metrics) OrderSubmitted(side exchange.Side) {
	m.OrdersSubmitted.WithLabelValues(side.String()).Inc()
}

func (m *Metrics) OrderRejected(side exchange.Side) {
	m.OrdersRejected.WithLabelValues(side.String()).Inc()
}

func (m *Metrics) OnTrade(t exchange.Trade) {
	m.TradesTotal.WithLabelValues(t.Side.String()).Inc()
}

func (m *Metrics) OnPositionClosed(p exchange.Position) {
	m.PositionsClosed.Inc()
	m.RealizedPnL.Add(p.CounterDiff())
}

// SetAccount publishes the account gauges.
func (m *Metrics) SetAccount(a exchange.Account) {
	m.Equity.Set(a.Equity)
}

// SetBreakerState mirrors a circuit breaker state (0, 1 or 2).
func (m *Metrics) SetBreakerState(state int) {
	m.RedisCircuitBreakerState.Set(float64(state))
}

// BreakerTripped counts a transition into the open state.
func (m *Metrics) BreakerTripped() {
	m.RedisCircuitBreakerTrips.Inc()
}

// SinkDelivered counts a delivery to sink.
func (m *Metrics) SinkDelivered(sink string) {
	m.SinkDeliveries.WithLabelValues(sink).Inc()
}

// SinkDropped counts a failed delivery to sink.
func (m *Metrics) SinkDropped(sink string) {
	m.SinkDrops.WithLabelValues(sink).Inc()
}
