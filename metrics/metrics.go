package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PoolMetrics aggregates the engine's prometheus instruments. A Registerer is
// taken explicitly; passing nil disables registration (useful in tests).
type PoolMetrics struct {
	Operations        *prometheus.CounterVec
	SwapSteps         prometheus.Counter
	TicksCrossed      prometheus.Counter
	ActiveLiquidity   prometheus.Gauge
	CurrentTick       prometheus.Gauge
	OracleCardinality prometheus.Gauge
}

func New(reg prometheus.Registerer) *PoolMetrics {
	m := &PoolMetrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clamm",
			Subsystem: "pool",
			Name:      "operations_total",
			Help:      "Pool operations by type and outcome.",
		}, []string{"op", "outcome"}),
		SwapSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clamm",
			Subsystem: "pool",
			Name:      "swap_steps_total",
			Help:      "Individual swap-loop steps executed.",
		}),
		TicksCrossed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clamm",
			Subsystem: "pool",
			Name:      "ticks_crossed_total",
			Help:      "Initialized ticks crossed by swaps.",
		}),
		ActiveLiquidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clamm",
			Subsystem: "pool",
			Name:      "active_liquidity",
			Help:      "In-range liquidity (float approximation).",
		}),
		CurrentTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clamm",
			Subsystem: "pool",
			Name:      "current_tick",
			Help:      "Current pool tick.",
		}),
		OracleCardinality: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clamm",
			Subsystem: "pool",
			Name:      "oracle_cardinality",
			Help:      "Populated oracle ring-buffer cardinality.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Operations, m.SwapSteps, m.TicksCrossed,
			m.ActiveLiquidity, m.CurrentTick, m.OracleCardinality,
		)
	}
	return m
}

// Observe records an operation outcome.
func (m *PoolMetrics) Observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
}
