package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ladderbot/internal/ledger"
)

// 市场处理结果标签。
const (
	OutcomePlaced  = "placed"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Metrics 为调度器暴露的 Prometheus 指标。
type Metrics struct {
	cycles         prometheus.Counter
	cycleAborts    prometheus.Counter
	cycleDuration  prometheus.Histogram
	marketOutcomes *prometheus.CounterVec
	ordersPlaced   *prometheus.CounterVec
	ordersFailed   *prometheus.CounterVec
	balances       *prometheus.GaugeVec
}

// NewMetrics 创建指标并注册到 reg。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ladderbot_cycles_total",
			Help: "Completed scheduler cycles.",
		}),
		cycleAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ladderbot_cycle_aborts_total",
			Help: "Cycles aborted by a global step failure.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ladderbot_cycle_duration_seconds",
			Help:    "Wall time of a scheduler cycle.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		marketOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ladderbot_market_outcomes_total",
			Help: "Per-market results by outcome (placed, skipped, failed).",
		}, []string{"pair", "outcome"}),
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ladderbot_orders_placed_total",
			Help: "Ladder orders accepted by the exchange.",
		}, []string{"pair", "side"}),
		ordersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ladderbot_orders_failed_total",
			Help: "Ladder orders rejected or not submitted.",
		}, []string{"pair", "side"}),
		balances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ladderbot_balance",
			Help: "Asset balance at the end of the last cycle.",
		}, []string{"asset", "kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.cycleAborts, m.cycleDuration, m.marketOutcomes, m.ordersPlaced, m.ordersFailed, m.balances)
	}
	return m
}

// ObserveCycle 记录一轮耗时，aborted 表示该轮因全局步骤失败而中止。
func (m *Metrics) ObserveCycle(d time.Duration, aborted bool) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	if aborted {
		m.cycleAborts.Inc()
	}
	m.cycleDuration.Observe(d.Seconds())
}

// MarketOutcome 记录单个市场的处理结果。
func (m *Metrics) MarketOutcome(pair, outcome string) {
	if m == nil {
		return
	}
	m.marketOutcomes.WithLabelValues(pair, outcome).Inc()
}

// Orders 累计下单成功与失败数量。
func (m *Metrics) Orders(pair, side string, placed, failed int) {
	if m == nil {
		return
	}
	if placed > 0 {
		m.ordersPlaced.WithLabelValues(pair, side).Add(float64(placed))
	}
	if failed > 0 {
		m.ordersFailed.WithLabelValues(pair, side).Add(float64(failed))
	}
}

// SetBalance 更新资产余额指标。
func (m *Metrics) SetBalance(asset string, bal ledger.Balance) {
	if m == nil {
		return
	}
	m.balances.WithLabelValues(asset, "total").Set(bal.Total)
	m.balances.WithLabelValues(asset, "unencumbered").Set(bal.Unencumbered)
}
