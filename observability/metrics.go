package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics

	auctionMetricsOnce sync.Once
	auctionRegistry    *AuctionMetrics
)

// LendingMetrics bundles the collectors tracking pool activity and reserve
// health for the lending engine.
type LendingMetrics struct {
	operations     *prometheus.CounterVec
	errors         *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	utilization    *prometheus.GaugeVec
	borrowRate     *prometheus.GaugeVec
	totalDeposited *prometheus.GaugeVec
	totalBorrowed  *prometheus.GaugeVec
	backstopValue  prometheus.Gauge
	poolState      prometheus.Gauge
}

// Lending returns the lazily-initialised metrics registry for the lending
// engine.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rwalend",
				Subsystem: "pool",
				Name:      "operations_total",
				Help:      "Count of pool operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rwalend",
				Subsystem: "pool",
				Name:      "errors_total",
				Help:      "Count of pool operation failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "rwalend",
				Subsystem: "pool",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for pool operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "rwalend",
				Subsystem: "reserve",
				Name:      "utilization_bps",
				Help:      "Reserve utilisation in basis points per asset.",
			}, []string{"asset"}),
			borrowRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "rwalend",
				Subsystem: "reserve",
				Name:      "borrow_rate_bps",
				Help:      "Current annualised borrow rate in basis points per asset.",
			}, []string{"asset"}),
			totalDeposited: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "rwalend",
				Subsystem: "reserve",
				Name:      "total_deposited",
				Help:      "Total deposited balance per asset in integer base units.",
			}, []string{"asset"}),
			totalBorrowed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "rwalend",
				Subsystem: "reserve",
				Name:      "total_borrowed",
				Help:      "Total outstanding borrows per asset in integer base units.",
			}, []string{"asset"}),
			backstopValue: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rwalend",
				Subsystem: "backstop",
				Name:      "total_value",
				Help:      "Total backstop value including uncollected interest credit.",
			}),
			poolState: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rwalend",
				Subsystem: "pool",
				Name:      "state",
				Help:      "Current pool state (1 active, 2 on-ice, 3 frozen).",
			}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.errors,
			lendingRegistry.latency,
			lendingRegistry.utilization,
			lendingRegistry.borrowRate,
			lendingRegistry.totalDeposited,
			lendingRegistry.totalBorrowed,
			lendingRegistry.backstopValue,
			lendingRegistry.poolState,
		)
	})
	return lendingRegistry
}

// Observe records the outcome and latency of a pool operation.
func (m *LendingMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		reason := strings.TrimSpace(err.Error())
		if reason == "" {
			reason = "unknown"
		}
		m.errors.WithLabelValues(op, reason).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordReserve updates the per-asset reserve gauges.
func (m *LendingMetrics) RecordReserve(asset string, utilizationBps, rateBps uint64, deposited, borrowed *big.Int) {
	if m == nil {
		return
	}
	label := labelAsset(asset)
	m.utilization.WithLabelValues(label).Set(float64(utilizationBps))
	m.borrowRate.WithLabelValues(label).Set(float64(rateBps))
	m.totalDeposited.WithLabelValues(label).Set(bigToFloat(deposited))
	m.totalBorrowed.WithLabelValues(label).Set(bigToFloat(borrowed))
}

// RecordBackstop updates the backstop value gauge.
func (m *LendingMetrics) RecordBackstop(total *big.Int) {
	if m == nil {
		return
	}
	m.backstopValue.Set(bigToFloat(total))
}

// RecordPoolState updates the pool state gauge with the numeric state code.
func (m *LendingMetrics) RecordPoolState(state int) {
	if m == nil {
		return
	}
	m.poolState.Set(float64(state))
}

// AuctionMetrics captures liquidation auction activity.
type AuctionMetrics struct {
	started  *prometheus.CounterVec
	filled   *prometheus.CounterVec
	closed   *prometheus.CounterVec
	badDebt  *prometheus.CounterVec
	recovery *prometheus.HistogramVec
}

// Auctions returns the singleton metrics registry for liquidation auctions.
func Auctions() *AuctionMetrics {
	auctionMetricsOnce.Do(func() {
		auctionRegistry = &AuctionMetrics{
			started: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rwalend",
				Subsystem: "auction",
				Name:      "started_total",
				Help:      "Count of liquidation auctions initiated per collateral asset.",
			}, []string{"collateral"}),
			filled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rwalend",
				Subsystem: "auction",
				Name:      "fills_total",
				Help:      "Count of auction fills per collateral asset.",
			}, []string{"collateral"}),
			closed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rwalend",
				Subsystem: "auction",
				Name:      "closed_total",
				Help:      "Count of closed auctions segmented by terminal status.",
			}, []string{"collateral", "status"}),
			badDebt: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rwalend",
				Subsystem: "auction",
				Name:      "bad_debt_total",
				Help:      "Count of auctions that ended with a shortfall absorbed by the backstop.",
			}, []string{"asset"}),
			recovery: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "rwalend",
				Subsystem: "auction",
				Name:      "debt_recovered",
				Help:      "Distribution of debt repaid per fill in integer base units.",
				Buckets:   prometheus.ExponentialBuckets(1, 10, 12),
			}, []string{"collateral"}),
		}
		prometheus.MustRegister(
			auctionRegistry.started,
			auctionRegistry.filled,
			auctionRegistry.closed,
			auctionRegistry.badDebt,
			auctionRegistry.recovery,
		)
	})
	return auctionRegistry
}

// RecordStart increments the started counter for a collateral asset.
func (m *AuctionMetrics) RecordStart(collateral string) {
	if m == nil {
		return
	}
	m.started.WithLabelValues(labelAsset(collateral)).Inc()
}

// RecordFill records a fill and the amount of debt it repaid.
func (m *AuctionMetrics) RecordFill(collateral string, debtPaid *big.Int) {
	if m == nil {
		return
	}
	m.filled.WithLabelValues(labelAsset(collateral)).Inc()
	m.recovery.WithLabelValues(labelAsset(collateral)).Observe(bigToFloat(debtPaid))
}

// RecordClose records an auction reaching a terminal status. Status should be
// a stable string such as "filled", "expired", or "cancelled".
func (m *AuctionMetrics) RecordClose(collateral, status string) {
	if m == nil {
		return
	}
	if status = strings.TrimSpace(status); status == "" {
		status = "unknown"
	}
	m.closed.WithLabelValues(labelAsset(collateral), status).Inc()
}

// RecordBadDebt increments the shortfall counter for a debt asset.
func (m *AuctionMetrics) RecordBadDebt(asset string) {
	if m == nil {
		return
	}
	m.badDebt.WithLabelValues(labelAsset(asset)).Inc()
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
