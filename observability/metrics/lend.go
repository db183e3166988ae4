package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type LendMetrics struct {
	operations      *prometheus.CounterVec
	operationErrors *prometheus.CounterVec
	openLoans       prometheus.Gauge
	reserveUtil     *prometheus.GaugeVec
	borrowRate      *prometheus.GaugeVec
	auctionsOpened  prometheus.Counter
	liquidations    prometheus.Counter
}

var (
	lendOnce     sync.Once
	lendRegistry *LendMetrics
)

func Lend() *LendMetrics {
	lendOnce.Do(func() {
		lendRegistry = &LendMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lend_operations_total",
				Help: "Count of completed pool operations by kind.",
			}, []string{"op"}),
			operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lend_operation_errors_total",
				Help: "Count of rejected pool operations by kind.",
			}, []string{"op"}),
			openLoans: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lend_open_loans",
				Help: "Number of loans currently open.",
			}),
			reserveUtil: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lend_reserve_utilisation",
				Help: "Reserve utilisation ratio per asset.",
			}, []string{"asset"}),
			borrowRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lend_borrow_rate",
				Help: "Current annualised variable borrow rate per asset.",
			}, []string{"asset"}),
			auctionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lend_auctions_opened_total",
				Help: "Count of liquidation auctions opened.",
			}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lend_liquidations_total",
				Help: "Count of completed liquidations.",
			}),
		}
		prometheus.MustRegister(
			lendRegistry.operations,
			lendRegistry.operationErrors,
			lendRegistry.openLoans,
			lendRegistry.reserveUtil,
			lendRegistry.borrowRate,
			lendRegistry.auctionsOpened,
			lendRegistry.liquidations,
		)
	})
	return lendRegistry
}

func (m *LendMetrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	if err != nil {
		m.operationErrors.WithLabelValues(op).Inc()
		return
	}
	m.operations.WithLabelValues(op).Inc()
}

func (m *LendMetrics) SetOpenLoans(count float64) {
	if m == nil {
		return
	}
	m.openLoans.Set(count)
}

func (m *LendMetrics) SetReserveUtilisation(asset string, ratio float64) {
	if m == nil {
		return
	}
	m.reserveUtil.WithLabelValues(asset).Set(ratio)
}

func (m *LendMetrics) SetBorrowRate(asset string, rate float64) {
	if m == nil {
		return
	}
	m.borrowRate.WithLabelValues(asset).Set(rate)
}

func (m *LendMetrics) IncAuctionOpened() {
	if m == nil {
		return
	}
	m.auctionsOpened.Inc()
}

func (m *LendMetrics) IncLiquidation() {
	if m == nil {
		return
	}
	m.liquidations.Inc()
}
