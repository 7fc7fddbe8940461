package observability

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// LendingMetrics tracks ledger operations and the headline market figures.
type LendingMetrics struct {
	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	borrowIndex   prometheus.Gauge
	totalDebt     prometheus.Gauge
	totalReserves prometheus.Gauge
	height        prometheus.Gauge
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendledger",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module, route and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendledger",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, route and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendledger",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendledger",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// Lending returns the singleton registry for ledger operations.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendledger",
				Subsystem: "lending",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by action and result kind.",
			}, []string{"action", "result"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendledger",
				Subsystem: "lending",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution of ledger operations including persistence.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"action"}),
			borrowIndex: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendledger",
				Subsystem: "lending",
				Name:      "borrow_index",
				Help:      "Current borrow index as a decimal multiplier of 1.0.",
			}),
			totalDebt: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendledger",
				Subsystem: "lending",
				Name:      "total_debt",
				Help:      "Outstanding token debt in base units.",
			}),
			totalReserves: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendledger",
				Subsystem: "lending",
				Name:      "total_reserves",
				Help:      "Native reserves in base units.",
			}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendledger",
				Subsystem: "lending",
				Name:      "block_height",
				Help:      "Block height used for interest accrual.",
			}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.latency,
			lendingRegistry.borrowIndex,
			lendingRegistry.totalDebt,
			lendingRegistry.totalReserves,
			lendingRegistry.height,
		)
	})
	return lendingRegistry
}

// RecordOperation counts a ledger operation. result is "ok" or a stable error
// kind label.
func (m *LendingMetrics) RecordOperation(action, result string, duration time.Duration) {
	if m == nil {
		return
	}
	if result == "" {
		result = "ok"
	}
	m.operations.WithLabelValues(action, result).Inc()
	m.latency.WithLabelValues(action).Observe(duration.Seconds())
}

// SetMarket publishes the market gauges. index is in 1e18 fixed point.
func (m *LendingMetrics) SetMarket(index, debt, reserves *uint256.Int, height uint64) {
	if m == nil {
		return
	}
	m.borrowIndex.Set(fixedToFloat(index))
	m.totalDebt.Set(toFloat(debt))
	m.totalReserves.Set(toFloat(reserves))
	m.height.Set(float64(height))
}

var fixedScale = new(big.Float).SetFloat64(1e18)

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}

func fixedToFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v.ToBig()), fixedScale).Float64()
	return f
}
