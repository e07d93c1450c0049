package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricTargetsCreatedTotal    = "pairs_trader_targets_created_total"
	MetricTargetsRetiredTotal    = "pairs_trader_targets_retired_total"
	MetricTargetsActive          = "pairs_trader_targets_active"
	MetricOrderSubmissionsTotal  = "pairs_trader_order_submissions_total"
	MetricSubmissionErrorsTotal  = "pairs_trader_order_submission_errors_total"
	MetricSweepOrdersTotal       = "pairs_trader_sweep_orders_total"
	MetricFillInconsistencyTotal = "pairs_trader_fill_inconsistency_total"
	MetricLegMismatchTotal       = "pairs_trader_leg_mismatch_total"
	MetricMatchAttemptsTotal     = "pairs_trader_match_attempts_total"
	MetricMatchedNotionalTotal   = "pairs_trader_matched_notional_total"
	MetricMatchedSpreadPercent   = "pairs_trader_matched_spread_percent"
	MetricTargetDurationSeconds  = "pairs_trader_target_duration_seconds"
	MetricRemainingNotional      = "pairs_trader_remaining_notional"
	MetricExecutionHalted        = "pairs_trader_execution_halted"
	MetricMarketDataAgeSeconds   = "pairs_trader_market_data_age_seconds"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	TargetsCreatedTotal    metric.Int64Counter
	TargetsRetiredTotal    metric.Int64Counter
	TargetsActive          metric.Int64ObservableGauge
	OrderSubmissionsTotal  metric.Int64Counter
	SubmissionErrorsTotal  metric.Int64Counter
	SweepOrdersTotal       metric.Int64Counter
	FillInconsistencyTotal metric.Int64Counter
	LegMismatchTotal       metric.Int64Counter
	MatchAttemptsTotal     metric.Int64Counter
	MatchedNotionalTotal   metric.Float64Counter
	MatchedSpreadPercent   metric.Float64Histogram
	TargetDurationSeconds  metric.Float64Histogram
	RemainingNotional      metric.Float64ObservableGauge
	ExecutionHalted        metric.Int64ObservableGauge
	MarketDataAgeSeconds   metric.Float64ObservableGauge

	// State for observable gauges
	mu                  sync.RWMutex
	activeTargetsMap    map[string]int64
	remainingNotionMap  map[string]float64
	executionHaltedMap  map[string]int64
	marketDataAgeSecMap map[string]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			activeTargetsMap:    make(map[string]int64),
			remainingNotionMap:  make(map[string]float64),
			executionHaltedMap:  make(map[string]int64),
			marketDataAgeSecMap: make(map[string]float64),
		}
		// Instruments are bound to the global provider, which is a safe
		// no-op until Setup installs the SDK. Setup re-initializes them
		// against the real meter.
		_ = globalMetrics.InitMetrics(otel.Meter("pairs_trader"))
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.TargetsCreatedTotal, err = meter.Int64Counter(MetricTargetsCreatedTotal, metric.WithDescription("Total execution targets created"))
	if err != nil {
		return err
	}

	m.TargetsRetiredTotal, err = meter.Int64Counter(MetricTargetsRetiredTotal, metric.WithDescription("Total execution targets retired, by final status"))
	if err != nil {
		return err
	}

	m.OrderSubmissionsTotal, err = meter.Int64Counter(MetricOrderSubmissionsTotal, metric.WithDescription("Total leg orders submitted"))
	if err != nil {
		return err
	}

	m.SubmissionErrorsTotal, err = meter.Int64Counter(MetricSubmissionErrorsTotal, metric.WithDescription("Total leg order submissions rejected or errored"))
	if err != nil {
		return err
	}

	m.SweepOrdersTotal, err = meter.Int64Counter(MetricSweepOrdersTotal, metric.WithDescription("Total single-leg sweep remediation orders"))
	if err != nil {
		return err
	}

	m.FillInconsistencyTotal, err = meter.Int64Counter(MetricFillInconsistencyTotal, metric.WithDescription("Quantity-complete targets whose groups disagree on filled status"))
	if err != nil {
		return err
	}

	m.LegMismatchTotal, err = meter.Int64Counter(MetricLegMismatchTotal, metric.WithDescription("Order events that matched no leg of their target"))
	if err != nil {
		return err
	}

	m.MatchAttemptsTotal, err = meter.Int64Counter(MetricMatchAttemptsTotal, metric.WithDescription("Spread match attempts, by outcome"))
	if err != nil {
		return err
	}

	m.MatchedNotionalTotal, err = meter.Float64Counter(MetricMatchedNotionalTotal, metric.WithDescription("Cumulative matched buy-side notional"))
	if err != nil {
		return err
	}

	m.MatchedSpreadPercent, err = meter.Float64Histogram(MetricMatchedSpreadPercent, metric.WithDescription("Weighted average spread of executable matches"), metric.WithUnit("%"))
	if err != nil {
		return err
	}

	m.TargetDurationSeconds, err = meter.Float64Histogram(MetricTargetDurationSeconds, metric.WithDescription("Time from target creation to retirement"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	// Observables
	m.TargetsActive, err = meter.Int64ObservableGauge(MetricTargetsActive, metric.WithDescription("Number of currently active execution targets"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for pair, val := range m.activeTargetsMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("pair", pair)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.RemainingNotional, err = meter.Float64ObservableGauge(MetricRemainingNotional, metric.WithDescription("Unmatched notional remaining per active pair"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for pair, val := range m.remainingNotionMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("pair", pair)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.ExecutionHalted, err = meter.Int64ObservableGauge(MetricExecutionHalted, metric.WithDescription("Execution gate state (1=halted, 0=open)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for scope, val := range m.executionHaltedMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("scope", scope)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.MarketDataAgeSeconds, err = meter.Float64ObservableGauge(MetricMarketDataAgeSeconds, metric.WithDescription("Age of the most recent market data per instrument"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for inst, val := range m.marketDataAgeSecMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("instrument", inst)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetActiveTargets(pair string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeTargetsMap[pair] = count
}

func (m *MetricsHolder) SetRemainingNotional(pair string, notional float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remainingNotionMap[pair] = notional
}

func (m *MetricsHolder) SetExecutionHalted(scope string, halted bool) {
	val := int64(0)
	if halted {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executionHaltedMap[scope] = val
}

func (m *MetricsHolder) SetMarketDataAge(instrument string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketDataAgeSecMap[instrument] = seconds
}

func (m *MetricsHolder) GetActiveTargets() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.activeTargetsMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetRemainingNotional() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.remainingNotionMap {
		res[k] = v
	}
	return res
}
