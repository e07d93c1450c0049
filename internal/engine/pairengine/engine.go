// Package pairengine drives the trading loop: an opportunity scanner that
// opens execution targets for configured pairs and an evaluation ticker
// that advances every live target.
package pairengine

import (
	"context"
	"errors"
	"fmt"
	"pairs_trader/internal/config"
	"pairs_trader/internal/core"
	"pairs_trader/internal/trading/execution"
	"pairs_trader/internal/trading/matching"
	apperrors "pairs_trader/pkg/errors"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// pairSpec is one configured opportunity, parsed once at startup.
type pairSpec struct {
	key       string
	first     core.Instrument
	second    core.Instrument
	direction core.Direction
	notional  decimal.Decimal
	minSpread decimal.Decimal
	timeout   time.Duration
}

// PairEngine scans configured pairs each interval and opens a target
// whenever a pair has no live target, both books are fresh and open, and
// the matcher sizes an executable hedge. Targets then advance through
// the manager's tick until they retire.
type PairEngine struct {
	manager   *execution.ExecutionManager
	matcher   *matching.SpreadMatcher
	market    core.IMarketData
	brokerage core.IBrokerage
	logger    core.ILogger

	pairs     []pairSpec
	interval  time.Duration
	staleness time.Duration
	stall     time.Duration
	matchCfg  execution.ManagerConfig

	lastTickNano atomic.Int64
}

func NewPairEngine(
	cfg *config.Config,
	manager *execution.ExecutionManager,
	matcher *matching.SpreadMatcher,
	market core.IMarketData,
	brokerage core.IBrokerage,
	logger core.ILogger,
) (*PairEngine, error) {
	pairs := make([]pairSpec, 0, len(cfg.Pairs))
	for i, pc := range cfg.Pairs {
		direction, err := core.ParseDirection(pc.Direction)
		if err != nil {
			return nil, fmt.Errorf("pair %d: %w", i, err)
		}
		first := core.Instrument{Venue: pc.First.Venue, Symbol: pc.First.Symbol}
		second := core.Instrument{Venue: pc.Second.Venue, Symbol: pc.Second.Symbol}
		pairs = append(pairs, pairSpec{
			key:       core.PairKey(first, second),
			first:     first,
			second:    second,
			direction: direction,
			notional:  decimal.NewFromFloat(pc.TargetNotional),
			minSpread: decimal.NewFromFloat(pc.MinSpreadPercent),
			timeout:   time.Duration(pc.TimeoutSeconds) * time.Second,
		})
	}

	interval := time.Duration(cfg.Execution.EvaluationIntervalMs) * time.Millisecond
	stall := 10 * interval
	if stall < 5*time.Second {
		stall = 5 * time.Second
	}

	return &PairEngine{
		manager:   manager,
		matcher:   matcher,
		market:    market,
		brokerage: brokerage,
		logger:    logger.WithField("component", "pair_engine"),
		pairs:     pairs,
		interval:  interval,
		staleness: time.Duration(cfg.MarketData.StalenessThresholdSeconds) * time.Second,
		stall:     stall,
		matchCfg: execution.ManagerConfig{
			BuyFeeRate:     decimal.NewFromFloat(cfg.Matching.BuyFeeRate),
			SellFeeRate:    decimal.NewFromFloat(cfg.Matching.SellFeeRate),
			MaxDepthLevels: cfg.Matching.MaxDepthLevels,
		},
	}, nil
}

// Run subscribes to the brokerage event stream and ticks until ctx is
// canceled.
func (e *PairEngine) Run(ctx context.Context) error {
	handler := func(ev core.OrderEvent) {
		// The manager logs every rejected event itself.
		_ = e.manager.OnOrderEvent(ctx, ev)
	}
	if err := e.brokerage.StartOrderEventStream(ctx, handler); err != nil {
		return fmt.Errorf("start order event stream: %w", err)
	}
	defer func() {
		if err := e.brokerage.StopOrderEventStream(); err != nil {
			e.logger.Warn("failed to stop order event stream", "error", err.Error())
		}
	}()

	e.logger.Info("engine started",
		"pairs", len(e.pairs),
		"interval", e.interval.String(),
		"brokerage", e.brokerage.Name())

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick scans before advancing so a target created this tick submits this
// tick, not an interval later.
func (e *PairEngine) tick(ctx context.Context) {
	e.scanOpportunities()
	e.manager.ExecuteTick(ctx)
	e.lastTickNano.Store(time.Now().UnixNano())
}

func (e *PairEngine) scanOpportunities() {
	now := time.Now()
	for _, spec := range e.pairs {
		if e.manager.HasActiveTarget(spec.key) {
			continue
		}
		if !e.market.IsMarketOpen(spec.first) || !e.market.IsMarketOpen(spec.second) {
			continue
		}
		if !e.fresh(spec.first, now) || !e.fresh(spec.second, now) {
			e.logger.Debug("stale book, not opening target", "opportunity", spec.key)
			continue
		}

		res := e.matcher.Match(matching.MatchRequest{
			First:            spec.first,
			Second:           spec.second,
			Direction:        spec.direction,
			TargetNotional:   spec.notional,
			MinSpreadPercent: spec.minSpread,
			BuyFeeRate:       e.matchCfg.BuyFeeRate,
			SellFeeRate:      e.matchCfg.SellFeeRate,
			MaxLevels:        e.matchCfg.MaxDepthLevels,
		})
		if !res.Executable {
			continue
		}

		_, err := e.manager.CreateTarget(execution.TargetParams{
			OpportunityKey: spec.key,
			First:          spec.first,
			Second:         spec.second,
			FirstQuantity:  res.FirstLeg.Quantity,
			SecondQuantity: res.SecondLeg.Quantity,
			Direction:      spec.direction,
			ExpectedSpread: res.SpreadPercent,
			MinSpread:      spec.minSpread,
			Timeout:        spec.timeout,
		})
		if err != nil {
			if errors.Is(err, apperrors.ErrExecutionHalted) {
				e.logger.Debug("execution halted, not opening target", "opportunity", spec.key)
			} else {
				e.logger.Warn("failed to create target",
					"opportunity", spec.key, "error", err.Error())
			}
		}
	}
}

// fresh reports whether the book for inst updated within the staleness
// threshold. A zero threshold disables the check.
func (e *PairEngine) fresh(inst core.Instrument, now time.Time) bool {
	if e.staleness <= 0 {
		return true
	}
	last := e.market.LastUpdate(inst)
	if last.IsZero() {
		return false
	}
	return now.Sub(last) <= e.staleness
}

// CheckHealth reports an error when the evaluation loop has stalled, for
// the health manager. The tick path takes the manager lock, so a stuck
// tick surfaces here.
func (e *PairEngine) CheckHealth() error {
	last := e.lastTickNano.Load()
	if last == 0 {
		return errors.New("evaluation loop has not ticked yet")
	}
	age := time.Since(time.Unix(0, last))
	if age > e.stall {
		return fmt.Errorf("evaluation loop stalled: last tick %s ago", age.Round(time.Millisecond))
	}
	return nil
}
