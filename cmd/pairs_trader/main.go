package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"pairs_trader/internal/alert"
	"pairs_trader/internal/bootstrap"
	"pairs_trader/internal/config"
	"pairs_trader/internal/core"
	"pairs_trader/internal/engine/pairengine"
	"pairs_trader/internal/history"
	"pairs_trader/internal/infrastructure/health"
	"pairs_trader/internal/infrastructure/metrics"
	"pairs_trader/internal/infrastructure/server"
	"pairs_trader/internal/livefeed"
	"pairs_trader/internal/marketdata"
	"pairs_trader/internal/mock"
	"pairs_trader/internal/notify"
	"pairs_trader/internal/risk"
	"pairs_trader/internal/trading/execution"
	"pairs_trader/internal/trading/matching"
	"pairs_trader/pkg/telemetry"

	"github.com/shopspring/decimal"
)

var configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()
	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	app, err := bootstrap.NewApp(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		os.Exit(1)
	}
	cfg, logger := app.Cfg, app.Logger

	// 1. Telemetry providers. The prometheus exporter registers with the
	// default registry, which the metrics server scrapes.
	var tel *telemetry.Telemetry
	if cfg.Telemetry.EnableMetrics {
		tel, err = telemetry.Setup(cfg.App.Name)
		if err != nil {
			logger.Fatal("failed to set up telemetry", "error", err.Error())
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(ctx); err != nil {
				logger.Warn("telemetry shutdown incomplete", "error", err.Error())
			}
		}()
	}

	instruments := collectInstruments(cfg.Pairs)

	// 2. Market data. Live mode (or any configured stream URL) runs the
	// real book behind the websocket feed; otherwise paper mode trades
	// scripted books seeded per pair.
	var (
		market  core.IMarketData
		runners []bootstrap.Runner
		monitor *marketdata.Monitor
	)
	if cfg.App.Mode == "live" || cfg.MarketData.WSURL != "" {
		book := marketdata.NewBook()
		sessions, err := marketdata.ParseSessions(cfg.MarketData.Venues)
		if err != nil {
			logger.Fatal("invalid venue sessions", "error", err.Error())
		}
		book.SetSessions(sessions)

		if cfg.MarketData.RestURL != "" {
			primeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := marketdata.NewSnapshotClient(cfg.MarketData, logger).Prime(primeCtx, book, instruments); err != nil {
				logger.Warn("snapshot priming failed, starting with empty books", "error", err.Error())
			}
			cancel()
		}

		staleness := time.Duration(cfg.MarketData.StalenessThresholdSeconds) * time.Second
		monitor = marketdata.NewMonitor(book, instruments, staleness, logger)
		runners = append(runners,
			marketdata.NewFeed(cfg.MarketData, book, instruments, logger),
			monitor,
		)
		market = book
	} else {
		scripted := mock.NewMarketData()
		if err := seedScriptedBooks(scripted, cfg.Pairs); err != nil {
			logger.Fatal("failed to seed scripted books", "error", err.Error())
		}
		runners = append(runners, scripted)
		market = scripted
		logger.Info("using scripted market data", "instruments", len(instruments))
	}

	// 3. Brokerage. Only the simulator ships; in live mode it fills
	// against the live books.
	brokerage := mock.NewBrokerage("sim", logger)
	brokerage.SetAutoFill(market, decimal.NewFromFloat(cfg.Matching.BuyFeeRate))

	// 4. History store.
	var store *history.SQLiteStore
	if cfg.Storage.Enabled {
		store, err = history.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			logger.Fatal("failed to open history store", "error", err.Error(), "path", cfg.Storage.Path)
		}
		defer store.Close()
	}

	// 5. Notifications: log always, metrics/history/alerts when wired.
	dispatcher := notify.NewDispatcher(cfg.Execution.BatchNotifications, logger)
	defer dispatcher.Close()
	dispatcher.AddSink(notify.NewLogSink(logger))
	if cfg.Telemetry.EnableMetrics {
		dispatcher.AddSink(notify.NewMetricsSink())
	}
	if store != nil {
		dispatcher.AddSink(notify.NewHistorySink(store, logger))
	}
	if alerts := buildAlertManager(cfg, logger); alerts != nil {
		dispatcher.AddSink(notify.NewAlertSink(alerts))
	}
	if cfg.Telemetry.LiveFeedPort > 0 {
		hub := livefeed.NewHub(logger)
		dispatcher.AddSink(livefeed.NewSink(hub))
		runners = append(runners, livefeed.NewServer(
			hub,
			cfg.Telemetry.LiveFeedPort,
			cfg.Telemetry.LiveFeedOrigins,
			cfg.App.Environment == "production",
			logger,
		))
	}

	// 6. Execution core.
	halt := risk.NewHalt(cfg.Risk, logger)
	matcher := matching.NewSpreadMatcher(market, logger)
	manager := execution.NewExecutionManager(
		matcher,
		market,
		execution.NewOrderSubmitter(brokerage, logger, cfg.Execution.OrderRateLimit, cfg.Execution.OrderRateBurst),
		execution.NewRegistry(),
		dispatcher,
		halt,
		logger,
		execution.ManagerConfig{
			BuyFeeRate:     decimal.NewFromFloat(cfg.Matching.BuyFeeRate),
			SellFeeRate:    decimal.NewFromFloat(cfg.Matching.SellFeeRate),
			MaxDepthLevels: cfg.Matching.MaxDepthLevels,
		},
	)

	engine, err := pairengine.NewPairEngine(cfg, manager, matcher, market, brokerage, logger)
	if err != nil {
		logger.Fatal("failed to build engine", "error", err.Error())
	}
	runners = append(runners, engine)

	// 7. Health and metrics servers.
	hm := health.NewHealthManager(logger)
	hm.Register("engine", engine.CheckHealth)
	if monitor != nil {
		hm.Register("market_data", monitor.CheckHealth)
	}
	if store != nil {
		hm.Register("history_store", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.Ping(ctx)
		})
	}

	if cfg.Telemetry.HealthPort > 0 {
		healthSrv := server.NewHealthServer(cfg.Telemetry.HealthPort, logger, hm)
		healthSrv.UpdateStatus("app", cfg.App.Name)
		healthSrv.UpdateStatus("mode", cfg.App.Mode)
		runners = append(runners, healthSrv)
	}
	if cfg.Telemetry.EnableMetrics && cfg.Telemetry.MetricsPort > 0 {
		runners = append(runners, metrics.NewServer(cfg.Telemetry.MetricsPort, logger))
	}

	if err := app.Run(runners...); err != nil {
		os.Exit(1)
	}
}

// collectInstruments returns each configured instrument once, in pair order.
func collectInstruments(pairs []config.PairConfig) []core.Instrument {
	seen := make(map[string]bool)
	var out []core.Instrument
	for _, pc := range pairs {
		for _, ic := range []config.InstrumentConfig{pc.First, pc.Second} {
			inst := core.Instrument{Venue: ic.Venue, Symbol: ic.Symbol}
			if !seen[inst.Key()] {
				seen[inst.Key()] = true
				out = append(out, inst)
			}
		}
	}
	return out
}

// seedScriptedBooks gives paper mode something to trade: each pair gets
// two-sided books priced about 2% apart in the configured direction, deep
// enough to cover the target notional twice.
func seedScriptedBooks(market *mock.MarketData, pairs []config.PairConfig) error {
	for i, pc := range pairs {
		direction, err := core.ParseDirection(pc.Direction)
		if err != nil {
			return fmt.Errorf("pair %d: %w", i, err)
		}
		buy := core.Instrument{Venue: pc.First.Venue, Symbol: pc.First.Symbol}
		sell := core.Instrument{Venue: pc.Second.Venue, Symbol: pc.Second.Symbol}
		if direction == core.DirectionShort {
			buy, sell = sell, buy
		}

		size := decimal.NewFromFloat(pc.TargetNotional / 50)
		market.SetDepth(buy,
			[]core.PriceLevel{{Price: decimal.NewFromInt(99), Size: size}},
			[]core.PriceLevel{{Price: decimal.NewFromInt(100), Size: size}})
		market.SetDepth(sell,
			[]core.PriceLevel{{Price: decimal.NewFromInt(102), Size: size}},
			[]core.PriceLevel{{Price: decimal.NewFromInt(103), Size: size}})
	}
	return nil
}

// buildAlertManager wires the configured webhook channels, nil when
// alerting is off or no channel has credentials.
func buildAlertManager(cfg *bootstrap.Config, logger core.ILogger) *alert.AlertManager {
	if !cfg.Alerts.Enabled {
		return nil
	}
	am := alert.NewAlertManager(logger)
	am.SetMinLevel(alert.ParseLevel(cfg.Alerts.MinLevel))

	channels := 0
	if url := cfg.Alerts.SlackWebhookURL.Reveal(); url != "" {
		am.AddChannel(alert.NewSlackChannel(url))
		channels++
	}
	if token := cfg.Alerts.TelegramBotToken.Reveal(); token != "" && cfg.Alerts.TelegramChatID != "" {
		am.AddChannel(alert.NewTelegramChannel(token, cfg.Alerts.TelegramChatID))
		channels++
	}
	if channels == 0 {
		return nil
	}
	return am
}
