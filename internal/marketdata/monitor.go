package marketdata

import (
	"context"
	"fmt"
	"pairs_trader/internal/core"
	"pairs_trader/pkg/telemetry"
	"time"
)

const monitorInterval = 1 * time.Second

// Monitor tracks data freshness per instrument. It exports the age
// gauge, logs staleness transitions, and backs the health endpoint via
// CheckHealth.
type Monitor struct {
	book        *Book
	instruments []core.Instrument
	threshold   time.Duration
	logger      core.ILogger

	stale map[string]bool
}

// NewMonitor watches the given instruments. Data older than threshold
// counts as stale.
func NewMonitor(book *Book, instruments []core.Instrument, threshold time.Duration, logger core.ILogger) *Monitor {
	return &Monitor{
		book:        book,
		instruments: instruments,
		threshold:   threshold,
		logger:      logger.WithField("component", "marketdata_monitor"),
		stale:       make(map[string]bool),
	}
}

// Run samples freshness once a second until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.observe()
		}
	}
}

func (m *Monitor) observe() {
	metrics := telemetry.GetGlobalMetrics()
	for _, inst := range m.instruments {
		key := inst.Key()
		last := m.book.LastUpdate(inst)
		if last.IsZero() {
			continue
		}
		age := time.Since(last)
		metrics.SetMarketDataAge(key, age.Seconds())

		isStale := age > m.threshold
		if isStale && !m.stale[key] {
			m.logger.Warn("market data went stale",
				"instrument", key, "age", age.Round(time.Millisecond).String())
		} else if !isStale && m.stale[key] {
			m.logger.Info("market data recovered", "instrument", key)
		}
		m.stale[key] = isStale
	}
}

// CheckHealth reports an error while any instrument has missing or
// stale data.
func (m *Monitor) CheckHealth() error {
	for _, inst := range m.instruments {
		last := m.book.LastUpdate(inst)
		if last.IsZero() {
			return fmt.Errorf("no market data received yet for %s", inst.Key())
		}
		if age := time.Since(last); age > m.threshold {
			return fmt.Errorf("stale market data for %s: last update %s ago",
				inst.Key(), age.Round(time.Millisecond))
		}
	}
	return nil
}
