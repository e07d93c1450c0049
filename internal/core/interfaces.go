// Package core defines the domain types and interfaces for the pairs trader
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IMarketData provides synchronous access to cached market state. All methods
// return immediately from local caches; they never perform network I/O.
type IMarketData interface {
	// BestBid returns the best bid price. ok is false when no data is cached
	// or the cached price is unusable.
	BestBid(instrument Instrument) (decimal.Decimal, bool)
	// BestAsk returns the best ask price.
	BestAsk(instrument Instrument) (decimal.Decimal, bool)
	// Depth returns an ordered book snapshot. ok is false when the source
	// exposes no depth for the instrument; callers fall back to best prices.
	Depth(instrument Instrument) (DepthSnapshot, bool)
	// LotSize returns the minimum tradable increment for the instrument.
	LotSize(instrument Instrument) decimal.Decimal
	// IsMarketOpen reports whether the instrument's market currently accepts
	// orders.
	IsMarketOpen(instrument Instrument) bool
	// LastUpdate returns the time of the most recent data for the instrument,
	// zero when nothing has been received yet.
	LastUpdate(instrument Instrument) time.Time
}

// IBrokerage submits orders and streams order events back. Submissions are
// fire-and-forget from the core's point of view: the returned Order is only
// the acknowledged ticket, all state progress arrives via the event stream.
type IBrokerage interface {
	Name() string
	// SubmitMarketOrder submits a market order for a signed quantity
	// (positive buy, negative sell). The tag is carried verbatim on every
	// event for the order so the core can route it back to its owner.
	SubmitMarketOrder(ctx context.Context, instrument Instrument, quantity decimal.Decimal, clientOrderID, tag string) (Order, error)
	// StartOrderEventStream registers the event handler. The handler may be
	// invoked from a different goroutine than the caller's.
	StartOrderEventStream(ctx context.Context, handler func(OrderEvent)) error
	StopOrderEventStream() error
}

// INotificationSink receives target status transitions. Implementations must
// not block the caller and must never let a delivery failure propagate back
// into execution state.
type INotificationSink interface {
	NotifyTarget(kind NotificationKind, snapshot TargetSnapshot)
}

// ITargetHistory records retired execution targets for book-keeping.
type ITargetHistory interface {
	SaveRetired(ctx context.Context, snapshot TargetSnapshot) error
	RecentRetired(ctx context.Context, limit int) ([]TargetSnapshot, error)
	Close() error
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
