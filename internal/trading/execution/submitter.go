package execution

import (
	"context"
	"fmt"
	"pairs_trader/internal/core"
	"pairs_trader/pkg/telemetry"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// OrderSubmitter wraps the brokerage's submission path with rate limiting,
// compact client order IDs and submission metrics. It never retries: a
// submission either reaches the brokerage once or its error goes back to the
// caller.
type OrderSubmitter struct {
	brokerage core.IBrokerage
	logger    core.ILogger

	mu          sync.RWMutex
	rateLimiter *rate.Limiter

	// client order ID sequencing
	idMu    sync.Mutex
	lastSec int64
	idSeq   int
}

// NewOrderSubmitter creates a submitter limited to limit orders per second
// with the given burst.
func NewOrderSubmitter(brokerage core.IBrokerage, logger core.ILogger, limit float64, burst int) *OrderSubmitter {
	return &OrderSubmitter{
		brokerage:   brokerage,
		logger:      logger.WithField("component", "order_submitter"),
		rateLimiter: rate.NewLimiter(rate.Limit(limit), burst),
	}
}

// SetRateLimit replaces the rate limit.
func (s *OrderSubmitter) SetRateLimit(limit float64, burst int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimiter = rate.NewLimiter(rate.Limit(limit), burst)
}

// Submit sends one market order for a signed quantity, tagged with the
// owning target's handle. The returned order is only the acknowledged
// ticket; fills arrive through the event stream.
func (s *OrderSubmitter) Submit(ctx context.Context, inst core.Instrument, quantity decimal.Decimal, handle string) (core.Order, error) {
	s.mu.RLock()
	limiter := s.rateLimiter
	s.mu.RUnlock()

	if err := limiter.Wait(ctx); err != nil {
		return core.Order{}, fmt.Errorf("rate limit wait failed: %w", err)
	}

	side := core.SideOf(quantity)
	clientOrderID := s.nextClientOrderID(handle, side)

	metrics := telemetry.GetGlobalMetrics()
	metrics.OrderSubmissionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("instrument", inst.Key()),
		attribute.String("side", side.String()),
	))

	order, err := s.brokerage.SubmitMarketOrder(ctx, inst, quantity, clientOrderID, handle)
	if err != nil {
		metrics.SubmissionErrorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("instrument", inst.Key()),
			attribute.String("side", side.String()),
		))
		s.logger.Warn("order submission failed",
			"instrument", inst.Key(),
			"side", side.String(),
			"quantity", quantity.String(),
			"client_order_id", clientOrderID,
			"error", err.Error())
		return core.Order{}, err
	}

	s.logger.Debug("order submitted",
		"instrument", inst.Key(),
		"side", side.String(),
		"quantity", quantity.String(),
		"client_order_id", clientOrderID,
		"order_id", order.ID)
	return order, nil
}

// nextClientOrderID generates a compact client order ID of the form
// {handle prefix}_{B|S}_{timestamp}{seq}, unique within the process.
func (s *OrderSubmitter) nextClientOrderID(handle string, side core.Side) string {
	s.idMu.Lock()
	defer s.idMu.Unlock()

	prefix := handle
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	sideCode := "B"
	if side == core.SideSell {
		sideCode = "S"
	}

	now := time.Now().Unix()
	if now != s.lastSec {
		s.lastSec = now
		s.idSeq = 0
	}
	s.idSeq++

	return fmt.Sprintf("%s_%s_%d%03d", prefix, sideCode, now, s.idSeq)
}
