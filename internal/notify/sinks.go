package notify

import (
	"context"
	"fmt"
	"pairs_trader/internal/alert"
	"pairs_trader/internal/core"
	"pairs_trader/pkg/telemetry"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const historySaveTimeout = 5 * time.Second

// LogSink writes one structured line per notification. Terminal states
// log at info, progress at debug.
type LogSink struct {
	logger core.ILogger
}

func NewLogSink(logger core.ILogger) *LogSink {
	return &LogSink{logger: logger.WithField("component", "notify_log")}
}

func (s *LogSink) NotifyTarget(kind core.NotificationKind, snapshot core.TargetSnapshot) {
	fields := []interface{}{
		"kind", kind.String(),
		"handle", snapshot.Handle,
		"opportunity", snapshot.OpportunityKey,
		"status", snapshot.Status.String(),
		"groups", snapshot.GroupCount,
	}
	if kind.IsTerminal() {
		fields = append(fields,
			"realized_spread", snapshot.RealizedSpread.String(),
			"fee_paid", snapshot.FeePaid.String())
		s.logger.Info("target notification", fields...)
		return
	}
	s.logger.Debug("target notification", fields...)
}

// HistorySink persists terminal snapshots to the target history store.
type HistorySink struct {
	store  core.ITargetHistory
	logger core.ILogger
}

func NewHistorySink(store core.ITargetHistory, logger core.ILogger) *HistorySink {
	return &HistorySink{
		store:  store,
		logger: logger.WithField("component", "notify_history"),
	}
}

func (s *HistorySink) NotifyTarget(kind core.NotificationKind, snapshot core.TargetSnapshot) {
	if !kind.IsTerminal() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historySaveTimeout)
	defer cancel()
	if err := s.store.SaveRetired(ctx, snapshot); err != nil {
		s.logger.Error("failed to persist retired target",
			"handle", snapshot.Handle, "error", err.Error())
	}
}

// MetricsSink counts notifications by kind and pair.
type MetricsSink struct {
	counter metric.Int64Counter
}

func NewMetricsSink() *MetricsSink {
	meter := telemetry.GetMeter("notify")
	counter, _ := meter.Int64Counter("pairs_trader_notifications_total",
		metric.WithDescription("Target notifications dispatched by kind"))
	return &MetricsSink{counter: counter}
}

func (s *MetricsSink) NotifyTarget(kind core.NotificationKind, snapshot core.TargetSnapshot) {
	s.counter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", kind.String()),
		attribute.String("pair", snapshot.OpportunityKey),
	))
}

// AlertSink raises operator alerts for states worth waking someone for.
// Progress notifications never alert.
type AlertSink struct {
	alerts *alert.AlertManager
}

func NewAlertSink(alerts *alert.AlertManager) *AlertSink {
	return &AlertSink{alerts: alerts}
}

func (s *AlertSink) NotifyTarget(kind core.NotificationKind, snapshot core.TargetSnapshot) {
	var level alert.AlertLevel
	var title string
	switch kind {
	case core.NotifyTargetFilled:
		level, title = alert.Info, "Target filled"
	case core.NotifyTargetCanceled:
		level, title = alert.Warning, "Target timed out"
	case core.NotifyTargetFailed:
		level, title = alert.Error, "Target failed"
	case core.NotifyFillInconsistency:
		level, title = alert.Critical, "Fill inconsistency detected"
	default:
		return
	}

	message := fmt.Sprintf("%s %s finished %s",
		snapshot.Direction, snapshot.OpportunityKey, snapshot.Status)
	fields := map[string]string{
		"handle":          snapshot.Handle,
		"realized_spread": snapshot.RealizedSpread.StringFixed(4) + "%",
		"fee_paid":        snapshot.FeePaid.String(),
		"groups":          strconv.Itoa(snapshot.GroupCount),
	}
	s.alerts.Alert(context.Background(), title, message, level, fields)
}
