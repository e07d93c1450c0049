// Package alert delivers operator alerts over webhook channels.
package alert

import (
	"context"
	"pairs_trader/internal/core"
	"sync"
	"time"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

// severity orders levels for threshold filtering.
func (l AlertLevel) severity() int {
	switch l {
	case Warning:
		return 1
	case Error:
		return 2
	case Critical:
		return 3
	default:
		return 0
	}
}

// ParseLevel maps a config string to a level, defaulting to Info.
func ParseLevel(s string) AlertLevel {
	switch AlertLevel(s) {
	case Warning, Error, Critical:
		return AlertLevel(s)
	default:
		return Info
	}
}

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

type AlertManager struct {
	channels []AlertChannel
	minLevel AlertLevel
	logger   core.ILogger
	mu       sync.RWMutex
}

func NewAlertManager(logger core.ILogger) *AlertManager {
	return &AlertManager{
		channels: make([]AlertChannel, 0),
		minLevel: Info,
		logger:   logger.WithField("component", "alert_manager"),
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("added alert channel", "name", ch.Name())
}

// SetMinLevel drops alerts below the given level.
func (am *AlertManager) SetMinLevel(level AlertLevel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.minLevel = level
}

// Alert fans the payload out to every channel. Delivery is async;
// alerting must never block the trading path.
func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	am.mu.RLock()
	minLevel := am.minLevel
	channels := make([]AlertChannel, len(am.channels))
	copy(channels, am.channels)
	am.mu.RUnlock()

	if level.severity() < minLevel.severity() {
		return
	}

	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	am.logger.Info("triggering alert", "title", title, "level", string(level))

	for _, ch := range channels {
		go func(c AlertChannel) {
			timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			if err := c.Send(timeoutCtx, payload); err != nil {
				am.logger.Error("failed to send alert", "channel", c.Name(), "error", err.Error())
			}
		}(ch)
	}
}
