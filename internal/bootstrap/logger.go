package bootstrap

import (
	"os"
	"pairs_trader/internal/core"
	conlog "pairs_trader/internal/logging"
	"pairs_trader/pkg/logging"
)

// InitLogger builds the process logger. With telemetry enabled the zap
// logger tees console output into the OTel log bridge; otherwise the
// dependency-free console logger is used.
func InitLogger(cfg *Config) (core.ILogger, error) {
	if cfg.Telemetry.EnableMetrics {
		logger, err := logging.NewZapLogger(cfg.App.LogLevel)
		if err != nil {
			return nil, err
		}
		logging.SetGlobalLogger(logger)
		return logger, nil
	}

	logger, err := conlog.NewLoggerFromString(cfg.App.LogLevel, os.Stdout)
	if err != nil {
		return nil, err
	}
	conlog.SetGlobalLogger(logger)
	return logger, nil
}
