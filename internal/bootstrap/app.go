// Package bootstrap wires configuration, logging and process lifecycle
// for the pairs trader binary.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"pairs_trader/internal/core"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// App holds the core dependencies shared by every runner.
type App struct {
	Cfg    *Config
	Logger core.ILogger
}

// NewApp loads configuration and initializes the process logger.
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	return &App{
		Cfg:    cfg,
		Logger: logger,
	}, nil
}

// Runner is an interface for components that can be run and stopped gracefully.
type Runner interface {
	Run(ctx context.Context) error
}

// Run starts all runners under one errgroup and blocks until they
// finish or a termination signal cancels the shared context.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Flush buffered log records on the way out. Sync on a stdout writer can
	// legitimately fail, so the error is dropped.
	if s, ok := a.Logger.(interface{ Sync() error }); ok {
		defer func() { _ = s.Sync() }()
	}

	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("starting application",
		"mode", a.Cfg.App.Mode,
		"pairs", len(a.Cfg.Pairs),
	)

	for _, runner := range runners {
		g.Go(func() error {
			return runner.Run(ctx)
		})
	}

	// A signal cancels the context; runners that return context.Canceled
	// on shutdown are treated as a clean exit.
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("application shut down gracefully")
	return nil
}
