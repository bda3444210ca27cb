package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"converter_strategy/internal/core"
	"converter_strategy/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

// App represents the application context and holds core dependencies.
type App struct {
	Cfg       *Config
	Logger    core.ILogger
	Telemetry *telemetry.Telemetry
	sync      func() error
}

// NewApp creates a new App instance by bootstrapping all dependencies.
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	// Telemetry first so the logger bridges into the installed log provider
	var tel *telemetry.Telemetry
	switch {
	case cfg.Telemetry.EnableTracing:
		tel, err = telemetry.Setup(cfg.App.Name)
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
	case cfg.Telemetry.EnableMetrics:
		if err := telemetry.InitMetrics(); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	return &App{
		Cfg:       cfg,
		Logger:    logger,
		Telemetry: tel,
		sync:      logger.Sync,
	}, nil
}

// Runner is an interface for components that can be run and stopped gracefully.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Run orchestrates the application lifecycle, including signal handling.
// The first runner error cancels the others and is returned.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.RunContext(ctx, runners...)
}

// RunContext is Run with a caller-supplied lifetime
func (a *App) RunContext(ctx context.Context, runners ...Runner) error {
	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("Starting application", "name", a.Cfg.App.Name, "strategies", len(a.Cfg.Strategies))

	for _, runner := range runners {
		r := runner
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Application stopped with error", "error", err)
	} else {
		a.Logger.Info("Application shut down gracefully")
	}
	return err
}

// Shutdown flushes telemetry and the logger
func (a *App) Shutdown() error {
	var errs []error
	if a.Telemetry != nil {
		timeout := time.Duration(a.Cfg.System.ShutdownTimeout) * time.Second
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.sync != nil {
		// Sync on a terminal stdout returns EINVAL
		_ = a.sync()
	}
	return errors.Join(errs...)
}
