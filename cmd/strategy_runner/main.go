package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"converter_strategy/internal/bootstrap"
	"converter_strategy/internal/infrastructure/health"
	"converter_strategy/internal/infrastructure/metrics"
	"converter_strategy/internal/runner"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/strategy_runner.yaml", "Path to configuration file")
	reportPath := flag.String("report", "-", "Where to write the JSON job report ('-' for stdout, empty to skip)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("strategy_runner version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if err := run(*configPath, *reportPath); err != nil {
		fmt.Fprintf(os.Stderr, "strategy_runner: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, reportPath string) error {
	app, err := bootstrap.NewApp(configPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()

	cfg := app.Cfg
	app.Logger.Info("Starting strategy_runner", "version", version, "config", configPath)

	hm := health.NewHealthManager(app.Logger)
	jobs, err := runner.New(cfg, hm, app.Logger)
	if err != nil {
		return fmt.Errorf("build strategies: %w", err)
	}
	defer jobs.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runners := []bootstrap.Runner{
		bootstrap.RunnerFunc(func(ctx context.Context) error {
			err := jobs.Run(ctx)
			if werr := writeReport(reportPath, jobs.Reports()); werr != nil {
				app.Logger.Warn("Failed to write job report", "error", werr)
			}
			if err != nil {
				return err
			}
			if !cfg.System.KeepRunning {
				cancel()
			}
			return nil
		}),
	}
	if cfg.Telemetry.EnableMetrics {
		runners = append(runners, metrics.NewServer(cfg.Telemetry.MetricsPort, hm.Handler(), app.Logger))
	}

	err = app.RunContext(ctx, runners...)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func writeReport(path string, reports []runner.JobReport) error {
	if path == "" {
		return nil
	}
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}
