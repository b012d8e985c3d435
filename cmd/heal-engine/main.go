package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luminousstack/lumen-heal/internal/api"
	"github.com/luminousstack/lumen-heal/internal/config"
	"github.com/luminousstack/lumen-heal/internal/engine"
	"github.com/luminousstack/lumen-heal/internal/executor"
	"github.com/luminousstack/lumen-heal/internal/metrics"
	"github.com/luminousstack/lumen-heal/internal/models"
	"github.com/luminousstack/lumen-heal/internal/signals"
	"github.com/luminousstack/lumen-heal/internal/utils"
	"github.com/luminousstack/lumen-heal/internal/watch"
)

func main() {
	var configPath string
	var once bool
	var dryRun bool
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&once, "once", false, "Run a single heal cycle and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "Resolve actions but never execute them")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting lumen-heal", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	source := signals.NewLocalSource(cfg.Detector.Mounts)
	detector := engine.NewDetector(
		logger,
		source,
		engine.DefaultThresholdRules(
			cfg.Detector.CPUPercent,
			cfg.Detector.MemoryPercent,
			cfg.Detector.DiskPercent,
			cfg.Detector.LoadPerCore,
		),
		cfg.Detector.Services,
		cfg.Detector.Timeout,
	)

	resolver, err := engine.NewResolver(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	exec := executor.New(executor.Config{
		DevMode:    cfg.Executor.DevMode,
		SocketPath: cfg.Executor.SocketPath,
		Timeout:    cfg.Executor.Timeout,
		Secret:     cfg.Executor.Secret,
	}, logger)
	logger.Info("permission boundary configured", slog.String("mode", string(exec.Mode())))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var events <-chan models.Issue
	if len(cfg.Watcher.CriticalPaths) > 0 {
		monitor, err := watch.NewMonitor(cfg.Watcher.CriticalPaths, cfg.Watcher.Debounce, logger)
		if err != nil {
			logger.Error("failed to start integrity watcher", slog.Any("error", err))
			os.Exit(1)
		}
		events = monitor.Issues()
		go monitor.Run(ctx)
	}

	minSeverity, _ := models.ParseSeverity(strings.ToLower(cfg.Engine.MinSeverity))
	eng := engine.New(logger, detector, resolver, exec, engine.Options{
		Interval:    cfg.Engine.Interval,
		Cooldown:    cfg.Engine.Cooldown,
		HourlyCap:   cfg.Engine.HourlyCap,
		HistorySize: cfg.Engine.HistorySize,
		MinSeverity: minSeverity,
		DryRun:      dryRun,
		Events:      events,
	})

	if once {
		runOnce(ctx, eng, os.Stdout)
		return
	}

	server := api.NewServer(cfg.Server.Address, eng, logger)

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("admin server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	eng.Run(ctx)
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("lumen-heal stopped")
}

type cycleRunner interface {
	RunCycle(ctx context.Context) []engine.Record
}

// runOnce executes a single cycle and prints the outcome per issue, so the
// binary doubles as a manual "heal now" tool. Command output is echoed too;
// under -dry-run that is the "[dry-run] would run: …" preview.
func runOnce(ctx context.Context, eng cycleRunner, w io.Writer) {
	records := eng.RunCycle(ctx)
	if len(records) == 0 {
		fmt.Fprintln(w, "no issues detected")
		return
	}
	for _, rec := range records {
		fmt.Fprintf(w, "%-10s %-12s %s", rec.Outcome, rec.Issue.Severity, rec.Issue.Description)
		if rec.Action.Operation != "" {
			fmt.Fprintf(w, " -> %s", rec.Action.Operation)
		}
		fmt.Fprintln(w)
		if rec.Result.Output != "" {
			fmt.Fprintf(w, "           %s\n", rec.Result.Output)
		}
		if rec.Result.Error != "" {
			fmt.Fprintf(w, "           error: %s\n", rec.Result.Error)
		}
		if rec.Result.Suggestion != "" {
			fmt.Fprintf(w, "           suggestion: %s\n", rec.Result.Suggestion)
		}
	}
}
