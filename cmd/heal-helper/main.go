package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luminousstack/lumen-heal/internal/config"
	"github.com/luminousstack/lumen-heal/internal/helper"
	"github.com/luminousstack/lumen-heal/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting lumen-heal helper", slog.String("socket", cfg.Executor.SocketPath))

	if cfg.Executor.Secret == "" {
		logger.Error("LUMEN_HEAL_SECRET must be set; the helper refuses unsigned requests")
		os.Exit(1)
	}

	server := helper.NewServer(helper.Config{
		SocketPath: cfg.Executor.SocketPath,
		Secret:     cfg.Executor.Secret,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("helper exited", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	time.Sleep(100 * time.Millisecond)
	logger.Info("lumen-heal helper stopped")
}
