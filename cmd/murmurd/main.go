// murmurd runs the conversational device daemon on the simulated board.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"murmur/internal/bootstrap"
	"murmur/internal/config"
)

func main() {
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("MURMUR_DEBUG") != "" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	services, err := bootstrap.Build(cfg, log)
	if err != nil {
		log.Error("failed to assemble services", "error", err)
		os.Exit(1)
	}
	defer services.Store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := services.Controller.Startup(ctx); err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}

	log.Info("murmurd running",
		"device", cfg.Device.DeviceID,
		"version", cfg.Device.Version)

	if err := services.Controller.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("event loop stopped", "error", err)
		os.Exit(1)
	}
	log.Info("murmurd stopped")
}
