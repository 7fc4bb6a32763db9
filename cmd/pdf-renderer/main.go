package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Lllllllleong/pdfrenderer/internal/config"
	"github.com/Lllllllleong/pdfrenderer/internal/httpapi"
	"github.com/Lllllllleong/pdfrenderer/internal/logging"
	"github.com/Lllllllleong/pdfrenderer/internal/services"
	"github.com/Lllllllleong/pdfrenderer/internal/workspace"
	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; Cloud Run injects real environment variables.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Renderer exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if removed, err := workspace.Sweep(ctx, cfg.WorkDir, cfg.WorkspaceSweepAge); err != nil {
		logger.Warn("Workspace sweep failed", "error", err)
	} else if removed > 0 {
		logger.Info("Removed stale workspaces", "count", removed)
	}

	renderer, err := services.NewRenderer(ctx, cfg)
	if err != nil {
		return err
	}
	defer renderer.Close()

	server := httpapi.New(httpapi.Config{
		Listen:       ":" + cfg.Port,
		RedactErrors: cfg.RedactErrors,
		WriteTimeout: cfg.JobTimeout + cfg.JobTimeout/2,
	}, renderer, logger)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
