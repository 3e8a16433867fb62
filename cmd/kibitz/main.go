// Command kibitz runs the assistant core with the HTTP front door only.
// Chat platforms are wired by embedding the kibitz package in an
// application that owns the gateway connections; this binary is the
// standalone deployment for HTTP clients and local development.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kibitzhq/kibitz"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("KIBITZ_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	app, err := kibitz.New(ctx,
		kibitz.WithLogger(logger),
		kibitz.WithVersion(version),
	)
	if err != nil {
		return fmt.Errorf("assemble: %w", err)
	}
	return app.Run(ctx)
}
