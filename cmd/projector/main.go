// Command projector keeps the projections of the order domain up to date.
//
// It rebuilds every projection whose schema changed or whose rebuild stalled, then tails the
// event log for events appended by other processes and periodically re-checks for stalled
// rebuilds of other instances. The tail watermark is shared, so only one instance advances it
// at a time. On the very first start the tail begins at the start time, and events appended
// while the first rebuild runs may reach a projection twice.
// All settings come from PROJECTIONS_* environment variables, see package config.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AntonStoeckl/eventstore-projections-go/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("projector: loading configuration failed", "error", err.Error())
		os.Exit(1)
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cfg, logger); err != nil {
		logger.Error("projector: stopped with error", "error", err.Error())
		os.Exit(1) //nolint:gocritic
	}
}
