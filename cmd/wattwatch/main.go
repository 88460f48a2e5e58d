package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/wattwatch/wattwatch/pkg/common"
	"github.com/wattwatch/wattwatch/pkg/feed"
	"github.com/wattwatch/wattwatch/pkg/inflight"
	"github.com/wattwatch/wattwatch/pkg/insights"
	"github.com/wattwatch/wattwatch/pkg/log"
	"github.com/wattwatch/wattwatch/pkg/server"
	"github.com/wattwatch/wattwatch/pkg/storage"
	"github.com/wattwatch/wattwatch/pkg/telemetry"
)

func main() {
	// init packages
	t := telemetry.Configured()
	f := feed.Configured(t)
	a := insights.ConfiguredAdvisor()
	g := inflight.Configured()
	s := storage.Configured()

	// init server
	srv := server.Configured(f, a, g, s)

	// parse flags
	lflag.Configure()

	level := log.ConfigureFromLLog()
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Ctx(ctx).InfoContext(ctx, "starting wattwatch",
		slog.String("version", common.Version()),
		slog.String("telemetry", t.Name()),
		slog.String("insights", a.Provider()),
	)

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
