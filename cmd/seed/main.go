package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/wattwatch/wattwatch/pkg/common"
	"github.com/wattwatch/wattwatch/pkg/log"
	"github.com/wattwatch/wattwatch/pkg/storage"
	"github.com/wattwatch/wattwatch/pkg/telemetry"
	"github.com/wattwatch/wattwatch/pkg/types"
)

func main() {
	t := telemetry.Configured()
	s := storage.Configured()
	count := lflag.String("seed-count", "120", "How many readings to insert")
	interval := lflag.Duration("seed-interval", time.Minute, "Spacing between inserted readings")
	streamID := lflag.String("stream-id", types.StreamIDDefault, "Stream to seed settings and devices for")
	lflag.Configure()
	log.ConfigureFromLLog()

	ctx := context.Background()
	n := common.MustAtoi("seed-count", *count)

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data", slog.String("telemetry", t.Name()), slog.Int("count", n))

	// readings end at now so they land inside the live window
	now := time.Now().Truncate(time.Second)
	for i := range n {
		ts := now.Add(-time.Duration(n-1-i) * *interval)
		if err := t.Insert(ctx, telemetry.SyntheticReading(ts, i)); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to insert reading", slog.Time("timestamp", ts), slog.Any("error", err))
			os.Exit(1)
		}
	}

	settings, _, err := types.MigrateSettings(types.Settings{}, 0)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build default settings", slog.Any("error", err))
		os.Exit(1)
	}
	if err := s.SetSettings(ctx, *streamID, settings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed settings", slog.Any("error", err))
		os.Exit(1)
	}

	primary := types.PrimaryDevice()
	primary.CreatedAt = now.UTC()
	if err := s.UpsertDevice(ctx, *streamID, primary); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed device", slog.Any("error", err))
		os.Exit(1)
	}

	if err := s.Close(); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to close storage", slog.Any("error", err))
	}
	log.Ctx(ctx).InfoContext(ctx, "seeding complete", slog.Int("readings", n))
}
