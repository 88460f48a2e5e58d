package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/wattwatch/wattwatch/pkg/types"
)

// Store reads telemetry from wherever the sensors report to.
type Store interface {
	// Recent returns up to limit readings taken at or after since, newest
	// first.
	Recent(ctx context.Context, since time.Time, limit int) ([]types.Reading, error)

	// Subscribe calls fn for every new reading until ctx is done or the
	// subscription fails. It returns nil when ctx is done.
	Subscribe(ctx context.Context, fn func(types.Reading)) error
}

// Writer inserts readings. It is used for seeding development data.
type Writer interface {
	Insert(ctx context.Context, r types.Reading) error
}

// Source is a Store that can also be written to.
type Source interface {
	Store
	Writer

	// Name identifies the source in logs and metrics.
	Name() string
}

// Configured sets up the telemetry Source based on flags.
func Configured() Source {
	provider := lflag.String("telemetry-provider", "supabase", "Telemetry provider to use (available: supabase, synthetic)")
	timeout := lflag.Duration("telemetry-timeout", 15*time.Second, "Timeout for a single telemetry REST request")
	interval := lflag.Duration("synthetic-interval", time.Minute, "Interval between generated readings for the synthetic provider")

	var p struct{ Source }

	sb := configuredSupabase(timeout)

	lflag.Do(func() {
		switch *provider {
		case "supabase":
			if err := sb.Validate(); err != nil {
				panic(fmt.Sprintf("supabase validation failed: %v", err))
			}
			p.Source = sb
		case "synthetic":
			if *interval <= 0 {
				panic("synthetic-interval must be positive")
			}
			p.Source = NewSynthetic(*interval)
		default:
			panic(fmt.Sprintf("unknown telemetry provider: %s", *provider))
		}
	})

	return &p
}
