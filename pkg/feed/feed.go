package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/wattwatch/wattwatch/pkg/common"
	"github.com/wattwatch/wattwatch/pkg/estimator"
	"github.com/wattwatch/wattwatch/pkg/log"
	"github.com/wattwatch/wattwatch/pkg/metrics"
	"github.com/wattwatch/wattwatch/pkg/telemetry"
	"github.com/wattwatch/wattwatch/pkg/types"
)

// fallbackReadings is how many generated readings replace the window when
// the store cannot be read.
const fallbackReadings = 20

// Snapshot is a point-in-time copy of the live window.
type Snapshot struct {
	// Readings are ascending by timestamp.
	Readings      []types.Reading `json:"readings"`
	Current       *types.Reading  `json:"current"`
	AveragePowerW float64         `json:"averagePowerW"`

	// Synthetic is true when the readings were generated because the store
	// could not be reached.
	Synthetic bool      `json:"synthetic"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Feed keeps the most recent readings from a telemetry store in memory and
// applies live inserts as they arrive.
type Feed struct {
	store   telemetry.Store
	window  time.Duration
	limit   int
	refresh time.Duration
	now     func() time.Time

	mu        sync.RWMutex
	readings  []types.Reading
	ids       map[string]struct{}
	synthetic bool
	updatedAt time.Time
}

// New returns a Feed over store holding up to limit readings from the last
// window.
func New(store telemetry.Store, window time.Duration, limit int, refresh time.Duration) *Feed {
	return &Feed{
		store:   store,
		window:  window,
		limit:   limit,
		refresh: refresh,
		now:     time.Now,
		ids:     make(map[string]struct{}),
	}
}

// Configured sets up the Feed based on flags.
func Configured(store telemetry.Store) *Feed {
	f := New(store, 0, 0, 0)
	window := lflag.Duration("feed-window", 24*time.Hour, "How far back the live window reaches")
	limit := lflag.String("feed-limit", "1000", "Maximum readings kept in the live window")
	refresh := lflag.Duration("feed-refresh", time.Minute, "How often the live window is re-synced and the subscription retried")

	lflag.Do(func() {
		f.window = *window
		f.limit = common.MustAtoi("feed-limit", *limit)
		f.refresh = *refresh
		if f.window <= 0 || f.limit <= 0 || f.refresh <= 0 {
			panic("feed-window, feed-limit and feed-refresh must be positive")
		}
	})

	return f
}

// Load replaces the window with the store's most recent readings. When the
// store fails the window is filled with generated readings and marked
// synthetic so the dashboard still has something to show.
func (f *Feed) Load(ctx context.Context) error {
	now := f.now()
	readings, err := f.store.Recent(ctx, now.Add(-f.window), f.limit)
	if err != nil && ctx.Err() != nil {
		return err
	}
	if err != nil {
		if !f.fallback(telemetry.MockReadings(now, fallbackReadings), now) {
			log.Ctx(ctx).WarnContext(ctx, "failed to refresh readings, keeping current window", slog.Any("error", err))
			return err
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to load readings, using generated data", slog.Any("error", err))
		return err
	}
	metrics.RecordReadings("rest", len(readings))
	f.replace(readings, false, now)
	log.Ctx(ctx).DebugContext(ctx, "loaded readings", slog.Int("count", len(readings)))
	return nil
}

// fallback swaps in generated readings unless the window already holds live
// readings. It reports whether the swap happened.
func (f *Feed) fallback(generated []types.Reading, now time.Time) bool {
	readings, ids := dedupe(generated)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.synthetic && len(f.readings) > 0 {
		return false
	}
	f.setLocked(readings, ids, true, now)
	return true
}

func (f *Feed) replace(readings []types.Reading, synthetic bool, now time.Time) {
	deduped, ids := dedupe(readings)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.setLocked(deduped, ids, synthetic, now)
}

// dedupe sorts readings by time and drops repeated IDs.
func dedupe(readings []types.Reading) ([]types.Reading, map[string]struct{}) {
	sorted := estimator.SortByTime(readings)
	ids := make(map[string]struct{}, len(sorted))
	deduped := sorted[:0]
	for _, r := range sorted {
		if r.ID != "" {
			if _, ok := ids[r.ID]; ok {
				continue
			}
			ids[r.ID] = struct{}{}
		}
		deduped = append(deduped, r)
	}
	return deduped, ids
}

func (f *Feed) setLocked(readings []types.Reading, ids map[string]struct{}, synthetic bool, now time.Time) {
	f.readings = readings
	f.ids = ids
	f.synthetic = synthetic
	f.updatedAt = now
	f.trimLocked(now)
}

// Add applies a single live reading. Duplicates by ID are ignored. The first
// live reading after a fallback discards the generated data.
func (f *Feed) Add(r types.Reading) {
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.synthetic {
		f.readings = nil
		f.ids = make(map[string]struct{})
		f.synthetic = false
	}
	if r.ID != "" {
		if _, ok := f.ids[r.ID]; ok {
			return
		}
		f.ids[r.ID] = struct{}{}
	}

	// readings almost always arrive in order
	i := len(f.readings)
	for i > 0 && f.readings[i-1].Timestamp.After(r.Timestamp) {
		i--
	}
	f.readings = append(f.readings, types.Reading{})
	copy(f.readings[i+1:], f.readings[i:])
	f.readings[i] = r
	f.updatedAt = now
	f.trimLocked(now)
}

// trimLocked drops readings older than the window and then the oldest
// readings beyond the limit.
func (f *Feed) trimLocked(now time.Time) {
	cutoff := now.Add(-f.window)
	drop := 0
	for drop < len(f.readings) && f.readings[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if f.limit > 0 && len(f.readings)-drop > f.limit {
		drop = len(f.readings) - f.limit
	}
	for _, r := range f.readings[:drop] {
		delete(f.ids, r.ID)
	}
	f.readings = f.readings[drop:]

	latest := 0.0
	if len(f.readings) > 0 {
		latest = f.readings[len(f.readings)-1].PowerW
	}
	metrics.SetFeed(len(f.readings), latest)
}

// Snapshot returns a copy of the current window.
func (f *Feed) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	readings := make([]types.Reading, len(f.readings))
	copy(readings, f.readings)
	snap := Snapshot{
		Readings:      readings,
		AveragePowerW: estimator.AveragePowerW(readings),
		Synthetic:     f.synthetic,
		UpdatedAt:     f.updatedAt,
	}
	if len(readings) > 0 {
		current := readings[len(readings)-1]
		snap.Current = &current
	}
	return snap
}

// Run loads the window and then follows live inserts until ctx is done. The
// window is re-synced every refresh and a failed subscription is retried on
// the same schedule.
func (f *Feed) Run(ctx context.Context) error {
	ctx = log.WithAttrs(ctx, slog.String("component", "feed"))
	// failures are logged and replaced with generated data inside Load
	_ = f.Load(ctx)

	subErr := make(chan error, 1)
	subscribe := func() {
		go func() {
			subErr <- f.store.Subscribe(ctx, f.Add)
		}()
	}
	subscribe()
	subscribed := true

	ticker := time.NewTicker(f.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if subscribed {
				<-subErr
			}
			return nil
		case err := <-subErr:
			subscribed = false
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "subscription ended", slog.Any("error", err))
			}
		case <-ticker.C:
			_ = f.Load(ctx)
			if !subscribed && ctx.Err() == nil {
				log.Ctx(ctx).InfoContext(ctx, "resubscribing to readings")
				subscribe()
				subscribed = true
			}
		}
	}
}
