package telemetry

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/wattwatch/wattwatch/pkg/metrics"
	"github.com/wattwatch/wattwatch/pkg/types"
)

// Synthetic generates plausible readings for offline runs. Values are derived
// from the timestamp so repeated calls return the same reading for the same
// instant.
type Synthetic struct {
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	inserted []types.Reading
	subs     map[int]func(types.Reading)
	nextSub  int
}

var _ Source = (*Synthetic)(nil)

// NewSynthetic returns a Synthetic source generating one reading per
// interval.
func NewSynthetic(interval time.Duration) *Synthetic {
	return &Synthetic{
		interval: interval,
		now:      time.Now,
		subs:     make(map[int]func(types.Reading)),
	}
}

func (s *Synthetic) Name() string {
	return "synthetic"
}

func ptr(f float64) *float64 {
	return &f
}

// SyntheticReading returns the generated reading for ts. i drives the slow
// sine wobble.
func SyntheticReading(ts time.Time, i int) types.Reading {
	rng := rand.New(rand.NewPCG(uint64(ts.UnixNano()), 0x5eed))
	power := rng.Float64()*200 + 50 + math.Sin(float64(i)/5)*30
	voltage := 118 + rng.Float64()*4
	return types.Reading{
		ID:           "syn-" + strconv.FormatInt(ts.Unix(), 10),
		Timestamp:    ts.UTC(),
		PowerW:       power,
		CurrentA:     ptr(power / voltage),
		VoltageV:     ptr(voltage),
		TemperatureC: ptr(19 + rng.Float64()*6),
		HumidityPct:  ptr(35 + rng.Float64()*20),
	}
}

func minuteIndex(ts time.Time) int {
	return int(ts.Unix() / 60)
}

// MockReadings returns n generated readings one minute apart ending at end,
// oldest first.
func MockReadings(end time.Time, n int) []types.Reading {
	out := make([]types.Reading, n)
	for i := range out {
		ts := end.Add(-time.Duration(n-1-i) * time.Minute).Truncate(time.Second)
		out[i] = SyntheticReading(ts, i)
	}
	return out
}

// Recent implements Store.
func (s *Synthetic) Recent(ctx context.Context, since time.Time, limit int) ([]types.Reading, error) {
	now := s.now().Truncate(s.interval)
	var out []types.Reading
	for ts := now; !ts.Before(since); ts = ts.Add(-s.interval) {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, SyntheticReading(ts, minuteIndex(ts)))
	}

	s.mu.Lock()
	for _, r := range s.inserted {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	s.mu.Unlock()

	slices.SortStableFunc(out, func(a, b types.Reading) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	metrics.RecordReadings(s.Name(), len(out))
	return out, nil
}

// Subscribe implements Store by generating a reading every interval and
// forwarding inserted readings.
func (s *Synthetic) Subscribe(ctx context.Context, fn func(types.Reading)) error {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			ts := t.Truncate(time.Second)
			fn(SyntheticReading(ts, minuteIndex(ts)))
		}
	}
}

// Insert implements Writer. Inserted readings are kept in memory and pushed
// to subscribers.
func (s *Synthetic) Insert(ctx context.Context, r types.Reading) error {
	if r.ID == "" {
		r.ID = "ins-" + strconv.FormatInt(r.Timestamp.UnixNano(), 10)
	}
	s.mu.Lock()
	s.inserted = append(s.inserted, r)
	subs := make([]func(types.Reading), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(r)
	}
	return nil
}
