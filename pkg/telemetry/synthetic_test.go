package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wattwatch/wattwatch/pkg/types"
)

func TestSyntheticReading(t *testing.T) {
	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	a := SyntheticReading(ts, 3)
	b := SyntheticReading(ts, 3)
	assert.Equal(t, a, b, "same instant should produce the same reading")
	assert.GreaterOrEqual(t, a.PowerW, 20.0)
	assert.LessOrEqual(t, a.PowerW, 280.0)
	require.NotNil(t, a.VoltageV)
	require.NotNil(t, a.CurrentA)
	assert.InDelta(t, a.PowerW / *a.VoltageV, *a.CurrentA, 1e-9)
}

func TestMockReadings(t *testing.T) {
	end := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	readings := MockReadings(end, 20)
	require.Len(t, readings, 20)
	assert.Equal(t, end, readings[19].Timestamp)
	assert.Equal(t, end.Add(-19*time.Minute), readings[0].Timestamp)
	for i := 1; i < len(readings); i++ {
		assert.True(t, readings[i].Timestamp.After(readings[i-1].Timestamp))
	}
}

func TestSyntheticRecent(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 30, 0, time.UTC)
	s := NewSynthetic(time.Minute)
	s.now = func() time.Time { return now }

	readings, err := s.Recent(context.Background(), now.Add(-time.Hour), 1000)
	require.NoError(t, err)
	// 09:01 through 10:00
	require.Len(t, readings, 60)
	assert.Equal(t, time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), readings[0].Timestamp)
	assert.True(t, readings[0].Timestamp.After(readings[1].Timestamp), "newest first")

	limited, err := s.Recent(context.Background(), now.Add(-time.Hour), 5)
	require.NoError(t, err)
	assert.Len(t, limited, 5)
	assert.Equal(t, readings[:5], limited)
}

func TestSyntheticInsert(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 30, 0, time.UTC)
	s := NewSynthetic(time.Hour)
	s.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan types.Reading, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Subscribe(ctx, func(r types.Reading) { got <- r })
	}()

	// wait for the subscriber to register
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.subs) == 1
	}, time.Second, 5*time.Millisecond)

	r := types.Reading{Timestamp: now.Add(-time.Second), PowerW: 42}
	require.NoError(t, s.Insert(ctx, r))

	select {
	case pushed := <-got:
		assert.Equal(t, 42.0, pushed.PowerW)
		assert.NotEmpty(t, pushed.ID)
	case <-time.After(time.Second):
		t.Fatal("inserted reading was not pushed")
	}

	readings, err := s.Recent(ctx, now.Add(-10*time.Second), 0)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, 42.0, readings[0].PowerW)

	cancel()
	assert.NoError(t, <-errCh)
}
