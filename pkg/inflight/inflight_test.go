package inflight

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGuard(t *testing.T, g Guard, key string) {
	ctx := context.Background()

	release, err := g.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = g.Acquire(ctx, key)
	assert.ErrorIs(t, err, ErrBusy)

	other, err := g.Acquire(ctx, key+"-other")
	require.NoError(t, err)
	other()

	release()
	// releasing twice must not drop a later holder's claim
	again, err := g.Acquire(ctx, key)
	require.NoError(t, err)
	release()
	_, err = g.Acquire(ctx, key)
	assert.ErrorIs(t, err, ErrBusy)
	again()
}

func TestLocal(t *testing.T) {
	t.Run("Acquire And Release", func(t *testing.T) {
		testGuard(t, NewLocal(), "forecast")
	})

	t.Run("Canceled Context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewLocal().Acquire(ctx, "forecast")
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Only One Winner", func(t *testing.T) {
		g := NewLocal()
		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, err := g.Acquire(context.Background(), "anomaly"); err == nil {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	g, err := DialRedis(addr, os.Getenv("REDIS_PASSWORD"), time.Minute)
	require.NoError(t, err)
	defer g.Close()

	t.Run("Acquire And Release", func(t *testing.T) {
		testGuard(t, g, "test-"+uuid.NewString())
	})

	t.Run("Expires", func(t *testing.T) {
		short := NewRedis(g.client, 100*time.Millisecond)
		key := "test-" + uuid.NewString()
		_, err := short.Acquire(context.Background(), key)
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			release, err := short.Acquire(context.Background(), key)
			if err != nil {
				return false
			}
			release()
			return true
		}, 2*time.Second, 50*time.Millisecond)
	})
}
