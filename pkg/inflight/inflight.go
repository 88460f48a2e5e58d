package inflight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
)

// ErrBusy is returned by Acquire when the key is already held.
var ErrBusy = errors.New("request already in flight")

// Guard prevents concurrent requests for the same key. A dashboard that
// re-renders would otherwise fire the same slow AI request several times.
type Guard interface {
	// Acquire takes the key or returns ErrBusy. The returned release func
	// must be called when the request is finished and is safe to call more
	// than once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Configured sets up the Guard based on flags.
func Configured() Guard {
	provider := lflag.String("inflight-provider", "local", "In-flight guard to use (available: local, redis)")
	addr := lflag.String("redis-addr", "", "Redis address for the redis in-flight guard")
	password := lflag.String("redis-password", "", "Redis password for the redis in-flight guard")
	ttl := lflag.Duration("inflight-ttl", 2*time.Minute, "Upper bound on how long a key stays held if its holder never releases it")

	var p struct{ Guard }

	lflag.Do(func() {
		switch *provider {
		case "local":
			p.Guard = NewLocal()
		case "redis":
			if strings.TrimSpace(*addr) == "" {
				panic("redis-addr is required for the redis in-flight guard")
			}
			r, err := DialRedis(*addr, *password, *ttl)
			if err != nil {
				panic(fmt.Sprintf("redis init failed: %v", err))
			}
			p.Guard = r
		default:
			panic(fmt.Sprintf("unknown inflight provider: %s", *provider))
		}
	})

	return &p
}

// Local guards keys within a single process.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal returns an empty Local guard.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// Acquire implements Guard.
func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrBusy
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
