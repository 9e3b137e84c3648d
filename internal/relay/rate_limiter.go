package relay

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dkeye/Stage/internal/domain"
)

// RateLimiter throttles broadcast envelopes per member with a sliding
// window. Negotiation traffic is not counted; only fan-out types are.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[domain.Identity][]time.Time
	limit    int
	interval time.Duration
	clk      clock.Clock
}

func NewRateLimiter(limit int, interval time.Duration, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{
		history:  make(map[domain.Identity][]time.Time),
		limit:    limit,
		interval: interval,
		clk:      clk,
	}
}

func (rl *RateLimiter) Allow(id domain.Identity) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clk.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[id]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[id] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[id] = fresh
	return true
}

// Forget drops a member's history once they leave.
func (rl *RateLimiter) Forget(id domain.Identity) {
	rl.mu.Lock()
	delete(rl.history, id)
	rl.mu.Unlock()
}
