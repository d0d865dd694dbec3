package transport

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrRPMExceeded = errors.New("RPM throttling limit exceeded")
	ErrRPSExceeded = errors.New("RPS throttling limit exceeded")
)

const (
	throttleIdleTTL   = 10 * time.Minute
	throttlePruneSize = 1024
)

// limiterPair holds the RPS and RPM limiters for one client
type limiterPair struct {
	rpsLimiter *rate.Limiter
	rpmLimiter *rate.Limiter
	lastSeen   time.Time
}

// Throttle limits chat requests per client key using RPS and RPM buckets.
// A zero limit disables that bucket.
type Throttle struct {
	rps      int
	rpm      int
	mu       sync.Mutex
	limiters map[string]*limiterPair
	now      func() time.Time
}

func NewThrottle(rps, rpm int) *Throttle {
	return &Throttle{
		rps:      rps,
		rpm:      rpm,
		limiters: make(map[string]*limiterPair),
		now:      time.Now,
	}
}

// Allow reports whether key may start another request now.
func (t *Throttle) Allow(key string) error {
	if t == nil || (t.rps <= 0 && t.rpm <= 0) {
		return nil
	}
	pair := t.getLimiters(key)

	if pair.rpmLimiter != nil && !pair.rpmLimiter.Allow() {
		return ErrRPMExceeded
	}
	if pair.rpsLimiter != nil && !pair.rpsLimiter.Allow() {
		return ErrRPSExceeded
	}
	return nil
}

func (t *Throttle) getLimiters(key string) *limiterPair {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if pair, ok := t.limiters[key]; ok {
		pair.lastSeen = now
		return pair
	}
	if len(t.limiters) >= throttlePruneSize {
		for k, p := range t.limiters {
			if now.Sub(p.lastSeen) > throttleIdleTTL {
				delete(t.limiters, k)
			}
		}
	}

	pair := &limiterPair{lastSeen: now}
	if t.rpm > 0 {
		// Convert RPM to requests per second for the limiter
		pair.rpmLimiter = rate.NewLimiter(rate.Limit(t.rpm)/60.0, t.rpm)
	}
	if t.rps > 0 {
		pair.rpsLimiter = rate.NewLimiter(rate.Limit(t.rps), t.rps)
	}
	t.limiters[key] = pair
	return pair
}
