// Package throttle implements a token bucket gate for shared rate-limited
// capabilities.
package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate manages per-capability rate limits. When a capability reports a
// rate-limit verdict, Freeze pauses every caller of that capability for a
// backoff window so a bulk batch slows down instead of failing outright.
type Gate struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	frozenUntil  map[string]time.Time
	defaultRate  rate.Limit
	defaultBurst int
	now          func() time.Time
}

// Config holds gate configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a Gate.
func New(cfg Config) *Gate {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Gate{
		limiters:     make(map[string]*rate.Limiter),
		frozenUntil:  make(map[string]time.Time),
		defaultRate:  r,
		defaultBurst: burst,
		now:          time.Now,
	}
}

// Wait blocks until a token is available for the capability and any freeze
// window has passed, respecting the context.
func (g *Gate) Wait(ctx context.Context, capability string) error {
	g.mu.Lock()
	limiter, exists := g.limiters[capability]
	if !exists {
		limiter = rate.NewLimiter(g.defaultRate, g.defaultBurst)
		g.limiters[capability] = limiter
	}
	until := g.frozenUntil[capability]
	g.mu.Unlock()

	if wait := until.Sub(g.now()); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("throttle wait: %w", ctx.Err())
		case <-timer.C:
		}
	}

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Freeze pauses all callers of the capability until the window elapses.
// Later freezes extend, never shorten.
func (g *Gate) Freeze(capability string, d time.Duration) {
	if d <= 0 {
		return
	}
	until := g.now().Add(d)
	g.mu.Lock()
	defer g.mu.Unlock()
	if until.After(g.frozenUntil[capability]) {
		g.frozenUntil[capability] = until
	}
}
