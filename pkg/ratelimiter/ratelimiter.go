// Package ratelimiter throttles expensive member actions per key with an
// in-process token bucket. Each key starts with Burst tokens and regains one
// token every Interval.
package ratelimiter

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrInvalidConfig = errors.New("ratelimiter: invalid configuration")

// Config is loaded from the environment by pkg/config.
type Config struct {
	Burst    int           `env:"RATE_LIMIT_BURST" envDefault:"10"`
	Interval time.Duration `env:"RATE_LIMIT_INTERVAL" envDefault:"6s"`
	// IdleTTL drops buckets untouched for this long.
	IdleTTL time.Duration `env:"RATE_LIMIT_IDLE_TTL" envDefault:"1h"`
}

func (c Config) validate() error {
	if c.Burst <= 0 {
		return fmt.Errorf("%w: burst must be positive, got %d", ErrInvalidConfig, c.Burst)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %v", ErrInvalidConfig, c.Interval)
	}
	return nil
}

// Result describes a single Allow decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time     // when the next token is added
	RetryAfter time.Duration // zero for allowed requests
}

type bucket struct {
	tokens     int
	lastRefill time.Time
	lastSeen   time.Time
}

// Limiter is safe for concurrent use.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func New(cfg Config) (*Limiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = time.Hour
	}
	return &Limiter{cfg: cfg, now: time.Now, buckets: make(map[string]*bucket)}, nil
}

// SetClock replaces the time source.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Allow takes one token from the bucket of key.
func (l *Limiter) Allow(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.cfg.Burst, lastRefill: now}
		l.buckets[key] = b
	}
	b.lastSeen = now

	if steps := int(now.Sub(b.lastRefill) / l.cfg.Interval); steps > 0 {
		b.tokens = min(b.tokens+min(steps, l.cfg.Burst), l.cfg.Burst)
		b.lastRefill = b.lastRefill.Add(time.Duration(steps) * l.cfg.Interval)
	}
	if b.tokens == l.cfg.Burst {
		b.lastRefill = now
	}

	res := Result{Limit: l.cfg.Burst, ResetAt: b.lastRefill.Add(l.cfg.Interval)}
	if b.tokens > 0 {
		b.tokens--
		res.Allowed = true
	} else {
		res.RetryAfter = max(res.ResetAt.Sub(now), 0)
	}
	res.Remaining = b.tokens
	return res
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.cfg.IdleTTL {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.cfg.IdleTTL {
			delete(l.buckets, key)
		}
	}
}
