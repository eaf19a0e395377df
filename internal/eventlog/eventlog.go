// Package eventlog remembers which billing webhook events were fully
// processed so redeliveries can be acknowledged without replaying them.
package eventlog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL covers the provider redelivery window.
const DefaultTTL = 72 * time.Hour

const keyPrefix = "billing_event:"

var ErrEventLog = errors.New("event log unavailable")

// Log records processed event ids.
type Log interface {
	// Seen reports whether id was marked as processed.
	Seen(ctx context.Context, id string) (bool, error)
	// MarkProcessed records id. Marking twice is not an error.
	MarkProcessed(ctx context.Context, id string) error
}

// Redis stores event ids with SETNX and a TTL.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Seen(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, keyPrefix+id).Result()
	if err != nil {
		return false, errors.Join(ErrEventLog, err)
	}
	return n > 0, nil
}

func (r *Redis) MarkProcessed(ctx context.Context, id string) error {
	if err := r.client.SetNX(ctx, keyPrefix+id, time.Now().UTC().Format(time.RFC3339), r.ttl).Err(); err != nil {
		return errors.Join(ErrEventLog, err)
	}
	return nil
}

// Memory is a process-local Log for development and tests.
type Memory struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (m *Memory) Seen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.seen[id]
	if !ok {
		return false, nil
	}
	if !m.now().Before(exp) {
		delete(m.seen, id)
		return false, nil
	}
	return true, nil
}

func (m *Memory) MarkProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.seen[id]; ok && now.Before(exp) {
		return nil
	}
	m.seen[id] = now.Add(m.ttl)
	m.evict(now)
	return nil
}

// evict drops expired ids once the map grows. Caller holds mu.
func (m *Memory) evict(now time.Time) {
	if len(m.seen) < 10_000 {
		return
	}
	for id, exp := range m.seen {
		if !now.Before(exp) {
			delete(m.seen, id)
		}
	}
}

// SetClock replaces the time source.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
