package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type memEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one rate.Limiter per key and forgets keys idle for
// longer than ttl.
type MemoryLimiter struct {
	mu   sync.Mutex
	m    map[string]*memEntry
	ttl  time.Duration
	stop chan struct{}
	once sync.Once
}

func NewMemoryLimiter(ttl time.Duration, cleanupEvery time.Duration) *MemoryLimiter {
	ml := &MemoryLimiter{
		m:    make(map[string]*memEntry),
		ttl:  ttl,
		stop: make(chan struct{}),
	}
	go ml.gcLoop(cleanupEvery)
	return ml
}

func (m *MemoryLimiter) gcLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			m.evict(now)
		case <-m.stop:
			return
		}
	}
}

func (m *MemoryLimiter) evict(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.m {
		if now.Sub(e.lastSeen) > m.ttl {
			delete(m.m, k)
		}
	}
}

func (m *MemoryLimiter) limiter(key string, rps, burst float64, now time.Time) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.m[key]
	if e == nil {
		e = &memEntry{lim: rate.NewLimiter(rate.Limit(rps), int(burst))}
		m.m[key] = e
	}
	e.lastSeen = now
	return e.lim
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, rps float64, burst float64, cost float64) (Decision, error) {
	now := time.Now()
	lim := m.limiter(key, rps, burst, now)
	n := int(math.Ceil(cost))

	dec := Decision{LimitRPS: rps, Burst: burst}
	if lim.AllowN(now, n) {
		dec.Allowed = true
		dec.Remaining = math.Max(0, lim.TokensAt(now))
		return dec, nil
	}

	missing := float64(n) - lim.TokensAt(now)
	dec.RetryAfterSeconds = 1
	if rps > 0 {
		if s := int(math.Ceil(missing / rps)); s > 1 {
			dec.RetryAfterSeconds = s
		}
	}
	return dec, nil
}

func (m *MemoryLimiter) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

// Len reports how many keys are currently tracked.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.m)
}
