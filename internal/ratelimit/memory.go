package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	count   int
	resetAt time.Time
}

// Memory keeps buckets in process memory.
type Memory struct {
	mu      sync.Mutex
	buckets map[Key]*bucket
	now     func() time.Time
}

// NewMemory creates an in-process limiter.
func NewMemory() *Memory {
	return &Memory{
		buckets: make(map[Key]*bucket),
		now:     time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// Allow increments the bucket for key and reports whether the call fits the policy.
func (m *Memory) Allow(_ context.Context, key Key, policy Policy) (Decision, error) {
	if err := policy.Validate(); err != nil {
		return Decision{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(policy.Window)}
		m.buckets[key] = b
	}

	if b.count >= policy.Limit {
		return Decision{Allowed: false, ResetAt: b.resetAt}, nil
	}
	b.count++
	return Decision{Allowed: true, Remaining: policy.Limit - b.count, ResetAt: b.resetAt}, nil
}

// Sweep drops buckets whose window has elapsed and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, b := range m.buckets {
		if !now.Before(b.resetAt) {
			delete(m.buckets, k)
			removed++
		}
	}
	return removed
}

// Run sweeps expired buckets every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Len returns the number of live buckets.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
