// Package window provides a keyed sliding-window event counter used by the
// credential guard and the IP reputation monitor.
//
// Entries older than the window passed to Count are logically absent: every
// read prunes the key's series first, so callers never observe stale events
// even though pruning is lazy.
package window

import (
	"sync"
	"time"
)

type series struct {
	mu sync.Mutex
	at []time.Time
}

// Counter records timestamped events per key. Different keys do not contend:
// the outer map is guarded by an RWMutex held only for lookup/insert, and each
// key carries its own lock.
type Counter struct {
	mu   sync.RWMutex
	keys map[string]*series
	now  func() time.Time
}

// Option configures a Counter.
type Option func(*Counter)

// WithClock replaces the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Counter) { c.now = now }
}

func New(opts ...Option) *Counter {
	c := &Counter{keys: make(map[string]*series), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Counter) get(key string, create bool) *series {
	c.mu.RLock()
	s, ok := c.keys[key]
	c.mu.RUnlock()
	if ok || !create {
		return s
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.keys[key]; ok {
		return s
	}
	s = &series{}
	c.keys[key] = s
	return s
}

// Record appends an event for key at the current time.
func (c *Counter) Record(key string) {
	c.RecordAt(key, c.now())
}

// RecordAt appends an event for key at an explicit time.
func (c *Counter) RecordAt(key string, t time.Time) {
	s := c.get(key, true)
	s.mu.Lock()
	s.at = append(s.at, t)
	s.mu.Unlock()
}

// Count returns the number of events for key within [now-window, now],
// discarding older entries first. Unknown keys count as zero.
func (c *Counter) Count(key string, window time.Duration) int {
	s := c.get(key, false)
	if s == nil {
		return 0
	}
	cutoff := c.now().Add(-window)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(cutoff)
	return len(s.at)
}

// Recent returns up to n of the most recent event times for key, oldest first.
// The returned slice is a copy.
func (c *Counter) Recent(key string, n int) []time.Time {
	s := c.get(key, false)
	if s == nil || n <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	start := len(s.at) - n
	if start < 0 {
		start = 0
	}
	out := make([]time.Time, len(s.at)-start)
	copy(out, s.at[start:])
	return out
}

// Reset drops all events for key.
func (c *Counter) Reset(key string) {
	c.mu.Lock()
	delete(c.keys, key)
	c.mu.Unlock()
}

// pruneLocked drops entries strictly before cutoff; an entry recorded exactly
// at the window edge still counts. Entries are appended in near-monotonic
// order, so a single forward scan is enough.
func (s *series) pruneLocked(cutoff time.Time) {
	i := 0
	for i < len(s.at) && s.at[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		s.at = append(s.at[:0], s.at[i:]...)
	}
}
