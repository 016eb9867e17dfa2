// Package reputation tracks abuse per source address: a rolling failure
// window, a blacklist with TTL, and an advisory automated-traffic heuristic.
package reputation

import (
	"sync"
	"time"

	"studentsnet/pkg/window"
)

// Defaults mirror the production deployment: an address is blacklisted for
// 24 hours once it exceeds 50 failures inside a rolling hour, and traffic is
// flagged as automated past 100 requests/hour with sub-second spacing.
const (
	defaultMaxFailures   = 50
	defaultFailureWindow = time.Hour
	defaultBlacklistTTL  = 24 * time.Hour
	defaultMaxTracked    = 100_000

	suspiciousRequestCount = 100
	suspiciousSampleSize   = 10
	suspiciousAvgGap       = time.Second
)

// Monitor is the per-address abuse tracker. Blacklist entries are checked and
// cleared lazily on lookup; there is no background sweeper. Total tracked
// addresses are capped, evicting the least-recently-active entry, so a scan
// across many sources cannot grow memory without bound.
type Monitor struct {
	failures *window.Counter
	requests *window.Counter
	now      func() time.Time

	maxFailures   int
	failureWindow time.Duration
	blacklistTTL  time.Duration
	maxTracked    int

	mu        sync.Mutex
	blacklist map[string]time.Time // address -> blacklist expiry
	lastSeen  map[string]time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithLimits overrides the failure threshold and blacklist TTL.
func WithLimits(maxFailures int, blacklistTTL time.Duration) Option {
	return func(m *Monitor) {
		m.maxFailures = maxFailures
		m.blacklistTTL = blacklistTTL
	}
}

// WithMaxTracked caps the number of addresses kept in memory.
func WithMaxTracked(n int) Option {
	return func(m *Monitor) { m.maxTracked = n }
}

func New(opts ...Option) *Monitor {
	m := &Monitor{
		now:           time.Now,
		maxFailures:   defaultMaxFailures,
		failureWindow: defaultFailureWindow,
		blacklistTTL:  defaultBlacklistTTL,
		maxTracked:    defaultMaxTracked,
		blacklist:     make(map[string]time.Time),
		lastSeen:      make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.failures = window.New(window.WithClock(m.now))
	m.requests = window.New(window.WithClock(m.now))
	return m
}

// RecordFailure appends a failed attempt for the address and engages the
// blacklist the moment the rolling-hour count exceeds the threshold.
func (m *Monitor) RecordFailure(address string) {
	m.failures.Record(address)
	m.touch(address)
	if m.failures.Count(address, m.failureWindow) > m.maxFailures {
		m.mu.Lock()
		m.blacklist[address] = m.now().Add(m.blacklistTTL)
		m.mu.Unlock()
	}
}

// RecordRequest feeds the automated-traffic heuristic.
func (m *Monitor) RecordRequest(address string) {
	m.requests.Record(address)
	m.touch(address)
}

// IsBlacklisted reports whether the address is currently blacklisted. Expired
// entries are cleared here.
func (m *Monitor) IsBlacklisted(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.blacklist[address]
	if !ok {
		return false
	}
	if m.now().Before(exp) {
		return true
	}
	delete(m.blacklist, address)
	return false
}

// IsSuspiciousTraffic flags bot-like request patterns: more than 100 requests
// in the trailing hour with the last 10 averaging under a second apart. This
// is advisory, for audit/alerting; it never blocks on its own.
func (m *Monitor) IsSuspiciousTraffic(address string) bool {
	if m.requests.Count(address, time.Hour) <= suspiciousRequestCount {
		return false
	}
	recent := m.requests.Recent(address, suspiciousSampleSize)
	if len(recent) < 2 {
		return false
	}
	total := recent[len(recent)-1].Sub(recent[0])
	avg := total / time.Duration(len(recent)-1)
	return avg < suspiciousAvgGap
}

// FailureCount reports failures for the address within the rolling window.
func (m *Monitor) FailureCount(address string) int {
	return m.failures.Count(address, m.failureWindow)
}

// touch stamps activity for the address and evicts the least-recently-active
// tracked address when over the cap. Blacklisted addresses are never evicted.
func (m *Monitor) touch(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen[address] = m.now()
	if len(m.lastSeen) <= m.maxTracked {
		return
	}
	var oldest string
	var oldestAt time.Time
	for addr, at := range m.lastSeen {
		if addr == address {
			continue
		}
		if _, banned := m.blacklist[addr]; banned {
			continue
		}
		if oldest == "" || at.Before(oldestAt) {
			oldest, oldestAt = addr, at
		}
	}
	if oldest != "" {
		delete(m.lastSeen, oldest)
		m.failures.Reset(oldest)
		m.requests.Reset(oldest)
	}
}
