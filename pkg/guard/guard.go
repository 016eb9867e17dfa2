// Package guard implements per-account failed-login tracking and the
// Open -> Locked -> Open lockout state machine.
//
// Lockout is per-account, not per-IP: credential stuffing usually rotates
// source addresses, so the IP-level defense lives in pkg/reputation instead.
package guard

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"studentsnet/models"
	"studentsnet/pkg/window"
)

// Store persists the guard-owned fields of an account
// (FailedAttemptCount, LockedUntil, LastLoginAt).
type Store interface {
	SaveLoginState(u *models.User) error
}

// LockedError is returned while an account is locked. It carries the remaining
// lockout duration so callers can surface a retry hint.
type LockedError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked for another %s", e.Remaining.Round(time.Second))
}

// Guard tracks failed logins per account. All transitions for one account are
// serialized on a per-account mutex so concurrent attempts cannot lose counts
// or race the lock/reset decisions.
type Guard struct {
	store       Store
	attempts    *window.Counter
	maxAttempts int
	lockFor     time.Duration
	retain      time.Duration
	now         func() time.Time

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock replaces the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithLimits overrides the attempt threshold and lockout duration.
func WithLimits(maxAttempts int, lockFor time.Duration) Option {
	return func(g *Guard) {
		g.maxAttempts = maxAttempts
		g.lockFor = lockFor
	}
}

func New(store Store, opts ...Option) *Guard {
	g := &Guard{
		store:       store,
		attempts:    window.New(),
		maxAttempts: 5,
		lockFor:     30 * time.Minute,
		retain:      time.Hour,
		now:         time.Now,
		locks:       make(map[uint]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.attempts = window.New(window.WithClock(g.now))
	return g
}

func (g *Guard) accountLock(id uint) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[id]
	if !ok {
		l = &sync.Mutex{}
		g.locks[id] = l
	}
	return l
}

// Check runs before the password is verified. While the account is locked and
// the lockout has not expired it fails with *LockedError without the password
// ever being checked. An expired lockout is cleared here (lazy expiry, no
// background timer) and counters reset before the password check proceeds.
func (g *Guard) Check(u *models.User) error {
	l := g.accountLock(u.ID)
	l.Lock()
	defer l.Unlock()

	if u.LockedUntil == nil {
		return nil
	}
	now := g.now()
	if now.Before(*u.LockedUntil) {
		return &LockedError{Until: *u.LockedUntil, Remaining: u.LockedUntil.Sub(now)}
	}
	u.LockedUntil = nil
	u.FailedAttemptCount = 0
	return g.store.SaveLoginState(u)
}

// RecordFailure counts a failed password check. The lockout engages when the
// count since the last reset reaches the threshold; the 1-hour window feeds
// reporting only.
func (g *Guard) RecordFailure(u *models.User) error {
	l := g.accountLock(u.ID)
	l.Lock()
	defer l.Unlock()

	g.attempts.Record(accountKey(u.ID))
	u.FailedAttemptCount++
	if u.FailedAttemptCount >= g.maxAttempts && u.LockedUntil == nil {
		until := g.now().Add(g.lockFor)
		u.LockedUntil = &until
	}
	return g.store.SaveLoginState(u)
}

// RecordSuccess resets the counter and stamps the login time. It is only
// reached when Check observed the lock as not engaged, so a concurrent
// failed+successful pair ends with the successful reset winning.
func (g *Guard) RecordSuccess(u *models.User) error {
	l := g.accountLock(u.ID)
	l.Lock()
	defer l.Unlock()

	u.FailedAttemptCount = 0
	u.LockedUntil = nil
	now := g.now()
	u.LastLoginAt = &now
	return g.store.SaveLoginState(u)
}

// RecentFailures reports failures recorded for the account within the trailing
// retention window.
func (g *Guard) RecentFailures(accountID uint) int {
	return g.attempts.Count(accountKey(accountID), g.retain)
}

func accountKey(id uint) string {
	return "acct:" + strconv.FormatUint(uint64(id), 10)
}
