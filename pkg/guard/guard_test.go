package guard

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studentsnet/models"
)

type memStore struct {
	mu    sync.Mutex
	saves int
}

func (m *memStore) SaveLoginState(u *models.User) error {
	m.mu.Lock()
	m.saves++
	m.mu.Unlock()
	return nil
}

func TestLockoutAfterFiveFailures(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := New(&memStore{}, WithClock(func() time.Time { return now }))
	u := &models.User{ID: 1, Contact: "9876543210"}

	for i := 0; i < 5; i++ {
		require.NoError(t, g.Check(u))
		require.NoError(t, g.RecordFailure(u))
	}
	assert.Equal(t, 5, u.FailedAttemptCount)
	require.NotNil(t, u.LockedUntil)
	assert.Equal(t, now.Add(30*time.Minute), *u.LockedUntil)

	// 6th attempt fails with LockedError even before any password check
	err := g.Check(u)
	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, 30*time.Minute, locked.Remaining)
}

func TestLockoutExpiresLazily(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := New(&memStore{}, WithClock(func() time.Time { return now }))
	u := &models.User{ID: 2}

	for i := 0; i < 5; i++ {
		require.NoError(t, g.RecordFailure(u))
	}
	require.NotNil(t, u.LockedUntil)

	// 31 minutes later the next check clears the lock and resets the counter
	now = now.Add(31 * time.Minute)
	require.NoError(t, g.Check(u))
	assert.Nil(t, u.LockedUntil)
	assert.Equal(t, 0, u.FailedAttemptCount)

	require.NoError(t, g.RecordSuccess(u))
	require.NotNil(t, u.LastLoginAt)
	assert.Equal(t, 0, u.FailedAttemptCount)
}

func TestSuccessResetsCounter(t *testing.T) {
	g := New(&memStore{})
	u := &models.User{ID: 3}

	require.NoError(t, g.RecordFailure(u))
	require.NoError(t, g.RecordFailure(u))
	assert.Equal(t, 2, u.FailedAttemptCount)

	require.NoError(t, g.RecordSuccess(u))
	assert.Equal(t, 0, u.FailedAttemptCount)
	assert.Nil(t, u.LockedUntil)
}

func TestFailuresBelowThresholdDoNotLock(t *testing.T) {
	g := New(&memStore{})
	u := &models.User{ID: 4}
	for i := 0; i < 4; i++ {
		require.NoError(t, g.RecordFailure(u))
	}
	assert.Nil(t, u.LockedUntil)
	assert.NoError(t, g.Check(u))
}

func TestConcurrentFailuresAllCounted(t *testing.T) {
	g := New(&memStore{}, WithLimits(1000, 30*time.Minute))
	u := &models.User{ID: 5}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = g.RecordFailure(u)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, u.FailedAttemptCount)
	assert.Equal(t, 100, g.RecentFailures(u.ID))
}

func TestRecentFailuresWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := New(&memStore{}, WithClock(func() time.Time { return now }))
	u := &models.User{ID: 6}

	require.NoError(t, g.RecordFailure(u))
	now = now.Add(2 * time.Hour)
	require.NoError(t, g.RecordFailure(u))

	// only the failure inside the trailing hour is reported, but the
	// lockout counter keeps the total since the last reset
	assert.Equal(t, 1, g.RecentFailures(u.ID))
	assert.Equal(t, 2, u.FailedAttemptCount)
}
