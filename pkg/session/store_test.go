package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ip = "203.0.113.9"
	ua = "Mozilla/5.0 test"
)

func TestUnknownSession(t *testing.T) {
	s := NewStore(true, true)
	_, err := s.Validate("nope", ip, ua)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestOriginAndSignatureMismatch(t *testing.T) {
	s := NewStore(true, true)
	sess := s.Create(1, ip, ua)

	_, err := s.Validate(sess.ID, "198.51.100.7", ua)
	assert.ErrorIs(t, err, ErrOriginMismatch)

	_, err = s.Validate(sess.ID, ip, "curl/8.0")
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	// a mismatch does not kill the session
	got, err := s.Validate(sess.ID, ip, ua)
	require.NoError(t, err)
	assert.Equal(t, uint(1), got.AccountID)
}

func TestChecksIndependentlyConfigurable(t *testing.T) {
	s := NewStore(false, true)
	sess := s.Create(2, ip, ua)
	_, err := s.Validate(sess.ID, "198.51.100.7", ua)
	assert.NoError(t, err)

	s = NewStore(true, false)
	sess = s.Create(3, ip, ua)
	_, err = s.Validate(sess.ID, ip, "curl/8.0")
	assert.NoError(t, err)
}

func TestValidateUpdatesLastActivity(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(true, true, WithClock(func() time.Time { return now }))
	sess := s.Create(4, ip, ua)

	now = now.Add(5 * time.Minute)
	got, err := s.Validate(sess.ID, ip, ua)
	require.NoError(t, err)
	assert.Equal(t, now, got.LastActivity)
	assert.Equal(t, now.Add(-5*time.Minute), got.CreatedAt)
}

func TestIdleSessionExpires(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(true, true, WithClock(func() time.Time { return now }))
	sess := s.Create(8, ip, ua)

	now = now.Add(31 * time.Minute)
	_, err := s.Validate(sess.ID, ip, ua)
	assert.ErrorIs(t, err, ErrSessionExpired)

	// the expired session is gone, not merely rejected
	_, err = s.Validate(sess.ID, ip, ua)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestActivitySlidesIdleWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(true, true, WithClock(func() time.Time { return now }), WithTTL(30*time.Minute))
	sess := s.Create(9, ip, ua)

	// touched every 20 minutes, the session outlives several ttl spans
	for i := 0; i < 4; i++ {
		now = now.Add(20 * time.Minute)
		_, err := s.Validate(sess.ID, ip, ua)
		require.NoError(t, err)
	}
}

func TestCreateSweepsExpiredSessions(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(true, true, WithClock(func() time.Time { return now }))
	stale := s.Create(10, ip, ua)

	now = now.Add(time.Hour)
	fresh := s.Create(10, ip, ua)

	s.mu.Lock()
	_, staleKept := s.sessions[stale.ID]
	_, freshKept := s.sessions[fresh.ID]
	s.mu.Unlock()
	assert.False(t, staleKept)
	assert.True(t, freshKept)
}

func TestInvalidate(t *testing.T) {
	s := NewStore(true, true)
	sess := s.Create(5, ip, ua)
	s.Invalidate(sess.ID)
	_, err := s.Validate(sess.ID, ip, ua)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestInvalidateAccount(t *testing.T) {
	s := NewStore(true, true)
	a := s.Create(6, ip, ua)
	b := s.Create(6, ip, ua)
	other := s.Create(7, ip, ua)

	s.InvalidateAccount(6)
	_, err := s.Validate(a.ID, ip, ua)
	assert.ErrorIs(t, err, ErrInvalidSession)
	_, err = s.Validate(b.ID, ip, ua)
	assert.ErrorIs(t, err, ErrInvalidSession)
	_, err = s.Validate(other.ID, ip, ua)
	assert.NoError(t, err)
}
