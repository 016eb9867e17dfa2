package window

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCountPrunesStaleEntries(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New(WithClock(func() time.Time { return now }))

	c.RecordAt("a", now.Add(-2*time.Hour))
	c.RecordAt("a", now.Add(-30*time.Minute))
	c.RecordAt("a", now.Add(-time.Minute))

	assert.Equal(t, 2, c.Count("a", time.Hour))
	// stale entry was physically dropped too
	assert.Equal(t, 2, c.Count("a", 24*time.Hour))
}

func TestCountWindowEdgeIsInclusive(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New(WithClock(func() time.Time { return now }))

	// recorded exactly one window ago
	c.RecordAt("a", now.Add(-time.Hour))
	assert.Equal(t, 1, c.Count("a", time.Hour))

	// one tick older falls out
	c.RecordAt("b", now.Add(-time.Hour-time.Nanosecond))
	assert.Equal(t, 0, c.Count("b", time.Hour))
}

func TestUnknownKeyIsZero(t *testing.T) {
	c := New()
	assert.Equal(t, 0, c.Count("nope", time.Hour))
	assert.Nil(t, c.Recent("nope", 10))
}

func TestKeysAreIndependent(t *testing.T) {
	c := New()
	c.Record("a")
	c.Record("a")
	c.Record("b")
	assert.Equal(t, 2, c.Count("a", time.Hour))
	assert.Equal(t, 1, c.Count("b", time.Hour))

	c.Reset("a")
	assert.Equal(t, 0, c.Count("a", time.Hour))
	assert.Equal(t, 1, c.Count("b", time.Hour))
}

func TestRecentReturnsLastN(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New(WithClock(func() time.Time { return base }))
	for i := 0; i < 5; i++ {
		c.RecordAt("a", base.Add(time.Duration(i)*time.Second))
	}
	got := c.Recent("a", 3)
	assert.Len(t, got, 3)
	assert.Equal(t, base.Add(2*time.Second), got[0])
	assert.Equal(t, base.Add(4*time.Second), got[2])

	// asking for more than recorded returns everything
	assert.Len(t, c.Recent("a", 50), 5)
}

func TestConcurrentRecordAndCount(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Record("shared")
				c.Count("shared", time.Hour)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, c.Count("shared", time.Hour))
}
