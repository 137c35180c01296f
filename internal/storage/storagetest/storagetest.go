// Package storagetest holds the behavioural suite shared by every
// storage.Store implementation.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/reqguard/internal/apperr"
	"github.com/tjfontaine/reqguard/internal/storage"
)

// Factory creates an empty store stamping activity with now.
type Factory func(t *testing.T, now func() time.Time) storage.Store

// Clock is a settable time source for tests.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock returns a clock fixed at t.
func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Run exercises newStore against the storage.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("Whitelist", func(t *testing.T) { testWhitelist(t, newStore) })
	t.Run("RemoveMissingUser", func(t *testing.T) { testRemoveMissingUser(t, newStore) })
	t.Run("RecordAccess", func(t *testing.T) { testRecordAccess(t, newStore) })
	t.Run("DaysAreSeparate", func(t *testing.T) { testDaysAreSeparate(t, newStore) })
	t.Run("DailyActivityValidatesDay", func(t *testing.T) { testDailyActivityValidatesDay(t, newStore) })
	t.Run("ConcurrentRecordAccess", func(t *testing.T) { testConcurrentRecordAccess(t, newStore) })
}

func start() time.Time {
	return time.Date(2025, 6, 30, 23, 59, 0, 0, time.UTC)
}

func testWhitelist(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, NewClock(start()).Now)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	require.NoError(t, s.AddUser(ctx, "bob"))
	require.NoError(t, s.AddUser(ctx, "alice"))
	require.NoError(t, s.AddUser(ctx, "alice"))

	users, err = s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, users)

	ok, err := s.Contains(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.RemoveUser(ctx, "alice"))
	ok, err = s.Contains(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testRemoveMissingUser(t *testing.T, newStore Factory) {
	s := newStore(t, NewClock(start()).Now)

	err := s.RemoveUser(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
	assert.True(t, errors.Is(err, apperr.KindNotFound))
}

func testRecordAccess(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock(start().Add(-time.Hour))
	s := newStore(t, clock.Now)

	first := clock.Now()
	require.NoError(t, s.RecordAccess(ctx, "192.0.2.2"))
	clock.Advance(time.Minute)
	require.NoError(t, s.RecordAccess(ctx, "192.0.2.1"))
	clock.Advance(time.Minute)
	require.NoError(t, s.RecordAccess(ctx, "192.0.2.2"))
	last := clock.Now()

	got, err := s.DailyActivity(ctx, "2025-06-30")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "192.0.2.1", got[0].IP)
	assert.Equal(t, int64(1), got[0].Hits)

	assert.Equal(t, "192.0.2.2", got[1].IP)
	assert.Equal(t, "2025-06-30", got[1].Day)
	assert.Equal(t, int64(2), got[1].Hits)
	assert.True(t, got[1].FirstSeen.Equal(first), "first_seen %v, want %v", got[1].FirstSeen, first)
	assert.True(t, got[1].LastSeen.Equal(last), "last_seen %v, want %v", got[1].LastSeen, last)
}

func testDaysAreSeparate(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock(start())
	s := newStore(t, clock.Now)

	require.NoError(t, s.RecordAccess(ctx, "192.0.2.1"))
	clock.Advance(2 * time.Minute)
	require.NoError(t, s.RecordAccess(ctx, "192.0.2.1"))

	june, err := s.DailyActivity(ctx, "2025-06-30")
	require.NoError(t, err)
	july, err := s.DailyActivity(ctx, "2025-07-01")
	require.NoError(t, err)

	require.Len(t, june, 1)
	require.Len(t, july, 1)
	assert.Equal(t, int64(1), june[0].Hits)
	assert.Equal(t, int64(1), july[0].Hits)

	none, err := s.DailyActivity(ctx, "2025-07-02")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func testDailyActivityValidatesDay(t *testing.T, newStore Factory) {
	s := newStore(t, NewClock(start()).Now)

	for _, day := range []string{"", "today", "2025-13-01", "30-06-2025"} {
		_, err := s.DailyActivity(context.Background(), day)
		require.Error(t, err, "day %q", day)
		assert.True(t, errors.Is(err, apperr.KindInvalidParameter), "day %q: %v", day, err)
	}
}

func testConcurrentRecordAccess(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, NewClock(start().Add(-time.Hour)).Now)

	const workers, perWorker = 8, 10
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ip := fmt.Sprintf("10.0.0.%d", w%2)
			for i := 0; i < perWorker; i++ {
				assert.NoError(t, s.RecordAccess(ctx, ip))
			}
		}(w)
	}
	wg.Wait()

	got, err := s.DailyActivity(ctx, "2025-06-30")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(workers*perWorker/2), got[0].Hits)
	assert.Equal(t, int64(workers*perWorker/2), got[1].Hits)
}
