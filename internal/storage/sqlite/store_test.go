package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/reqguard/internal/storage"
	"github.com/tjfontaine/reqguard/internal/storage/storagetest"
)

var memdbSeq atomic.Int64

func newMemStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", memdbSeq.Add(1))
	s, err := New(dsn, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, now func() time.Time) storage.Store {
		return newMemStore(t, WithClock(now))
	})
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reqguard.db")

	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.AddUser(ctx, "alice"))
	require.NoError(t, s.RecordAccess(ctx, "192.0.2.1"))
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()

	ok, err := s.Contains(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.DailyActivity(ctx, storage.Day(time.Now()))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].Hits)
}

func TestStore_ClosedDatabaseIsDatabaseError(t *testing.T) {
	s := newMemStore(t)
	require.NoError(t, s.Close())

	err := s.RecordAccess(context.Background(), "192.0.2.1")
	require.Error(t, err)
	assert.Contains(t, fmt.Sprintf("%+v", err), "error.internal.database")
}
