package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEntry struct {
	Name  string `redis:"name"`
	Count int64  `redis:"count"`
}

func newTestStore(t *testing.T) (Store[testEntry], *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New[testEntry](NewRedisStorage(client), "test:"), mr
}

func TestStoreSetGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	want := testEntry{Name: "alice", Count: 3}
	require.NoError(t, s.Set(ctx, "k", want, time.Minute))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStoreGetMissing(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreKeyPrefix(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", testEntry{Name: "alice"}, time.Minute))
	assert.True(t, mr.Exists("test:k"))
	assert.False(t, mr.Exists("k"))
}

func TestStoreExpiry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", testEntry{Name: "alice"}, time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreTake(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	want := testEntry{Name: "alice", Count: 1}
	require.NoError(t, s.Set(ctx, "k", want, time.Minute))

	got, err := s.Take(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// the first take consumed the entry
	_, err = s.Take(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", testEntry{Name: "alice"}, time.Minute))
	require.NoError(t, s.Delete(ctx, "k"))
	assert.ErrorIs(t, s.Delete(ctx, "k"), ErrNotFound)
}

func TestStoreIncrAttr(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", testEntry{Name: "alice", Count: 1}, time.Minute))

	n, err := s.IncrAttr(ctx, "k", "count", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Count)
}
