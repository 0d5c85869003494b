package kvcache

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string
	Score float64
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return mr, NewRedisStore(rc)
}

func TestRedisStoreRoundTripAndTTL(t *testing.T) {
	ctx := context.Background()
	mr, s := newRedis(t)

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 45*time.Second))
	b, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), b)

	mr.FastForward(46 * time.Second)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreKeysMatchesLiteralPrefix(t *testing.T) {
	ctx := context.Background()
	_, s := newRedis(t)
	for _, k := range []string{"h:-1,2,3,4:5", "h:-1,2,3,4:6", "h:-1,2,3,40:5", "h:*:5", "other"} {
		require.NoError(t, s.Set(ctx, k, []byte("x"), time.Minute))
	}

	keys, err := s.Keys(ctx, "h:-1,2,3,4:")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"h:-1,2,3,4:5", "h:-1,2,3,4:6"}, keys)

	keys, err = s.Keys(ctx, "h:*:")
	require.NoError(t, err)
	assert.Equal(t, []string{"h:*:5"}, keys)

	require.NoError(t, s.Del(ctx, "h:-1,2,3,4:5", "h:-1,2,3,4:6"))
	keys, err = s.Keys(ctx, "h:")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestRedisStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, s := newRedis(t)
	mr.Close()

	_, _, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheUnavailable)
	assert.ErrorIs(t, s.Set(ctx, "k", nil, time.Second), ErrCacheUnavailable)
	_, err = s.Keys(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheUnavailable)
}

func TestMemoryStoreTTLAndEviction(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(2).WithClock(func() time.Time { return now })

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Minute))
	_, ok, _ := s.Get(ctx, "a")
	require.True(t, ok)
	require.NoError(t, s.Set(ctx, "c", []byte("3"), time.Minute))

	_, ok, _ = s.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry is evicted")
	assert.Equal(t, 2, s.Len())

	now = now.Add(time.Minute)
	_, ok, _ = s.Get(ctx, "a")
	assert.False(t, ok, "entry expires at exactly ttl")
	keys, _ := s.Keys(ctx, "")
	assert.Empty(t, keys)
}

func TestMemoryStorePrefixDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	for _, k := range []string{"p:1", "p:2", "q:1"} {
		require.NoError(t, s.Set(ctx, k, []byte(k), time.Minute))
	}
	keys, err := s.Keys(ctx, "p:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p:1", "p:2"}, keys)
	require.NoError(t, s.Del(ctx, keys...))
	assert.Equal(t, 1, s.Len())
}

func TestMemoSetGetInvalidate(t *testing.T) {
	ctx := context.Background()
	m := NewMemo[[]sample](NewMemoryStore(0), "test", time.Minute, time.Second)

	_, ok := m.Get(ctx, "x:1")
	assert.False(t, ok)

	want := []sample{{Name: "a", Score: 1.5}, {Name: "b", Score: 0.25}}
	m.Set(ctx, "x:1", want)
	m.Set(ctx, "x:2", want[:1])
	m.Set(ctx, "y:1", want[:1])

	got, ok := m.Get(ctx, "x:1")
	require.True(t, ok)
	assert.Equal(t, want, got)

	assert.Equal(t, 2, m.InvalidatePrefix(ctx, "x:"))
	_, ok = m.Get(ctx, "x:2")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "y:1")
	assert.True(t, ok)
}

type brokenStore struct{}

var errDown = errors.New("connection refused")

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errDown }
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errDown
}
func (brokenStore) Keys(context.Context, string) ([]string, error) { return nil, errDown }
func (brokenStore) Del(context.Context, ...string) error            { return errDown }

func TestMemoSwallowsStoreFailures(t *testing.T) {
	ctx := context.Background()
	m := NewMemo[[]sample](brokenStore{}, "broken", time.Minute, 0)

	assert.NotPanics(t, func() { m.Set(ctx, "k", []sample{{Name: "a"}}) })
	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, m.InvalidatePrefix(ctx, "k"))

	var nilMemo *Memo[int]
	_, ok = nilMemo.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoCorruptValueIsMiss(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	require.NoError(t, store.Set(ctx, "k", []byte{0xc1}, time.Minute))
	m := NewMemo[[]sample](store, "corrupt", time.Minute, 0)
	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)
}
