package cache_test

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/yieldforecast/forecaster/internal/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	c := cache.NewMemory()

	_, ok, err := c.Get(ctx, "fp")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "fp", json.RawMessage(`{"NDVI":0.62}`)))
	v, ok, err := c.Get(ctx, "fp")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"NDVI":0.62}`, string(v))

	// last writer wins
	require.NoError(t, c.Set(ctx, "fp", json.RawMessage(`{"NDVI":0.7}`)))
	v, _, _ = c.Get(ctx, "fp")
	require.JSONEq(t, `{"NDVI":0.7}`, string(v))
	require.Equal(t, 1, c.Len())
}

func TestMemoryCopies(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	c := cache.NewMemory()
	in := json.RawMessage(`{"a":1}`)
	require.NoError(t, c.Set(ctx, "k", in))
	in[2] = 'b'

	out, _, _ := c.Get(ctx, "k")
	require.Equal(t, `{"a":1}`, string(out))
	out[2] = 'c'
	again, _, _ := c.Get(ctx, "k")
	require.Equal(t, `{"a":1}`, string(again))
}

func TestMemoryTTL(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mx sync.Mutex
	clock := func() time.Time {
		mx.Lock()
		defer mx.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mx.Lock()
		now = now.Add(d)
		mx.Unlock()
	}

	c := cache.NewMemory(cache.WithEviction(cache.TTL(time.Minute)), cache.WithClock(clock))
	require.NoError(t, c.Set(ctx, "a", json.RawMessage(`1`)))
	advance(30 * time.Second)
	require.NoError(t, c.Set(ctx, "b", json.RawMessage(`2`)))

	_, ok, _ := c.Get(ctx, "a")
	require.True(t, ok)

	advance(45 * time.Second)
	_, ok, _ = c.Get(ctx, "a")
	require.False(t, ok)
	_, ok, _ = c.Get(ctx, "b")
	require.True(t, ok)

	advance(time.Minute)
	require.Equal(t, 1, c.Len())
	c.Purge()
	require.Zero(t, c.Len())
}

func TestMemorySweep(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mx sync.Mutex
	clock := func() time.Time {
		mx.Lock()
		defer mx.Unlock()
		return now
	}

	c := cache.NewMemory(
		cache.WithEviction(cache.TTL(time.Minute)),
		cache.WithClock(clock),
		cache.WithSweepEvery(2),
	)
	require.NoError(t, c.Set(ctx, "a", json.RawMessage(`1`)))
	require.NoError(t, c.Set(ctx, "b", json.RawMessage(`2`)))
	require.Equal(t, 2, c.Len())

	mx.Lock()
	now = now.Add(2 * time.Minute)
	mx.Unlock()

	// a and b are expired and never read again
	require.NoError(t, c.Set(ctx, "c", json.RawMessage(`3`)))
	require.Equal(t, 3, c.Len())
	require.NoError(t, c.Set(ctx, "d", json.RawMessage(`4`)))
	require.Equal(t, 2, c.Len())
	_, ok, _ := c.Get(ctx, "c")
	require.True(t, ok)
}

func TestTTLNonPositive(t *testing.T) {
	t.Parallel()
	keep := cache.TTL(0)
	stored := time.Now()
	require.True(t, keep(stored, stored.Add(1000*time.Hour)))
}

func TestMemoryConcurrent(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	c := cache.NewMemory()
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Go(func() {
			key := "k" + strconv.Itoa(i%4)
			_ = c.Set(ctx, key, json.RawMessage(strconv.Itoa(i)))
			_, _, _ = c.Get(ctx, key)
		})
	}
	wg.Wait()
	require.Equal(t, 4, c.Len())
}

func TestRedis(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	ctx := t.Context()
	c := cache.NewRedis(rc, "forecaster:test:", time.Minute)
	require.NoError(t, c.Ping(ctx))

	_, ok, err := c.Get(ctx, "fp")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "fp", json.RawMessage(`{"NDVI":0.62}`)))
	v, ok, err := c.Get(ctx, "fp")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"NDVI":0.62}`, string(v))
	require.True(t, mr.Exists("forecaster:test:fp"))
	require.Equal(t, time.Minute, mr.TTL("forecaster:test:fp"))

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "fp")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisNoTTL(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	ctx := t.Context()
	c := cache.NewRedis(rc, "p:", -time.Second)
	require.NoError(t, c.Set(ctx, "fp", json.RawMessage(`1`)))
	require.Zero(t, mr.TTL("p:fp"))
}

func TestRedisFail(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rc.Close() })
	ctx := t.Context()
	c := cache.NewRedis(rc, "p:", 0)

	require.NoError(t, mr.Set("p:bad", "{"))
	_, _, err := c.Get(ctx, "bad")
	require.ErrorContains(t, err, "invalid json")

	mr.Close()
	_, _, err = c.Get(ctx, "fp")
	require.ErrorContains(t, err, "failed to get cache")
	require.ErrorContains(t, c.Set(ctx, "fp", json.RawMessage(`1`)), "failed to set cache")
}
