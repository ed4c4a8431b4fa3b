package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/trailcast/orchestrator/testing/assert"
)

func newTestCache(t *testing.T) (Cache, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, time.Second), rdb
}

func TestGetMiss(t *testing.T) {
	c, _ := newTestCache(t)
	_, ok, err := c.Get(context.Background(), "k", time.Minute, 0.8, nil)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestSetThenGetHit(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, ok, err := c.Get(ctx, "k", time.Minute, 0.8, nil)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", string(val))
}

func TestRefreshAheadSingleFlight(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("stale"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var calls int32
	done := make(chan struct{})
	refresh := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		defer close(done)
		return []byte("fresh"), nil
	}

	// remaining fraction 1.0 >= threshold of 1.1 never true, so force a
	// refresh by asking for a threshold above any possible remaining
	// fraction.
	for i := 0; i < 10; i++ {
		if _, _, err := c.Get(ctx, "k", time.Minute, 1.1, refresh); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh never ran")
	}
	time.Sleep(50 * time.Millisecond) // let any duplicate goroutines settle

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDeleteByPattern(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	for _, k := range []string{"weather:a", "weather:b", "tourism:a"} {
		if err := c.Set(ctx, k, []byte("v"), time.Minute); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}
	err := c.Delete(ctx, "weather:*")
	assert.NoError(t, err)
	_, stillThere, _ := c.Get(ctx, "weather:a", time.Minute, 0.8, nil)
	assert.False(t, stillThere)
	_, untouched, _ := c.Get(ctx, "tourism:a", time.Minute, 0.8, nil)
	assert.True(t, untouched)
}

func TestDependencyInvalidation(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	if err := c.Set(ctx, "forecast:city-1", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	c.RegisterDependency("city:city-1", "forecast:city-1")
	c.Invalidate("city:city-1")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok, _ := c.Get(ctx, "forecast:city-1", time.Minute, 0.8, nil); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("dependent key was not invalidated")
}
