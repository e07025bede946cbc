package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadingCacheHitsAfterFirstLoad(t *testing.T) {
	var loads atomic.Int32
	c := NewLoadingCache(8, time.Minute, func(ctx context.Context, key string) (string, error) {
		loads.Add(1)
		return "v:" + key, nil
	})

	for i := 0; i < 3; i++ {
		v, err := c.Get(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, "v:a", v)
	}
	assert.EqualValues(t, 1, loads.Load())
}

func TestLoadingCacheInvalidate(t *testing.T) {
	var loads atomic.Int32
	c := NewLoadingCache(8, time.Minute, func(ctx context.Context, key string) (int32, error) {
		return loads.Add(1), nil
	})
	ctx := context.Background()

	v, _ := c.Get(ctx, "k")
	assert.EqualValues(t, 1, v)

	c.Invalidate("k")
	v, _ = c.Get(ctx, "k")
	assert.EqualValues(t, 2, v)

	c.Invalidate()
	assert.Zero(t, c.Len())
}

func TestLoadingCacheExpires(t *testing.T) {
	var loads atomic.Int32
	c := NewLoadingCache(8, 20*time.Millisecond, func(ctx context.Context, key string) (int32, error) {
		return loads.Add(1), nil
	})
	ctx := context.Background()

	_, _ = c.Get(ctx, "k")
	time.Sleep(60 * time.Millisecond)
	v, _ := c.Get(ctx, "k")
	assert.EqualValues(t, 2, v)
}

func TestLoadingCacheDoesNotStoreErrors(t *testing.T) {
	fail := true
	c := NewLoadingCache(8, time.Minute, func(ctx context.Context, key string) (string, error) {
		if fail {
			return "", errors.New("db down")
		}
		return "ok", nil
	})

	_, err := c.Get(context.Background(), "k")
	assert.Error(t, err)

	fail = false
	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestLoadingCacheCoalescesConcurrentMisses(t *testing.T) {
	var loads atomic.Int32
	release := make(chan struct{})
	c := NewLoadingCache(8, time.Minute, func(ctx context.Context, key string) (string, error) {
		loads.Add(1)
		<-release
		return "v", nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), "k")
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, loads.Load())
}

func TestLoadingCacheInvalidateDuringLoadIsNotOverwritten(t *testing.T) {
	var current atomic.Value
	current.Store("workos")
	var loads atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	c := NewLoadingCache(8, time.Minute, func(ctx context.Context, key string) (string, error) {
		v := current.Load().(string)
		if loads.Add(1) == 1 {
			close(started)
			<-release
		}
		return v, nil
	})

	first := make(chan string, 1)
	go func() {
		v, err := c.Get(context.Background(), "k")
		assert.NoError(t, err)
		first <- v
	}()

	<-started
	current.Store("local")
	c.Invalidate("k")
	close(release)
	assert.Equal(t, "workos", <-first)

	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "local", v)
	assert.EqualValues(t, 2, loads.Load())
}

func TestLoadingCachePurgeDuringLoadIsNotOverwritten(t *testing.T) {
	var loads atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	c := NewLoadingCache(8, time.Minute, func(ctx context.Context, key string) (int32, error) {
		n := loads.Add(1)
		if n == 1 {
			close(started)
			<-release
		}
		return n, nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Get(context.Background(), "k")
	}()

	<-started
	c.Invalidate()
	close(release)
	<-done

	assert.Zero(t, c.Len())
	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)
}

func TestLoadingCacheCanceledCallerDoesNotFailSharedLoad(t *testing.T) {
	release := make(chan struct{})
	var sawDeadline atomic.Bool
	c := NewLoadingCache(8, time.Minute, func(ctx context.Context, key string) (string, error) {
		_, ok := ctx.Deadline()
		sawDeadline.Store(ok)
		<-release
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "v", nil
	})

	firstCtx, cancel := context.WithCancel(context.Background())
	results := make(chan error, 2)
	go func() {
		_, err := c.Get(firstCtx, "k")
		results <- err
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		_, err := c.Get(context.Background(), "k")
		results <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	close(release)

	require.NoError(t, <-results)
	require.NoError(t, <-results)
	assert.True(t, sawDeadline.Load())

	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}
