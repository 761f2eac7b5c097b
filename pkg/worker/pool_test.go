package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/metric"
)

type testWork struct {
	id    int
	delay time.Duration
	fail  bool
}

func process(counter *atomic.Int64) func(context.Context, testWork) error {
	return func(ctx context.Context, w testWork) error {
		if w.delay > 0 {
			select {
			case <-time.After(w.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		counter.Add(1)
		if w.fail {
			return errors.New("work failed")
		}
		return nil
	}
}

func TestNewPool(t *testing.T) {
	var n atomic.Int64

	pool, err := NewPool(5, 100, process(&n))
	require.NoError(t, err)
	assert.Equal(t, 5, pool.workers)
	assert.Equal(t, 100, pool.queueSize)

	pool, err = NewPool(0, 0, process(&n))
	require.NoError(t, err)
	assert.Equal(t, 10, pool.workers)
	assert.Equal(t, 1000, pool.queueSize)

	_, err = NewPool[testWork](5, 100, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNilProcessor)
	assert.True(t, errors.IsFatal(err))
}

func TestPool_Lifecycle(t *testing.T) {
	var n atomic.Int64
	pool, err := NewPool(2, 10, process(&n))
	require.NoError(t, err)

	assert.Equal(t, ErrPoolNotStarted, pool.Submit(testWork{}))

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	assert.Equal(t, ErrPoolAlreadyStarted, pool.Start(ctx))

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(testWork{id: i}))
	}
	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, int64(5), n.Load(), "queued work is processed before stop returns")

	assert.Equal(t, ErrPoolStopped, pool.Submit(testWork{}))
	assert.NoError(t, pool.Stop(time.Second), "stop is idempotent")
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	pool, err := NewPool(1, 2, func(ctx context.Context, _ testWork) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(testWork{id: 1}))
	assert.Eventually(t, func() bool { return pool.Stats().Busy == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, pool.Submit(testWork{id: 2}))
	require.NoError(t, pool.Submit(testWork{id: 3}))
	assert.Equal(t, ErrQueueFull, pool.Submit(testWork{id: 4}))
	assert.Equal(t, int64(1), pool.Stats().Dropped)

	close(release)
	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, int64(3), pool.Stats().Processed)
}

func TestPool_FailuresAndPanics(t *testing.T) {
	var n atomic.Int64
	inner := process(&n)
	pool, err := NewPool(2, 10, func(ctx context.Context, w testWork) error {
		if w.id < 0 {
			panic("negative id")
		}
		return inner(ctx, w)
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(testWork{id: 1}))
	require.NoError(t, pool.Submit(testWork{id: 2, fail: true}))
	require.NoError(t, pool.Submit(testWork{id: -1}))
	require.NoError(t, pool.Submit(testWork{id: 3}))
	require.NoError(t, pool.Stop(time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(4), stats.Submitted)
	assert.Equal(t, int64(4), stats.Processed)
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(3), n.Load(), "a panic does not stop the worker")
}

func TestPool_DiscardAfterCancel(t *testing.T) {
	release := make(chan struct{})
	var discarded []int
	var mu sync.Mutex

	pool, err := NewPool(1, 10, func(ctx context.Context, _ testWork) error {
		<-release
		return nil
	}, WithDiscard(func(w testWork) {
		mu.Lock()
		discarded = append(discarded, w.id)
		mu.Unlock()
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.Start(ctx))

	require.NoError(t, pool.Submit(testWork{id: 1}))
	assert.Eventually(t, func() bool { return pool.Stats().Busy == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, pool.Submit(testWork{id: 2}))
	require.NoError(t, pool.Submit(testWork{id: 3}))

	cancel()
	close(release)
	require.NoError(t, pool.Stop(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 3}, discarded)
}

func TestPool_StopTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pool, err := NewPool(1, 1, func(ctx context.Context, _ testWork) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{}))
	assert.Eventually(t, func() bool { return pool.Stats().Busy == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, ErrStopTimeout, pool.Stop(20*time.Millisecond))
}

func TestPool_ConcurrentSubmissions(t *testing.T) {
	var n atomic.Int64
	pool, err := NewPool(4, 1000, process(&n))
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, pool.Submit(testWork{id: g*100 + i}))
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, pool.Stop(5*time.Second))

	assert.Equal(t, int64(500), n.Load())
	assert.Equal(t, int64(500), pool.Stats().Processed)
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	var n atomic.Int64

	pool, err := NewPool(2, 10, process(&n), WithMetricsRegistry[testWork](registry, "test_pool"))
	require.NoError(t, err)
	require.NotNil(t, pool.metrics)

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{}))
	require.NoError(t, pool.Submit(testWork{fail: true}))
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, 2.0, testutil.ToFloat64(pool.metrics.submitted))
	assert.Equal(t, 2.0, testutil.ToFloat64(pool.metrics.processed))
	assert.Equal(t, 1.0, testutil.ToFloat64(pool.metrics.failed))

	_, err = NewPool(2, 10, process(&n), WithMetricsRegistry[testWork](registry, "test_pool"))
	require.Error(t, err, "metric names are registered once")
}
