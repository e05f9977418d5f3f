package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/metric"
)

func noop(context.Context, int) error { return nil }

func TestNewPool_Defaults(t *testing.T) {
	p := NewPool(0, 0, noop)
	assert.Equal(t, defaultWorkers, p.workers)
	assert.Equal(t, defaultQueueSize, p.queueSize)

	p = NewPool(3, 7, noop)
	assert.Equal(t, 3, p.workers)
	assert.Equal(t, 7, p.queueSize)

	assert.PanicsWithValue(t, ErrNilProcessor, func() { NewPool[int](1, 1, nil) })
}

func TestPool_Lifecycle(t *testing.T) {
	p := NewPool(2, 4, noop)

	assert.ErrorIs(t, p.Submit(1), ErrPoolNotStarted)
	assert.NoError(t, p.Stop(time.Second), "stopping an unstarted pool is a no-op")

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrPoolAlreadyStarted)

	require.NoError(t, p.Stop(time.Second))
	assert.NoError(t, p.Stop(time.Second))
	assert.ErrorIs(t, p.Submit(1), ErrPoolStopped)
	assert.ErrorIs(t, p.SubmitWait(context.Background(), 1), ErrPoolStopped)
}

func TestPool_ProcessesEverything(t *testing.T) {
	var sum atomic.Int64
	p := NewPool(4, 100, func(_ context.Context, n int) error {
		sum.Add(int64(n))
		return nil
	})
	require.NoError(t, p.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, p.SubmitWait(context.Background(), n))
		}(i)
	}
	wg.Wait()
	require.NoError(t, p.Stop(5*time.Second))

	assert.Equal(t, int64(50*51/2), sum.Load())
	stats := p.Stats()
	assert.Equal(t, int64(50), stats.Submitted)
	assert.Equal(t, int64(50), stats.Processed)
	assert.Zero(t, stats.Failed)
}

func TestPool_QueueFullDrops(t *testing.T) {
	release := make(chan struct{})
	p := NewPool(1, 1, func(context.Context, int) error {
		<-release
		return nil
	})
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.Submit(1))
	// Wait for the worker to pick up the first item so the queue is empty.
	require.Eventually(t, func() bool { return p.Stats().QueueDepth == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Submit(2))
	assert.ErrorIs(t, p.Submit(3), ErrQueueFull)
	assert.Equal(t, int64(1), p.Stats().Dropped)

	close(release)
	require.NoError(t, p.Stop(time.Second))
}

func TestPool_SubmitWaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	p := NewPool(1, 1, func(context.Context, int) error {
		<-release
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Submit(1))
	require.Eventually(t, func() bool { return p.Stats().QueueDepth == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Submit(2))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.SubmitWait(ctx, 3), context.DeadlineExceeded)

	close(release)
	require.NoError(t, p.Stop(time.Second))
}

func TestPool_StopReleasesBlockedSubmitters(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	p := NewPool(1, 1, func(ctx context.Context, _ int) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Submit(1))
	require.Eventually(t, func() bool { return p.Stats().QueueDepth == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Submit(2))

	result := make(chan error, 1)
	go func() { result <- p.SubmitWait(context.Background(), 3) }()
	time.Sleep(10 * time.Millisecond)

	cancel()
	require.NoError(t, p.Stop(time.Second))
	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrPoolStopped)
	case <-time.After(time.Second):
		t.Fatal("SubmitWait was not released by Stop")
	}
}

func TestPool_ErrorHandler(t *testing.T) {
	boom := errors.New("boom")
	var mu sync.Mutex
	var failedItems []int

	p := NewPool(2, 10,
		func(_ context.Context, n int) error {
			if n%2 == 0 {
				return boom
			}
			return nil
		},
		WithErrorHandler(func(n int, err error) {
			mu.Lock()
			defer mu.Unlock()
			assert.ErrorIs(t, err, boom)
			failedItems = append(failedItems, n)
		}),
	)
	require.NoError(t, p.Start(context.Background()))
	for i := 1; i <= 6; i++ {
		require.NoError(t, p.Submit(i))
	}
	require.NoError(t, p.Stop(time.Second))

	assert.ElementsMatch(t, []int{2, 4, 6}, failedItems)
	assert.Equal(t, int64(3), p.Stats().Failed)
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	p := NewPool(1, 10, noop, WithMetrics[int](registry, "test_pool"))
	require.NotNil(t, p.metrics)

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Submit(1))
	require.NoError(t, p.Submit(2))
	require.NoError(t, p.Stop(time.Second))

	assert.Equal(t, 2.0, testutil.ToFloat64(p.metrics.submitted))
	assert.Equal(t, 1, testutil.CollectAndCount(p.metrics.duration), "one status label")

	// A second pool with the same prefix cannot register and runs without metrics.
	dup := NewPool(1, 10, noop, WithMetrics[int](registry, "test_pool"))
	assert.Nil(t, dup.metrics)
}
