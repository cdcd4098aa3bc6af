package bluez

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithTimeout(t *testing.T) {
	t.Run("returns the operation result", func(t *testing.T) {
		v, err := RunWithTimeout(context.Background(), time.Second, "fast", func(context.Context) (int, error) {
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	})

	t.Run("returns the operation error", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := RunWithTimeout(context.Background(), time.Second, "failing", func(context.Context) (int, error) {
			return 0, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("expires and cancels the operation", func(t *testing.T) {
		// GOAL: Verify expiry yields TimeoutError and the operation sees cancellation
		cancelled := make(chan struct{})
		_, err := RunWithTimeout(context.Background(), 20*time.Millisecond, "stuck", func(ctx context.Context) (int, error) {
			<-ctx.Done()
			close(cancelled)
			return 0, ctx.Err()
		})

		var te *TimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "stuck", te.Op)
		assert.Equal(t, 20*time.Millisecond, te.After)

		select {
		case <-cancelled:
		case <-time.After(time.Second):
			t.Fatal("operation context MUST be cancelled on expiry")
		}
	})

	t.Run("honours the caller context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := RunWithTimeout(ctx, time.Minute, "cancelled", func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrTimeout)
	})

	t.Run("non-positive timeout waits for the operation", func(t *testing.T) {
		v, err := RunWithTimeout(context.Background(), 0, "unbounded", func(context.Context) (string, error) {
			time.Sleep(10 * time.Millisecond)
			return "done", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "done", v)
	})
}

func TestEventLoopPreservesOrder(t *testing.T) {
	// GOAL: Verify tasks run one at a time in posting order, including tasks posted from tasks
	loop := newEventLoop("test-loop")
	defer loop.stop()

	var (
		mu  sync.Mutex
		got []int
	)
	record := func(i int) task {
		return func(context.Context) {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}
	}

	for i := 0; i < 100; i++ {
		require.True(t, loop.post(record(i)))
	}
	loop.post(func(ctx context.Context) { loop.post(record(100)) })
	require.NoError(t, loop.flush(context.Background()))
	require.NoError(t, loop.flush(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 101)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestEventLoopStop(t *testing.T) {
	loop := newEventLoop("test-loop")

	ran := make(chan struct{})
	release := make(chan struct{})
	loop.post(func(context.Context) {
		close(ran)
		<-release
	})
	<-ran

	skipped := true
	loop.post(func(context.Context) { skipped = false })
	loop.stop()
	close(release)

	select {
	case <-loop.done:
	case <-time.After(time.Second):
		t.Fatal("loop MUST exit after stop")
	}
	assert.True(t, skipped, "pending tasks MUST be discarded on stop")
	assert.False(t, loop.post(func(context.Context) {}), "post after stop MUST be rejected")
	assert.ErrorIs(t, loop.flush(context.Background()), ErrClosed)
}
