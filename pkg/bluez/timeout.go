package bluez

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/srg/bluezkit/internal/groutine"
)

// RunWithTimeout runs fn and returns its result, or a *TimeoutError once
// timeout elapses first. On expiry fn's context is cancelled and its late
// result is discarded. A non-positive timeout waits for fn or ctx only.
func RunWithTimeout[T any](ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	results := make(chan result, 1)
	groutine.Go(opCtx, "timeout-guard", func(ctx context.Context) {
		v, err := fn(ctx)
		results <- result{value: v, err: err}
	})

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var zero T
	select {
	case r := <-results:
		return r.value, r.err
	case <-expired:
		return zero, &TimeoutError{Op: op, After: timeout}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// WaitForPropertyValue returns once property name of o equals target. If it
// already does, no watcher is attached. Otherwise a temporary watcher waits
// at most timeout and is always detached before returning.
func (o *RemoteObject) WaitForPropertyValue(ctx context.Context, name string, target any, timeout time.Duration) error {
	current, err := o.GetProperty(ctx, name)
	if err != nil {
		return err
	}
	if valuesEqual(current, target) {
		return nil
	}

	reached := make(chan struct{})
	var once sync.Once
	sub := o.watchRaw(name, func(ev Event) {
		if valuesEqual(ev.Value, target) {
			once.Do(func() { close(reached) })
		}
	})
	defer sub.Cancel()

	op := fmt.Sprintf("waiting for %q to change to %v", name, target)
	_, err = RunWithTimeout(ctx, timeout, op, func(ctx context.Context) (struct{}, error) {
		// Re-read after the watcher is queued: a change between the first
		// read and attachment shows up here.
		v, err := o.GetProperty(ctx, name)
		if err != nil {
			return struct{}{}, err
		}
		if valuesEqual(v, target) {
			return struct{}{}, nil
		}

		select {
		case <-reached:
			return struct{}{}, nil
		case <-o.loop.ctx.Done():
			return struct{}{}, ErrClosed
		case <-ctx.Done():
			return struct{}{}, ctx.Err()
		}
	})
	return err
}

// valuesEqual compares property values, widening integers so that a target
// of 1 matches a reported int16(1).
func valuesEqual(a, b any) bool {
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	if an, ok := toInt64(a); ok {
		bn, ok := toInt64(b)
		return ok && an == bn
	}
	return reflect.DeepEqual(a, b)
}
