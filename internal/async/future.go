// Package async provides deadline-bounded futures driven by an injectable clock.
package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrTimeout is returned by Await when the deadline passes before the work finishes.
var ErrTimeout = errors.New("async: deadline exceeded")

// Future is the result of a function running in its own goroutine with a deadline
// that starts when the function is launched.
type Future[T any] struct {
	result T
	err    error
	done   chan struct{}
	once   sync.Once

	clock  clockwork.Clock
	start  time.Time
	timer  clockwork.Timer
	cancel context.CancelCauseFunc
}

// Go launches fn and starts its deadline. The context passed to fn is cancelled when
// Await gives up on it; on a missed deadline its cause is ErrTimeout. A non-positive timeout waits for fn or the caller's context.
func Go[T any](ctx context.Context, clock clockwork.Clock, timeout time.Duration, fn func(ctx context.Context) (T, error)) *Future[T] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	f := &Future[T]{
		done:   make(chan struct{}),
		clock:  clock,
		start:  clock.Now(),
		cancel: cancel,
	}
	if timeout > 0 {
		f.timer = clock.NewTimer(timeout)
	}

	go func() {
		defer f.once.Do(func() { close(f.done) })
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("async: panic: %v", r)
			}
		}()
		f.result, f.err = fn(runCtx)
	}()

	return f
}

// Await blocks until fn returns, the deadline passes, or ctx is done.
// On deadline or ctx cancellation the work's context is cancelled and its result dropped.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	var deadline <-chan time.Time
	if f.timer != nil {
		deadline = f.timer.Chan()
	}

	select {
	case <-f.done:
		f.stop()
		return f.result, f.err
	case <-deadline:
		// Work that finished on the deadline still counts.
		select {
		case <-f.done:
			f.stop()
			return f.result, f.err
		default:
		}
		f.cancel(ErrTimeout)
		var zero T
		return zero, ErrTimeout
	case <-ctx.Done():
		f.stop()
		f.cancel(context.Cause(ctx))
		var zero T
		return zero, ctx.Err()
	}
}

// Elapsed is the time since the future was launched.
func (f *Future[T]) Elapsed() time.Duration {
	return f.clock.Since(f.start)
}

func (f *Future[T]) stop() {
	if f.timer != nil {
		f.timer.Stop()
	}
}

// Race runs fn against a deadline and returns fallback when fn fails or is too slow.
// The returned bool reports whether fn's own result was used.
func Race[T any](ctx context.Context, clock clockwork.Clock, timeout time.Duration, fn func(ctx context.Context) (T, error), fallback func() T) (T, bool) {
	v, err := Go(ctx, clock, timeout, fn).Await(ctx)
	if err != nil {
		return fallback(), false
	}
	return v, true
}
