package task

import "context"

// AsyncResult carries the outcome of a function bridged in by Async.
type AsyncResult struct {
	Value any
	Err   error
}

// Async runs fn in its own goroutine and returns a wait task that yields nil
// until fn returns, then completes with an AsyncResult. The returned cancel
// cancels the context passed to fn; the wait task still completes with
// whatever fn returns after observing cancellation, so a cancelled operation
// drains through the scheduler's normal finish path.
func Async(name string, fn func(ctx context.Context) (any, error)) (*Task, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var res AsyncResult

	go func() {
		defer close(done)
		res.Value, res.Err = fn(ctx)
	}()

	t := New(name, func() Step {
		select {
		case <-done:
			return Done(res)
		default:
			return Pending(nil)
		}
	})
	return t, cancel
}
