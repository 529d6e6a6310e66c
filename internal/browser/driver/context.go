// internal/browser/driver/context.go
package driver

import (
	"context"
	"time"
)

// CombineContext returns a context that carries primary's values (the CDP
// target) and ends when either primary or op ends. The cause of an op ending,
// such as a deadline, is kept and readable with context.Cause.
func CombineContext(primary, op context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(primary)
	stop := context.AfterFunc(op, func() {
		cancel(context.Cause(op))
	})
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}

// valueOnlyContext keeps a parent's values but none of its cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (valueOnlyContext) Done() <-chan struct{}       { return nil }
func (valueOnlyContext) Err() error                  { return nil }

// Detach returns a context with ctx's values that is never cancelled. Browser
// contexts are rooted here so that they outlive the call that attached them.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
