// Package cancel provides the per-task cooperative abort token. Setting the
// token never stops a worker directly; stages observe it at their checkpoints.
package cancel

import "sync/atomic"

// Token is a one-way abort flag bound to a single task for its lifetime.
type Token struct {
	cancelled atomic.Bool
}

// NewToken returns an unset token.
func NewToken() *Token {
	return &Token{}
}

// Cancel sets the flag. Repeated calls are no-ops.
func (t *Token) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether cancellation was requested. Never blocks.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}

// Check returns an observe-only probe suitable for handing to pipeline
// stages, which must not be able to set the flag.
func (t *Token) Check() func() bool {
	return t.Cancelled
}
