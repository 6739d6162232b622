// Package signal provides a one-shot completion cell used to bridge an
// asynchronous backend notification into a synchronously awaited result.
package signal

import (
	"fmt"
	"sync"
	"time"
)

// Outcome describes how an Await call ended.
type Outcome int

const (
	// OutcomePending indicates the signal has not been settled yet.
	OutcomePending Outcome = iota
	// OutcomeResolved indicates a value was set before the wait ended.
	OutcomeResolved
	// OutcomeTimedOut indicates the wait budget elapsed first.
	OutcomeTimedOut
	// OutcomeCancelled indicates the signal was cancelled.
	OutcomeCancelled
)

// String returns the string representation of Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "Pending"
	case OutcomeResolved:
		return "Resolved"
	case OutcomeTimedOut:
		return "TimedOut"
	case OutcomeCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", o)
	}
}

// Completion is a single-assignment result cell. The first TrySetResult or
// TrySetCancelled wins; every later attempt is a no-op. Both the timeout path
// and a late notification may race to settle the same cell, so double
// settlement must never be an error.
type Completion[T any] struct {
	mu      sync.Mutex
	done    chan struct{}
	value   T
	outcome Outcome
}

// New creates an unsettled completion cell.
func New[T any]() *Completion[T] {
	return &Completion[T]{done: make(chan struct{})}
}

// TrySetResult settles the cell with value. Returns false if the cell was
// already settled; the original value is left untouched.
func (c *Completion[T]) TrySetResult(value T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcome != OutcomePending {
		return false
	}
	c.value = value
	c.outcome = OutcomeResolved
	close(c.done)
	return true
}

// TrySetCancelled settles the cell as cancelled. Same idempotency rule as
// TrySetResult.
func (c *Completion[T]) TrySetCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcome != OutcomePending {
		return false
	}
	c.outcome = OutcomeCancelled
	close(c.done)
	return true
}

// Settled reports whether the cell has been resolved or cancelled.
func (c *Completion[T]) Settled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome != OutcomePending
}

// Await blocks until the cell settles or timeout elapses, whichever comes
// first. A timeout <= 0 means wait indefinitely. A timed-out wait does NOT
// settle the cell; the caller decides the fallback and force-resolves
// explicitly.
func (c *Completion[T]) Await(timeout time.Duration) (T, Outcome) {
	if timeout <= 0 {
		<-c.done
		return c.result()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
		return c.result()
	case <-timer.C:
		var zero T
		return zero, OutcomeTimedOut
	}
}

func (c *Completion[T]) result() (T, Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.outcome
}
